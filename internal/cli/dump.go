package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TacticalMetaphysics/eidetic/internal/gateway"
)

// NewDumpCommand creates the dump command: print a storage table in
// canonical order, for debugging and diffing stores.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <table>",
		Short: "Dump one storage table in canonical order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			table := args[0]
			if _, ok := gateway.Tables[table]; !ok {
				names := make([]string, 0, len(gateway.Tables))
				for t := range gateway.Tables {
					names = append(names, t)
				}
				sort.Strings(names)
				return NewExitError(ExitCommandError,
					fmt.Sprintf("unknown table %q: must be one of %s", table, strings.Join(names, ", ")))
			}

			store, err := gateway.Open(rootOpts.DB)
			if err != nil {
				return WrapExitError(ExitCommandError, "opening store", err)
			}
			defer store.Close()

			rows, err := store.Dump(cmd.Context(), table)
			if err != nil {
				return WrapExitError(ExitFailure, "dumping "+table, err)
			}
			if rootOpts.Format == "json" {
				return out.Success(map[string]any{"table": table, "rows": rows})
			}
			for _, row := range rows {
				parts := make([]string, len(row))
				for i, col := range row {
					parts[i] = fmt.Sprint(col)
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(parts, "\t"))
			}
			return nil
		},
	}
	return cmd
}
