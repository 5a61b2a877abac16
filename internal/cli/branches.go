package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/TacticalMetaphysics/eidetic/internal/engine"
)

// NewBranchesCommand creates the branches command: list the branch
// lineage with fork points and end markers.
func NewBranchesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branches",
		Short: "List the branch lineage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}

			eng, err := engine.New(engine.Options{Path: rootOpts.DB})
			if err != nil {
				return WrapExitError(ExitCommandError, "opening store", err)
			}
			defer eng.Close(cmd.Context())

			branches := eng.Branches()
			sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })
			if rootOpts.Format == "json" {
				return out.Success(branches)
			}
			for _, b := range branches {
				if b.Parent == "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s (root) end=%d.%d\n", b.Name, b.EndTurn, b.EndTick)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s from %s@%d.%d end=%d.%d\n",
					b.Name, b.Parent, b.ParentTurn, b.ParentTick, b.EndTurn, b.EndTick)
			}
			return nil
		},
	}
	return cmd
}
