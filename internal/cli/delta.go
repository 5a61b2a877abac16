package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/TacticalMetaphysics/eidetic/internal/chrono"
	"github.com/TacticalMetaphysics/eidetic/internal/engine"
	"github.com/TacticalMetaphysics/eidetic/internal/value"
)

// NewDeltaCommand creates the delta command: show the net change of a
// graph between two turns on one branch.
func NewDeltaCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		branch   string
		fromTurn int64
		toTurn   int64
	)
	cmd := &cobra.Command{
		Use:   "delta <graph>",
		Short: "Show the net change of a graph between two turns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			g := args[0]

			eng, err := engine.New(engine.Options{Path: rootOpts.DB})
			if err != nil {
				return WrapExitError(ExitCommandError, "opening store", err)
			}
			defer eng.Close(cmd.Context())

			if branch == "" {
				branch = eng.Time().Branch
			}
			from := chrono.Time{Branch: branch, Turn: fromTurn, Tick: int64(1) << 60}
			to := chrono.Time{Branch: branch, Turn: toTurn, Tick: int64(1) << 60}
			d, err := eng.SnapshotDelta(g, from, to)
			if err != nil {
				return WrapExitError(ExitFailure, "computing delta", err)
			}

			if rootOpts.Format == "json" {
				payload := map[string]any{"added": map[string]any{}, "removed": []string{}, "changed": map[string]any{}}
				added := payload["added"].(map[string]any)
				for k, v := range d.Added {
					added[k.String()] = value.ToAny(v)
				}
				var removed []string
				for k := range d.Removed {
					removed = append(removed, k.String())
				}
				sort.Strings(removed)
				payload["removed"] = removed
				changed := payload["changed"].(map[string]any)
				for k, pair := range d.Changed {
					changed[k.String()] = map[string]any{
						"old": value.ToAny(pair.Old),
						"new": value.ToAny(pair.New),
					}
				}
				return out.Success(payload)
			}

			lines := make([]string, 0, len(d.Added)+len(d.Removed)+len(d.Changed))
			for k, v := range d.Added {
				lines = append(lines, fmt.Sprintf("+ %s = %v", k, value.ToAny(v)))
			}
			for k := range d.Removed {
				lines = append(lines, fmt.Sprintf("- %s", k))
			}
			for k, pair := range d.Changed {
				lines = append(lines, fmt.Sprintf("~ %s: %v -> %v", k, value.ToAny(pair.Old), value.ToAny(pair.New)))
			}
			sort.Strings(lines)
			for _, l := range lines {
				fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch to diff on (default: stored cursor branch)")
	cmd.Flags().Int64Var(&fromTurn, "from-turn", 0, "turn the diff starts after")
	cmd.Flags().Int64Var(&toTurn, "to-turn", 0, "turn the diff ends at")
	return cmd
}
