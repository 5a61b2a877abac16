package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TacticalMetaphysics/eidetic/internal/engine"
	"github.com/TacticalMetaphysics/eidetic/internal/seed"
)

// NewSeedCommand creates the seed command: load a CUE world seed and
// apply it to the store.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <path>",
		Short: "Apply a CUE world seed to the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}

			s, err := seed.Load(args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "loading seed", err)
			}
			eng, err := engine.New(engine.Options{Path: rootOpts.DB})
			if err != nil {
				return WrapExitError(ExitCommandError, "opening store", err)
			}
			defer eng.Close(cmd.Context())

			if err := seed.Apply(eng, s); err != nil {
				return WrapExitError(ExitFailure, "applying seed", err)
			}
			if err := eng.Commit(cmd.Context()); err != nil {
				return WrapExitError(ExitCommandError, "committing", err)
			}
			return out.Success(fmt.Sprintf("seeded %d graph(s) into %s", len(s.Graphs), rootOpts.DB))
		},
	}
	return cmd
}
