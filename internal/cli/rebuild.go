package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewRebuildCommand creates the rebuild command.
func NewRebuildCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute all derived state from stored messages",
		Long: `Drop every index and counter and re-fold the stored messages in
createdAt order. Reverted messages are replayed from the archive and
undone again by their reverts. Use it after an interrupted write. Do not run it while
a node is running against the same store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openReader(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer n.close()

			res, err := n.engine.Rebuild(commandContext(cmd))
			if err != nil {
				return WrapExitError(ExitFailure, "rebuild failed", err)
			}
			return rootOpts.output(cmd).Print(res, func(w io.Writer) {
				fmt.Fprintf(w, "Rebuilt: %d applied, %d reverts (%d undone)\n", res.Applied, res.Reverts, res.Undone)
			})
		},
	}
}
