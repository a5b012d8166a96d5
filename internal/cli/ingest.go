package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/zkfold/internal/pubsub"
)

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file.jsonl>...",
		Short: "Validate and fold envelope snapshots",
		Long: `Read JSONL envelope files, validate every message and fold the
accepted ones into the store. Envelopes are applied in timestamp order.
Checkpoints are not moved.

Examples:
  zkfold ingest history.jsonl
  zkfold ingest a.jsonl b.jsonl --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(rootOpts, args, cmd)
		},
	}
}

func runIngest(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.logger(cmd, cfg)

	history, err := pubsub.LoadHistory(paths...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read envelopes", err)
	}

	n, err := openNode(cfg, logger)
	if err != nil {
		return err
	}
	defer n.close()

	ctx := commandContext(cmd)
	if err := n.importRegistry(ctx); err != nil {
		return err
	}
	n.start(ctx)

	res, err := n.syncer(nil).Ingest(ctx, history.All())
	n.metrics.ObserveSync(res, err)
	if err != nil {
		return WrapExitError(ExitFailure, "ingest failed", err)
	}

	return opts.output(cmd).Print(res, func(w io.Writer) {
		printSyncResult(w, "ingest", res)
	})
}

func printSyncResult(w io.Writer, name string, res pubsub.SyncResult) {
	fmt.Fprintf(w, "%s: %d fetched, %d inserted, %d existing, %d dropped, %d rejected, %d malformed\n",
		name, res.Fetched, res.Inserted, res.Existing, res.Dropped, res.Rejected, res.Malformed)
}
