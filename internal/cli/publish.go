package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/zkfold/internal/pubsub"
)

// PublishResult reports where each published message went.
type PublishResult struct {
	Published []PublishedMessage `json:"published"`
}

// PublishedMessage is one message and the topics it was sent to.
type PublishedMessage struct {
	MessageID string   `json:"messageId"`
	Topics    []string `json:"topics"`
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <file.jsonl>...",
		Short: "Fold signed messages locally and publish them to the relay",
		Long: `Read already-signed envelopes, fold each message into the local
store and publish it to every topic it routes to on relay_url. The
envelopes' own topics and timestamps are ignored.

Examples:
  zkfold publish outbox.jsonl
  ZKFOLD_RELAY_URL=ws://localhost:8090/relay zkfold publish outbox.jsonl`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(rootOpts, args, cmd)
		},
	}
}

func runPublish(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if cfg.RelayURL == "" {
		return NewExitError(ExitCommandError, "publish needs relay_url")
	}
	logger := opts.logger(cmd, cfg)

	outbox, err := pubsub.LoadHistory(paths...)
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

	client, err := pubsub.DialRelay(ctx, cfg.RelayURL,
		pubsub.WithPublishRate(cfg.PublishRate, cfg.PublishBurst),
		pubsub.WithRelayLogger(logger),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to dial relay", err)
	}
	defer client.Close()

	pub := pubsub.NewPublisher(client, n.validator, n.engine, n.groups, n.topics)
	result := PublishResult{Published: []PublishedMessage{}}
	for i, env := range outbox.All() {
		msg, proof, err := env.Open()
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("envelope %d", i+1), err)
		}
		topics, err := pub.Publish(ctx, msg, proof)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("envelope %d", i+1), err)
		}
		result.Published = append(result.Published, PublishedMessage{
			MessageID: messageID(msg),
			Topics:    topics,
		})
	}

	return opts.output(cmd).Print(result, func(w io.Writer) {
		for _, p := range result.Published {
			fmt.Fprintf(w, "%s -> %d topics\n", p.MessageID, len(p.Topics))
		}
	})
}
