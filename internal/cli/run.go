package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/zkfold/internal/message"
	"github.com/roach88/zkfold/internal/pubsub"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// Once runs a single sync pass and exits.
	Once bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync history and fold live messages",
		Long: `Start the node: open the store, sync history for the global topic and
every watched scope, then fold live messages until interrupted.

History comes from relay_url when set, otherwise from the history files.
With relay_listen the node also serves a relay at /relay; with
metrics_addr it serves Prometheus metrics at /metrics. History syncs
repeat on sync_schedule.

Examples:
  zkfold run
  zkfold run --once --format json
  ZKFOLD_RELAY_URL=ws://relay.example/relay zkfold run -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "run one sync pass and exit")

	return cmd
}

// SyncReport is the outcome of one pass over the global topic and the
// watched scopes.
type SyncReport struct {
	Runs   []pubsub.SyncResult `json:"runs"`
	Failed int                 `json:"failed"`
}

func runNode(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.logger(cmd, cfg)

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	n, err := openNode(cfg, logger)
	if err != nil {
		return err
	}
	defer n.close()

	if err := n.importRegistry(ctx); err != nil {
		return err
	}
	n.start(ctx)

	transport, source, closeTransport, err := connect(ctx, n)
	if err != nil {
		return err
	}
	defer closeTransport()

	var servers []*http.Server
	defer func() {
		for _, srv := range servers {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			_ = srv.Shutdown(shutdownCtx)
			done()
		}
	}()
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", n.metrics.Handler())
		srv, err := serve(cfg.MetricsAddr, mux, n)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to serve metrics", err)
		}
		servers = append(servers, srv)
	}
	if broker, ok := transport.(*pubsub.Broker); ok && cfg.RelayListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/relay", pubsub.NewRelayHandler(broker,
			pubsub.WithPublishRate(cfg.PublishRate, cfg.PublishBurst),
			pubsub.WithRelayLogger(logger),
		))
		srv, err := serve(cfg.RelayListen, mux, n)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to serve relay", err)
		}
		servers = append(servers, srv)
	}

	syncer := n.syncer(source)
	report := syncPass(ctx, n, syncer, true)
	if opts.Once {
		text := func(w io.Writer) {
			for _, r := range report.Runs {
				printSyncResult(w, r.Topic, r)
			}
		}
		if report.Failed > 0 {
			return opts.output(cmd).Report(report, text,
				NewExitError(ExitFailure, fmt.Sprintf("%d sync runs failed", report.Failed)))
		}
		return opts.output(cmd).Print(report, text)
	}

	if transport != nil {
		sub, err := transport.Subscribe(ctx, watchedTopics(n)...)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to subscribe", err)
		}
		defer sub.Close()
		go func() {
			if err := syncer.Live(ctx, sub); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("live sync stopped", "error", err)
			}
		}()
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Node started. Press Ctrl-C to stop.")
	schedule(ctx, n, syncer)
	logger.Info("node stopped gracefully")
	return nil
}

// connect picks the transport and history source. A relay URL wins; a
// relay_listen address gets a local broker; otherwise history files are
// the only source and there is no live feed.
func connect(ctx context.Context, n *node) (pubsub.Transport, pubsub.HistorySource, func(), error) {
	cfg := n.cfg
	switch {
	case cfg.RelayURL != "":
		client, err := pubsub.DialRelay(ctx, cfg.RelayURL,
			pubsub.WithPublishRate(cfg.PublishRate, cfg.PublishBurst),
			pubsub.WithRelayLogger(n.logger),
		)
		if err != nil {
			return nil, nil, nil, WrapExitError(ExitCommandError, "failed to dial relay", err)
		}
		return client, client, func() { _ = client.Close() }, nil

	case cfg.RelayListen != "":
		broker := pubsub.NewBroker(pubsub.WithBrokerLogger(n.logger))
		return broker, broker, func() { _ = broker.Close() }, nil
	}

	history, err := pubsub.LoadHistory(cfg.History...)
	if err != nil {
		return nil, nil, nil, WrapExitError(ExitCommandError, "failed to read history", err)
	}
	return nil, history, func() {}, nil
}

func serve(addr string, h http.Handler, n *node) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error("http server stopped", "addr", addr, "error", err)
		}
	}()
	n.logger.Info("listening", "addr", ln.Addr().String())
	return srv, nil
}

// watchedTopics lists the global topic and every watched scope.
func watchedTopics(n *node) []string {
	t, w := n.topics, n.cfg.Watch
	topics := []string{t.Global()}
	for _, u := range w.Users {
		topics = append(topics, t.User(u))
	}
	for _, g := range w.Groups {
		topics = append(topics, t.Group(g))
	}
	for _, h := range w.Threads {
		topics = append(topics, t.Thread(message.Hash(h)))
	}
	for _, c := range w.Chats {
		topics = append(topics, t.Chat(c))
	}
	return topics
}

// syncPass syncs the global topic and each watched scope. With backfill,
// watched users and groups first get their one-time history download.
// A failed scope is logged and counted; the rest still run.
func syncPass(ctx context.Context, n *node, s *pubsub.Syncer, backfill bool) SyncReport {
	report := SyncReport{Runs: []pubsub.SyncResult{}}
	record := func(res pubsub.SyncResult, err error) {
		n.metrics.ObserveSync(res, err)
		if err != nil {
			n.logger.Error("sync failed", "topic", res.Topic, "error", err)
			report.Failed++
			return
		}
		report.Runs = append(report.Runs, res)
	}

	w := n.cfg.Watch
	if backfill {
		for _, u := range w.Users {
			if res, ran, err := s.DownloadHistory(ctx, pubsub.HistoryScope{User: u}); ran || err != nil {
				record(res, err)
			}
		}
		for _, g := range w.Groups {
			if res, ran, err := s.DownloadHistory(ctx, pubsub.HistoryScope{Group: g}); ran || err != nil {
				record(res, err)
			}
		}
	}

	record(s.SyncAll(ctx))
	for _, u := range w.Users {
		record(s.SyncUser(ctx, u))
	}
	for _, g := range w.Groups {
		record(s.SyncGroup(ctx, g))
	}
	for _, h := range w.Threads {
		record(s.SyncThread(ctx, message.Hash(h)))
	}
	for _, c := range w.Chats {
		record(s.SyncChat(ctx, c))
	}
	return report
}

// schedule repeats syncPass on the configured cron schedule until ctx ends.
func schedule(ctx context.Context, n *node, s *pubsub.Syncer) {
	for {
		next, ok, err := n.cfg.NextSync(time.Now())
		if err != nil {
			n.logger.Error("sync schedule failed", "error", err)
			ok = false
		}
		if !ok {
			<-ctx.Done()
			return
		}

		n.logger.Debug("next sync scheduled", "at", next)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			syncPass(ctx, n, s, false)
		}
	}
}
