package cli

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/zkfold/internal/message"
	"github.com/roach88/zkfold/internal/store"
)

// Status summarizes the store.
type Status struct {
	Backend     string         `json:"backend"`
	Messages    int            `json:"messages"`
	ByType      map[string]int `json:"byType"`
	Users       int            `json:"users"`
	Posts       int            `json:"posts"`
	Checkpoints []Checkpoint   `json:"checkpoints"`
}

// Checkpoint is the last-sync time of one scope. LastSync is zero when
// the scope never synced.
type Checkpoint struct {
	Scope    store.Scope `json:"scope"`
	ID       string      `json:"id,omitempty"`
	LastSync time.Time   `json:"lastSync"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show message counts and sync checkpoints",
		Long: `Show how many messages, users and posts the store holds, and when the
global topic and each watched scope last synced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	n, err := openNode(cfg, opts.logger(cmd, cfg))
	if err != nil {
		return err
	}
	defer n.close()

	ctx := commandContext(cmd)
	stats, err := n.store.Stats(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read stats", err)
	}

	st := Status{
		Backend:  string(cfg.Backend),
		Messages: stats.Messages,
		ByType:   map[string]int{},
		Users:    stats.Users,
		Posts:    stats.Posts,
	}
	for t, c := range stats.ByType {
		st.ByType[string(t)] = c
	}

	scopes := []Checkpoint{{Scope: store.ScopeGlobal}}
	for _, u := range cfg.Watch.Users {
		scopes = append(scopes, Checkpoint{Scope: store.ScopeAddress, ID: u})
	}
	for _, g := range cfg.Watch.Groups {
		scopes = append(scopes, Checkpoint{Scope: store.ScopeGroup, ID: g})
	}
	for _, h := range cfg.Watch.Threads {
		scopes = append(scopes, Checkpoint{Scope: store.ScopeThread, ID: h})
	}
	for _, c := range cfg.Watch.Chats {
		scopes = append(scopes, Checkpoint{Scope: store.ScopeECDH, ID: c})
	}
	for _, cp := range scopes {
		cp.LastSync, err = n.store.LastSync(ctx, cp.Scope, cp.ID)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read checkpoints", err)
		}
		st.Checkpoints = append(st.Checkpoints, cp)
	}

	return opts.output(cmd).Print(st, func(w io.Writer) {
		fmt.Fprintf(w, "Backend:  %s\n", st.Backend)
		fmt.Fprintf(w, "Messages: %s\n", humanize.Comma(int64(st.Messages)))
		types := make([]string, 0, len(st.ByType))
		for t := range st.ByType {
			types = append(types, t)
		}
		slices.Sort(types)
		for _, t := range types {
			fmt.Fprintf(w, "  %-11s %s\n", t, humanize.Comma(int64(st.ByType[t])))
		}
		fmt.Fprintf(w, "Users:    %s\n", humanize.Comma(int64(st.Users)))
		fmt.Fprintf(w, "Posts:    %s\n", humanize.Comma(int64(st.Posts)))
		fmt.Fprintln(w, "Last sync:")
		for _, cp := range st.Checkpoints {
			name := string(cp.Scope)
			if cp.ID != "" {
				name += " " + cp.ID
			}
			when := "never"
			if !cp.LastSync.IsZero() {
				when = humanize.Time(cp.LastSync)
			}
			fmt.Fprintf(w, "  %-20s %s\n", name, when)
		}
	})
}

func messageID(m message.Message) string {
	return message.ID(m)
}
