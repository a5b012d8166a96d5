package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/zkfold/internal/message"
	"github.com/roach88/zkfold/internal/store"
)

// PostView is a post with its counters, as printed by timeline and thread.
type PostView struct {
	MessageID string         `json:"messageId"`
	Hash      message.Hash   `json:"hash"`
	Creator   string         `json:"creator"`
	Subtype   string         `json:"subtype"`
	CreatedAt time.Time      `json:"createdAt"`
	Content   string         `json:"content"`
	Reference string         `json:"reference,omitempty"`
	Meta      store.PostMeta `json:"meta"`
}

func postView(ctx context.Context, st *store.Store, p *message.Post) (PostView, error) {
	hash := message.MustHash(p)
	meta, err := st.PostMeta(ctx, hash)
	if err != nil {
		return PostView{}, err
	}
	return PostView{
		MessageID: message.FormatID(p.Creator, hash),
		Hash:      hash,
		Creator:   p.Creator,
		Subtype:   string(p.Subtype),
		CreatedAt: p.CreatedAt,
		Content:   p.Payload.Content,
		Reference: p.Payload.Reference,
		Meta:      meta,
	}, nil
}

func postViews(ctx context.Context, st *store.Store, posts []*message.Post) ([]PostView, error) {
	out := make([]PostView, 0, len(posts))
	for _, p := range posts {
		v, err := postView(ctx, st, p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func printPost(w io.Writer, v PostView, indent string) {
	who := v.Creator
	if who == "" {
		who = "anonymous"
		if v.Meta.GroupID != "" {
			who += "@" + v.Meta.GroupID
		}
	}
	kind := ""
	if v.Subtype != "" {
		kind = " " + strings.ToLower(v.Subtype)
	}
	fmt.Fprintf(w, "%s%s%s  %s  %s\n", indent, who, kind, humanize.Time(v.CreatedAt), v.Hash)
	if v.Content != "" {
		fmt.Fprintf(w, "%s  %s\n", indent, v.Content)
	}
	fmt.Fprintf(w, "%s  %d replies  %d reposts  %d likes\n", indent, v.Meta.Reply, v.Meta.Repost, v.Meta.Like)
}

// openReader opens the store for a read-only command.
func openReader(opts *RootOptions, cmd *cobra.Command) (*node, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	return openNode(cfg, opts.logger(cmd, cfg))
}

// TimelineOptions holds flags for the timeline command.
type TimelineOptions struct {
	*RootOptions
	Limit  int
	Offset string
	User   string
	Group  string
}

// NewTimelineCommand creates the timeline command.
func NewTimelineCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TimelineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Show posts, newest first",
		Long: `Show the global post list, or one user's or group's posts, newest first.
--offset takes the hash of the last post already seen.

Examples:
  zkfold timeline --limit 10
  zkfold timeline --user 0xabc
  zkfold timeline --group taz --offset <hash>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTimeline(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum posts to show (0 for all)")
	cmd.Flags().StringVar(&opts.Offset, "offset", "", "show posts older than this hash")
	cmd.Flags().StringVar(&opts.User, "user", "", "show one user's posts")
	cmd.Flags().StringVar(&opts.Group, "group", "", "show one group's anonymous posts")

	return cmd
}

func runTimeline(opts *TimelineOptions, cmd *cobra.Command) error {
	if opts.User != "" && opts.Group != "" {
		return NewExitError(ExitCommandError, "--user and --group are mutually exclusive")
	}
	n, err := openReader(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer n.close()

	ctx := commandContext(cmd)
	offset := message.Hash(opts.Offset)
	var posts []*message.Post
	switch {
	case opts.User != "":
		posts, err = n.store.UserPosts(ctx, opts.User, opts.Limit, offset)
	case opts.Group != "":
		posts, err = n.store.GroupPosts(ctx, opts.Group, opts.Limit, offset)
	default:
		posts, err = n.store.Posts(ctx, opts.Limit, offset)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read posts", err)
	}
	views, err := postViews(ctx, n.store, posts)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read posts", err)
	}

	return opts.output(cmd).Print(views, func(w io.Writer) {
		if len(views) == 0 {
			fmt.Fprintln(w, "No posts.")
			return
		}
		for _, v := range views {
			printPost(w, v, "")
		}
	})
}

// Thread is a post and its replies.
type Thread struct {
	Post    PostView   `json:"post"`
	Replies []PostView `json:"replies"`
}

// NewThreadCommand creates the thread command.
func NewThreadCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "thread <hash|messageId>",
		Short: "Show a post and its replies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThread(rootOpts, args[0], limit, cmd)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum replies to show (0 for all)")
	return cmd
}

func runThread(opts *RootOptions, ref string, limit int, cmd *cobra.Command) error {
	_, hash, err := message.ParseID(ref)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid post reference", err)
	}
	n, err := openReader(opts, cmd)
	if err != nil {
		return err
	}
	defer n.close()

	ctx := commandContext(cmd)
	post, err := n.store.Post(ctx, hash)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read post", err)
	}
	if post == nil {
		return NewExitError(ExitFailure, fmt.Sprintf("post %s not found", hash))
	}

	var th Thread
	if th.Post, err = postView(ctx, n.store, post); err != nil {
		return WrapExitError(ExitFailure, "failed to read post", err)
	}
	replies, err := n.store.Replies(ctx, hash, limit, "")
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read replies", err)
	}
	if th.Replies, err = postViews(ctx, n.store, replies); err != nil {
		return WrapExitError(ExitFailure, "failed to read replies", err)
	}

	return opts.output(cmd).Print(th, func(w io.Writer) {
		printPost(w, th.Post, "")
		if th.Post.Meta.Moderation != nil {
			fmt.Fprintf(w, "  moderation: %s\n", *th.Post.Meta.Moderation)
		}
		for _, r := range th.Replies {
			printPost(w, r, "    ")
		}
	})
}

// Whois is a user record with resolved profile and counters.
type Whois struct {
	User *store.User    `json:"user"`
	Meta store.UserMeta `json:"meta"`
}

// NewWhoisCommand creates the whois command.
func NewWhoisCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whois <address>",
		Short: "Show a user's registration, profile and counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhois(rootOpts, args[0], cmd)
		},
	}
}

func runWhois(opts *RootOptions, addr string, cmd *cobra.Command) error {
	n, err := openReader(opts, cmd)
	if err != nil {
		return err
	}
	defer n.close()

	ctx := commandContext(cmd)
	var who Whois
	if who.User, err = n.users.LookupUser(ctx, addr); err != nil {
		return WrapExitError(ExitFailure, "failed to read user", err)
	}
	if who.Meta, err = n.store.ResolvedUserMeta(ctx, addr); err != nil {
		return WrapExitError(ExitFailure, "failed to read user meta", err)
	}

	return opts.output(cmd).Print(who, func(w io.Writer) {
		fmt.Fprintln(w, addr)
		if who.User == nil {
			fmt.Fprintln(w, "  not registered")
		} else {
			fmt.Fprintf(w, "  pubkey:    %s\n", who.User.Pubkey)
			fmt.Fprintf(w, "  joined:    %s\n", who.User.JoinedAt.Format(time.RFC3339))
		}
		m := who.Meta
		if m.Nickname != "" {
			fmt.Fprintf(w, "  name:      %s\n", m.Nickname)
		}
		if m.Bio != "" {
			fmt.Fprintf(w, "  bio:       %s\n", m.Bio)
		}
		if m.Website != "" {
			fmt.Fprintf(w, "  website:   %s\n", m.Website)
		}
		fmt.Fprintf(w, "  posts:     %d\n", m.Posts)
		fmt.Fprintf(w, "  followers: %d  following: %d\n", m.Followers, m.Following)
		fmt.Fprintf(w, "  blockers:  %d  blocking:  %d\n", m.Blockers, m.Blocking)
	})
}

// NewChatsCommand creates the chats command.
func NewChatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chats <ecdh>",
		Short: "List the direct chats of an ECDH key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openReader(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer n.close()

			chats, err := n.store.ChatsByECDH(commandContext(cmd), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read chats", err)
			}
			if chats == nil {
				chats = []store.ChatMeta{}
			}
			return rootOpts.output(cmd).Print(chats, func(w io.Writer) {
				if len(chats) == 0 {
					fmt.Fprintln(w, "No chats.")
				}
				for _, c := range chats {
					fmt.Fprintf(w, "%s  %s -> %s\n", c.ChatID, c.SenderECDH, c.ReceiverECDH)
				}
			})
		},
	}
}

// Members is a group's ordered member list and current root.
type Members struct {
	Group   string              `json:"group"`
	Root    string              `json:"root"`
	Members []store.GroupMember `json:"members"`
}

// NewMembersCommand creates the members command.
func NewMembersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "members <group>",
		Short: "List a group's members and Merkle root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openReader(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer n.close()

			ctx := commandContext(cmd)
			res := Members{Group: args[0]}
			if res.Members, err = n.groups.Members(ctx, args[0]); err != nil {
				return WrapExitError(ExitFailure, "failed to read members", err)
			}
			if res.Members == nil {
				res.Members = []store.GroupMember{}
			}
			if res.Root, err = n.groups.Root(ctx, args[0]); err != nil {
				return WrapExitError(ExitFailure, "failed to read root", err)
			}
			return rootOpts.output(cmd).Print(res, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %d members, root %s\n", res.Group, len(res.Members), res.Root)
				for _, m := range res.Members {
					fmt.Fprintf(w, "  %4d  %s\n", m.Index, m.IDCommitment)
				}
			})
		},
	}
}
