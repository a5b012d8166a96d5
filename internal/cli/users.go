package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/zkfold/internal/registry"
	"github.com/roach88/zkfold/internal/store"
)

// NewUsersCommand creates the users command and its subcommands.
func NewUsersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List or import registered users",
	}
	cmd.AddCommand(newUsersListCommand(rootOpts))
	cmd.AddCommand(newUsersImportCommand(rootOpts))
	return cmd
}

func newUsersListCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		limit int
		after string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered users in address order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openReader(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer n.close()

			users, err := n.users.List(commandContext(cmd), limit, after)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list users", err)
			}
			if users == nil {
				users = []store.User{}
			}
			return rootOpts.output(cmd).Print(users, func(w io.Writer) {
				for _, u := range users {
					fmt.Fprintf(w, "%s  %s  %s\n", u.Address, u.JoinedAt.Format(time.RFC3339), u.OriginType)
				}
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum users to show (0 for all)")
	cmd.Flags().StringVar(&after, "after", "", "show users after this address")
	return cmd
}

func newUsersImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <snapshot.yaml>",
		Short: "Import users and group members from a registry snapshot",
		Long: `Import a registry snapshot. Users follow the usual comparator (an
older registration is not replaced by a newer one) and members already
present are skipped, so importing twice is harmless.

Examples:
  zkfold users import registry.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := registry.LoadSnapshot(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load snapshot", err)
			}
			n, err := openReader(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer n.close()

			res, err := registry.Import(commandContext(cmd), snap, n.users, n.groups)
			if err != nil {
				return WrapExitError(ExitFailure, "import failed", err)
			}
			return rootOpts.output(cmd).Print(res, func(w io.Writer) {
				fmt.Fprintf(w, "Users: %d seen, %d created\n", res.UsersSeen, res.UsersCreated)
				fmt.Fprintf(w, "Members: %d added, %d skipped\n", res.MembersAdded, res.MembersSkipped)
			})
		},
	}
}
