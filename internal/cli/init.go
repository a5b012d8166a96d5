package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/zkfold/internal/config"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Force   bool
	Backend string
	DataDir string
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Write a config file with the default settings to --config.

Examples:
  zkfold init
  zkfold init --backend pebble --data-dir /var/lib/zkfold
  zkfold init --config ./node.yaml --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing file")
	cmd.Flags().StringVar(&opts.Backend, "backend", "", "storage backend (sqlite|pebble|leveldb|memory)")
	cmd.Flags().StringVar(&opts.DataDir, "data-dir", "", "data directory")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	cfg := config.Default()
	if opts.Backend != "" {
		cfg.Backend = config.Backend(opts.Backend)
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	if err := config.Write(opts.Config, cfg, opts.Force); err != nil {
		return WrapExitError(ExitCommandError, "failed to write config", err)
	}

	return opts.output(cmd).Print(map[string]string{"path": opts.Config}, func(w io.Writer) {
		fmt.Fprintf(w, "Wrote %s\n", opts.Config)
	})
}
