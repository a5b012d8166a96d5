package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/zkfold/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Golden string // golden directory; empty skips snapshot comparison
	Update bool   // rewrite golden files
	Filter string // glob on scenario names
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// ScenarioReport holds the overall result.
type ScenarioReport struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <path>",
		Short: "Run message-folding scenarios",
		Long: `Run scenario files against a fresh in-memory store and check their
assertions. <path> is a scenario file or a directory of *.yaml files.
With --golden each run's snapshot is also compared against
<golden>/<name>.golden.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  zkfold scenario ./scenarios
  zkfold scenario ./scenarios --filter "thread_*"
  zkfold scenario ./scenarios --golden ./golden --update`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Golden, "golden", "", "directory of golden snapshots")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runScenarios(opts *ScenarioOptions, path string, cmd *cobra.Command) error {
	if opts.Update && opts.Golden == "" {
		return NewExitError(ExitCommandError, "--update needs --golden")
	}
	scenarios, err := loadScenarios(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenarios", err)
	}
	if opts.Filter != "" {
		if _, err := filepath.Match(opts.Filter, ""); err != nil {
			return WrapExitError(ExitCommandError, "invalid filter pattern", err)
		}
	}

	report := ScenarioReport{Scenarios: []ScenarioResult{}}
	for _, s := range scenarios {
		if opts.Filter != "" {
			if ok, _ := filepath.Match(opts.Filter, s.Name); !ok {
				continue
			}
		}
		res := runScenario(opts, s, cmd)
		report.Scenarios = append(report.Scenarios, res)
		report.Total++
		if res.Pass {
			report.Passed++
		} else {
			report.Failed++
		}
	}

	text := func(w io.Writer) {
		if report.Total == 0 {
			fmt.Fprintln(w, "No scenarios found.")
			return
		}
		for _, r := range report.Scenarios {
			if r.Pass {
				fmt.Fprintf(w, "PASS %s\n", r.Name)
				continue
			}
			fmt.Fprintf(w, "FAIL %s\n", r.Name)
			for _, e := range r.Errors {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Summary: %d passed, %d failed, %d total\n", report.Passed, report.Failed, report.Total)
	}

	out := opts.output(cmd)
	if report.Failed > 0 {
		return out.Report(report, text, NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", report.Failed)))
	}
	return out.Print(report, text)
}

func loadScenarios(path string) ([]*harness.Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return harness.LoadDir(path)
	}
	s, err := harness.LoadScenario(path)
	if err != nil {
		return nil, err
	}
	return []*harness.Scenario{s}, nil
}

// runScenario executes one scenario and, with --golden, checks or rewrites
// its snapshot.
func runScenario(opts *ScenarioOptions, s *harness.Scenario, cmd *cobra.Command) ScenarioResult {
	res := ScenarioResult{Name: s.Name}

	result, err := harness.Run(commandContext(cmd), s)
	if err != nil {
		res.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return res
	}
	res.Errors = result.Errors

	if opts.Golden != "" {
		if err := checkGolden(opts, s.Name, result); err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
	}
	res.Pass = result.Pass && len(res.Errors) == 0
	return res
}

func checkGolden(opts *ScenarioOptions, name string, result *harness.Result) error {
	data, err := result.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to build snapshot: %w", err)
	}
	path := filepath.Join(opts.Golden, name+".golden")

	if opts.Update {
		if err := os.MkdirAll(opts.Golden, 0o755); err != nil {
			return fmt.Errorf("failed to create golden directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write golden file: %w", err)
		}
		return nil
	}

	golden, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read golden file: %w", err)
	}
	if !bytes.Equal(golden, data) {
		return fmt.Errorf("snapshot does not match %s (run with --update to regenerate)", filepath.Base(path))
	}
	return nil
}
