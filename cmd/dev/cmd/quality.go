package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

// packages covered by unit tests; cmd/ is exercised by the sim smoke run
var testPackages = []string{
	".", "./adapter/...", "./api/...", "./config/...", "./environment/...", "./host/...",
	"./i2c/...", "./promexp/...", "./reactor/...", "./sink/...", "./snsctx/...", "./thermal/...",
}

func TestCmd() *cobra.Command {
	var race bool
	var run string
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run unit tests, all library packages by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			goArgs := []string{"test", "-count=1"}
			if race {
				// the reactor and sink run on their own goroutines
				goArgs = append(goArgs, "-race")
			}
			if run != "" {
				goArgs = append(goArgs, "-run", run)
			}
			if len(args) == 0 {
				args = testPackages
			}
			goTest := exec.CommandContext(cmd.Context(), "go", append(goArgs, args...)...)
			goTest.Stdout = os.Stdout
			goTest.Stderr = os.Stderr
			slog.Debug("running", "cmd", goTest.String())
			if err := goTest.Run(); err != nil {
				return fmt.Errorf("failed to run tests: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&race, "race", true, "enable the race detector")
	cmd.Flags().StringVar(&run, "run", "", "only run tests matching the pattern")
	return cmd
}

func LintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Run linting",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := test.Lint(); err != nil {
				return fmt.Errorf("failed to run linting: %w", err)
			}
			return nil
		},
	}
}

// IntegrationTestCmd runs the integration suite and then every sensor
// command of the cli against the simulated bus.
func IntegrationTestCmd() *cobra.Command {
	var skipSim bool
	cmd := &cobra.Command{
		Use:   "integration-test",
		Short: "Run integration testing and a simulated cli smoke run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := test.Integ(); err != nil {
				return fmt.Errorf("failed to run integration testing: %w", err)
			}
			if skipSim {
				return nil
			}
			for _, sub := range simCommands {
				if err := runSim(cmd, sub); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipSim, "skip-sim", false, "do not run the simulated cli commands")
	return cmd
}
