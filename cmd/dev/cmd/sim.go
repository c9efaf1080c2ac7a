package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"

	"github.com/spf13/cobra"
)

var simCommands = []string{"read", "id", "reset"}

// SimCmd runs the cli against the simulated transport so the sampling cycle
// can be checked without hardware.
func SimCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sim [read|id|reset]",
		Short:     "Run a sensor command on the simulated bus",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: simCommands,
		RunE: func(cmd *cobra.Command, args []string) error {
			sub := "read"
			if len(args) == 1 {
				sub = args[0]
			}
			return runSim(cmd, sub)
		},
	}
}

func runSim(cmd *cobra.Command, sub string) error {
	if !slices.Contains(simCommands, sub) {
		return fmt.Errorf("unknown sim command %q", sub)
	}
	goArgs := []string{"run", "./cmd/thermohost", sub, "--transport", "sim"}
	if sub == "reset" {
		goArgs = append(goArgs, "--yes")
	}
	run := exec.CommandContext(cmd.Context(), "go", goArgs...)
	run.Stdout = os.Stdout
	run.Stderr = os.Stderr
	slog.Debug("running", "cmd", run.String())
	if err := run.Run(); err != nil {
		return fmt.Errorf("sim %s failed: %w", sub, err)
	}
	return nil
}
