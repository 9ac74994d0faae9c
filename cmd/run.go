package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/wfmon/agent/config"
	"github.com/wfmon/agent/pkg/errs"
	"github.com/wfmon/agent/pkg/logger"
	"github.com/wfmon/agent/pkg/monitoring"
)

const defaultInterval = 60

// ExitError carries the supervised command's exit status back to main
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with status %d", e.Code)
}

func init() {
	RunCmd.Flags().IntP("interval", "i", defaultInterval, "Seconds between monitoring reports")
	RunCmd.Flags().Bool("console", false, "Human readable log output")
}

// RunCmd supervises a workload with a monitoring agent attached
var RunCmd = &cobra.Command{
	Use:   "run [flags] -- command [args...]",
	Short: "Run a command and publish periodic resource reports for it",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWorkload,
}

func runWorkload(cmd *cobra.Command, args []string) error {
	interval, _ := cmd.Flags().GetInt("interval")
	console, _ := cmd.Flags().GetBool("console")
	logger.InitLogger(config.LogLevel(), console)
	log := logger.Component("run")

	if interval <= 0 {
		return errs.Errorf(errs.Config, "run", "interval must be positive, got %d", interval)
	}

	agent := monitoring.NewAgent()
	if err := agent.Start(time.Duration(interval) * time.Second); err != nil {
		// the workload still runs, just unmonitored
		log.Warn().Err(err).Msg("monitoring disabled")
		agent = nil
	}

	code, err := runChild(args)

	if agent != nil {
		if err := agent.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop monitoring agent")
		}
	}
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// runChild runs the workload with the exported environment and returns
// its exit status. Termination requests are passed on to the child so
// the agent outlives it and can drain.
func runChild(args []string) (int, error) {
	child := exec.Command(args[0], args[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	child.Env = os.Environ()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGINT, unix.SIGTERM)
	defer signal.Stop(sigs)

	if err := child.Start(); err != nil {
		return 127, fmt.Errorf("failed to start %s: %w", args[0], err)
	}

	exited := make(chan struct{})
	defer close(exited)
	go func() {
		for {
			select {
			case s := <-sigs:
				// SIGINT from a terminal already reached the whole group
				if s == unix.SIGTERM {
					child.Process.Signal(s)
				}
			case <-exited:
				return
			}
		}
	}()

	err := child.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return 1, fmt.Errorf("failed to wait for %s: %w", args[0], err)
	}
	return 0, nil
}
