package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/wfmon/agent/cmd"
	"github.com/wfmon/agent/pkg/logger"
)

var (
	rootCmd = &cobra.Command{
		Use:           "wfmon",
		Short:         "Workflow job resource monitor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	rootCmd.AddCommand(cmd.RunCmd, cmd.SendCmd)
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cmd.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		logger.Logger(context.Background()).Error().Err(err).Msg("command execution failed")
		os.Exit(1)
	}
}
