package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/wfmon/agent/config"
	"github.com/wfmon/agent/internal/models"
	"github.com/wfmon/agent/pkg/logger"
	"github.com/wfmon/agent/pkg/reporter"
)

// SendCmd reports one sample to the agent exported in the environment
var SendCmd = newSendCmd()

func newSendCmd() *cobra.Command {
	var (
		sample  models.ProcessSample
		addr    string
		timeout time.Duration
	)

	c := &cobra.Command{
		Use:   "send",
		Short: "Send one process sample to the running monitoring agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.InitLogger(config.LogLevel(), false)

			if addr == "" {
				a, err := reporter.AddrFromEnv()
				if err != nil {
					return err
				}
				addr = a
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := reporter.Send(ctx, addr, sample); err != nil {
				return err
			}
			logger.Logger(ctx).Debug().Str("addr", addr).Int32("pid", sample.Pid).Msg("sample sent")
			return nil
		},
	}

	f := c.Flags()
	f.StringVar(&addr, "addr", "", "Agent address, defaults to KICKSTART_MON_HOST:KICKSTART_MON_PORT")
	f.DurationVar(&timeout, "timeout", 5*time.Second, "Connect and write timeout")
	f.Uint32Var(&sample.Origin, "origin", 0, "Origin tag of the sample")
	f.Int32Var(&sample.Pid, "pid", 0, "Process id")
	f.StringVar(&sample.Exe, "exe", "", "Executable name")
	f.Float64Var(&sample.Utime, "utime", 0, "User CPU seconds")
	f.Float64Var(&sample.Stime, "stime", 0, "System CPU seconds")
	f.Float64Var(&sample.Iowait, "iowait", 0, "IO wait seconds")
	f.Uint64Var(&sample.VM, "vm", 0, "Peak virtual memory")
	f.Uint64Var(&sample.RSS, "rss", 0, "Peak resident set size")
	f.Int32Var(&sample.Threads, "threads", 0, "Thread count")
	f.Uint64Var(&sample.ReadBytes, "bread", 0, "Bytes read from storage")
	f.Uint64Var(&sample.WriteBytes, "bwrite", 0, "Bytes written to storage")
	f.Uint64Var(&sample.Rchar, "rchar", 0, "Characters read")
	f.Uint64Var(&sample.Wchar, "wchar", 0, "Characters written")
	f.Uint64Var(&sample.Syscr, "syscr", 0, "Read syscalls")
	f.Uint64Var(&sample.Syscw, "syscw", 0, "Write syscalls")
	return c
}
