// Package sampler snapshots the resource usage of the local process tree.
package sampler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"github.com/wfmon/agent/internal/models"
	"github.com/wfmon/agent/pkg/logger"
)

// ProcessGroup samples every live process sharing the caller's process
// group. The agent places itself in its own group at start, so the group
// is the supervised workload.
type ProcessGroup struct {
	origin uint32
	logger zerolog.Logger
}

// NewProcessGroup creates a sampler whose samples carry origin
func NewProcessGroup(origin uint32) *ProcessGroup {
	return &ProcessGroup{
		origin: origin,
		logger: logger.Component("sampler"),
	}
}

// Sample returns one sample per process in the group. Processes that
// exit while being read are skipped.
func (s *ProcessGroup) Sample(ctx context.Context) ([]models.ProcessSample, error) {
	pgid, err := unix.Getpgid(0)
	if err != nil {
		return nil, fmt.Errorf("failed to get process group: %w", err)
	}

	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	var samples []models.ProcessSample
	for _, pid := range pids {
		if g, err := unix.Getpgid(int(pid)); err != nil || g != pgid {
			continue
		}
		p, err := process.NewProcessWithContext(ctx, pid)
		if err != nil {
			continue
		}
		sample, err := s.sampleProcess(ctx, p)
		if err != nil {
			s.logger.Debug().Err(err).Int32("pid", pid).Msg("skipping process")
			continue
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func (s *ProcessGroup) sampleProcess(ctx context.Context, p *process.Process) (models.ProcessSample, error) {
	sample := models.ProcessSample{Origin: s.origin, Pid: p.Pid}

	name, err := p.NameWithContext(ctx)
	if err != nil {
		return sample, fmt.Errorf("name: %w", err)
	}
	sample.Exe = name

	times, err := p.TimesWithContext(ctx)
	if err != nil {
		return sample, fmt.Errorf("times: %w", err)
	}
	sample.Utime = times.User
	sample.Stime = times.System
	sample.Iowait = times.Iowait

	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return sample, fmt.Errorf("memory: %w", err)
	}
	sample.VM = mem.VMS
	sample.RSS = mem.RSS

	if threads, err := p.NumThreadsWithContext(ctx); err == nil {
		sample.Threads = threads
	}

	// IO accounting can be unreadable (ptrace restrictions); keep zeros
	if io, err := p.IOCountersWithContext(ctx); err == nil {
		sample.ReadBytes = io.ReadBytes
		sample.WriteBytes = io.WriteBytes
		sample.Syscr = io.ReadCount
		sample.Syscw = io.WriteCount
	}
	if rchar, wchar, err := readCharCounters(p.Pid); err == nil {
		sample.Rchar = rchar
		sample.Wchar = wchar
	}

	return sample, nil
}
