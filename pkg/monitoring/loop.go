package monitoring

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/wfmon/agent/config"
	"github.com/wfmon/agent/internal/models"
	"github.com/wfmon/agent/pkg/errs"
	"github.com/wfmon/agent/pkg/metrics"
	"github.com/wfmon/agent/pkg/publisher"
)

const (
	drainGrace     = 50 * time.Millisecond
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// worker is the single goroutine that owns the listener, the ticker and
// the accumulator for the life of the agent
type worker struct {
	cfg         *config.AgentConfig
	ln          net.Listener
	shutdown    <-chan struct{}
	sampler     Sampler
	pub         publisher.Publisher
	metrics     *metrics.Collector
	readTimeout time.Duration
	logger      zerolog.Logger

	acc *models.Accumulator
}

// events is what became ready during one wait
type events struct {
	shutdown  bool
	conn      net.Conn
	acceptErr error
	tick      bool
	tickAt    time.Time
}

func (w *worker) run() {
	w.logger.Info().Msg("monitoring worker starting")
	w.logConfig()

	if w.cfg.Interval <= 0 {
		err := errs.Errorf(errs.Signal, "timer", "cannot arm timer with interval %s", w.cfg.Interval)
		w.logger.Error().Err(err).Msg("error setting monitoring timer")
		w.cleanup(nil, nil, nil)
		return
	}
	ticker := time.NewTicker(w.cfg.Interval)
	w.acc = models.NewAccumulator()

	stopAccept := make(chan struct{})
	conns, acceptErrs, acceptDone := w.acceptLoop(stopAccept)
	defer w.cleanup(ticker, stopAccept, acceptDone)

	lastTick := time.Now()
	stopping := false
	for {
		ev := w.wait(stopping, conns, acceptErrs, ticker.C)

		if ev.shutdown && !stopping {
			w.logger.Debug().Msg("monitoring worker caught shutdown")
			stopping = true
		}

		if ev.acceptErr != nil {
			w.metrics.RecordAcceptError()
			w.logger.Error().Err(ev.acceptErr).Msg("accept failed")
		}

		if ev.conn != nil {
			w.handleConn(ev.conn)
			if stopping {
				// the last interposed process reporting on its way out
				w.publishReport("final")
				return
			}
		}

		if ev.tick {
			if missed := expirations(lastTick, ev.tickAt, w.cfg.Interval); missed > 1 {
				w.metrics.RecordOverrun(missed - 1)
				w.logger.Warn().Uint64("expirations", missed).Msg("timer expired more than once")
			}
			lastTick = ev.tickAt
			w.tick()
		}

		if stopping && ev.conn == nil && !ev.tick {
			return
		}
	}
}

// wait blocks until at least one source is ready, then collects every
// other source that is ready at the same moment. Once stopping, the
// shutdown source stays ready and wait never blocks. When shutdown is
// first seen without a connection, wait gives the accept goroutine up to
// drainGrace to hand over a client already queued in the backlog.
func (w *worker) wait(stopping bool, conns <-chan net.Conn, acceptErrs <-chan error, tick <-chan time.Time) events {
	var ev events

	if stopping {
		ev.shutdown = true
	} else {
		select {
		case <-w.shutdown:
			ev.shutdown = true
		case c := <-conns:
			ev.conn = c
		case err := <-acceptErrs:
			ev.acceptErr = err
		case t := <-tick:
			ev.tick, ev.tickAt = true, t
		}
	}

	if !ev.shutdown {
		select {
		case <-w.shutdown:
			ev.shutdown = true
		default:
		}
	}
	if ev.conn == nil && ev.acceptErr == nil {
		select {
		case c := <-conns:
			ev.conn = c
		case err := <-acceptErrs:
			ev.acceptErr = err
		default:
		}
	}
	if !ev.tick {
		select {
		case t := <-tick:
			ev.tick, ev.tickAt = true, t
		default:
		}
	}

	if ev.shutdown && !stopping && ev.conn == nil && ev.acceptErr == nil {
		grace := time.NewTimer(drainGrace)
		select {
		case c := <-conns:
			ev.conn = c
		case <-grace.C:
		}
		grace.Stop()
	}
	return ev
}

// acceptLoop hands accepted connections to the worker one at a time.
// Accept errors are reported and retried with backoff until the
// listener is closed.
func (w *worker) acceptLoop(stop <-chan struct{}) (<-chan net.Conn, <-chan error, <-chan struct{}) {
	conns := make(chan net.Conn)
	errc := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		var delay time.Duration
		for {
			conn, err := w.ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				select {
				case <-stop:
					return
				case errc <- err:
				default:
				}

				if delay == 0 {
					delay = minAcceptDelay
				} else {
					delay *= 2
				}
				if delay > maxAcceptDelay {
					delay = maxAcceptDelay
				}
				select {
				case <-time.After(delay):
				case <-stop:
					return
				}
				continue
			}
			delay = 0
			select {
			case conns <- conn:
			case <-stop:
				conn.Close()
				return
			}
		}
	}()
	return conns, errc, done
}

// tick replaces the local snapshot and publishes the interval report
func (w *worker) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	samples, err := w.sampler.Sample(ctx)
	cancel()
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to sample process group")
	}
	w.acc.ReplaceLocal(samples)
	w.publishReport("interval")
}

// cleanup runs exactly once, on every exit path
func (w *worker) cleanup(ticker *time.Ticker, stopAccept chan struct{}, acceptDone <-chan struct{}) {
	if ticker != nil {
		ticker.Stop()
	}
	if stopAccept != nil {
		close(stopAccept)
	}
	if err := w.ln.Close(); err != nil {
		w.logger.Debug().Err(err).Msg("closing listener")
	}
	if acceptDone != nil {
		<-acceptDone
	}
	if err := w.pub.Close(); err != nil {
		w.logger.Debug().Err(err).Msg("closing publisher")
	}
	if w.acc != nil {
		w.acc.Reset()
	}

	w.logger.Info().Fields(w.metrics.GetMetrics()).Msg("monitoring worker exiting")
	w.cfg = nil
}

func (w *worker) logConfig() {
	pgid, _ := unix.Getpgid(0)
	w.logger.Debug().
		Str("url", w.cfg.URL).
		Stringer("credentials", w.cfg.Credentials).
		Str("wf_uuid", w.cfg.WorkflowUUID).
		Str("wf_label", w.cfg.WorkflowLabel).
		Str("dag_job_id", w.cfg.DAGJobID).
		Str("condor_job_id", w.cfg.CondorJobID).
		Str("xformation", w.cfg.Xformation).
		Str("task_id", w.cfg.TaskID).
		Int("process_group", pgid).
		Msg("monitoring configuration")
}

// expirations returns how many whole intervals elapsed between two ticks
func expirations(last, now time.Time, interval time.Duration) uint64 {
	elapsed := now.Sub(last)
	if elapsed <= 0 {
		return 1
	}
	n := (elapsed + interval/2) / interval
	if n < 1 {
		n = 1
	}
	return uint64(n)
}
