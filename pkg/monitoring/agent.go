// Package monitoring runs the telemetry agent that sits next to a
// supervised workload. It listens for samples pushed by instrumented
// children and peer agents, samples the local process group on a fixed
// interval, and publishes one merged report per interval to the broker.
//
// An Agent has exactly one background worker. Start spawns it and
// returns; Stop asks it to drain and blocks until it has exited.
package monitoring

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/wfmon/agent/config"
	"github.com/wfmon/agent/internal/models"
	"github.com/wfmon/agent/pkg/endpoint"
	"github.com/wfmon/agent/pkg/errs"
	"github.com/wfmon/agent/pkg/logger"
	"github.com/wfmon/agent/pkg/metrics"
	"github.com/wfmon/agent/pkg/publisher"
	"github.com/wfmon/agent/pkg/sampler"
)

const defaultReadTimeout = 5 * time.Second

// Sampler snapshots the local process tree
type Sampler interface {
	Sample(ctx context.Context) ([]models.ProcessSample, error)
}

// PublisherFactory builds the broker transport for a run
type PublisherFactory func(cfg *config.AgentConfig) (publisher.Publisher, error)

// Agent owns the lifecycle of one monitoring worker
type Agent struct {
	sampler      Sampler
	newPublisher PublisherFactory
	readTimeout  time.Duration
	metrics      *metrics.Collector
	logger       zerolog.Logger

	endpoint *endpoint.Endpoint
	shutdown chan struct{}
	done     chan struct{}
}

// Option configures an Agent
type Option func(*Agent)

// WithSampler replaces the process-group sampler
func WithSampler(s Sampler) Option {
	return func(a *Agent) { a.sampler = s }
}

// WithPublisherFactory replaces the URL-based publisher selection
func WithPublisherFactory(f PublisherFactory) Option {
	return func(a *Agent) { a.newPublisher = f }
}

// WithReadTimeout bounds how long one inbound connection may take to
// deliver its sample
func WithReadTimeout(d time.Duration) Option {
	return func(a *Agent) { a.readTimeout = d }
}

// NewAgent creates an agent that has not been started
func NewAgent(opts ...Option) *Agent {
	a := &Agent{
		newPublisher: publisher.New,
		readTimeout:  defaultReadTimeout,
		metrics:      metrics.NewCollector(),
		logger:       logger.Component("monitor"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start moves the process into its own process group, allocates the
// endpoint, exports it to the environment, loads the configuration and
// spawns the worker. It does not wait for the worker.
func (a *Agent) Start(interval time.Duration) error {
	// EPERM when already a session leader; the group is then ours anyway
	if err := unix.Setpgid(0, 0); err != nil {
		a.logger.Debug().Err(err).Msg("setpgid failed")
	}

	ep, err := endpoint.Allocate()
	if err != nil {
		a.logger.Error().Err(err).Msg("couldn't find an endpoint for communication with kickstart")
		return err
	}

	if err := config.ExportEndpoint(ep.Host, ep.Port, interval); err != nil {
		ep.Close()
		return errs.New(errs.Config, "export", err)
	}

	cfg, err := config.Load(interval)
	if err != nil {
		ep.Close()
		a.logger.Error().Err(err).Msg("failed to load monitoring configuration")
		return err
	}

	pub, err := a.newPublisher(cfg)
	if err != nil {
		ep.Close()
		return err
	}

	s := a.sampler
	if s == nil {
		s = sampler.NewProcessGroup(cfg.LocalOrigin)
	}

	a.endpoint = ep
	a.shutdown = make(chan struct{}, 1)
	a.done = make(chan struct{})

	w := &worker{
		cfg:         cfg,
		ln:          ep.Listener,
		shutdown:    a.shutdown,
		sampler:     s,
		pub:         pub,
		metrics:     a.metrics,
		readTimeout: a.readTimeout,
		logger:      a.logger,
	}
	done := a.done
	go func() {
		defer close(done)
		w.run()
	}()

	a.logger.Info().Str("host", ep.Host).Int("port", ep.Port).Dur("interval", interval).
		Msg("monitoring agent started")
	return nil
}

// Stop notifies the worker and blocks until it has drained and exited.
// It must be called at most once per Start.
func (a *Agent) Stop() error {
	if a.shutdown == nil {
		return errs.Errorf(errs.Signal, "stop", "agent is not running")
	}

	select {
	case a.shutdown <- struct{}{}:
	default:
		return errs.Errorf(errs.Signal, "stop", "problem signalling monitoring worker: notification pending")
	}

	<-a.done
	a.shutdown = nil
	a.done = nil
	return nil
}

// Endpoint returns the host and port children report to. Valid after a
// successful Start.
func (a *Agent) Endpoint() (host string, port int) {
	if a.endpoint == nil {
		return "", 0
	}
	return a.endpoint.Host, a.endpoint.Port
}

// Stats returns the agent's counters. Safe to call while running.
func (a *Agent) Stats() metrics.Snapshot {
	return a.metrics.Snapshot()
}
