package metrics

import (
	"sync/atomic"
	"time"
)

// Collector counts what the agent did during one run. Counters are
// written by the worker and may be read from any goroutine.
type Collector struct {
	localSamples     uint64
	remoteSamples    uint64
	droppedSamples   uint64
	reportsPublished uint64
	publishFailures  uint64
	publishLatency   int64
	timerOverruns    uint64
	acceptErrors     uint64
	startTime        time.Time
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	Uptime           time.Duration
	LocalSamples     uint64
	RemoteSamples    uint64
	DroppedSamples   uint64
	ReportsPublished uint64
	PublishFailures  uint64
	// PublishLatency is the cumulative publish time in milliseconds
	PublishLatency int64
	TimerOverruns  uint64
	AcceptErrors   uint64
}

// NewCollector creates a new collector
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
	}
}

// RecordSample records an accepted inbound sample
func (c *Collector) RecordSample(local bool) {
	if local {
		atomic.AddUint64(&c.localSamples, 1)
	} else {
		atomic.AddUint64(&c.remoteSamples, 1)
	}
}

// RecordDropped records a malformed or unreadable inbound sample
func (c *Collector) RecordDropped() {
	atomic.AddUint64(&c.droppedSamples, 1)
}

// RecordPublish records one publish attempt
func (c *Collector) RecordPublish(latency time.Duration, err error) {
	atomic.AddInt64(&c.publishLatency, latency.Milliseconds())
	if err != nil {
		atomic.AddUint64(&c.publishFailures, 1)
		return
	}
	atomic.AddUint64(&c.reportsPublished, 1)
}

// RecordOverrun records timer expirations that elapsed without a tick
func (c *Collector) RecordOverrun(missed uint64) {
	atomic.AddUint64(&c.timerOverruns, missed)
}

// RecordAcceptError records a failed accept on the endpoint
func (c *Collector) RecordAcceptError() {
	atomic.AddUint64(&c.acceptErrors, 1)
}

// Snapshot returns the current counters
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Uptime:           time.Since(c.startTime),
		LocalSamples:     atomic.LoadUint64(&c.localSamples),
		RemoteSamples:    atomic.LoadUint64(&c.remoteSamples),
		DroppedSamples:   atomic.LoadUint64(&c.droppedSamples),
		ReportsPublished: atomic.LoadUint64(&c.reportsPublished),
		PublishFailures:  atomic.LoadUint64(&c.publishFailures),
		PublishLatency:   atomic.LoadInt64(&c.publishLatency),
		TimerOverruns:    atomic.LoadUint64(&c.timerOverruns),
		AcceptErrors:     atomic.LoadUint64(&c.acceptErrors),
	}
}

// GetMetrics returns the counters as a nested map for structured logging
func (c *Collector) GetMetrics() map[string]interface{} {
	s := c.Snapshot()
	return map[string]interface{}{
		"uptime": s.Uptime.Seconds(),
		"samples": map[string]interface{}{
			"local":   s.LocalSamples,
			"remote":  s.RemoteSamples,
			"dropped": s.DroppedSamples,
		},
		"publish": map[string]interface{}{
			"count":   s.ReportsPublished,
			"errors":  s.PublishFailures,
			"latency": s.PublishLatency,
		},
		"timer_overruns": s.TimerOverruns,
		"accept_errors":  s.AcceptErrors,
	}
}
