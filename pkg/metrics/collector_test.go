package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.RecordSample(true)
	c.RecordSample(false)
	c.RecordSample(false)
	c.RecordDropped()
	c.RecordPublish(20*time.Millisecond, nil)
	c.RecordPublish(5*time.Millisecond, errors.New("broker down"))
	c.RecordOverrun(2)
	c.RecordAcceptError()

	s := c.Snapshot()
	assert.Equal(t, uint64(1), s.LocalSamples)
	assert.Equal(t, uint64(2), s.RemoteSamples)
	assert.Equal(t, uint64(1), s.DroppedSamples)
	assert.Equal(t, uint64(1), s.ReportsPublished)
	assert.Equal(t, uint64(1), s.PublishFailures)
	assert.Equal(t, int64(25), s.PublishLatency)
	assert.Equal(t, uint64(2), s.TimerOverruns)
	assert.Equal(t, uint64(1), s.AcceptErrors)

	m := c.GetMetrics()
	assert.Equal(t, uint64(2), m["samples"].(map[string]interface{})["remote"])
	assert.Equal(t, uint64(1), m["publish"].(map[string]interface{})["errors"])
	assert.Equal(t, uint64(1), m["accept_errors"])
}

func TestCollectorConcurrentReads(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			c.RecordSample(i%2 == 0)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = c.Snapshot()
		}
	}()
	wg.Wait()

	s := c.Snapshot()
	assert.Equal(t, uint64(1000), s.LocalSamples+s.RemoteSamples)
}
