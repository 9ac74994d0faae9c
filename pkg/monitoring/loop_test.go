package monitoring

import (
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfmon/agent/config"
	"github.com/wfmon/agent/internal/models"
	"github.com/wfmon/agent/pkg/metrics"
)

// flakyListener fails its first Accept the way a full fd table does
type flakyListener struct {
	net.Listener
	once sync.Once
}

func (l *flakyListener) Accept() (net.Conn, error) {
	failed := false
	l.once.Do(func() { failed = true })
	if failed {
		return nil, &net.OpError{Op: "accept", Net: "tcp", Err: syscall.EMFILE}
	}
	return l.Listener.Accept()
}

func TestWaitCollectsEveryReadySource(t *testing.T) {
	shutdown := make(chan struct{}, 1)
	conns := make(chan net.Conn, 1)
	tick := make(chan time.Time, 1)
	w := &worker{shutdown: shutdown}

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	now := time.Now()
	shutdown <- struct{}{}
	conns <- server
	tick <- now

	ev := w.wait(false, conns, nil, tick)
	assert.True(t, ev.shutdown)
	assert.Equal(t, server, ev.conn)
	assert.True(t, ev.tick)
	assert.Equal(t, now, ev.tickAt)
	assert.NoError(t, ev.acceptErr)
}

func TestWaitNeverBlocksOnceStopping(t *testing.T) {
	w := &worker{shutdown: make(chan struct{}, 1)}

	done := make(chan events, 1)
	go func() { done <- w.wait(true, nil, nil, nil) }()

	select {
	case ev := <-done:
		assert.True(t, ev.shutdown)
		assert.Nil(t, ev.conn)
		assert.False(t, ev.tick)
	case <-time.After(time.Second):
		t.Fatal("wait blocked while stopping")
	}
}

func TestWaitReportsAcceptError(t *testing.T) {
	w := &worker{shutdown: make(chan struct{}, 1)}
	errc := make(chan error, 1)
	errc <- net.ErrClosed

	ev := w.wait(false, nil, errc, nil)
	assert.ErrorIs(t, ev.acceptErr, net.ErrClosed)
	assert.False(t, ev.shutdown)
}

func TestExpirations(t *testing.T) {
	base := time.Unix(1700000000, 0)
	tests := []struct {
		name    string
		elapsed time.Duration
		want    uint64
	}{
		{"on time", time.Second, 1},
		{"early", 600 * time.Millisecond, 1},
		{"slightly late", 1400 * time.Millisecond, 1},
		{"one missed", 2 * time.Second, 2},
		{"several missed", 5100 * time.Millisecond, 5},
		{"clock went backwards", -time.Second, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expirations(base, base.Add(tt.elapsed), time.Second))
		})
	}
}

func TestWaitGivesQueuedClientGrace(t *testing.T) {
	shutdown := make(chan struct{}, 1)
	conns := make(chan net.Conn)
	w := &worker{shutdown: shutdown}

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	shutdown <- struct{}{}
	go func() {
		time.Sleep(drainGrace / 5)
		conns <- server
	}()

	ev := w.wait(false, conns, nil, nil)
	assert.True(t, ev.shutdown)
	assert.Equal(t, server, ev.conn)
}

func TestWaitShutdownAloneEndsAfterGrace(t *testing.T) {
	shutdown := make(chan struct{}, 1)
	w := &worker{shutdown: shutdown}
	shutdown <- struct{}{}

	start := time.Now()
	ev := w.wait(false, make(chan net.Conn), nil, nil)
	assert.True(t, ev.shutdown)
	assert.Nil(t, ev.conn)
	assert.GreaterOrEqual(t, time.Since(start), drainGrace)
}

func TestAcceptErrorDoesNotStopWorker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	pub := &fakePublisher{}
	collector := metrics.NewCollector()
	shutdown := make(chan struct{}, 1)
	w := &worker{
		cfg:         &config.AgentConfig{WorkflowUUID: "wf-uuid", Interval: 100 * time.Millisecond, Timeout: time.Second},
		ln:          &flakyListener{Listener: ln},
		shutdown:    shutdown,
		sampler:     emptySampler(),
		pub:         pub,
		metrics:     collector,
		readTimeout: time.Second,
		logger:      zerolog.Nop(),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.run()
	}()

	sendTo(t, ln.Addr().String(), encode(t, models.ProcessSample{Pid: 5, Exe: "after-emfile"}))
	require.Eventually(t, func() bool { return len(pub.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, pub.messages()[0].Line, "pid=5 exe=after-emfile ")
	assert.Equal(t, uint64(1), collector.Snapshot().AcceptErrors)

	shutdown <- struct{}{}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
	assert.True(t, pub.isClosed())
}
