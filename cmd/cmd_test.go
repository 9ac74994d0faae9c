package cmd

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfmon/agent/config"
	"github.com/wfmon/agent/internal/models"
)

func clearMonitorEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		config.EnvURL, config.EnvCredentials, config.EnvWfUUID, config.EnvWfLabel,
		config.EnvDAGJobID, config.EnvCondorJobID, config.EnvLocalOrigin,
		config.EnvMon, config.EnvMonInterval, config.EnvMonHost, config.EnvMonPort,
	} {
		t.Setenv(k, "")
	}
}

func TestSendCommand(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf, _ := io.ReadAll(conn)
		received <- buf
	}()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	t.Setenv(config.EnvMon, "1")
	t.Setenv(config.EnvMonHost, "127.0.0.1")
	t.Setenv(config.EnvMonPort, port)

	c := newSendCmd()
	c.SetArgs([]string{"--origin", "2", "--pid", "42", "--exe", "job", "--utime", "1.25", "--rss", "500", "--bread", "10"})
	require.NoError(t, c.Execute())

	select {
	case buf := <-received:
		var got models.ProcessSample
		require.NoError(t, got.UnmarshalBinary(buf))
		assert.Equal(t, models.ProcessSample{Origin: 2, Pid: 42, Exe: "job", Utime: 1.25, RSS: 500, ReadBytes: 10}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no sample received")
	}
}

func TestSendCommandWithoutAgent(t *testing.T) {
	clearMonitorEnv(t)

	c := newSendCmd()
	c.SetArgs([]string{"--pid", "1"})
	c.SetOut(io.Discard)
	c.SetErr(io.Discard)
	assert.Error(t, c.Execute())
}

func TestRunChildExitStatus(t *testing.T) {
	code, err := runChild([]string{"sh", "-c", "exit 3"})
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	code, err = runChild([]string{"true"})
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	_, err = runChild([]string{"/nonexistent/wfmon-test-binary"})
	assert.Error(t, err)
}

func TestRunWithoutConfigStillRunsCommand(t *testing.T) {
	clearMonitorEnv(t)

	err := runWorkload(RunCmd, []string{"sh", "-c", "exit 5"})
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 5, exitErr.Code)
}

func TestRunPublishesReports(t *testing.T) {
	clearMonitorEnv(t)

	var mu sync.Mutex
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	t.Setenv(config.EnvURL, server.URL+"/api/exchanges/%2F/monitoring/publish")
	t.Setenv(config.EnvCredentials, "guest:guest")
	t.Setenv(config.EnvWfUUID, "wf-uuid")
	t.Setenv(config.EnvWfLabel, "diamond")
	t.Setenv(config.EnvDAGJobID, "analyze_ID4")
	t.Setenv(config.EnvCondorJobID, "77.0")

	require.NoError(t, RunCmd.Flags().Set("interval", "1"))
	defer RunCmd.Flags().Set("interval", strconv.Itoa(defaultInterval))

	// the child sees the exported endpoint and outlives one tick
	script := `test "$KICKSTART_MON" = 1 && test -n "$KICKSTART_MON_PORT" && test "$KICKSTART_MON_INTERVAL" = 1 && sleep 1.5`
	require.NoError(t, runWorkload(RunCmd, []string{"sh", "-c", script}))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, bodies)
	assert.Contains(t, bodies[0], `"routing_key":"wf-uuid"`)
	assert.Contains(t, bodies[0], "wf_label=diamond")
}

func TestExitErrorMessage(t *testing.T) {
	assert.Equal(t, "command exited with status 2", (&ExitError{Code: 2}).Error())
}
