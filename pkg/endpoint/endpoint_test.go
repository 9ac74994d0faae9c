package endpoint

import (
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestAllocate(t *testing.T) {
	ep, err := Allocate()
	require.NoError(t, err)
	defer ep.Close()

	hostname, err := os.Hostname()
	require.NoError(t, err)
	assert.Equal(t, hostname, ep.Host)
	assert.Greater(t, ep.Port, 1023)
	assert.LessOrEqual(t, ep.Port, 65535)
	assert.Equal(t, net.JoinHostPort(hostname, strconv.Itoa(ep.Port)), ep.Addr())

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(ep.Port)), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	accepted, err := ep.Listener.Accept()
	require.NoError(t, err)
	accepted.Close()
}

func TestAllocateDistinctPorts(t *testing.T) {
	a, err := Allocate()
	require.NoError(t, err)
	defer a.Close()
	b, err := Allocate()
	require.NoError(t, err)
	defer b.Close()

	assert.NotEqual(t, a.Port, b.Port)
}

func TestCloseStopsAccepting(t *testing.T) {
	ep, err := Allocate()
	require.NoError(t, err)
	require.NoError(t, ep.Close())

	_, err = ep.Listener.Accept()
	assert.Error(t, err)
}

func TestNewSocketIsCloseOnExec(t *testing.T) {
	fd, err := newSocket()
	require.NoError(t, err)
	defer unix.Close(fd)

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.FD_CLOEXEC)
}
