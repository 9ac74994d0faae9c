package endpoint

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/wfmon/agent/pkg/errs"
	"github.com/wfmon/agent/pkg/logger"
)

// Endpoint is an OS-assigned listening address for inbound samples
type Endpoint struct {
	Host     string
	Port     int
	Listener net.Listener
}

// Addr returns the host:port pair children should dial
func (e *Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Close releases the listening socket
func (e *Endpoint) Close() error {
	return e.Listener.Close()
}

// Allocate opens a TCP socket on the wildcard address with an
// OS-assigned port and a backlog of 1. Nothing is left open when an
// error is returned.
func Allocate() (*Endpoint, error) {
	log := logger.Component("endpoint")

	fd, err := newSocket()
	if err != nil {
		return nil, fail(log, "socket", err)
	}

	owned := true
	defer func() {
		if owned {
			unix.Close(fd)
		}
	}()

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: 0}); err != nil {
		return nil, fail(log, "bind", err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		return nil, fail(log, "listen", err)
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, fail(log, "getsockname", err)
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return nil, fail(log, "getsockname", fmt.Errorf("unexpected address family %T", sa))
	}

	host, err := os.Hostname()
	if err != nil {
		return nil, fail(log, "gethostname", err)
	}

	// The file takes ownership of fd; FileListener works on a duplicate.
	f := os.NewFile(uintptr(fd), "wfmon-endpoint")
	owned = false
	ln, err := net.FileListener(f)
	f.Close()
	if err != nil {
		return nil, fail(log, "listener", err)
	}

	log.Debug().Str("host", host).Int("port", in4.Port).Msg("allocated monitoring endpoint")
	return &Endpoint{Host: host, Port: in4.Port, Listener: ln}, nil
}

// newSocket creates the listening socket with close-on-exec set at
// creation so a concurrent fork never inherits it
func newSocket() (int, error) {
	return unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
}

func fail(log zerolog.Logger, op string, err error) error {
	log.Error().Err(err).Str("op", op).Msg("endpoint allocation failed")
	return errs.New(errs.Endpoint, op, err)
}
