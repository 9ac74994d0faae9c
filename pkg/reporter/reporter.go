// Package reporter is the sending side of the agent's inbound wire
// format. Instrumented children and peer agents use it to push one
// sample per connection.
package reporter

import (
	"context"
	"net"
	"os"

	"github.com/wfmon/agent/config"
	"github.com/wfmon/agent/internal/models"
	"github.com/wfmon/agent/pkg/errs"
)

// AddrFromEnv returns the endpoint exported by a running agent
func AddrFromEnv() (string, error) {
	if os.Getenv(config.EnvMon) != "1" {
		return "", errs.Errorf(errs.Config, "reporter", "%s not set, no agent is running", config.EnvMon)
	}
	host, port := os.Getenv(config.EnvMonHost), os.Getenv(config.EnvMonPort)
	if host == "" || port == "" {
		return "", errs.Errorf(errs.Config, "reporter", "%s and %s must both be set", config.EnvMonHost, config.EnvMonPort)
	}
	return net.JoinHostPort(host, port), nil
}

// Send delivers one sample to addr. The connection is closed after the
// write so the agent sees end of stream.
func Send(ctx context.Context, addr string, sample models.ProcessSample) error {
	buf, err := sample.MarshalBinary()
	if err != nil {
		return errs.New(errs.Protocol, "encode", err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errs.New(errs.Transport, "dial", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return errs.New(errs.Transport, "send", err)
		}
	}
	if _, err := conn.Write(buf); err != nil {
		return errs.New(errs.Transport, "send", err)
	}
	if err := conn.Close(); err != nil {
		return errs.New(errs.Transport, "close", err)
	}
	return nil
}
