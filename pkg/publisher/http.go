package publisher

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/wfmon/agent/config"
	"github.com/wfmon/agent/pkg/errs"
	"github.com/wfmon/agent/pkg/logger"
)

// HTTPPublisher posts reports to a broker's HTTP publish API
type HTTPPublisher struct {
	url      string
	user     string
	password string
	client   *http.Client
	logger   zerolog.Logger
}

// NewHTTPPublisher creates a publisher for cfg.URL
func NewHTTPPublisher(cfg *config.AgentConfig) *HTTPPublisher {
	user, password := splitCredentials(cfg.Credentials.Value())
	return &HTTPPublisher{
		url:      cfg.URL,
		user:     user,
		password: password,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: cfg.InsecureSkipVerify,
				},
			},
			Timeout: cfg.Timeout,
		},
		logger: logger.Component("publisher"),
	}
}

// Publish sends msg as a single POST
func (p *HTTPPublisher) Publish(ctx context.Context, msg Message) error {
	body, err := EncodeEnvelope(msg)
	if err != nil {
		return errs.New(errs.Transport, "publish", err)
	}
	if len(body) >= MaxPayloadSize {
		return errs.Errorf(errs.Transport, "publish", "message too large for buffer: %d bytes", len(msg.Line))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return errs.New(errs.Transport, "publish", fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if msg.ID != "" {
		req.Header.Set("X-Request-ID", msg.ID)
	}
	if p.user != "" || p.password != "" {
		req.SetBasicAuth(p.user, p.password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return errs.New(errs.Transport, "publish", fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errs.Errorf(errs.Transport, "publish", "unexpected status code: %d", resp.StatusCode)
	}

	p.logger.Debug().Str("report_id", msg.ID).Int("status", resp.StatusCode).Msg("report published")
	return nil
}

// Close releases idle connections
func (p *HTTPPublisher) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
