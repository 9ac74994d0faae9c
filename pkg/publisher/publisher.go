package publisher

import (
	"context"
	"net/url"
	"strings"

	"github.com/wfmon/agent/config"
	"github.com/wfmon/agent/pkg/errs"
)

// Publisher delivers reports to the message broker. Publish makes one
// attempt and never retries.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// New returns the publisher matching the scheme of cfg.URL
func New(cfg *config.AgentConfig) (Publisher, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errs.New(errs.Transport, "new", err)
	}
	switch u.Scheme {
	case "http", "https":
		return NewHTTPPublisher(cfg), nil
	case "redis", "rediss":
		return NewRedisPublisher(cfg)
	default:
		return nil, errs.Errorf(errs.Transport, "new", "unsupported broker scheme %q", u.Scheme)
	}
}

// splitCredentials parses "user:password"; a value without a colon is a
// bare user name
func splitCredentials(creds string) (user, password string) {
	user, password, _ = strings.Cut(creds, ":")
	return user, password
}
