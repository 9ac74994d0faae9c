package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an agent error by the stage that produced it
type Kind int

const (
	// Config means a required configuration value is missing or invalid
	Config Kind = iota + 1
	// Endpoint means the listening endpoint could not be allocated
	Endpoint
	// Transport means a report could not be published
	Transport
	// Protocol means an inbound sample was malformed or could not be read
	Protocol
	// Signal means the shutdown notification or the interval timer failed
	Signal
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "config"
	case Endpoint:
		return "endpoint"
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case Signal:
		return "signal"
	default:
		return "unknown"
	}
}

// Error is a classified agent error
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind and the operation that failed
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string
func Errorf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Is reports whether any error in err's chain is of the given kind
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
