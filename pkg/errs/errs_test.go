package errs

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsThroughWrapping(t *testing.T) {
	err := New(Transport, "publish", io.ErrUnexpectedEOF)
	wrapped := fmt.Errorf("tick 3: %w", err)

	assert.True(t, Is(wrapped, Transport))
	assert.False(t, Is(wrapped, Protocol))
	assert.True(t, errors.Is(wrapped, io.ErrUnexpectedEOF))
	assert.False(t, Is(io.EOF, Transport))
}

func TestErrorMessage(t *testing.T) {
	err := Errorf(Config, "load", "%s not specified", "PEGASUS_WF_UUID")
	assert.Equal(t, "config error: load: PEGASUS_WF_UUID not specified", err.Error())

	assert.Equal(t, "signal error: stop", New(Signal, "stop", nil).Error())
	assert.Equal(t, "unknown", Kind(0).String())
}
