package monitoring

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/wfmon/agent/internal/models"
	"github.com/wfmon/agent/pkg/errs"
)

// handleConn reads one sample from conn and folds it into the
// accumulator. A malformed sample is dropped whole. conn is always closed.
func (w *worker) handleConn(conn net.Conn) {
	defer conn.Close()

	sample, err := readSample(conn, w.recvTimeout())
	if err != nil {
		w.metrics.RecordDropped()
		w.logger.Warn().Err(err).Str("peer", conn.RemoteAddr().String()).Msg("dropping inbound sample")
		return
	}

	local := sample.Origin == w.cfg.LocalOrigin
	w.metrics.RecordSample(local)

	class := "remote"
	if local {
		class = "interpose"
	}
	sampleFields(w.logger.Info(), sample).Str("class", class).Msg("sample received")

	w.acc.Append(sample)
}

// trailingWait is how long readSample waits for bytes past one sample
// before accepting it
const trailingWait = 20 * time.Millisecond

// readSample reads exactly one encoded sample. A sender need not close
// its side first; bytes arriving within trailingWait after the sample
// mark the payload as oversized.
func readSample(conn net.Conn, timeout time.Duration) (models.ProcessSample, error) {
	var sample models.ProcessSample

	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return sample, errs.New(errs.Protocol, "recv", err)
		}
	}

	buf := make([]byte, models.SampleSize)
	n, err := io.ReadFull(conn, buf)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return sample, errs.Errorf(errs.Protocol, "recv", "invalid message: got %d of %d bytes", n, models.SampleSize)
	default:
		return sample, errs.New(errs.Protocol, "recv", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(trailingWait)); err != nil {
		return sample, errs.New(errs.Protocol, "recv", err)
	}
	var extra [1]byte
	if n, _ := conn.Read(extra[:]); n > 0 {
		return sample, errs.Errorf(errs.Protocol, "recv", "invalid message: more than %d bytes", models.SampleSize)
	}

	if err := sample.UnmarshalBinary(buf); err != nil {
		return sample, errs.New(errs.Protocol, "decode", err)
	}
	return sample, nil
}

// recvTimeout bounds one read so a silent client cannot hold the loop
// past half an interval
func (w *worker) recvTimeout() time.Duration {
	timeout := w.readTimeout
	if half := w.cfg.Interval / 2; half > 0 && (timeout <= 0 || half < timeout) {
		timeout = half
	}
	return timeout
}

func sampleFields(e *zerolog.Event, s models.ProcessSample) *zerolog.Event {
	return e.
		Uint32("origin", s.Origin).
		Int32("pid", s.Pid).
		Str("exe", s.Exe).
		Float64("utime", s.Utime).
		Float64("stime", s.Stime).
		Float64("iowait", s.Iowait).
		Uint64("vm", s.VM).
		Uint64("rss", s.RSS).
		Int32("threads", s.Threads).
		Uint64("bread", s.ReadBytes).
		Uint64("bwrite", s.WriteBytes).
		Uint64("rchar", s.Rchar).
		Uint64("wchar", s.Wchar).
		Uint64("syscr", s.Syscr).
		Uint64("syscw", s.Syscw)
}
