package monitoring

import (
	"context"
	"time"

	"github.com/rs/xid"

	"github.com/wfmon/agent/pkg/publisher"
)

// publishReport merges the accumulator into one report, hands it to the
// publisher and drains the accumulator. Failures are logged and the
// report is lost; nothing is retried.
func (w *worker) publishReport(reason string) {
	report, ok := w.acc.Merge()
	if !ok {
		w.logger.Debug().Str("reason", reason).Msg("nothing to report")
		return
	}
	defer w.acc.Reset()

	msg := publisher.Message{
		ID:         xid.New().String(),
		RoutingKey: w.cfg.WorkflowUUID,
		Line:       publisher.FormatReport(w.cfg, report),
	}
	w.logger.Info().
		Str("report_id", msg.ID).
		Str("reason", reason).
		Int("samples", report.Samples).
		Str("report", msg.Line).
		Msg("publishing report")

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := w.pub.Publish(ctx, msg)
	w.metrics.RecordPublish(time.Since(start), err)
	if err != nil {
		w.logger.Error().Err(err).Str("report_id", msg.ID).Msg("an error occurred while sending measurement")
	}
}
