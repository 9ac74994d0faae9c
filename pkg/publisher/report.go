package publisher

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/wfmon/agent/config"
	"github.com/wfmon/agent/internal/models"
)

// MaxPayloadSize bounds the encoded broker envelope
const MaxPayloadSize = 8192

// Message is one report ready for the broker
type Message struct {
	// ID correlates the publish with the agent's log lines
	ID         string
	RoutingKey string
	Line       string
}

// FormatReport renders a merged report with the workflow identity as a
// single key=value line
func FormatReport(cfg *config.AgentConfig, r models.MergedReport) string {
	return fmt.Sprintf("wf_uuid=%s wf_label=%s dag_job_id=%s condor_job_id=%s "+
		"xformation=%s task_id=%s pid=%d exe=%s utime=%.3f stime=%.3f iowait=%.3f "+
		"vm=%d rss=%d threads=%d bread=%d bwrite=%d "+
		"rchar=%d wchar=%d syscr=%d syscw=%d",
		cfg.WorkflowUUID, cfg.WorkflowLabel, cfg.DAGJobID, cfg.CondorJobID,
		cfg.Xformation, cfg.TaskID, r.Pid, r.Exe, r.Utime, r.Stime, r.Iowait,
		r.VM, r.RSS, r.Threads, r.ReadBytes, r.WriteBytes,
		r.Rchar, r.Wchar, r.Syscr, r.Syscw)
}

type envelope struct {
	Properties      map[string]string `json:"properties"`
	RoutingKey      string            `json:"routing_key"`
	Payload         string            `json:"payload"`
	PayloadEncoding string            `json:"payload_encoding"`
}

// EncodeEnvelope wraps a message in the broker's publish body
func EncodeEnvelope(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(envelope{
		Properties:      map[string]string{},
		RoutingKey:      msg.RoutingKey,
		Payload:         msg.Line,
		PayloadEncoding: "string",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
