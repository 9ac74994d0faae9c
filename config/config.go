package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/wfmon/agent/pkg/errs"
)

// Environment read by the agent
const (
	EnvURL         = "KICKSTART_MON_ENDPOINT_URL"
	EnvCredentials = "KICKSTART_MON_ENDPOINT_CREDENTIALS"
	EnvInsecure    = "KICKSTART_MON_ENDPOINT_INSECURE"
	EnvTimeout     = "KICKSTART_MON_ENDPOINT_TIMEOUT"
	EnvLocalOrigin = "KICKSTART_MON_LOCAL_ORIGIN"
	EnvLogLevel    = "KICKSTART_MON_LOG_LEVEL"
	EnvWfUUID      = "PEGASUS_WF_UUID"
	EnvWfLabel     = "PEGASUS_WF_LABEL"
	EnvDAGJobID    = "PEGASUS_DAG_JOB_ID"
	EnvCondorJobID = "CONDOR_JOBID"
	EnvXformation  = "PEGASUS_XFORMATION"
	EnvTaskID      = "PEGASUS_TASK_ID"
)

// Environment exported for descendant processes
const (
	EnvMon         = "KICKSTART_MON"
	EnvMonInterval = "KICKSTART_MON_INTERVAL"
	EnvMonHost     = "KICKSTART_MON_HOST"
	EnvMonPort     = "KICKSTART_MON_PORT"
)

const defaultTimeout = 10 * time.Second

// SecretValue hides its content when printed
type SecretValue string

func (s SecretValue) String() string {
	return "****"
}

func (s SecretValue) Value() string {
	return string(s)
}

// AgentConfig is the immutable configuration of one agent run
type AgentConfig struct {
	URL           string
	Credentials   SecretValue
	WorkflowUUID  string
	WorkflowLabel string
	DAGJobID      string
	CondorJobID   string
	Xformation    string
	TaskID        string

	Interval           time.Duration
	Timeout            time.Duration
	InsecureSkipVerify bool
	// LocalOrigin is the sample origin value that marks a same-host sample
	LocalOrigin uint32
}

type field struct {
	key      string
	env      string
	required bool
}

var fields = []field{
	{"url", EnvURL, true},
	{"credentials", EnvCredentials, true},
	{"wf_uuid", EnvWfUUID, true},
	{"wf_label", EnvWfLabel, true},
	{"dag_job_id", EnvDAGJobID, true},
	{"condor_job_id", EnvCondorJobID, true},
	{"xformation", EnvXformation, false},
	{"task_id", EnvTaskID, false},
	{"insecure", EnvInsecure, false},
	{"timeout", EnvTimeout, false},
	{"local_origin", EnvLocalOrigin, false},
}

// Load reads the agent configuration from the environment. A missing
// required variable is a config error; an empty one counts as present.
func Load(interval time.Duration) (*AgentConfig, error) {
	v := viper.New()
	v.AllowEmptyEnv(true)
	for _, f := range fields {
		if err := v.BindEnv(f.key, f.env); err != nil {
			return nil, errs.New(errs.Config, "load", err)
		}
	}
	v.SetDefault("xformation", "")
	v.SetDefault("task_id", "")
	v.SetDefault("insecure", false)
	v.SetDefault("timeout", defaultTimeout)
	v.SetDefault("local_origin", 0)

	for _, f := range fields {
		if f.required && !v.IsSet(f.key) {
			return nil, errs.Errorf(errs.Config, "load", "%s not specified", f.env)
		}
	}

	cfg := &AgentConfig{
		URL:                v.GetString("url"),
		Credentials:        SecretValue(v.GetString("credentials")),
		WorkflowUUID:       v.GetString("wf_uuid"),
		WorkflowLabel:      v.GetString("wf_label"),
		DAGJobID:           v.GetString("dag_job_id"),
		CondorJobID:        v.GetString("condor_job_id"),
		Xformation:         v.GetString("xformation"),
		TaskID:             v.GetString("task_id"),
		Interval:           interval,
		Timeout:            v.GetDuration("timeout"),
		InsecureSkipVerify: v.GetBool("insecure"),
		LocalOrigin:        v.GetUint32("local_origin"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that can be wrong even when present
func (c *AgentConfig) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return errs.New(errs.Config, "validate", fmt.Errorf("invalid %s: %w", EnvURL, err))
	}
	switch u.Scheme {
	case "http", "https", "redis", "rediss":
	default:
		return errs.Errorf(errs.Config, "validate", "unsupported %s scheme %q", EnvURL, u.Scheme)
	}

	if c.Interval <= 0 {
		return errs.Errorf(errs.Config, "validate", "interval must be positive, got %s", c.Interval)
	}
	if c.Timeout <= 0 {
		return errs.Errorf(errs.Config, "validate", "%s must be positive", EnvTimeout)
	}
	return nil
}

// ExportEndpoint publishes the monitoring endpoint for processes spawned
// from now on. The interval is exported in whole seconds.
func ExportEndpoint(host string, port int, interval time.Duration) error {
	secs := int(interval / time.Second)
	if secs < 1 {
		secs = 1
	}
	vars := [][2]string{
		{EnvMon, "1"},
		{EnvMonInterval, strconv.Itoa(secs)},
		{EnvMonHost, host},
		{EnvMonPort, strconv.Itoa(port)},
	}
	for _, kv := range vars {
		if err := os.Setenv(kv[0], kv[1]); err != nil {
			return fmt.Errorf("failed to set %s: %w", kv[0], err)
		}
	}
	return nil
}

// LogLevel returns the configured log level, "info" when unset
func LogLevel() string {
	v := viper.New()
	_ = v.BindEnv("log_level", EnvLogLevel)
	v.SetDefault("log_level", "info")
	return v.GetString("log_level")
}
