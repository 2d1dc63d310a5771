package relay

import (
	"time"

	"github.com/drewthekiiid/pipai-sub002/internal/config"
)

// Options tune every session of a relay.
type Options struct {
	// BlockTimeout bounds one blocking log read.
	BlockTimeout time.Duration
	// ReadCount caps the events read per subject per cycle.
	ReadCount int
	// PollInterval is the sleep between cycles.
	PollInterval time.Duration
	// HeartbeatEvery emits a heartbeat every N cycles that pushed nothing.
	HeartbeatEvery int
	// MaxPolls is the absolute cycle ceiling of one session.
	MaxPolls int
	// QueryWarnAfter consecutive unsupported queries log one warning.
	QueryWarnAfter int
	// QueryLogEvery samples the debug logs of unsupported queries and of
	// transient job lookup failures.
	QueryLogEvery int
	// ReadConcurrency bounds parallel reads of multi-subject sessions.
	ReadConcurrency int
	Redaction       Redactor
}

// DefaultOptions mirror config.Default.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Relay)
}

// OptionsFromConfig maps the relay config section onto Options.
func OptionsFromConfig(c config.RelayConfig) Options {
	return Options{
		BlockTimeout:    config.Millis(c.BlockMs),
		ReadCount:       c.ReadCount,
		PollInterval:    config.Millis(c.PollIntervalMs),
		HeartbeatEvery:  c.HeartbeatEvery,
		MaxPolls:        c.MaxPolls,
		QueryWarnAfter:  c.QueryWarnAfter,
		QueryLogEvery:   c.QueryLogEvery,
		ReadConcurrency: 4,
		Redaction: Redactor{
			MaxFieldBytes:  c.MaxResultFieldBytes,
			MaxResultBytes: c.MaxResultBytes,
		},
	}
}

func (o Options) withDefaults() Options {
	if o.ReadCount <= 0 {
		o.ReadCount = 10
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.HeartbeatEvery <= 0 {
		o.HeartbeatEvery = 30
	}
	if o.MaxPolls <= 0 {
		o.MaxPolls = 3000
	}
	if o.QueryWarnAfter <= 0 {
		o.QueryWarnAfter = 30
	}
	if o.QueryLogEvery <= 0 {
		o.QueryLogEvery = 10
	}
	if o.ReadConcurrency <= 0 {
		o.ReadConcurrency = 4
	}
	return o
}
