package runtime

import (
	"context"
	"time"

	"github.com/juju/errors"

	"github.com/drewthekiiid/pipai-sub002/internal/jobs"
)

// Component health states.
const (
	StatusOK       = "ok"
	StatusDown     = "down"
	StatusDisabled = "disabled"
)

// ComponentHealth is the state of one dependency.
type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Health is a point-in-time report over every dependency.
type Health struct {
	Status         string                     `json:"status"`
	Components     map[string]ComponentHealth `json:"components"`
	ActiveSessions int                        `json:"active_sessions"`
	Uptime         time.Duration              `json:"uptime_ns"`
}

// Healthy reports whether every required component is up. Disabled
// optional components do not count.
func (h Health) Healthy() bool { return h.Status == StatusOK }

const probeTimeout = 2 * time.Second

// Health probes the event log, the engine and the object store.
func (r *Runtime) Health(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	h := Health{
		Status:         StatusOK,
		Components:     make(map[string]ComponentHealth, 3),
		ActiveSessions: r.registry.Len(),
		Uptime:         r.clock.Now().Sub(r.startedAt),
	}
	set := func(name string, err error) {
		switch {
		case err == nil:
			h.Components[name] = ComponentHealth{Status: StatusOK}
		case errors.Is(err, jobs.ErrEngineDisabled):
			h.Components[name] = ComponentHealth{Status: StatusDisabled}
		default:
			h.Components[name] = ComponentHealth{Status: StatusDown, Error: err.Error()}
			h.Status = StatusDown
		}
	}
	set("event_log", r.log.Ping(ctx))
	set("engine", r.engine.CheckHealth(ctx))
	if r.store == nil {
		h.Components["object_store"] = ComponentHealth{Status: StatusDisabled}
	} else {
		set("object_store", r.store.Ping(ctx))
	}
	return h
}

// CheckHealth returns the first failing component, or nil.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	h := r.Health(ctx)
	if h.Healthy() {
		return nil
	}
	for _, name := range []string{"event_log", "engine", "object_store"} {
		if c := h.Components[name]; c.Status == StatusDown {
			return errors.Errorf("%s: %s", name, c.Error)
		}
	}
	return nil
}
