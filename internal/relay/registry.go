package relay

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Registry is the process-wide table of active sessions. Singleton keys admit
// one session at a time; other keys admit any number of viewers.
type Registry struct {
	mu    sync.Mutex
	byKey map[string]map[*Session]struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]map[*Session]struct{})}
}

// Register admits s under its key. It returns false when s is a singleton
// and another session already holds the key.
func (r *Registry) Register(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.byKey[s.cfg.Key]
	if _, ok := set[s]; ok {
		return true
	}
	if len(set) > 0 && s.cfg.Singleton {
		return false
	}
	if set == nil {
		set = make(map[*Session]struct{})
		r.byKey[s.cfg.Key] = set
	}
	set[s] = struct{}{}
	return true
}

// Unregister removes s. Removing an absent session is a no-op.
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.byKey[s.cfg.Key]
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(r.byKey, s.cfg.Key)
	}
}

// Active reports whether key has at least one session.
func (r *Registry) Active(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey[key]) > 0
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, set := range r.byKey {
		n += len(set)
	}
	return n
}

func (r *Registry) sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, set := range r.byKey {
		for s := range set {
			out = append(out, s)
		}
	}
	return out
}

// Cancel asks every session whose key or session id equals id to drain.
// It returns how many sessions were signalled.
func (r *Registry) Cancel(id, reason string) int {
	n := 0
	for _, s := range r.sessions() {
		if s.cfg.Key == id || s.ID() == id {
			s.Cancel(reason)
			n++
		}
	}
	return n
}

// CancelAll signals every session and waits until they are closed or ctx
// ends.
func (r *Registry) CancelAll(ctx context.Context, reason string) error {
	all := r.sessions()
	for _, s := range all {
		s.Cancel(reason)
	}
	for _, s := range all {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Info describes one active session.
type Info struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Kind      Kind      `json:"kind"`
	Subjects  []string  `json:"subjects"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
	Polls     int64     `json:"polls"`
	Frames    int64     `json:"frames"`
}

// Snapshot lists active sessions ordered by start time.
func (r *Registry) Snapshot() []Info {
	all := r.sessions()
	out := make([]Info, 0, len(all))
	for _, s := range all {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
