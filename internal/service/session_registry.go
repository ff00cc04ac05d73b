package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review/internal/observability"
)

type registrySession interface {
	Owner() string
	LastSeen() time.Time
	Close()
}

// sessionRegistry holds per-reviewer sessions and closes idle ones.
type sessionRegistry[S registrySession] struct {
	kind    string
	idleTTL time.Duration
	now     func() time.Time
	logger  zerolog.Logger

	mu    sync.Mutex
	items map[string]S
}

func newSessionRegistry[S registrySession](kind string, idleTTL time.Duration, logger zerolog.Logger) *sessionRegistry[S] {
	return &sessionRegistry[S]{
		kind:    kind,
		idleTTL: idleTTL,
		now:     time.Now,
		logger:  logger,
		items:   make(map[string]S),
	}
}

func (r *sessionRegistry[S]) put(id string, session S) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[id] = session
	observability.SessionsActive().WithLabelValues(r.kind).Inc()
}

// get returns the session when it exists and belongs to ownerID.
func (r *sessionRegistry[S]) get(ownerID, id string) (S, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.items[id]
	if !ok || session.Owner() != ownerID {
		var zero S
		return zero, ErrSessionNotFound
	}
	return session, nil
}

func (r *sessionRegistry[S]) remove(ownerID, id string) error {
	r.mu.Lock()
	session, ok := r.items[id]
	if !ok || session.Owner() != ownerID {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(r.items, id)
	r.mu.Unlock()

	observability.SessionsActive().WithLabelValues(r.kind).Dec()
	session.Close()
	return nil
}

// sweep closes sessions idle for longer than the TTL and returns how many.
func (r *sessionRegistry[S]) sweep() int {
	if r.idleTTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var expired []S
	for id, session := range r.items {
		if session.LastSeen().Before(cutoff) {
			expired = append(expired, session)
			delete(r.items, id)
		}
	}
	r.mu.Unlock()

	for _, session := range expired {
		observability.SessionsActive().WithLabelValues(r.kind).Dec()
		session.Close()
	}
	if len(expired) > 0 {
		r.logger.Info().Int("closed", len(expired)).Str("kind", r.kind).Msg("closed idle sessions")
	}
	return len(expired)
}

func (r *sessionRegistry[S]) closeAll() {
	r.mu.Lock()
	items := r.items
	r.items = make(map[string]S)
	r.mu.Unlock()

	for _, session := range items {
		observability.SessionsActive().WithLabelValues(r.kind).Dec()
		session.Close()
	}
}

// janitor sweeps periodically until ctx ends.
func (r *sessionRegistry[S]) janitor(ctx context.Context) {
	if r.idleTTL <= 0 {
		return
	}
	interval := r.idleTTL / 4
	if interval < time.Second {
		interval = time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}
