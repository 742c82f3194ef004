// Package realtime tracks connected clients and pushes update events to them
// over WebSocket. The registry owns session lifecycle; the hub owns fan-out.
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
	"updatehub/internal/models"

	"github.com/google/uuid"
)

// ErrUnknownSession means the session ID is not registered, usually because
// it was already swept or disconnected.
var ErrUnknownSession = errors.New("realtime: unknown session")

// Session is one connected client. Heartbeat freshness uses the runtime's
// monotonic clock, so wall clock adjustments cannot spuriously expire
// sessions.
type Session struct {
	ID            string
	ClientKey     string
	ClientVersion string
	RemoteAddr    string
	ConnectedAt   time.Time

	mu            sync.Mutex
	lastHeartbeat time.Time
	channels      map[string]bool
	queue         *eventQueue
}

// Subscribe adds a channel to the session's subscriptions.
func (s *Session) Subscribe(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channel] = true
}

// Unsubscribe removes a channel subscription.
func (s *Session) Unsubscribe(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, channel)
}

// subscribed reports whether the session wants events for the channel. A
// session with no explicit subscriptions receives everything.
func (s *Session) subscribed(channel string) bool {
	if channel == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.channels) == 0 {
		return true
	}
	return s.channels[channel]
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = now
}

func (s *Session) heartbeatAge(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastHeartbeat)
}

// Registry tracks live sessions and sweeps the ones that stop heartbeating.
type Registry struct {
	config models.RealtimeConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	// Drops from sessions that have already gone away; live session drops
	// are summed on demand.
	droppedGone int64
}

// NewRegistry creates an empty session registry.
func NewRegistry(config models.RealtimeConfig, logger *slog.Logger) *Registry {
	return &Registry{
		config:   config,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Register creates a session for a newly connected client and returns it.
func (r *Registry) Register(clientKey, clientVersion, remoteAddr string) *Session {
	now := r.now()
	session := &Session{
		ID:            uuid.New().String(),
		ClientKey:     clientKey,
		ClientVersion: clientVersion,
		RemoteAddr:    remoteAddr,
		ConnectedAt:   now,
		lastHeartbeat: now,
		channels:      make(map[string]bool),
		queue:         newEventQueue(r.config.QueueSize),
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	count := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("Client session registered",
		"session_id", session.ID,
		"client_key", clientKey,
		"connected", count,
	)
	return session
}

// Heartbeat refreshes a session's liveness timestamp.
func (r *Registry) Heartbeat(sessionID string) error {
	r.mu.RLock()
	session, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownSession
	}
	session.touch(r.now())
	return nil
}

// Disconnect removes a session and closes its outbound queue. Disconnecting
// an unknown session is a no-op.
func (r *Registry) Disconnect(sessionID string) {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
		r.droppedGone += int64(session.queue.droppedCount())
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if ok {
		session.queue.close()
		r.logger.Info("Client session disconnected",
			"session_id", sessionID,
			"connected", count,
		)
	}
}

// Get returns the session with the given ID.
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	return session, nil
}

// FindByClientKey returns the sessions belonging to a client key. One client
// may hold several connections.
func (r *Registry) FindByClientKey(clientKey string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found []*Session
	for _, session := range r.sessions {
		if session.ClientKey == clientKey {
			found = append(found, session)
		}
	}
	return found
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// DroppedEvents returns the cumulative number of events shed under
// backpressure, across live and departed sessions.
func (r *Registry) DroppedEvents() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := r.droppedGone
	for _, session := range r.sessions {
		total += int64(session.queue.droppedCount())
	}
	return total
}

// SweepStale removes sessions whose last heartbeat is older than timeout and
// returns them.
func (r *Registry) SweepStale(timeout time.Duration) []*Session {
	now := r.now()

	r.mu.Lock()
	var stale []*Session
	for id, session := range r.sessions {
		if session.heartbeatAge(now) > timeout {
			stale = append(stale, session)
			delete(r.sessions, id)
			r.droppedGone += int64(session.queue.droppedCount())
		}
	}
	r.mu.Unlock()

	for _, session := range stale {
		session.queue.close()
		r.logger.Info("Swept stale session",
			"session_id", session.ID,
			"client_key", session.ClientKey,
		)
	}
	return stale
}

// Run sweeps stale sessions on its own ticker until the context is
// cancelled.
func (r *Registry) Run(ctx context.Context) {
	interval := r.config.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepStale(r.config.SessionTimeout)
		}
	}
}
