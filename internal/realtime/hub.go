package realtime

import (
	"log/slog"
	"updatehub/internal/models"
)

// Hub fans events out to connected sessions through their outbound queues.
type Hub struct {
	registry *Registry
	logger   *slog.Logger
}

// NewHub creates a notification hub over the given registry.
func NewHub(registry *Registry, logger *slog.Logger) *Hub {
	return &Hub{registry: registry, logger: logger}
}

// Broadcast queues an event for every session subscribed to the channel. An
// empty channelFilter reaches all sessions. Returns the number of sessions
// the event was queued for; sessions whose queue sheds the event still
// count, the drop happens inside their own buffer.
func (h *Hub) Broadcast(event models.Event, channelFilter string) int {
	h.registry.mu.RLock()
	sessions := make([]*Session, 0, len(h.registry.sessions))
	for _, session := range h.registry.sessions {
		sessions = append(sessions, session)
	}
	h.registry.mu.RUnlock()

	delivered := 0
	for _, session := range sessions {
		if !session.subscribed(channelFilter) {
			continue
		}
		if session.queue.push(event) {
			delivered++
		}
	}

	h.logger.Debug("Broadcast event",
		"type", event.Type,
		"channel", channelFilter,
		"delivered", delivered,
	)
	return delivered
}

// SendTo queues an event for a single session.
func (h *Hub) SendTo(sessionID string, event models.Event) error {
	session, err := h.registry.Get(sessionID)
	if err != nil {
		return err
	}
	session.queue.push(event)
	return nil
}

// NotifySessions queues an event on every session of a client key. Used for
// rate limit notices where only the client key is known.
func (h *Hub) NotifySessions(clientKey string, event models.Event) int {
	sessions := h.registry.FindByClientKey(clientKey)
	for _, session := range sessions {
		session.queue.push(event)
	}
	return len(sessions)
}

// NotifyNewVersion broadcasts a release announcement to sessions subscribed
// to its channel.
func (h *Hub) NotifyNewVersion(release *models.Release) int {
	return h.Broadcast(models.Event{
		Type: models.EventNewVersionAvailable,
		Data: models.NewVersionPayload{
			Version:      release.Version,
			Channel:      release.Channel,
			Mandatory:    release.Mandatory,
			FileSize:     release.FileSize,
			Checksum:     release.Checksum,
			ReleaseNotes: release.ReleaseNotes,
			ReleaseDate:  release.ReleaseDate,
		},
	}, release.Channel)
}
