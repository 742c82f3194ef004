// Package models - Realtime message envelope and event payloads.
//
// Events are a small closed set dispatched by type switch, not by
// string-keyed handler lookup. Progress-class events are droppable under
// backpressure; terminal events are never dropped while the session is
// connected.
package models

import (
	"encoding/json"
	"time"
)

// Outbound event types pushed to connected clients.
const (
	EventWelcome              = "WELCOME"
	EventNewVersionAvailable  = "NEW_VERSION_AVAILABLE"
	EventDownloadProgress     = "DOWNLOAD_PROGRESS"
	EventInstallationProgress = "INSTALLATION_PROGRESS"
	EventRateLimited          = "RATE_LIMITED"
	EventCompatibilityIssue   = "COMPATIBILITY_ISSUE"
	EventError                = "ERROR"
	EventHeartbeat            = "HEARTBEAT"
)

// Inbound message types accepted from clients.
const (
	MessageRegister    = "REGISTER"
	MessageSubscribe   = "SUBSCRIBE"
	MessageUnsubscribe = "UNSUBSCRIBE"
	MessagePing        = "PING"
)

// Event is the outbound message envelope.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Droppable reports whether the event may be discarded when a session's
// outbound queue overflows. Only progress updates are best-effort.
func (e Event) Droppable() bool {
	switch e.Type {
	case EventDownloadProgress, EventInstallationProgress, EventHeartbeat:
		return true
	default:
		return false
	}
}

// ClientMessage is the inbound message envelope.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SubscribePayload carries the channel for SUBSCRIBE/UNSUBSCRIBE messages.
type SubscribePayload struct {
	Channel string `json:"channel"`
}

// RegisterPayload carries client identity for REGISTER messages.
type RegisterPayload struct {
	ClientVersion string `json:"client_version"`
}

// WelcomePayload is sent once after a successful handshake.
type WelcomePayload struct {
	SessionID         string        `json:"session_id"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	ServerTime        time.Time     `json:"server_time"`
}

// NewVersionPayload announces a freshly published release.
type NewVersionPayload struct {
	Version      string    `json:"version"`
	Channel      string    `json:"channel"`
	Mandatory    bool      `json:"mandatory"`
	FileSize     int64     `json:"file_size"`
	Checksum     string    `json:"checksum"`
	ReleaseNotes string    `json:"release_notes,omitempty"`
	ReleaseDate  time.Time `json:"release_date"`
}

// ProgressPayload reports bytes transferred for a download or install.
type ProgressPayload struct {
	Version          string  `json:"version"`
	BytesTransferred int64   `json:"bytes_transferred"`
	TotalBytes       int64   `json:"total_bytes"`
	Percent          float64 `json:"percent"`
}

// RateLimitedPayload tells a live session its request was rejected.
type RateLimitedPayload struct {
	EndpointClass string `json:"endpoint_class"`
	RetryAfter    int    `json:"retry_after_seconds"`
}

// ErrorPayload carries a terminal error to the client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
