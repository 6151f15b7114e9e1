// Package dispatch defines the normalized chat event model and the ordered
// queue that funnels events from the platform loops into a single consumer
// (the presentation layer). Producers run on arbitrary goroutines; the
// consumer drains on its own schedule and sees events in submission order.
package dispatch

import (
	"time"
)

// Platform identifies the origin of a chat event.
type Platform int

const (
	PlatformTwitch Platform = iota
	PlatformYouTube
	PlatformSystem
)

func (p Platform) String() string {
	switch p {
	case PlatformTwitch:
		return "twitch"
	case PlatformYouTube:
		return "youtube"
	case PlatformSystem:
		return "system"
	default:
		return "unknown"
	}
}

// ConnectionState is the authoritative connection state of one platform.
// Only that platform's own loop mutates it.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EmoteSpan is one literal substring of a message body that renders as an
// emote image identified by ResourceID.
type EmoteSpan struct {
	Text       string
	ResourceID string
}

// ChatEvent is one normalized incoming chat line. Immutable once constructed;
// consumed exactly once by the dispatcher's single reader.
type ChatEvent struct {
	ID         string
	Platform   Platform
	Timestamp  time.Time
	Author     string
	Body       string
	EmoteSpans []EmoteSpan
	Self       bool
	// ColorIndex is a deterministic palette slot for the author, used for
	// consistent rendering of secondary-platform messages.
	ColorIndex int
}

// StatusChange reports a platform state transition to the presentation layer.
type StatusChange struct {
	Platform  Platform
	State     ConnectionState
	Detail    string
	Timestamp time.Time
}

// SystemNotice builds a system-authored ChatEvent shown inline in the chat
// pane (connect/disconnect/stream-detected messages).
func SystemNotice(p Platform, body string) ChatEvent {
	return ChatEvent{
		Platform:  p,
		Timestamp: time.Now(),
		Author:    "SYSTEM",
		Body:      body,
	}
}
