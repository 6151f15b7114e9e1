// Package presence maintains the session registry of chat participants and
// classifies them by dwell time.
package presence

import (
	"sync"
	"time"

	"github.com/nexusofdoom/Streamer-Insight-App/telemetry"
)

// LongLivedAfter is the dwell time at which a participant moves from the
// "recent" bucket to the "long-lived" bucket.
const LongLivedAfter = 300 * time.Second

// Session is one participant's record. JoinedAt never changes after
// creation; records are never removed once created.
type Session struct {
	Identity string
	JoinedAt time.Time
	Live     bool
}

// Presence is one entry of a fresh snapshot handed to Refresh: an identity
// currently in chat and whether it is simultaneously live elsewhere.
type Presence struct {
	Identity string
	Live     bool
}

// Entry is one classified participant, ready for rendering.
type Entry struct {
	Identity string
	JoinedAt time.Time
	Live     bool
}

// Snapshot is the classification of everyone in the latest fresh list, in
// the list's order. Registry entries absent from the fresh list are simply
// not reported.
type Snapshot struct {
	LongLived []Entry
	Recent    []Entry
}

// NotifyFunc is invoked exactly once per identity, the first time it is
// observed in this process. It runs off the tracker's goroutine and must not
// be relied on for ordering.
type NotifyFunc func(identity string)

// Tracker is the in-memory session registry. Refresh is driven by an
// external timer; reads are safe concurrently with it.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*Session
	notify   NotifyFunc
}

// NewTracker returns a Tracker. notify may be nil.
func NewTracker(notify NotifyFunc) *Tracker {
	return &Tracker{
		sessions: make(map[string]*Session),
		notify:   notify,
	}
}

// Refresh updates the registry from a fresh presence list and returns the
// classification as of now. New identities get a session with JoinedAt=now
// and fire the first-sighting notification; existing ones only have their
// live flag updated.
func (t *Tracker) Refresh(now time.Time, present []Presence) Snapshot {
	var firstSeen []string

	t.mu.Lock()
	var snap Snapshot
	for _, p := range present {
		s, ok := t.sessions[p.Identity]
		if !ok {
			s = &Session{Identity: p.Identity, JoinedAt: now, Live: p.Live}
			t.sessions[p.Identity] = s
			firstSeen = append(firstSeen, p.Identity)
		} else {
			s.Live = p.Live
		}
		entry := Entry{Identity: s.Identity, JoinedAt: s.JoinedAt, Live: s.Live}
		if now.Sub(s.JoinedAt) >= LongLivedAfter {
			snap.LongLived = append(snap.LongLived, entry)
		} else {
			snap.Recent = append(snap.Recent, entry)
		}
	}
	size := len(t.sessions)
	t.mu.Unlock()

	telemetry.SetParticipants(size)
	for range firstSeen {
		telemetry.IncFirstSighting()
	}
	if t.notify != nil && len(firstSeen) > 0 {
		// Off the tracker's goroutine so a slow callback cannot block a
		// refresh tick.
		go func(ids []string) {
			for _, id := range ids {
				t.notify(id)
			}
		}(firstSeen)
	}
	return snap
}

// Size reports how many identities the registry has ever observed.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Session returns a copy of the record for identity, if it exists.
func (t *Tracker) Session(identity string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[identity]
	if !ok {
		return Session{}, false
	}
	return *s, true
}
