package client

import "time"

// DefaultFreshness is how long a fetched history is served without asking
// the server again. It matches the server's Cache-Control max-age.
const DefaultFreshness = 5 * time.Minute

type SlotState int

const (
	SlotEmpty SlotState = iota
	SlotFresh
	SlotStale
)

func (s SlotState) String() string {
	switch s {
	case SlotEmpty:
		return "empty"
	case SlotFresh:
		return "fresh"
	case SlotStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Snapshot is one history result as the server last described it.
type Snapshot struct {
	ConversationID string
	Messages       []Message
	// ETag is the server fingerprint. Empty means there is nothing to
	// revalidate against and the next fetch is unconditional.
	ETag      string
	FetchedAt time.Time
}

// EmptyAccount reports whether the snapshot is the explicit marker for a
// user with no conversation.
func (s *Snapshot) EmptyAccount() bool {
	return s != nil && s.ConversationID == "" && len(s.Messages) == 0
}

// Slot is the per-session history cache. It is a value: every transition
// returns a new Slot and never mutates the receiver's snapshot.
type Slot struct {
	snap    *Snapshot
	expires time.Time
	stale   bool
}

// Fill replaces whatever the slot held with a full server response.
func Fill(snap Snapshot, now time.Time, ttl time.Duration) Slot {
	if snap.Messages == nil {
		snap.Messages = []Message{}
	}
	snap.FetchedAt = now
	return Slot{snap: &snap, expires: now.Add(ttl)}
}

// Revalidate records a 304: the contents stay, the clock restarts.
func (s Slot) Revalidate(now time.Time, ttl time.Duration) Slot {
	if s.snap == nil {
		return s
	}
	snap := *s.snap
	snap.FetchedAt = now
	return Slot{snap: &snap, expires: now.Add(ttl)}
}

// Touch stores messages changed locally after a send. The server state has
// moved on, so the old fingerprint is dropped and cannot produce a 304.
func (s Slot) Touch(conversationID string, messages []Message) Slot {
	if s.snap == nil {
		return Slot{snap: &Snapshot{ConversationID: conversationID, Messages: messages}, stale: true}
	}
	snap := *s.snap
	snap.ConversationID = conversationID
	snap.Messages = messages
	snap.ETag = ""
	return Slot{snap: &snap, expires: s.expires, stale: s.stale}
}

// Invalidate keeps the contents but forces the next Load to the server.
func (s Slot) Invalidate() Slot {
	if s.snap == nil {
		return s
	}
	return Slot{snap: s.snap, stale: true}
}

// Clear discards the slot entirely.
func (s Slot) Clear() Slot {
	return Slot{}
}

// Lookup returns the snapshot, if any, and its state at now.
func (s Slot) Lookup(now time.Time) (*Snapshot, SlotState) {
	switch {
	case s.snap == nil:
		return nil, SlotEmpty
	case s.stale || !now.Before(s.expires):
		return s.snap, SlotStale
	default:
		return s.snap, SlotFresh
	}
}
