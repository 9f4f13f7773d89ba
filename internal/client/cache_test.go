package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSlotLifecycle(t *testing.T) {
	var s Slot
	snap, state := s.Lookup(t0)
	assert.Nil(t, snap)
	assert.Equal(t, SlotEmpty, state)

	s = Fill(Snapshot{ConversationID: "1", Messages: []Message{{ID: "1"}}, ETag: `"abc"`}, t0, DefaultFreshness)
	snap, state = s.Lookup(t0.Add(4 * time.Minute))
	require.NotNil(t, snap)
	assert.Equal(t, SlotFresh, state)
	assert.Equal(t, t0, snap.FetchedAt)

	_, state = s.Lookup(t0.Add(DefaultFreshness))
	assert.Equal(t, SlotStale, state)

	later := t0.Add(10 * time.Minute)
	s = s.Revalidate(later, DefaultFreshness)
	snap, state = s.Lookup(later.Add(time.Minute))
	assert.Equal(t, SlotFresh, state)
	assert.Equal(t, `"abc"`, snap.ETag)
	assert.Equal(t, later, snap.FetchedAt)

	s = s.Invalidate()
	snap, state = s.Lookup(later)
	assert.Equal(t, SlotStale, state)
	assert.Equal(t, "1", snap.ConversationID)

	s = s.Clear()
	_, state = s.Lookup(later)
	assert.Equal(t, SlotEmpty, state)
}

func TestSlotTouchDropsFingerprint(t *testing.T) {
	before := Fill(Snapshot{ConversationID: "1", ETag: `"abc"`}, t0, DefaultFreshness)
	msgs := []Message{{ID: "1"}, {ID: "2"}}

	after := before.Touch("1", msgs)

	snap, state := after.Lookup(t0.Add(time.Minute))
	assert.Equal(t, SlotFresh, state)
	assert.Empty(t, snap.ETag)
	assert.Len(t, snap.Messages, 2)

	// The original value is unchanged.
	old, _ := before.Lookup(t0)
	assert.Equal(t, `"abc"`, old.ETag)
	assert.Empty(t, old.Messages)
}

func TestSlotEmptyAccountMarker(t *testing.T) {
	s := Fill(Snapshot{ETag: `"e"`}, t0, DefaultFreshness)
	snap, state := s.Lookup(t0)
	assert.Equal(t, SlotFresh, state)
	assert.True(t, snap.EmptyAccount())
	assert.NotNil(t, snap.Messages)
}
