package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSubscriptions(localUser string) (*SubscriptionManager, *mockSender) {
	sender := &mockSender{}
	return NewSubscriptionManager(NewSessionRegistry(localUser), sender, zap.NewNop()), sender
}

func TestSubscriptionsNeverAddLocalUser(t *testing.T) {
	s, sender := newTestSubscriptions("me")

	s.Add("m1", StreamRef{UserID: "me", Kind: StreamVideo})
	s.Flush("m1")

	assert.Empty(t, s.Active("m1"))
	assert.Empty(t, sender.all())
}

func TestSubscriptionsAddThenFlush(t *testing.T) {
	s, sender := newTestSubscriptions("me")

	ref := StreamRef{UserID: "u2", Kind: StreamVideo}
	s.Add("m1", ref)
	s.Add("m1", ref) // duplicate adds collapse
	s.Flush("m1")

	updates := sender.all()
	require.Len(t, updates, 1)
	assert.Equal(t, []StreamRef{ref}, updates[0].add)
	assert.Empty(t, updates[0].remove)
	assert.Equal(t, []StreamRef{ref}, s.Active("m1"))

	// Nothing pending: flushing again sends nothing.
	s.Flush("m1")
	assert.Len(t, sender.all(), 1)
}

func TestSubscriptionsAddRemoveCollapsesToNoop(t *testing.T) {
	s, sender := newTestSubscriptions("me")

	ref := StreamRef{UserID: "u2", Kind: StreamScreen}
	s.Add("m1", ref)
	s.Remove("m1", ref)
	s.Flush("m1")

	assert.Empty(t, sender.all())
	assert.Empty(t, s.Active("m1"))
}

func TestSubscriptionsRemoveIsDefensive(t *testing.T) {
	s, sender := newTestSubscriptions("me")

	// Removing a pair that was never added still issues the removal; a
	// missed stream-off event must not leave the server forwarding.
	s.Remove("m1", StreamRef{UserID: "u2", Kind: StreamVideo})
	s.Flush("m1")

	updates := sender.all()
	require.Len(t, updates, 1)
	assert.Empty(t, updates[0].add)
	assert.Equal(t, []StreamRef{{UserID: "u2", Kind: StreamVideo}}, updates[0].remove)
}

func TestSubscriptionsRemoveAllForUser(t *testing.T) {
	s, sender := newTestSubscriptions("me")

	s.Add("m1", StreamRef{UserID: "u2", Kind: StreamVideo})
	s.Flush("m1")
	sender.mu.Lock()
	sender.updates = nil
	sender.mu.Unlock()

	s.RemoveAllForUser("m1", "u2", []StreamKind{StreamVideo, StreamScreen})
	s.Flush("m1")

	updates := sender.all()
	require.Len(t, updates, 1)
	assert.ElementsMatch(t, []StreamRef{
		{UserID: "u2", Kind: StreamVideo},
		{UserID: "u2", Kind: StreamScreen},
	}, updates[0].remove)
	assert.Empty(t, s.Active("m1"))
}

func TestSubscriptionsDropIsSilent(t *testing.T) {
	s, sender := newTestSubscriptions("me")

	s.Add("m1", StreamRef{UserID: "u2", Kind: StreamVideo})
	s.Drop("m1")
	s.Flush("m1")

	assert.Empty(t, sender.all())
	assert.Empty(t, s.Active("m1"))
}
