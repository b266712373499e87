package engine

import (
	"sync"

	"go.uber.org/zap"
)

// SubscriptionSender delivers subscription deltas to the outbound request
// layer. Calls are fire and forget: the engine does not wait for an
// acknowledgement, and a later MEETING_PARTICIPANT_SUBSCRIBED event carries
// the server's confirmed list.
type SubscriptionSender interface {
	UpdateSubscriptions(meetingID string, add, remove []StreamRef)
}

type pendingOp int8

const (
	opAdd pendingOp = iota + 1
	opRemove
)

// SubscriptionManager tracks, per engaged meeting, which remote
// (user, stream kind) pairs the client wants the server to forward, and
// issues add/remove deltas.
//
// Deltas accumulate in a pending set and are flushed by the engine at the
// end of each dispatch. An add followed by a remove of the same pair before
// the flush collapses to a no-op, last writer wins. The manager never emits
// an add for the local user's own streams.
type SubscriptionManager struct {
	mu      sync.Mutex
	session *SessionRegistry
	sender  SubscriptionSender
	desired map[string]map[StreamRef]struct{}
	pending map[string]map[StreamRef]pendingOp
	logger  *zap.Logger
}

// NewSubscriptionManager creates a manager. sender may be nil, in which case
// deltas are tracked but not delivered anywhere.
func NewSubscriptionManager(session *SessionRegistry, sender SubscriptionSender, logger *zap.Logger) *SubscriptionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubscriptionManager{
		session: session,
		sender:  sender,
		desired: make(map[string]map[StreamRef]struct{}),
		pending: make(map[string]map[StreamRef]pendingOp),
		logger:  logger.Named("subscriptions"),
	}
}

// Add requests the remote stream. Adds for the local user and duplicate adds
// are ignored.
func (s *SubscriptionManager) Add(meetingID string, ref StreamRef) {
	if s.session.IsLocal(ref.UserID) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	desired := s.desiredSet(meetingID)
	if _, have := desired[ref]; have {
		return
	}
	desired[ref] = struct{}{}

	pending := s.pendingSet(meetingID)
	if pending[ref] == opRemove {
		delete(pending, ref)
		return
	}
	pending[ref] = opAdd
}

// Remove drops the remote stream. Removal of a pair that was never added is
// still issued: it is defensive cleanup against missed stream-off events.
func (s *SubscriptionManager) Remove(meetingID string, ref StreamRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(meetingID, ref)
}

// RemoveAllForUser drops every given kind for the user, regardless of the
// last known stream flags. Used when a participant leaves.
func (s *SubscriptionManager) RemoveAllForUser(meetingID, userID string, kinds []StreamKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kind := range kinds {
		s.removeLocked(meetingID, StreamRef{UserID: userID, Kind: kind})
	}
}

func (s *SubscriptionManager) removeLocked(meetingID string, ref StreamRef) {
	delete(s.desiredSet(meetingID), ref)

	pending := s.pendingSet(meetingID)
	if pending[ref] == opAdd {
		// The add was never flushed; collapse the pair to a no-op.
		delete(pending, ref)
		return
	}
	pending[ref] = opRemove
}

// Flush delivers the accumulated deltas for the meeting to the sender and
// clears the pending set. Flushing with nothing pending is a no-op.
func (s *SubscriptionManager) Flush(meetingID string) {
	s.mu.Lock()
	pending := s.pending[meetingID]
	if len(pending) == 0 {
		s.mu.Unlock()
		return
	}
	var add, remove []StreamRef
	for ref, op := range pending {
		if op == opAdd {
			add = append(add, ref)
		} else {
			remove = append(remove, ref)
		}
	}
	delete(s.pending, meetingID)
	sender := s.sender
	s.mu.Unlock()

	if sender == nil {
		return
	}
	s.logger.Debug("flushing subscription deltas",
		zap.String("meetingID", meetingID),
		zap.Int("add", len(add)),
		zap.Int("remove", len(remove)))
	sender.UpdateSubscriptions(meetingID, add, remove)
}

// Drop discards all subscription state for the meeting without issuing
// removals. Used on local disconnect, where the server-side state dies with
// the connection.
func (s *SubscriptionManager) Drop(meetingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.desired, meetingID)
	delete(s.pending, meetingID)
}

// Active returns a copy of the desired set for the meeting.
func (s *SubscriptionManager) Active(meetingID string) []StreamRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StreamRef, 0, len(s.desired[meetingID]))
	for ref := range s.desired[meetingID] {
		out = append(out, ref)
	}
	return out
}

func (s *SubscriptionManager) desiredSet(meetingID string) map[StreamRef]struct{} {
	set, ok := s.desired[meetingID]
	if !ok {
		set = make(map[StreamRef]struct{})
		s.desired[meetingID] = set
	}
	return set
}

func (s *SubscriptionManager) pendingSet(meetingID string) map[StreamRef]pendingOp {
	set, ok := s.pending[meetingID]
	if !ok {
		set = make(map[StreamRef]pendingOp)
		s.pending[meetingID] = set
	}
	return set
}
