package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The reconnecting transport delivers at least once: every event must be
// safe to apply twice in a row. This sweep dispatches a representative
// payload for each event type twice and checks that sets stayed sets and the
// roster/waiting-list invariant held throughout.
func TestDoubleDeliverySweep(t *testing.T) {
	h := newTestHarness(t, "me")
	h.rooms.oneToOne["r1"] = true
	now := time.Now()

	sequence := []Event{
		{Type: EventMeetingCreated, MeetingID: "m1", RoomID: "r1", SentAt: now},
		{Type: EventMeetingStarted, MeetingID: "m1", UserID: "other", SentAt: now},
		{Type: EventMeetingJoined, MeetingID: "m1", UserID: "me", SentAt: now},
		{Type: EventMeetingJoined, MeetingID: "m1", UserID: "u2", SentAt: now},
		{Type: EventAudioStreamChanged, MeetingID: "m1", UserID: "u2", Active: true},
		{Type: EventMediaStreamChanged, MeetingID: "m1", UserID: "u2", MediaType: StreamVideo, Active: true},
		{Type: EventParticipantTalking, MeetingID: "m1", UserID: "u2", Active: true},
		{Type: EventWaitingParticipantJoined, MeetingID: "m1", UserID: "u9"},
		{Type: EventRecordingStarted, MeetingID: "m1", UserID: "other", SentAt: now},
		{Type: EventUserAccepted, MeetingID: "m1", UserID: "u9"},
		{Type: EventMeetingJoined, MeetingID: "m1", UserID: "u9", SentAt: now},
		{Type: EventRecordingStopped, MeetingID: "m1"},
		{Type: EventMeetingLeft, MeetingID: "m1", UserID: "u9"},
		{Type: EventMeetingStopped, MeetingID: "m1"},
		{Type: EventMeetingDeleted, MeetingID: "m1"},
	}

	for _, ev := range sequence {
		h.engine.Dispatch(ev)
		h.engine.Dispatch(ev)

		if m, ok := h.engine.Directory().Get(ev.MeetingID); ok {
			for userID := range m.Participants {
				require.Falsef(t, m.IsWaiting(userID),
					"after %s: %s is both participant and waiting", ev.Type, userID)
			}
		}
	}

	_, ok := h.engine.Directory().Get("m1")
	assert.False(t, ok)
	assert.Zero(t, h.engine.UnknownEventCount())
}

// The same sweep while engaged: duplicate delivery must not double-create
// engagement state or stack duplicate subscriptions.
func TestDoubleDeliveryWhileEngaged(t *testing.T) {
	h := newTestHarness(t, "me")
	h.startMeeting("m1", "r1", "me", "u2")
	h.connect(t, "m1")

	on := Event{Type: EventMediaStreamChanged, MeetingID: "m1", UserID: "u2", MediaType: StreamScreen, Active: true}
	h.engine.Dispatch(on)
	h.engine.Dispatch(on)

	assert.Len(t, h.engine.Subscriptions().Active("m1"), 1)

	talking := Event{Type: EventParticipantTalking, MeetingID: "m1", UserID: "u2", Active: true}
	h.engine.Dispatch(talking)
	h.engine.Dispatch(talking)

	eng, _ := h.engine.Engagements().Get("m1")
	assert.Len(t, eng.TalkingUsers(), 1)

	left := Event{Type: EventMeetingLeft, MeetingID: "m1", UserID: "u2"}
	h.engine.Dispatch(left)
	h.engine.Dispatch(left)

	eng, _ = h.engine.Engagements().Get("m1")
	assert.Empty(t, eng.TalkingUsers())
	assert.Empty(t, h.engine.Subscriptions().Active("m1"))
	m, _ := h.engine.Directory().Get("m1")
	assert.False(t, m.IsParticipant("u2"))
	// Exactly one leave cue despite the duplicate.
	assert.Equal(t, 1, h.effects.cues(CueLeave))
}
