package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDirectoryCreateIsIdempotent(t *testing.T) {
	d := NewMeetingDirectory(zap.NewNop())

	assert.True(t, d.Create("m1", "r1"))
	assert.False(t, d.Create("m1", "r1"))

	m, ok := d.Get("m1")
	require.True(t, ok)
	assert.Equal(t, StateCreated, m.State)
	assert.Empty(t, m.Participants)
}

func TestDirectoryDeleteIsTerminal(t *testing.T) {
	d := NewMeetingDirectory(zap.NewNop())
	d.Create("m1", "r1")

	assert.True(t, d.Delete("m1"))
	assert.False(t, d.Delete("m1"))
	_, ok := d.Get("m1")
	assert.False(t, ok)

	// No event resurrects a deleted meeting.
	assert.False(t, d.Create("m1", "r1"))
	_, ok = d.Get("m1")
	assert.False(t, ok)
}

func TestDirectoryStateMachine(t *testing.T) {
	d := NewMeetingDirectory(zap.NewNop())
	d.Create("m1", "r1")

	now := time.Now()
	assert.True(t, d.MarkStarted("m1", "u1", now))
	// Duplicate start is rejected so the caller does not ring twice.
	assert.False(t, d.MarkStarted("m1", "u1", now))

	m, _ := d.Get("m1")
	assert.Equal(t, StateStarted, m.State)
	assert.Equal(t, "u1", m.StartedBy)

	assert.True(t, d.MarkStopped("m1"))
	assert.False(t, d.MarkStopped("m1"))
	m, _ = d.Get("m1")
	assert.Equal(t, StateStopped, m.State)
	assert.True(t, m.StartedAt.IsZero())

	// A stopped meeting can start again.
	assert.True(t, d.MarkStarted("m1", "u2", now))

	// Unknown meetings short-circuit.
	assert.False(t, d.MarkStarted("nope", "u1", now))
	assert.False(t, d.MarkStopped("nope"))
}

func TestDirectoryParticipantUpsert(t *testing.T) {
	d := NewMeetingDirectory(zap.NewNop())
	d.Create("m1", "r1")

	joined := time.Now()
	assert.True(t, d.UpsertParticipant("m1", Participant{UserID: "u1", JoinedAt: joined}))
	// The upsert keeps the existing entry on duplicates.
	d.SetAudioOn("m1", "u1", true)
	assert.False(t, d.UpsertParticipant("m1", Participant{UserID: "u1"}))

	m, _ := d.Get("m1")
	assert.True(t, m.Participants["u1"].AudioOn)

	assert.True(t, d.RemoveParticipant("m1", "u1"))
	assert.False(t, d.RemoveParticipant("m1", "u1"))
}

func TestDirectoryWaitingListExclusivity(t *testing.T) {
	d := NewMeetingDirectory(zap.NewNop())
	d.Create("m1", "r1")

	assert.True(t, d.AddWaiting("m1", "u9"))
	assert.False(t, d.AddWaiting("m1", "u9"))

	// Admission moves the user out of the waiting list atomically.
	assert.True(t, d.UpsertParticipant("m1", Participant{UserID: "u9"}))
	m, _ := d.Get("m1")
	assert.True(t, m.IsParticipant("u9"))
	assert.False(t, m.IsWaiting("u9"))

	// And a participant never lands back on the waiting list.
	assert.False(t, d.AddWaiting("m1", "u9"))
	m, _ = d.Get("m1")
	assert.Empty(t, m.WaitingList)
}

func TestDirectorySnapshotsAreIsolated(t *testing.T) {
	d := NewMeetingDirectory(zap.NewNop())
	d.Create("m1", "r1")
	d.UpsertParticipant("m1", Participant{UserID: "u1"})

	m, _ := d.Get("m1")
	m.Participants["intruder"] = Participant{UserID: "intruder"}
	m.WaitingList["intruder"] = struct{}{}
	m.State = StateStarted

	fresh, _ := d.Get("m1")
	assert.False(t, fresh.IsParticipant("intruder"))
	assert.False(t, fresh.IsWaiting("intruder"))
	assert.Equal(t, StateCreated, fresh.State)
}

func TestDirectoryApplySnapshotRespectsTombstones(t *testing.T) {
	d := NewMeetingDirectory(zap.NewNop())
	d.Create("m1", "r1")
	d.Delete("m1")

	d.ApplySnapshot(&MeetingSnapshot{ID: "m1", RoomID: "r1", State: StateStarted})

	_, ok := d.Get("m1")
	assert.False(t, ok)
}
