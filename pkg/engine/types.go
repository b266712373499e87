// Package engine implements the meeting real-time synchronization engine for
// a collaboration client. It consumes a server-pushed stream of tagged events
// (delivered over a reconnecting transport, at-least-once, unordered across
// reconnects) and maintains a consistent local view of:
//
//   - which meetings exist and whether they are running
//   - who is participating in each meeting and what they are streaming
//   - the local client's own signaling state per meeting
//   - waiting-room admission state for moderated meetings
//
// The engine is a single logical writer: server events, WebRTC negotiation
// callbacks, and local user actions all funnel through one serialized
// mutation point. Correctness therefore rests on idempotence and guard
// conditions rather than fine-grained locking — every handler is safe to
// invoke twice for the same logical event and safe to invoke when its
// preconditions do not hold.
//
// Key design points:
//   - A meeting's existence and lifecycle state are independent of whether
//     this client is connected to it. The active-engagement record, owned by
//     the ActiveMeetingController, is the sole authority for "active for me".
//   - Handlers for media and signaling events always record roster changes
//     into the meeting directory, but skip all signaling and side-effect work
//     unless the client is actively engaged with the meeting.
//   - Events referencing unknown meetings or participants short-circuit to a
//     no-op; delivery reordering makes such references expected, not errors.
package engine

import "time"

// EventType identifies a server-pushed event kind.
type EventType string

// Server event types understood by the dispatcher.
const (
	EventMeetingCreated EventType = "MEETING_CREATED"
	EventMeetingStarted EventType = "MEETING_STARTED"
	EventMeetingStopped EventType = "MEETING_STOPPED"
	EventMeetingDeleted EventType = "MEETING_DELETED"
	EventMeetingJoined  EventType = "MEETING_JOINED"
	EventMeetingLeft    EventType = "MEETING_LEFT"

	EventAudioStreamChanged    EventType = "MEETING_AUDIO_STREAM_CHANGED"
	EventMediaStreamChanged    EventType = "MEETING_MEDIA_STREAM_CHANGED"
	EventAudioAnswered         EventType = "MEETING_AUDIO_ANSWERED"
	EventSDPAnswered           EventType = "MEETING_SDP_ANSWERED"
	EventSDPOffered            EventType = "MEETING_SDP_OFFERED"
	EventParticipantSubscribed EventType = "MEETING_PARTICIPANT_SUBSCRIBED"
	EventParticipantTalking    EventType = "MEETING_PARTICIPANT_TALKING"

	EventWaitingParticipantJoined  EventType = "MEETING_WAITING_PARTICIPANT_JOINED"
	EventUserAccepted              EventType = "MEETING_USER_ACCEPTED"
	EventUserRejected              EventType = "MEETING_USER_REJECTED"
	EventWaitingParticipantClashed EventType = "MEETING_WAITING_PARTICIPANT_CLASHED"

	EventRecordingStarted EventType = "MEETING_RECORDING_STARTED"
	EventRecordingStopped EventType = "MEETING_RECORDING_STOPPED"

	EventRoomMemberAdded EventType = "ROOM_MEMBER_ADDED"

	// EventMeetingSnapshot is synthesized locally when an asynchronous
	// meeting fetch resolves. It re-enters the dispatch path so that the
	// fetched state is applied by the same single writer, with the same
	// upsert rules, as any direct server event.
	EventMeetingSnapshot EventType = "MEETING_SNAPSHOT"
)

// StreamKind distinguishes the subscribable media kinds. Audio is negotiated
// bidirectionally on its own channel and is never subscribed.
type StreamKind string

const (
	StreamVideo  StreamKind = "VIDEO"
	StreamScreen StreamKind = "SCREEN"
)

// MeetingState is the server-side lifecycle state of a meeting. Deletion is
// terminal and is represented by the record's absence; a deleted meeting id
// is tombstoned so later events cannot resurrect it.
type MeetingState int32

const (
	StateCreated MeetingState = iota
	StateStarted
	StateStopped
)

// String returns a human-readable state name for logging.
func (s MeetingState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event is the tagged record pushed by the server. A single struct mirrors
// the wire format: every event carries Type and SentAt, and fills only the
// fields its type defines. Unused fields are zero.
type Event struct {
	Type   EventType
	SentAt time.Time

	MeetingID string
	RoomID    string

	// UserID is the subject of the event: the joiner, leaver, starter,
	// stream owner, waiting user, or accepted/rejected user.
	UserID string

	// ModeratorID is set on MEETING_AUDIO_STREAM_CHANGED when the change
	// was forced by a moderator rather than initiated by the user.
	ModeratorID string

	// MediaType selects video vs. screen for media stream changes and for
	// routing SDP payloads to the matching outbound channel.
	MediaType StreamKind

	// Active carries the new on/off state for stream changes and the
	// talking flag for MEETING_PARTICIPANT_TALKING.
	Active bool

	// SDP is the raw offer or answer payload, forwarded verbatim to the
	// matching signaling channel.
	SDP string

	// Streams is the server-confirmed receive list carried by
	// MEETING_PARTICIPANT_SUBSCRIBED.
	Streams []StreamRef

	// Snapshot is set only on the synthetic MEETING_SNAPSHOT event.
	Snapshot *MeetingSnapshot
}

// StreamRef identifies one remote stream: a participant plus a kind.
type StreamRef struct {
	UserID string     `json:"userId"`
	Kind   StreamKind `json:"kind"`
}

// Tile identifies the pinned roster tile of an engaged meeting.
type Tile struct {
	UserID string
	Kind   StreamKind
}

// Participant is one roster entry of a meeting.
type Participant struct {
	UserID   string
	AudioOn  bool
	VideoOn  bool
	ScreenOn bool
	JoinedAt time.Time
}

// RecordingInfo records an ongoing server-side recording of a meeting.
type RecordingInfo struct {
	StartedAt time.Time
	ByUserID  string
}

// Meeting is the directory's view of one meeting. Values handed out by the
// directory are deep copies; mutating them does not affect the directory.
type Meeting struct {
	ID     string
	RoomID string
	State  MeetingState

	StartedAt time.Time
	StartedBy string

	Participants map[string]Participant
	WaitingList  map[string]struct{}

	Recording *RecordingInfo
}

// IsParticipant reports whether the user is on the meeting roster.
func (m *Meeting) IsParticipant(userID string) bool {
	_, ok := m.Participants[userID]
	return ok
}

// IsWaiting reports whether the user is on the meeting's waiting list.
func (m *Meeting) IsWaiting(userID string) bool {
	_, ok := m.WaitingList[userID]
	return ok
}

func (m *Meeting) clone() *Meeting {
	c := *m
	c.Participants = make(map[string]Participant, len(m.Participants))
	for id, p := range m.Participants {
		c.Participants[id] = p
	}
	c.WaitingList = make(map[string]struct{}, len(m.WaitingList))
	for id := range m.WaitingList {
		c.WaitingList[id] = struct{}{}
	}
	if m.Recording != nil {
		rec := *m.Recording
		c.Recording = &rec
	}
	return &c
}

// MeetingSnapshot is the result of an asynchronous meeting fetch, applied to
// the directory with the same upsert rules as direct events. Direct events
// that arrived while the fetch was in flight win by last write.
type MeetingSnapshot struct {
	ID           string
	RoomID       string
	State        MeetingState
	StartedAt    time.Time
	StartedBy    string
	Participants []Participant
	Recording    *RecordingInfo
}

// ConnectOptions carries the initial device selection for connecting to a
// meeting.
type ConnectOptions struct {
	Audio       bool
	AudioDevice string
	Video       bool
	VideoDevice string
}
