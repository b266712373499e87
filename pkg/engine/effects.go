package engine

import (
	"sync"

	"go.uber.org/zap"
)

// EffectKind names an externally observable consequence of a state
// transition: a notification to show, a navigation to perform, or an audio
// cue to play. The bridge owns no durable state; it only fans effects out.
type EffectKind string

const (
	// EffectIncomingMeeting asks the UI to ring for a one-to-one meeting
	// started by the remote party.
	EffectIncomingMeeting EffectKind = "incoming_meeting"
	// EffectIncomingCleared removes the incoming-meeting notification.
	EffectIncomingCleared EffectKind = "incoming_cleared"
	// EffectMeetingStopped tells the UI to force-leave a meeting the client
	// was engaged with when it stopped.
	EffectMeetingStopped EffectKind = "meeting_stopped_force_leave"
	// EffectMemberMuted tells the local user a moderator muted them.
	EffectMemberMuted EffectKind = "member_muted"
	// EffectWaitingUserJoined is the moderator-facing waiting-room
	// notification; Popup and Sound carry the user's preference flags.
	EffectWaitingUserJoined EffectKind = "waiting_user_joined"
	// EffectWaitingAdmitted tells the local user they were admitted.
	EffectWaitingAdmitted EffectKind = "waiting_admitted"
	// EffectWaitingRejected tells the local user they were rejected.
	EffectWaitingRejected EffectKind = "waiting_rejected"
	// EffectSessionSuperseded redirects this tab because the same user
	// entered the waiting room from another session.
	EffectSessionSuperseded EffectKind = "session_superseded"
	// EffectRecordingStarted and EffectRecordingStopped drive the
	// recording indicator while engaged.
	EffectRecordingStarted EffectKind = "recording_started"
	EffectRecordingStopped EffectKind = "recording_stopped"
	// EffectAudioCue requests a short audio cue; Cue names which one.
	EffectAudioCue EffectKind = "audio_cue"
)

// CueKind names the audio cues the engine can request.
type CueKind string

const (
	CueJoin        CueKind = "join"
	CueLeave       CueKind = "leave"
	CueMuted       CueKind = "muted"
	CueUnmuted     CueKind = "unmuted"
	CueScreenShare CueKind = "screenshare"
)

// Effect is one emitted side effect.
type Effect struct {
	Kind      EffectKind
	MeetingID string
	RoomID    string
	UserID    string
	Cue       CueKind
	Popup     bool
	Sound     bool
}

// EffectListener consumes emitted effects. Listeners run synchronously on
// the dispatching goroutine and must not call back into the engine.
type EffectListener func(Effect)

// SideEffectBridge fans engine side effects out to registered listeners.
type SideEffectBridge struct {
	mu        sync.RWMutex
	listeners []EffectListener
	logger    *zap.Logger
}

// NewSideEffectBridge creates a bridge with no listeners.
func NewSideEffectBridge(logger *zap.Logger) *SideEffectBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SideEffectBridge{logger: logger.Named("effects")}
}

// Subscribe registers a listener for all future effects.
func (b *SideEffectBridge) Subscribe(l EffectListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Emit delivers the effect to every listener. A panicking listener is
// isolated so it cannot take the dispatch loop down with it.
func (b *SideEffectBridge) Emit(effect Effect) {
	b.mu.RLock()
	listeners := make([]EffectListener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	b.logger.Debug("emitting effect",
		zap.String("kind", string(effect.Kind)),
		zap.String("meetingID", effect.MeetingID),
		zap.String("userID", effect.UserID))

	for _, l := range listeners {
		b.deliver(l, effect)
	}
}

func (b *SideEffectBridge) deliver(l EffectListener, effect Effect) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("effect listener panicked",
				zap.String("kind", string(effect.Kind)),
				zap.Any("panic", r))
		}
	}()
	l(effect)
}

func (b *SideEffectBridge) cue(meetingID string, cue CueKind) {
	b.Emit(Effect{Kind: EffectAudioCue, MeetingID: meetingID, Cue: cue})
}
