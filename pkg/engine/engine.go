package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// RoomInfo answers questions about the conversation a meeting belongs to.
// Rooms are owned by the chat subsystem; the engine only consults them.
type RoomInfo interface {
	// IsOneToOne reports whether the room is a direct conversation between
	// two users.
	IsOneToOne(roomID string) bool
	// IsOwner reports whether the user moderates the room.
	IsOwner(roomID, userID string) bool
}

// ClientView answers whether the local client currently shows a meeting's
// entry screen. Admission effects are only relevant there.
type ClientView interface {
	OnEntryScreen(meetingID string) bool
}

// MeetingFetcher loads meeting details on demand, used when the local user
// is added to a room whose meeting the client has never heard of. Results
// re-enter the engine as a synthetic MEETING_SNAPSHOT event.
type MeetingFetcher interface {
	FetchMeeting(ctx context.Context, roomID string) (*MeetingSnapshot, error)
}

// Preferences exposes the waiting-room notification settings from the
// external settings store.
type Preferences interface {
	WaitingRoomNotifications() bool
	WaitingRoomNotificationSounds() bool
}

// Options configures an Engine. LocalUserID is required; every other
// collaborator is optional and degrades to a safe default when nil.
type Options struct {
	LocalUserID string
	Logger      *zap.Logger

	Rooms         RoomInfo
	View          ClientView
	Channels      ChannelFactory
	Subscriptions SubscriptionSender
	Fetcher       MeetingFetcher
	Prefs         Preferences
}

// ErrNoChannelFactory is returned by ConnectToMeeting when the engine was
// built without a channel factory.
var ErrNoChannelFactory = errors.New("engine: no channel factory configured")

// Engine wires the meeting synchronization components together and is the
// single entry point for server events and local user actions. All state
// mutation is serialized behind one mutex: server push, negotiation
// callbacks, and button presses funnel into the same single-threaded
// mutation point, so handlers need no locking discipline of their own.
type Engine struct {
	mu sync.Mutex

	session     *SessionRegistry
	directory   *MeetingDirectory
	engagements *ActiveMeetingController
	subs        *SubscriptionManager
	dispatcher  *Dispatcher
	bridge      *SideEffectBridge

	rooms   RoomInfo
	view    ClientView
	factory ChannelFactory
	fetcher MeetingFetcher
	prefs   Preferences

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.Logger
}

// NewEngine creates an engine and registers the full event routing table.
func NewEngine(opts Options) (*Engine, error) {
	if opts.LocalUserID == "" {
		return nil, errors.New("engine: LocalUserID is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	session := NewSessionRegistry(opts.LocalUserID)
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		session:     session,
		directory:   NewMeetingDirectory(logger),
		engagements: NewActiveMeetingController(logger),
		subs:        NewSubscriptionManager(session, opts.Subscriptions, logger),
		dispatcher:  NewDispatcher(logger),
		bridge:      NewSideEffectBridge(logger),
		rooms:       opts.Rooms,
		view:        opts.View,
		factory:     opts.Channels,
		fetcher:     opts.Fetcher,
		prefs:       opts.Prefs,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("engine"),
	}
	e.registerHandlers()
	return e, nil
}

// registerHandlers installs the complete routing table. A test asserts the
// table covers every declared event type.
func (e *Engine) registerHandlers() {
	for t, h := range map[EventType]handlerFunc{
		EventMeetingCreated: e.handleMeetingCreated,
		EventMeetingStarted: e.handleMeetingStarted,
		EventMeetingStopped: e.handleMeetingStopped,
		EventMeetingDeleted: e.handleMeetingDeleted,
		EventMeetingJoined:  e.handleMeetingJoined,
		EventMeetingLeft:    e.handleMeetingLeft,

		EventAudioStreamChanged:    e.handleAudioStreamChanged,
		EventMediaStreamChanged:    e.handleMediaStreamChanged,
		EventAudioAnswered:         e.handleAudioAnswered,
		EventSDPAnswered:           e.handleSDPAnswered,
		EventSDPOffered:            e.handleSDPOffered,
		EventParticipantSubscribed: e.handleParticipantSubscribed,
		EventParticipantTalking:    e.handleParticipantTalking,

		EventWaitingParticipantJoined:  e.handleWaitingParticipantJoined,
		EventUserAccepted:              e.handleUserAccepted,
		EventUserRejected:              e.handleUserRejected,
		EventWaitingParticipantClashed: e.handleWaitingParticipantClashed,

		EventRecordingStarted: e.handleRecordingStarted,
		EventRecordingStopped: e.handleRecordingStopped,

		EventRoomMemberAdded: e.handleRoomMemberAdded,
		EventMeetingSnapshot: e.handleMeetingSnapshot,
	} {
		e.dispatcher.Register(t, h)
	}
}

// Dispatch feeds one server event into the engine. It is safe to call from
// any goroutine; events are applied in call order under the engine lock.
func (e *Engine) Dispatch(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.dispatcher.Dispatch(ev)
	if ev.MeetingID != "" {
		e.subs.Flush(ev.MeetingID)
	}
}

// Directory exposes read access to the meeting records.
func (e *Engine) Directory() *MeetingDirectory {
	return e.directory
}

// Engagements exposes read access to the active-engagement state.
func (e *Engine) Engagements() *ActiveMeetingController {
	return e.engagements
}

// Subscriptions exposes the subscription manager, mainly for tests and
// diagnostics.
func (e *Engine) Subscriptions() *SubscriptionManager {
	return e.subs
}

// Effects exposes the side-effect bridge for listener registration.
func (e *Engine) Effects() *SideEffectBridge {
	return e.bridge
}

// UnknownEventCount reports how many unrecognized events were dispatched.
func (e *Engine) UnknownEventCount() int64 {
	return e.dispatcher.UnknownEventCount()
}

// ConnectToMeeting opens the signaling channels for the meeting and creates
// the active-engagement record. The meeting does not have to be known to the
// directory yet; a join echo or snapshot fills the roster in later.
func (e *Engine) ConnectToMeeting(meetingID string, opts ConnectOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.factory == nil {
		return ErrNoChannelFactory
	}
	if e.engagements.Engaged(meetingID) {
		return ErrAlreadyEngaged
	}

	sess, err := NewSignalingSession(e.factory, meetingID, opts, e.logger)
	if err != nil {
		return fmt.Errorf("open signaling session: %w", err)
	}
	if _, err := e.engagements.Connect(meetingID, sess); err != nil {
		sess.Close()
		return err
	}
	if !opts.Audio {
		if err := sess.SetAudioMuted(true); err != nil {
			e.logger.Warn("initial audio mute failed", zap.String("meetingID", meetingID), zap.Error(err))
		}
	}
	return nil
}

// DisconnectFromMeeting synchronously tears down the signaling channels and
// drops the engagement record and its subscriptions. The local roster entry
// in the directory is intentionally left alone: the server's MEETING_LEFT
// echo cleans it up, which keeps client-initiated and server-echoed leaves
// from racing over the same cleanup.
func (e *Engine) DisconnectFromMeeting(meetingID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disconnectLocked(meetingID)
}

func (e *Engine) disconnectLocked(meetingID string) error {
	eng, err := e.engagements.Disconnect(meetingID)
	if err != nil {
		return err
	}
	if eng.Signaling != nil {
		eng.Signaling.Close()
	}
	e.subs.Drop(meetingID)
	return nil
}

// MuteSelf pauses outbound audio on every engaged meeting. The server's
// stream-changed echo updates the roster flag and plays the cue.
func (e *Engine) MuteSelf() error {
	return e.setSelfMuted(true)
}

// UnmuteSelf resumes outbound audio on every engaged meeting.
func (e *Engine) UnmuteSelf() error {
	return e.setSelfMuted(false)
}

func (e *Engine) setSelfMuted(muted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := e.engagements.MeetingIDs()
	if len(ids) == 0 {
		return ErrNotEngaged
	}
	var firstErr error
	for _, id := range ids {
		eng, ok := e.engagements.Get(id)
		if !ok || eng.Signaling == nil {
			continue
		}
		if err := eng.Signaling.SetAudioMuted(muted); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PinTile pins a participant tile for the engaged meeting.
func (e *Engine) PinTile(meetingID, userID string, kind StreamKind) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.engagements.SetPinned(meetingID, Tile{UserID: userID, Kind: kind}) {
		return ErrNotEngaged
	}
	return nil
}

// Reset drops all engine state: every engagement is torn down and the
// directory cleared, including tombstones. The transport layer calls this
// after a reconnect, where the server replays current state from scratch.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range e.engagements.MeetingIDs() {
		if err := e.disconnectLocked(id); err != nil {
			e.logger.Warn("teardown on reset failed", zap.String("meetingID", id), zap.Error(err))
		}
	}
	e.directory = NewMeetingDirectory(e.logger)
}

// Close shuts the engine down, tearing down any remaining engagements and
// waiting for in-flight asynchronous fetches to finish.
func (e *Engine) Close() {
	e.cancel()
	e.Reset()
	e.wg.Wait()
}

// spawnFetch runs the meeting fetch off the dispatch path and re-enters the
// result through Dispatch as a synthetic event. The fetched state is applied
// by the same single writer with the same upsert rules as direct events, so
// a later direct event for the same meeting wins by last write.
func (e *Engine) spawnFetch(roomID string) {
	if e.fetcher == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		snap, err := e.fetcher.FetchMeeting(e.ctx, roomID)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				e.logger.Warn("meeting fetch failed", zap.String("roomID", roomID), zap.Error(err))
			}
			return
		}
		if snap == nil {
			return
		}
		e.Dispatch(Event{Type: EventMeetingSnapshot, MeetingID: snap.ID, RoomID: roomID, Snapshot: snap})
	}()
}
