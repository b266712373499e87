package engine

import (
	"context"
	"sync"
)

// Plain-struct mocks for the engine's collaborator interfaces.

type mockRooms struct {
	oneToOne map[string]bool
	owners   map[string][]string
}

func (m *mockRooms) IsOneToOne(roomID string) bool {
	return m.oneToOne[roomID]
}

func (m *mockRooms) IsOwner(roomID, userID string) bool {
	for _, owner := range m.owners[roomID] {
		if owner == userID {
			return true
		}
	}
	return false
}

type mockView struct {
	entryScreens map[string]bool
}

func (m *mockView) OnEntryScreen(meetingID string) bool {
	return m.entryScreens[meetingID]
}

type subUpdate struct {
	meetingID string
	add       []StreamRef
	remove    []StreamRef
}

type mockSender struct {
	mu      sync.Mutex
	updates []subUpdate
}

func (m *mockSender) UpdateSubscriptions(meetingID string, add, remove []StreamRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, subUpdate{meetingID: meetingID, add: add, remove: remove})
}

func (m *mockSender) all() []subUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]subUpdate(nil), m.updates...)
}

type mockChannel struct {
	mu             sync.Mutex
	kind           ChannelKind
	offers         []string
	answers        []string
	muteCalls      []bool
	closeSendCalls int
	closeCalls     int
	offerErr       error
	answerErr      error
}

func (c *mockChannel) HandleRemoteOffer(sdp string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offerErr != nil {
		return c.offerErr
	}
	c.offers = append(c.offers, sdp)
	return nil
}

func (c *mockChannel) HandleRemoteAnswer(sdp string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answerErr != nil {
		return c.answerErr
	}
	c.answers = append(c.answers, sdp)
	return nil
}

func (c *mockChannel) SetSendMuted(muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muteCalls = append(c.muteCalls, muted)
	return nil
}

func (c *mockChannel) CloseSend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeSendCalls++
	return nil
}

func (c *mockChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	return nil
}

type mockReceiver struct {
	mockChannel
	streamUpdates [][]StreamRef
}

func (r *mockReceiver) UpdateStreams(streams []StreamRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamUpdates = append(r.streamUpdates, append([]StreamRef(nil), streams...))
	return nil
}

type mockFactory struct {
	mu       sync.Mutex
	channels map[ChannelKind]*mockChannel
	receiver *mockReceiver
}

func newMockFactory() *mockFactory {
	return &mockFactory{channels: make(map[ChannelKind]*mockChannel)}
}

func (f *mockFactory) CreateChannel(meetingID string, kind ChannelKind, opts ConnectOptions) (SignalChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := &mockChannel{kind: kind}
	f.channels[kind] = ch
	return ch, nil
}

func (f *mockFactory) CreateReceiver(meetingID string) (StreamReceiver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &mockReceiver{mockChannel: mockChannel{kind: ChannelInboundMux}}
	f.receiver = r
	return r, nil
}

type mockFetcher struct {
	mu    sync.Mutex
	snap  *MeetingSnapshot
	err   error
	calls []string
}

func (m *mockFetcher) FetchMeeting(ctx context.Context, roomID string) (*MeetingSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, roomID)
	return m.snap, m.err
}

type mockPrefs struct {
	popup bool
	sound bool
}

func (m mockPrefs) WaitingRoomNotifications() bool      { return m.popup }
func (m mockPrefs) WaitingRoomNotificationSounds() bool { return m.sound }

// effectRecorder captures emitted effects for assertions.
type effectRecorder struct {
	mu      sync.Mutex
	effects []Effect
}

func (r *effectRecorder) listen(effect Effect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.effects = append(r.effects, effect)
}

func (r *effectRecorder) all() []Effect {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Effect(nil), r.effects...)
}

func (r *effectRecorder) ofKind(kind EffectKind) []Effect {
	var out []Effect
	for _, e := range r.all() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *effectRecorder) cues(cue CueKind) int {
	n := 0
	for _, e := range r.all() {
		if e.Kind == EffectAudioCue && e.Cue == cue {
			n++
		}
	}
	return n
}
