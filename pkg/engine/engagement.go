package engine

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrAlreadyEngaged is returned when connecting to a meeting the client
	// is already connected to.
	ErrAlreadyEngaged = errors.New("engine: already connected to meeting")
	// ErrNotEngaged is returned by local actions that require an active
	// engagement with the meeting.
	ErrNotEngaged = errors.New("engine: not connected to meeting")
)

// Engagement is the local client's connection state for one meeting. It
// exists only between ConnectToMeeting and DisconnectFromMeeting; its
// existence is the sole authority for "this meeting is active for me",
// independent of the meeting's lifecycle state in the directory.
//
// Records are mutated only under the controller's write lock, and Get hands
// out deep copies, so readers outside the dispatch goroutine never observe
// a partially-updated record.
type Engagement struct {
	MeetingID   string
	ConnectedAt time.Time

	// Talking is the set of participants currently detected as speaking.
	Talking map[string]struct{}

	// Pinned is the tile the UI should keep in focus, if any.
	Pinned *Tile

	// Signaling holds the meeting's negotiation channels.
	Signaling *SignalingSession
}

// TalkingUsers returns a copy of the talking set.
func (e *Engagement) TalkingUsers() []string {
	out := make([]string, 0, len(e.Talking))
	for id := range e.Talking {
		out = append(out, id)
	}
	return out
}

// clone deep-copies the record. The signaling session is shared, not copied;
// its methods carry their own lock.
func (e *Engagement) clone() *Engagement {
	out := &Engagement{
		MeetingID:   e.MeetingID,
		ConnectedAt: e.ConnectedAt,
		Talking:     make(map[string]struct{}, len(e.Talking)),
		Signaling:   e.Signaling,
	}
	for id := range e.Talking {
		out.Talking[id] = struct{}{}
	}
	if e.Pinned != nil {
		pinned := *e.Pinned
		out.Pinned = &pinned
	}
	return out
}

// ActiveMeetingController owns the active-engagement records. No other
// component creates or destroys an engagement; handlers look engagements up
// here to decide whether signaling and side-effect work applies.
type ActiveMeetingController struct {
	mu          sync.RWMutex
	engagements map[string]*Engagement
	logger      *zap.Logger
}

// NewActiveMeetingController creates a controller with no engagements.
func NewActiveMeetingController(logger *zap.Logger) *ActiveMeetingController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActiveMeetingController{
		engagements: make(map[string]*Engagement),
		logger:      logger.Named("engagement"),
	}
}

// Connect creates the engagement record for the meeting. The signaling
// session is attached here so that a record, once visible, always carries
// usable channels.
func (c *ActiveMeetingController) Connect(meetingID string, sess *SignalingSession) (*Engagement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.engagements[meetingID]; exists {
		return nil, ErrAlreadyEngaged
	}
	eng := &Engagement{
		MeetingID:   meetingID,
		ConnectedAt: time.Now(),
		Talking:     make(map[string]struct{}),
		Signaling:   sess,
	}
	c.engagements[meetingID] = eng
	c.logger.Info("connected to meeting", zap.String("meetingID", meetingID))
	return eng, nil
}

// Disconnect removes and returns the engagement record. The caller tears
// down the returned record's signaling session; the directory's roster entry
// for the local user is left for the server's MEETING_LEFT echo.
func (c *ActiveMeetingController) Disconnect(meetingID string) (*Engagement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	eng, exists := c.engagements[meetingID]
	if !exists {
		return nil, ErrNotEngaged
	}
	delete(c.engagements, meetingID)
	c.logger.Info("disconnected from meeting", zap.String("meetingID", meetingID))
	return eng, nil
}

// Get returns a snapshot of the engagement record, if the client is
// connected. Mutations applied after the call are not reflected in the copy.
func (c *ActiveMeetingController) Get(meetingID string) (*Engagement, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	eng, ok := c.engagements[meetingID]
	if !ok {
		return nil, false
	}
	return eng.clone(), true
}

// Engaged reports whether the client is connected to the meeting.
func (c *ActiveMeetingController) Engaged(meetingID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.engagements[meetingID]
	return ok
}

// MeetingIDs returns the ids of all currently engaged meetings. In practice
// there is at most one.
func (c *ActiveMeetingController) MeetingIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.engagements))
	for id := range c.engagements {
		out = append(out, id)
	}
	return out
}

// SetTalking sets or clears the talking flag for a user. It reports false
// when the client is not engaged with the meeting.
func (c *ActiveMeetingController) SetTalking(meetingID, userID string, talking bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	eng, ok := c.engagements[meetingID]
	if !ok {
		return false
	}
	if talking {
		eng.Talking[userID] = struct{}{}
	} else {
		delete(eng.Talking, userID)
	}
	return true
}

// SetPinned pins a tile for the engaged meeting.
func (c *ActiveMeetingController) SetPinned(meetingID string, tile Tile) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	eng, ok := c.engagements[meetingID]
	if !ok {
		return false
	}
	eng.Pinned = &tile
	return true
}

// ClearPinned removes the pinned tile if it references the given user.
func (c *ActiveMeetingController) ClearPinned(meetingID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	eng, ok := c.engagements[meetingID]
	if !ok {
		return
	}
	if eng.Pinned != nil && eng.Pinned.UserID == userID {
		eng.Pinned = nil
	}
}
