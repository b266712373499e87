package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// MeetingDirectory is the process-wide map of meeting records. It is mutated
// only by dispatcher handlers and by explicit lifecycle calls; readers (UI
// layers, tests) get deep-copied snapshots, so a reader never observes a
// partially updated record.
//
// Every mutation clones the affected record, applies the change to the
// clone, and swaps it in under the lock. All mutating methods are
// idempotent: applying the same logical change twice leaves the directory in
// the same state and reports false the second time, which lets handlers
// suppress duplicate side effects.
type MeetingDirectory struct {
	mu       sync.RWMutex
	meetings map[string]*Meeting
	deleted  map[string]struct{}
	logger   *zap.Logger
}

// NewMeetingDirectory creates an empty directory.
func NewMeetingDirectory(logger *zap.Logger) *MeetingDirectory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MeetingDirectory{
		meetings: make(map[string]*Meeting),
		deleted:  make(map[string]struct{}),
		logger:   logger.Named("directory"),
	}
}

// Create inserts a new meeting record with an empty roster. It reports false
// if the meeting already exists or was previously deleted; a deleted meeting
// id is never resurrected.
func (d *MeetingDirectory) Create(meetingID, roomID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, tombstoned := d.deleted[meetingID]; tombstoned {
		d.logger.Debug("ignoring create for deleted meeting", zap.String("meetingID", meetingID))
		return false
	}
	if _, exists := d.meetings[meetingID]; exists {
		return false
	}
	d.meetings[meetingID] = &Meeting{
		ID:           meetingID,
		RoomID:       roomID,
		State:        StateCreated,
		Participants: make(map[string]Participant),
		WaitingList:  make(map[string]struct{}),
	}
	return true
}

// Delete removes the meeting record entirely and tombstones the id. Deleting
// an absent meeting is a no-op; Delete reports whether a record was removed.
func (d *MeetingDirectory) Delete(meetingID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.deleted[meetingID] = struct{}{}
	if _, exists := d.meetings[meetingID]; !exists {
		return false
	}
	delete(d.meetings, meetingID)
	return true
}

// Get returns a deep copy of the meeting record, if present.
func (d *MeetingDirectory) Get(meetingID string) (*Meeting, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	m, ok := d.meetings[meetingID]
	if !ok {
		return nil, false
	}
	return m.clone(), true
}

// ByRoom returns a deep copy of the meeting belonging to the given room, if
// any. A room has at most one meeting.
func (d *MeetingDirectory) ByRoom(roomID string) (*Meeting, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, m := range d.meetings {
		if m.RoomID == roomID {
			return m.clone(), true
		}
	}
	return nil, false
}

// Snapshot returns deep copies of all meeting records.
func (d *MeetingDirectory) Snapshot() []*Meeting {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Meeting, 0, len(d.meetings))
	for _, m := range d.meetings {
		out = append(out, m.clone())
	}
	return out
}

// update clones the record, applies fn to the clone, and swaps it in. It
// reports false if the meeting is unknown or fn declined the change.
func (d *MeetingDirectory) update(meetingID string, fn func(*Meeting) bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.meetings[meetingID]
	if !ok {
		return false
	}
	c := m.clone()
	if !fn(c) {
		return false
	}
	d.meetings[meetingID] = c
	return true
}

// MarkStarted transitions the meeting to STARTED and records the starter.
// Only CREATED and STOPPED meetings can start; a duplicate start reports
// false so the caller does not ring twice.
func (d *MeetingDirectory) MarkStarted(meetingID, startedBy string, at time.Time) bool {
	return d.update(meetingID, func(m *Meeting) bool {
		if m.State == StateStarted {
			return false
		}
		m.State = StateStarted
		m.StartedAt = at
		m.StartedBy = startedBy
		return true
	})
}

// MarkStopped transitions the meeting to STOPPED and clears the start
// timestamp. Reports false unless the meeting was started.
func (d *MeetingDirectory) MarkStopped(meetingID string) bool {
	return d.update(meetingID, func(m *Meeting) bool {
		if m.State != StateStarted {
			return false
		}
		m.State = StateStopped
		m.StartedAt = time.Time{}
		m.StartedBy = ""
		return true
	})
}

// UpsertParticipant adds the participant to the roster, keyed by user id.
// A user already on the roster keeps their existing entry (the upsert is
// idempotent and reports false). Admission implies leaving the waiting list:
// the user id is removed from it so participants and waiters stay disjoint.
func (d *MeetingDirectory) UpsertParticipant(meetingID string, p Participant) bool {
	return d.update(meetingID, func(m *Meeting) bool {
		delete(m.WaitingList, p.UserID)
		if _, exists := m.Participants[p.UserID]; exists {
			return false
		}
		m.Participants[p.UserID] = p
		return true
	})
}

// RemoveParticipant removes the roster entry, reporting false if absent.
func (d *MeetingDirectory) RemoveParticipant(meetingID, userID string) bool {
	return d.update(meetingID, func(m *Meeting) bool {
		if _, exists := m.Participants[userID]; !exists {
			return false
		}
		delete(m.Participants, userID)
		return true
	})
}

// SetAudioOn updates a participant's audio flag. Reports false if the
// meeting or participant is unknown or the flag already has that value.
func (d *MeetingDirectory) SetAudioOn(meetingID, userID string, on bool) bool {
	return d.update(meetingID, func(m *Meeting) bool {
		p, exists := m.Participants[userID]
		if !exists || p.AudioOn == on {
			return false
		}
		p.AudioOn = on
		m.Participants[userID] = p
		return true
	})
}

// SetMediaOn updates a participant's video or screen flag, selected by kind.
func (d *MeetingDirectory) SetMediaOn(meetingID, userID string, kind StreamKind, on bool) bool {
	return d.update(meetingID, func(m *Meeting) bool {
		p, exists := m.Participants[userID]
		if !exists {
			return false
		}
		switch kind {
		case StreamVideo:
			if p.VideoOn == on {
				return false
			}
			p.VideoOn = on
		case StreamScreen:
			if p.ScreenOn == on {
				return false
			}
			p.ScreenOn = on
		default:
			return false
		}
		m.Participants[userID] = p
		return true
	})
}

// AddWaiting puts the user on the waiting list. Current participants are
// never added: a user id lives in at most one of the two sets.
func (d *MeetingDirectory) AddWaiting(meetingID, userID string) bool {
	return d.update(meetingID, func(m *Meeting) bool {
		if _, participant := m.Participants[userID]; participant {
			return false
		}
		if _, waiting := m.WaitingList[userID]; waiting {
			return false
		}
		m.WaitingList[userID] = struct{}{}
		return true
	})
}

// RemoveWaiting removes the user from the waiting list unconditionally.
// Both the accept and reject paths call this, so a lost race between two
// simultaneous decisions leaves at most a redundant removal.
func (d *MeetingDirectory) RemoveWaiting(meetingID, userID string) bool {
	return d.update(meetingID, func(m *Meeting) bool {
		if _, waiting := m.WaitingList[userID]; !waiting {
			return false
		}
		delete(m.WaitingList, userID)
		return true
	})
}

// SetRecording records an ongoing recording. Reports false if one is
// already recorded, so a duplicate start does not re-notify.
func (d *MeetingDirectory) SetRecording(meetingID, byUserID string, at time.Time) bool {
	return d.update(meetingID, func(m *Meeting) bool {
		if m.Recording != nil {
			return false
		}
		m.Recording = &RecordingInfo{StartedAt: at, ByUserID: byUserID}
		return true
	})
}

// ClearRecording clears the recording state, reporting false if none was set.
func (d *MeetingDirectory) ClearRecording(meetingID string) bool {
	return d.update(meetingID, func(m *Meeting) bool {
		if m.Recording == nil {
			return false
		}
		m.Recording = nil
		return true
	})
}

// ApplySnapshot merges an asynchronously fetched meeting into the directory.
// The snapshot creates the record if it is absent (and not tombstoned) and
// fills in participants the directory does not know yet. State already
// present wins: a direct event that arrived while the fetch was in flight is
// newer than the snapshot and is not overwritten.
func (d *MeetingDirectory) ApplySnapshot(snap *MeetingSnapshot) {
	if snap == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, tombstoned := d.deleted[snap.ID]; tombstoned {
		return
	}
	m, exists := d.meetings[snap.ID]
	if !exists {
		m = &Meeting{
			ID:           snap.ID,
			RoomID:       snap.RoomID,
			State:        snap.State,
			StartedAt:    snap.StartedAt,
			StartedBy:    snap.StartedBy,
			Participants: make(map[string]Participant),
			WaitingList:  make(map[string]struct{}),
		}
		if snap.Recording != nil {
			rec := *snap.Recording
			m.Recording = &rec
		}
		d.meetings[snap.ID] = m
	} else {
		m = m.clone()
		d.meetings[snap.ID] = m
	}
	for _, p := range snap.Participants {
		if _, known := m.Participants[p.UserID]; known {
			continue
		}
		if _, waiting := m.WaitingList[p.UserID]; waiting {
			continue
		}
		m.Participants[p.UserID] = p
	}
}
