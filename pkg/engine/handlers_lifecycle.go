package engine

import "go.uber.org/zap"

// Lifecycle handlers. Every handler tolerates duplicates and missing
// referents: a meeting unknown to the directory short-circuits the update,
// because reordering can deliver a participant event before the creation it
// depends on.

func (e *Engine) handleMeetingCreated(ev Event) {
	if e.directory.Create(ev.MeetingID, ev.RoomID) {
		e.logger.Debug("meeting created",
			zap.String("meetingID", ev.MeetingID),
			zap.String("roomID", ev.RoomID))
	}
}

func (e *Engine) handleMeetingStarted(ev Event) {
	if !e.directory.MarkStarted(ev.MeetingID, ev.UserID, ev.SentAt) {
		return
	}
	m, ok := e.directory.Get(ev.MeetingID)
	if !ok {
		return
	}
	// Ring only for one-to-one meetings the other party started; starting a
	// meeting yourself (possibly in another session) never rings.
	if e.isOneToOne(m.RoomID) && !e.session.IsLocal(ev.UserID) {
		e.bridge.Emit(Effect{
			Kind:      EffectIncomingMeeting,
			MeetingID: ev.MeetingID,
			RoomID:    m.RoomID,
			UserID:    ev.UserID,
		})
	}
}

func (e *Engine) handleMeetingStopped(ev Event) {
	if !e.directory.MarkStopped(ev.MeetingID) {
		return
	}
	if e.engagements.Engaged(ev.MeetingID) {
		e.bridge.Emit(Effect{Kind: EffectMeetingStopped, MeetingID: ev.MeetingID})
	}
	if m, ok := e.directory.Get(ev.MeetingID); ok && e.isOneToOne(m.RoomID) {
		e.bridge.Emit(Effect{Kind: EffectIncomingCleared, MeetingID: ev.MeetingID, RoomID: m.RoomID})
	}
}

func (e *Engine) handleMeetingDeleted(ev Event) {
	if e.directory.Delete(ev.MeetingID) {
		e.logger.Debug("meeting deleted", zap.String("meetingID", ev.MeetingID))
	}
}

func (e *Engine) handleMeetingJoined(ev Event) {
	changed := e.directory.UpsertParticipant(ev.MeetingID, Participant{
		UserID:   ev.UserID,
		JoinedAt: ev.SentAt,
	})

	local := e.session.IsLocal(ev.UserID)
	if changed && local {
		// Joining from any session clears the incoming ring, including a
		// join performed in a different tab. Duplicate joins change nothing
		// and emit nothing.
		if m, ok := e.directory.Get(ev.MeetingID); ok && e.isOneToOne(m.RoomID) {
			e.bridge.Emit(Effect{Kind: EffectIncomingCleared, MeetingID: ev.MeetingID, RoomID: m.RoomID})
		}
	}
	if changed && !local && e.engagements.Engaged(ev.MeetingID) {
		e.bridge.cue(ev.MeetingID, CueJoin)
	}
}

func (e *Engine) handleMeetingLeft(ev Event) {
	local := e.session.IsLocal(ev.UserID)
	engaged := e.engagements.Engaged(ev.MeetingID)

	// A leave echo for ourselves while our engagement still exists means the
	// local disconnect has not completed yet; erasing the roster entry now
	// would make the client disappear from its own meeting view.
	removed := false
	if !(local && engaged) {
		removed = e.directory.RemoveParticipant(ev.MeetingID, ev.UserID)
	}

	e.engagements.SetTalking(ev.MeetingID, ev.UserID, false)
	e.engagements.ClearPinned(ev.MeetingID, ev.UserID)

	if engaged {
		e.subs.RemoveAllForUser(ev.MeetingID, ev.UserID, []StreamKind{StreamVideo, StreamScreen})
		if removed && !local {
			e.bridge.cue(ev.MeetingID, CueLeave)
		}
	}
}

func (e *Engine) handleRoomMemberAdded(ev Event) {
	if !e.session.IsLocal(ev.UserID) {
		return
	}
	// Just added to a room: its meeting, if one is ongoing, is unknown to
	// us. Fetch it off the dispatch path; the result re-enters as a
	// synthetic snapshot event.
	if _, known := e.directory.ByRoom(ev.RoomID); known {
		return
	}
	e.spawnFetch(ev.RoomID)
}

func (e *Engine) handleMeetingSnapshot(ev Event) {
	e.directory.ApplySnapshot(ev.Snapshot)
}

func (e *Engine) isOneToOne(roomID string) bool {
	return e.rooms != nil && roomID != "" && e.rooms.IsOneToOne(roomID)
}
