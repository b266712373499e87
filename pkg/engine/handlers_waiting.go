package engine

// Waiting-room admission handlers. The waiting list only matters to clients
// that are already participating in the meeting; everyone else ignores
// waiting-room chatter. Accept and reject both remove the user from the
// waiting set unconditionally, so two racing moderator decisions resolve to
// last write wins with at most a redundant effect.

func (e *Engine) handleWaitingParticipantJoined(ev Event) {
	m, ok := e.directory.Get(ev.MeetingID)
	if !ok || !m.IsParticipant(e.session.LocalUserID()) {
		return
	}
	if !e.directory.AddWaiting(ev.MeetingID, ev.UserID) {
		return
	}
	e.displayWaitingListNotification(m.RoomID, ev)
}

// displayWaitingListNotification emits the moderator-facing popup/sound
// request for a newly waiting user. Only room owners see it; whether a popup
// shows and whether a sound plays come from the user's preferences.
func (e *Engine) displayWaitingListNotification(roomID string, ev Event) {
	if e.rooms == nil || !e.rooms.IsOwner(roomID, e.session.LocalUserID()) {
		return
	}
	popup, sound := true, false
	if e.prefs != nil {
		popup = e.prefs.WaitingRoomNotifications()
		sound = e.prefs.WaitingRoomNotificationSounds()
	}
	if !popup && !sound {
		return
	}
	e.bridge.Emit(Effect{
		Kind:      EffectWaitingUserJoined,
		MeetingID: ev.MeetingID,
		RoomID:    roomID,
		UserID:    ev.UserID,
		Popup:     popup,
		Sound:     sound,
	})
}

func (e *Engine) handleUserAccepted(ev Event) {
	e.directory.RemoveWaiting(ev.MeetingID, ev.UserID)
	if e.admissionConcernsLocalUser(ev) {
		e.bridge.Emit(Effect{Kind: EffectWaitingAdmitted, MeetingID: ev.MeetingID, UserID: ev.UserID})
	}
}

func (e *Engine) handleUserRejected(ev Event) {
	e.directory.RemoveWaiting(ev.MeetingID, ev.UserID)
	if e.admissionConcernsLocalUser(ev) {
		e.bridge.Emit(Effect{Kind: EffectWaitingRejected, MeetingID: ev.MeetingID, UserID: ev.UserID})
	}
}

// admissionConcernsLocalUser reports whether an admission decision should be
// surfaced: it must be about the local user, and the client must actually be
// on that meeting's entry screen waiting for the verdict.
func (e *Engine) admissionConcernsLocalUser(ev Event) bool {
	if !e.session.IsLocal(ev.UserID) {
		return false
	}
	return e.view != nil && e.view.OnEntryScreen(ev.MeetingID)
}

func (e *Engine) handleWaitingParticipantClashed(ev Event) {
	// The same user entered the waiting room from a second session. Only the
	// superseded tab reacts; the redirect is scoped to this client.
	if !e.session.IsLocal(ev.UserID) {
		return
	}
	e.bridge.Emit(Effect{Kind: EffectSessionSuperseded, MeetingID: ev.MeetingID, UserID: ev.UserID})
}
