package engine

// Recording handlers. Recording is meeting-scoped, not engagement-scoped: it
// must be visible to clients that are not joined. The indicator effect, on
// the other hand, only fires while engaged.

func (e *Engine) handleRecordingStarted(ev Event) {
	if !e.directory.SetRecording(ev.MeetingID, ev.UserID, ev.SentAt) {
		return
	}
	if e.engagements.Engaged(ev.MeetingID) {
		e.bridge.Emit(Effect{Kind: EffectRecordingStarted, MeetingID: ev.MeetingID, UserID: ev.UserID})
	}
}

func (e *Engine) handleRecordingStopped(ev Event) {
	if !e.directory.ClearRecording(ev.MeetingID) {
		return
	}
	if e.engagements.Engaged(ev.MeetingID) {
		e.bridge.Emit(Effect{Kind: EffectRecordingStopped, MeetingID: ev.MeetingID})
	}
}
