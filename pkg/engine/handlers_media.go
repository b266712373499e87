package engine

import "go.uber.org/zap"

// Media and signaling handlers. Each one first checks whether the local
// client is actively engaged with the meeting: roster flags are recorded
// regardless, but signaling and side-effect work is skipped for meetings the
// user is not actually in. This is the rule that keeps the engine from
// driving WebRTC negotiation for meetings it only observes.

func (e *Engine) handleAudioStreamChanged(ev Event) {
	changed := e.directory.SetAudioOn(ev.MeetingID, ev.UserID, ev.Active)

	eng, engaged := e.engagements.Get(ev.MeetingID)
	if !engaged {
		return
	}
	if !ev.Active {
		e.engagements.SetTalking(ev.MeetingID, ev.UserID, false)
	}
	if !e.session.IsLocal(ev.UserID) || !changed {
		return
	}
	if ev.Active {
		e.bridge.cue(ev.MeetingID, CueUnmuted)
		return
	}
	e.bridge.cue(ev.MeetingID, CueMuted)
	if ev.ModeratorID != "" {
		// Force-muted by a moderator: stop the outbound audio sender so the
		// mute cannot be undone by a stale local unmute.
		if eng.Signaling != nil {
			eng.Signaling.CloseAudioSend()
		}
		e.bridge.Emit(Effect{
			Kind:      EffectMemberMuted,
			MeetingID: ev.MeetingID,
			UserID:    ev.UserID,
		})
	}
}

func (e *Engine) handleMediaStreamChanged(ev Event) {
	if ev.MediaType != StreamVideo && ev.MediaType != StreamScreen {
		e.logger.Debug("ignoring media change with unknown kind",
			zap.String("meetingID", ev.MeetingID),
			zap.String("mediaType", string(ev.MediaType)))
		return
	}
	changed := e.directory.SetMediaOn(ev.MeetingID, ev.UserID, ev.MediaType, ev.Active)

	if !e.engagements.Engaged(ev.MeetingID) {
		return
	}
	// A stream change reordered ahead of the join echo references a user the
	// roster does not know yet. Short-circuit the whole engaged path, the
	// subscription included, rather than subscribe to an unknown participant.
	if m, ok := e.directory.Get(ev.MeetingID); !ok || !m.IsParticipant(ev.UserID) {
		return
	}
	if changed && ev.MediaType == StreamScreen && ev.Active {
		e.engagements.SetPinned(ev.MeetingID, Tile{UserID: ev.UserID, Kind: StreamScreen})
		e.bridge.cue(ev.MeetingID, CueScreenShare)
	}
	if e.session.IsLocal(ev.UserID) {
		return
	}
	ref := StreamRef{UserID: ev.UserID, Kind: ev.MediaType}
	if ev.Active {
		e.subs.Add(ev.MeetingID, ref)
	} else {
		e.subs.Remove(ev.MeetingID, ref)
	}
}

func (e *Engine) handleAudioAnswered(ev Event) {
	eng, ok := e.engagements.Get(ev.MeetingID)
	if !ok || eng.Signaling == nil {
		return
	}
	eng.Signaling.ApplyRemoteAnswer(ChannelAudio, ev.SDP)
}

func (e *Engine) handleSDPAnswered(ev Event) {
	eng, ok := e.engagements.Get(ev.MeetingID)
	if !ok || eng.Signaling == nil {
		return
	}
	ch, ok := eng.Signaling.OutboundChannelFor(ev.MediaType)
	if !ok {
		e.logger.Debug("sdp answer for unknown media type",
			zap.String("meetingID", ev.MeetingID),
			zap.String("mediaType", string(ev.MediaType)))
		return
	}
	if err := ch.HandleRemoteAnswer(ev.SDP); err != nil {
		e.logger.Warn("remote answer rejected",
			zap.String("meetingID", ev.MeetingID),
			zap.String("mediaType", string(ev.MediaType)),
			zap.Error(err))
	}
}

func (e *Engine) handleSDPOffered(ev Event) {
	eng, ok := e.engagements.Get(ev.MeetingID)
	if !ok || eng.Signaling == nil {
		return
	}
	// Server-initiated offers always target the inbound multiplex; the
	// channel implementation produces and sends the answer itself.
	eng.Signaling.ApplyRemoteOffer(ChannelInboundMux, ev.SDP)
}

func (e *Engine) handleParticipantSubscribed(ev Event) {
	eng, ok := e.engagements.Get(ev.MeetingID)
	if !ok || eng.Signaling == nil {
		return
	}
	eng.Signaling.UpdateInboundStreams(ev.Streams)
}

func (e *Engine) handleParticipantTalking(ev Event) {
	e.engagements.SetTalking(ev.MeetingID, ev.UserID, ev.Active)
}
