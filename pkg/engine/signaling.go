package engine

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ChannelKind identifies one negotiation endpoint of a meeting.
type ChannelKind int

const (
	// ChannelAudio is the bidirectional audio channel.
	ChannelAudio ChannelKind = iota
	// ChannelVideoOut carries the local camera stream to the server.
	ChannelVideoOut
	// ChannelScreenOut carries the local screen share to the server.
	ChannelScreenOut
	// ChannelInboundMux is the multiplexed inbound channel over which the
	// server forwards all subscribed remote video and screen streams.
	ChannelInboundMux
)

// String returns the channel name used in logs.
func (k ChannelKind) String() string {
	switch k {
	case ChannelAudio:
		return "audio"
	case ChannelVideoOut:
		return "video-out"
	case ChannelScreenOut:
		return "screen-out"
	case ChannelInboundMux:
		return "inbound-mux"
	default:
		return "unknown"
	}
}

// ErrChannelClosed is returned by channel implementations after Close.
var ErrChannelClosed = errors.New("engine: signaling channel closed")

// SignalChannel is an opaque negotiation endpoint. The engine never inspects
// SDP contents; it only routes payloads to the right channel. An
// implementation that generates an answer in response to a remote offer
// delivers it through its own outbound path, which is outside this engine.
type SignalChannel interface {
	// HandleRemoteOffer applies a remote offer to the channel. The
	// implementation produces and sends the answer itself.
	HandleRemoteOffer(sdp string) error
	// HandleRemoteAnswer applies the remote answer to a locally initiated
	// negotiation.
	HandleRemoteAnswer(sdp string) error
	// SetSendMuted pauses or resumes the channel's outbound direction
	// without renegotiating.
	SetSendMuted(muted bool) error
	// CloseSend permanently stops the outbound direction. Used when a
	// moderator force-mutes the local user.
	CloseSend() error
	// Close tears the channel down.
	Close() error
}

// StreamReceiver is the inbound multiplex channel. Besides negotiation it
// accepts the server's confirmed list of forwarded streams.
type StreamReceiver interface {
	SignalChannel
	UpdateStreams(streams []StreamRef) error
}

// ChannelFactory creates the negotiation endpoints for a meeting. The
// production implementation lives in pkg/rtc; tests inject mocks.
type ChannelFactory interface {
	CreateChannel(meetingID string, kind ChannelKind, opts ConnectOptions) (SignalChannel, error)
	CreateReceiver(meetingID string) (StreamReceiver, error)
}

// SignalingSession is the set of negotiation channels for one engaged
// meeting: bidirectional audio, outbound video, outbound screen, and the
// inbound multiplex. It owns routing by kind and direction, nothing else.
type SignalingSession struct {
	meetingID string
	audio     SignalChannel
	videoOut  SignalChannel
	screenOut SignalChannel
	inbound   StreamReceiver
	logger    *zap.Logger
}

// NewSignalingSession creates all four channels for the meeting. On any
// failure the channels created so far are closed and the error returned.
func NewSignalingSession(factory ChannelFactory, meetingID string, opts ConnectOptions, logger *zap.Logger) (*SignalingSession, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sess := &SignalingSession{
		meetingID: meetingID,
		logger:    logger.Named("signaling").With(zap.String("meetingID", meetingID)),
	}

	var err error
	if sess.audio, err = factory.CreateChannel(meetingID, ChannelAudio, opts); err != nil {
		return nil, fmt.Errorf("create audio channel: %w", err)
	}
	if sess.videoOut, err = factory.CreateChannel(meetingID, ChannelVideoOut, opts); err != nil {
		sess.Close()
		return nil, fmt.Errorf("create video channel: %w", err)
	}
	if sess.screenOut, err = factory.CreateChannel(meetingID, ChannelScreenOut, opts); err != nil {
		sess.Close()
		return nil, fmt.Errorf("create screen channel: %w", err)
	}
	if sess.inbound, err = factory.CreateReceiver(meetingID); err != nil {
		sess.Close()
		return nil, fmt.Errorf("create inbound channel: %w", err)
	}
	return sess, nil
}

// Channel returns the endpoint of the given kind.
func (s *SignalingSession) Channel(kind ChannelKind) (SignalChannel, bool) {
	switch kind {
	case ChannelAudio:
		return s.audio, s.audio != nil
	case ChannelVideoOut:
		return s.videoOut, s.videoOut != nil
	case ChannelScreenOut:
		return s.screenOut, s.screenOut != nil
	case ChannelInboundMux:
		if s.inbound == nil {
			return nil, false
		}
		return s.inbound, true
	default:
		return nil, false
	}
}

// OutboundChannelFor maps a stream kind to the matching outbound channel.
func (s *SignalingSession) OutboundChannelFor(kind StreamKind) (SignalChannel, bool) {
	switch kind {
	case StreamVideo:
		return s.Channel(ChannelVideoOut)
	case StreamScreen:
		return s.Channel(ChannelScreenOut)
	default:
		return nil, false
	}
}

// ApplyRemoteAnswer routes an answer payload to the channel of the given
// kind. A failing channel is logged, not propagated: one bad negotiation
// must not block the dispatch loop.
func (s *SignalingSession) ApplyRemoteAnswer(kind ChannelKind, sdp string) {
	ch, ok := s.Channel(kind)
	if !ok {
		return
	}
	if err := ch.HandleRemoteAnswer(sdp); err != nil {
		s.logger.Warn("remote answer rejected", zap.Stringer("channel", kind), zap.Error(err))
	}
}

// ApplyRemoteOffer routes an offer payload to the channel of the given kind.
func (s *SignalingSession) ApplyRemoteOffer(kind ChannelKind, sdp string) {
	ch, ok := s.Channel(kind)
	if !ok {
		return
	}
	if err := ch.HandleRemoteOffer(sdp); err != nil {
		s.logger.Warn("remote offer rejected", zap.Stringer("channel", kind), zap.Error(err))
	}
}

// UpdateInboundStreams forwards the server's confirmed stream list to the
// inbound multiplex.
func (s *SignalingSession) UpdateInboundStreams(streams []StreamRef) {
	if s.inbound == nil {
		return
	}
	if err := s.inbound.UpdateStreams(streams); err != nil {
		s.logger.Warn("inbound stream update rejected", zap.Error(err))
	}
}

// SetAudioMuted pauses or resumes the outbound audio direction.
func (s *SignalingSession) SetAudioMuted(muted bool) error {
	if s.audio == nil {
		return ErrChannelClosed
	}
	return s.audio.SetSendMuted(muted)
}

// CloseAudioSend permanently stops outbound audio. The moderator-mute path
// uses this; only a reconnect restores the sender.
func (s *SignalingSession) CloseAudioSend() {
	if s.audio == nil {
		return
	}
	if err := s.audio.CloseSend(); err != nil {
		s.logger.Warn("closing audio sender failed", zap.Error(err))
	}
}

// Close tears down every channel. Errors are logged and swallowed; teardown
// is best effort and must always complete.
func (s *SignalingSession) Close() {
	for _, ch := range []SignalChannel{s.audio, s.videoOut, s.screenOut, s.inbound} {
		if ch == nil {
			continue
		}
		if err := ch.Close(); err != nil && !errors.Is(err, ErrChannelClosed) {
			s.logger.Warn("channel close failed", zap.Error(err))
		}
	}
	s.audio, s.videoOut, s.screenOut, s.inbound = nil, nil, nil, nil
}
