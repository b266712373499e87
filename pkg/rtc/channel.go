// Package rtc provides the production implementation of the engine's
// signaling channels on top of pion/webrtc. Only the negotiation protocol
// lives here: offers and answers are applied to a peer connection and
// generated answers are handed to the application's outbound path. Media
// capture, encoding, and rendering belong to the application.
package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/ndrewnee/meetingsync/pkg/engine"
)

// AnswerSender delivers a locally generated answer for a server-initiated
// offer to the outbound request layer.
type AnswerSender func(meetingID string, kind engine.ChannelKind, sdp string) error

// Config configures a Factory.
type Config struct {
	// ICEServers lists STUN/TURN server URLs for the peer connections.
	ICEServers []string
	// SendAnswer is invoked with answers produced in response to remote
	// offers. Required for the inbound multiplex to complete negotiation.
	SendAnswer AnswerSender
	Logger     *zap.Logger
}

// Factory creates pion-backed signaling channels. It implements
// engine.ChannelFactory.
type Factory struct {
	config webrtc.Configuration
	send   AnswerSender
	logger *zap.Logger
}

// NewFactory creates a channel factory.
func NewFactory(cfg Config) *Factory {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var iceServers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	return &Factory{
		config: webrtc.Configuration{ICEServers: iceServers},
		send:   cfg.SendAnswer,
		logger: logger.Named("rtc"),
	}
}

// CreateChannel opens a peer connection for the given channel kind with the
// matching transceiver direction.
func (f *Factory) CreateChannel(meetingID string, kind engine.ChannelKind, opts engine.ConnectOptions) (engine.SignalChannel, error) {
	return f.newChannel(meetingID, kind)
}

// CreateReceiver opens the inbound multiplex channel.
func (f *Factory) CreateReceiver(meetingID string) (engine.StreamReceiver, error) {
	ch, err := f.newChannel(meetingID, engine.ChannelInboundMux)
	if err != nil {
		return nil, err
	}
	return &receiver{channel: ch}, nil
}

func (f *Factory) newChannel(meetingID string, kind engine.ChannelKind) (*channel, error) {
	pc, err := webrtc.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	var codecType webrtc.RTPCodecType
	var direction webrtc.RTPTransceiverDirection
	switch kind {
	case engine.ChannelAudio:
		codecType = webrtc.RTPCodecTypeAudio
		direction = webrtc.RTPTransceiverDirectionSendrecv
	case engine.ChannelVideoOut, engine.ChannelScreenOut:
		codecType = webrtc.RTPCodecTypeVideo
		direction = webrtc.RTPTransceiverDirectionSendonly
	case engine.ChannelInboundMux:
		codecType = webrtc.RTPCodecTypeVideo
		direction = webrtc.RTPTransceiverDirectionRecvonly
	default:
		pc.Close()
		return nil, fmt.Errorf("unsupported channel kind %v", kind)
	}
	if _, err := pc.AddTransceiverFromKind(codecType, webrtc.RTPTransceiverInit{Direction: direction}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
	}

	return &channel{
		meetingID: meetingID,
		kind:      kind,
		pc:        pc,
		send:      f.send,
		logger: f.logger.With(
			zap.String("meetingID", meetingID),
			zap.Stringer("channel", kind)),
	}, nil
}

// channel is one negotiation endpoint backed by a pion peer connection.
type channel struct {
	mu        sync.Mutex
	meetingID string
	kind      engine.ChannelKind
	pc        *webrtc.PeerConnection
	send      AnswerSender
	logger    *zap.Logger
	closed    bool

	// mutedTracks remembers the tracks detached by SetSendMuted so an
	// unmute can reattach them.
	mutedTracks map[*webrtc.RTPSender]webrtc.TrackLocal
}

// Offer starts a local negotiation: it creates an offer, applies it as the
// local description, and returns the SDP for the caller to send. Used by the
// outbound request layer when opening or renegotiating an outbound channel.
func (c *channel) Offer() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", engine.ErrChannelClosed
	}

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return offer.SDP, nil
}

// HandleRemoteOffer applies the remote offer, produces an answer, and hands
// it to the configured AnswerSender.
func (c *channel) HandleRemoteOffer(sdp string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return engine.ErrChannelClosed
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	if c.send == nil {
		c.logger.Warn("answer generated but no sender configured")
		return nil
	}
	if err := c.send(c.meetingID, c.kind, answer.SDP); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	return nil
}

// HandleRemoteAnswer applies the remote answer to a locally initiated
// negotiation.
func (c *channel) HandleRemoteAnswer(sdp string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return engine.ErrChannelClosed
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

// SetSendMuted detaches or reattaches the outbound tracks without
// renegotiating. Muting with no track attached yet is a no-op; the
// application honors the mute when it attaches one.
func (c *channel) SetSendMuted(muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return engine.ErrChannelClosed
	}

	if muted {
		for _, sender := range c.pc.GetSenders() {
			track := sender.Track()
			if track == nil {
				continue
			}
			if err := sender.ReplaceTrack(nil); err != nil {
				return fmt.Errorf("detach track: %w", err)
			}
			if c.mutedTracks == nil {
				c.mutedTracks = make(map[*webrtc.RTPSender]webrtc.TrackLocal)
			}
			c.mutedTracks[sender] = track
		}
		return nil
	}
	for sender, track := range c.mutedTracks {
		if err := sender.ReplaceTrack(track); err != nil {
			return fmt.Errorf("reattach track: %w", err)
		}
	}
	c.mutedTracks = nil
	return nil
}

// CloseSend permanently stops every outbound sender. Only a new channel
// restores sending; the moderator-mute path relies on that.
func (c *channel) CloseSend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return engine.ErrChannelClosed
	}

	for _, sender := range c.pc.GetSenders() {
		if err := sender.Stop(); err != nil {
			return fmt.Errorf("stop sender: %w", err)
		}
	}
	return nil
}

// Close tears the peer connection down. Close is idempotent.
func (c *channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.pc.Close(); err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}
	return nil
}

// receiver is the inbound multiplex channel. Besides negotiation it records
// the server's confirmed stream list, which the application consults to map
// incoming tracks back to participants.
type receiver struct {
	*channel
	streamsMu sync.RWMutex
	streams   []engine.StreamRef
}

// UpdateStreams stores the server-confirmed list of forwarded streams.
func (r *receiver) UpdateStreams(streams []engine.StreamRef) error {
	r.channel.mu.Lock()
	closed := r.channel.closed
	r.channel.mu.Unlock()
	if closed {
		return engine.ErrChannelClosed
	}

	r.streamsMu.Lock()
	r.streams = append([]engine.StreamRef(nil), streams...)
	r.streamsMu.Unlock()
	return nil
}

// ConfirmedStreams returns a copy of the last confirmed stream list.
func (r *receiver) ConfirmedStreams() []engine.StreamRef {
	r.streamsMu.RLock()
	defer r.streamsMu.RUnlock()
	return append([]engine.StreamRef(nil), r.streams...)
}
