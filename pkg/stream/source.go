// Package stream connects the engine to the server's event socket. It reads
// JSON frames, decodes the tagged event records, and hands each event to the
// dispatcher. Reconnection and backoff live in the surrounding transport
// layer: when the read loop exits, the caller resets engine state and
// attaches a fresh source, because ordering across a reconnect boundary is
// not guaranteed.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ndrewnee/meetingsync/pkg/engine"
)

// wireEvent is the JSON shape of a server-pushed event. Every record carries
// type and sentDate; the remaining fields are type specific and optional.
type wireEvent struct {
	Type        string       `json:"type"`
	SentDate    int64        `json:"sentDate"`
	MeetingID   string       `json:"meetingId"`
	RoomID      string       `json:"roomId"`
	UserID      string       `json:"userId"`
	ModeratorID string       `json:"moderatorId,omitempty"`
	MediaType   string       `json:"mediaType,omitempty"`
	Active      bool         `json:"active,omitempty"`
	SDP         string       `json:"sdp,omitempty"`
	Streams     []wireStream `json:"streams,omitempty"`
}

type wireStream struct {
	UserID string `json:"userId"`
	Kind   string `json:"kind"`
}

// DecodeEvent parses one JSON frame into an engine event. sentDate is epoch
// milliseconds on the wire.
func DecodeEvent(data []byte) (engine.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return engine.Event{}, fmt.Errorf("decode event frame: %w", err)
	}
	if w.Type == "" {
		return engine.Event{}, errors.New("event frame has no type")
	}

	ev := engine.Event{
		Type:        engine.EventType(w.Type),
		MeetingID:   w.MeetingID,
		RoomID:      w.RoomID,
		UserID:      w.UserID,
		ModeratorID: w.ModeratorID,
		MediaType:   engine.StreamKind(w.MediaType),
		Active:      w.Active,
		SDP:         w.SDP,
	}
	if w.SentDate > 0 {
		ev.SentAt = time.UnixMilli(w.SentDate)
	}
	for _, s := range w.Streams {
		ev.Streams = append(ev.Streams, engine.StreamRef{
			UserID: s.UserID,
			Kind:   engine.StreamKind(s.Kind),
		})
	}
	return ev, nil
}

// Options configures a Source.
type Options struct {
	Logger *zap.Logger
	// FrameLimit caps the sustained rate of inbound frames; Burst allows
	// short spikes, which replays after a quiet period produce. Zero values
	// disable limiting.
	FrameLimit rate.Limit
	Burst      int
}

// Source reads events from one websocket connection and dispatches them in
// arrival order.
type Source struct {
	conn     *websocket.Conn
	dispatch func(engine.Event)
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewSource wraps an established connection. dispatch is typically
// (*engine.Engine).Dispatch.
func NewSource(conn *websocket.Conn, dispatch func(engine.Event), opts Options) *Source {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if opts.FrameLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(opts.FrameLimit, burst)
	}
	return &Source{
		conn:     conn,
		dispatch: dispatch,
		limiter:  limiter,
		logger:   logger.Named("stream"),
	}
}

// Dial connects to the event socket with a bearer token and returns a
// source. The handshake uses a short timeout; anything longer means the
// caller's backoff should take over.
func Dial(ctx context.Context, url, token string, dispatch func(engine.Event), opts Options) (*Source, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial event socket: %w", err)
	}
	return NewSource(conn, dispatch, opts), nil
}

// Run reads frames until the connection fails or ctx is cancelled. Frames
// that fail to decode are logged and skipped; the stream itself stays up.
func (s *Source) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-done:
		}
	}()

	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read event frame: %w", err)
		}
		ev, err := DecodeEvent(data)
		if err != nil {
			s.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		s.dispatch(ev)
	}
}

// Close closes the underlying connection.
func (s *Source) Close() error {
	return s.conn.Close()
}
