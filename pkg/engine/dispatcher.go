package engine

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// handlerFunc processes one dispatched event. Handlers run synchronously and
// to completion; they never suspend.
type handlerFunc func(Event)

// Dispatcher routes tagged events to their handlers. Routing is total: a
// recognized tag goes to exactly one handler, an unrecognized tag produces a
// rate-limited diagnostic and no state action. A panicking handler is
// recovered and counted so one bad event cannot block the ones behind it.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[EventType]handlerFunc

	unknownCount   int64
	panicCount     int64
	unknownByType  map[EventType]int64
	unknownLimiter *rate.Limiter

	logger *zap.Logger
}

// NewDispatcher creates a dispatcher with an empty routing table.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		handlers:      make(map[EventType]handlerFunc),
		unknownByType: make(map[EventType]int64),
		// One unknown-event log per second with small bursts; the counters
		// still see every occurrence.
		unknownLimiter: rate.NewLimiter(rate.Limit(1), 5),
		logger:         logger.Named("dispatcher"),
	}
}

// Register installs the handler for the tag, replacing any previous one.
func (d *Dispatcher) Register(t EventType, h handlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = h
}

// RegisteredTypes returns all tags the dispatcher routes.
func (d *Dispatcher) RegisteredTypes() []EventType {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]EventType, 0, len(d.handlers))
	for t := range d.handlers {
		out = append(out, t)
	}
	return out
}

// Dispatch routes the event to its handler, synchronously. Unknown tags are
// reported and dropped, never an error.
func (d *Dispatcher) Dispatch(ev Event) {
	d.mu.RLock()
	h, ok := d.handlers[ev.Type]
	d.mu.RUnlock()

	if !ok {
		d.reportUnknown(ev)
		return
	}
	d.run(h, ev)
}

func (d *Dispatcher) run(h handlerFunc, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&d.panicCount, 1)
			d.logger.Error("event handler panicked",
				zap.String("type", string(ev.Type)),
				zap.String("meetingID", ev.MeetingID),
				zap.Any("panic", r))
		}
	}()
	h(ev)
}

func (d *Dispatcher) reportUnknown(ev Event) {
	atomic.AddInt64(&d.unknownCount, 1)

	d.mu.Lock()
	d.unknownByType[ev.Type]++
	count := d.unknownByType[ev.Type]
	d.mu.Unlock()

	if d.unknownLimiter.Allow() {
		d.logger.Warn("unhandled event",
			zap.String("type", string(ev.Type)),
			zap.String("meetingID", ev.MeetingID),
			zap.Int64("occurrences", count),
			zap.Int64("totalUnknown", atomic.LoadInt64(&d.unknownCount)))
	}
}

// UnknownEventCount returns the total number of unrecognized events seen.
func (d *Dispatcher) UnknownEventCount() int64 {
	return atomic.LoadInt64(&d.unknownCount)
}

// HandlerPanicCount returns the number of recovered handler panics.
func (d *Dispatcher) HandlerPanicCount() int64 {
	return atomic.LoadInt64(&d.panicCount)
}

// UnknownEventTypes returns a copy of the per-tag unknown-event counts.
func (d *Dispatcher) UnknownEventTypes() map[EventType]int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[EventType]int64, len(d.unknownByType))
	for t, n := range d.unknownByType {
		out[t] = n
	}
	return out
}
