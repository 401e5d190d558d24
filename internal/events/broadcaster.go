// Package events fans state-change notifications out to in-process subscribers.
package events

import (
	"log/slog"
	"sync"
	"time"

	"web3-gateway-go/internal/metrics"
)

// Type 事件类型
type Type string

const (
	HealthUpdated  Type = "health_updated"
	ProcessStarted Type = "process_started"
	ProcessStopped Type = "process_stopped"
	ProcessOutput  Type = "process_output"
)

// Event is one notification. Data holds a type-specific payload.
type Event struct {
	Type Type        `json:"type"`
	Coin string      `json:"coin,omitempty"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data"`
}

// ProcessStartedData is the payload of ProcessStarted.
type ProcessStartedData struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Command   []string  `json:"command"`
}

// ProcessStoppedData is the payload of ProcessStopped. Manual is false when
// the process exited on its own.
type ProcessStoppedData struct {
	Manual   bool          `json:"manual"`
	ExitCode int           `json:"exit_code"`
	Forced   bool          `json:"forced,omitempty"`
	Uptime   time.Duration `json:"uptime_ns"`
	Error    string        `json:"error,omitempty"`
}

// ProcessOutputData is the payload of ProcessOutput.
type ProcessOutputData struct {
	Stream string `json:"stream"`
	Line   string `json:"line"`
}

// Publisher is what producers depend on.
type Publisher interface {
	Publish(ev Event)
}

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

// Broadcaster delivers every published event to every connected subscriber
// in publish order. A subscriber whose queue is full is disconnected rather
// than allowed to stall producers.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool
	logger *slog.Logger
}

var _ Publisher = (*Broadcaster)(nil)

func NewBroadcaster(buffer int, logger *slog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Subscription is one subscriber's queue.
type Subscription struct {
	id      uint64
	ch      chan Event
	b       *Broadcaster
	closed  bool // guarded by b.mu
	dropped bool // guarded by b.mu
}

// Events is closed when the subscription ends, by Close, by the broadcaster
// shutting down or by the subscriber falling behind.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped reports whether the subscription was ended because its queue
// overflowed. A dropped subscriber may subscribe again.
func (s *Subscription) Dropped() bool {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.dropped
}

// Close disconnects the subscriber. Safe to call more than once.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.removeLocked(s)
}

// Subscribe registers a new subscriber. After Close on the broadcaster the
// returned subscription is already closed.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &Subscription{id: b.nextID, ch: make(chan Event, b.buffer), b: b}
	if b.closed {
		s.closed = true
		close(s.ch)
		return s
	}
	b.subs[s.id] = s
	metrics.Get().Subscribers.Set(float64(len(b.subs)))
	return s
}

// Publish never blocks.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			b.logger.Warn("event_subscriber_dropped",
				slog.Uint64("subscriber", s.id),
				slog.String("event", string(ev.Type)))
			metrics.Get().SubscribersDropped.Inc()
			s.dropped = true
			b.removeLocked(s)
		}
	}
}

// Close disconnects every subscriber; later publishes are discarded.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, s := range b.subs {
		b.removeLocked(s)
	}
}

func (b *Broadcaster) removeLocked(s *Subscription) {
	if s.closed {
		return
	}
	s.closed = true
	delete(b.subs, s.id)
	close(s.ch)
	metrics.Get().Subscribers.Set(float64(len(b.subs)))
}
