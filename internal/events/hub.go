// Package events fans door transitions and access events out to live
// subscribers (SSE, gRPC Watch) and to an optional message bus.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

type Kind string

const (
	KindDoorState   Kind = "door_state"
	KindAccessEvent Kind = "access_event"
)

// Bus subjects.
const (
	SubjectDoorState   = "portunus.door.state"
	SubjectAccessEvent = "portunus.access.event"
)

// Notification is one entry in the live stream. Exactly one of Door and
// Event is set.
type Notification struct {
	Seq   uint64                `json:"seq"`
	Kind  Kind                  `json:"kind"`
	At    time.Time             `json:"at"`
	Door  *types.DoorTransition `json:"door,omitempty"`
	Event *types.AccessEvent    `json:"event,omitempty"`
}

func (n Notification) Subject() string {
	if n.Kind == KindDoorState {
		return SubjectDoorState
	}
	return SubjectAccessEvent
}

// Sink forwards notifications outside the process.
type Sink interface {
	Publish(ctx context.Context, subject string, data any) error
}

type HubConfig struct {
	// QueueSize bounds notifications waiting for dispatch. Defaults to 1024.
	QueueSize int
	Sink      Sink
	Logger    *slog.Logger
}

// Hub dispatches notifications from a single goroutine, so every
// subscriber sees them in publish order. Publishing never blocks: when
// the queue or a subscriber buffer is full the notification is dropped
// for that consumer and counted.
type Hub struct {
	sink   Sink
	logger *slog.Logger
	queue  chan Notification
	done   chan struct{}
	seq    uint64 // owned by loop

	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
	subs   map[int]chan Notification
	nextID int
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Hub{
		sink:   cfg.Sink,
		logger: cfg.Logger,
		queue:  make(chan Notification, cfg.QueueSize),
		done:   make(chan struct{}),
		subs:   make(map[int]chan Notification),
	}
	go h.loop()
	return h
}

func (h *Hub) PublishDoorTransition(tr types.DoorTransition) {
	h.publish(Notification{Kind: KindDoorState, At: tr.At, Door: &tr})
}

func (h *Hub) PublishAccessEvent(ev types.AccessEvent) {
	at := ev.EntryAt
	if ev.ExitAt != nil {
		at = *ev.ExitAt
	}
	h.publish(Notification{Kind: KindAccessEvent, At: at, Event: &ev})
}

func (h *Hub) publish(n Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.queue <- n:
	default:
		h.dropped.Add(1)
		h.logger.Warn("notification queue full, dropping", "kind", n.Kind)
	}
}

// Subscribe registers a live consumer with a buffer of buf notifications.
// The returned cancel func unregisters it and closes the channel.
func (h *Hub) Subscribe(buf int) (<-chan Notification, func()) {
	if buf <= 0 {
		buf = 64
	}
	ch := make(chan Notification, buf)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Dropped reports how many deliveries were skipped because a queue or
// subscriber buffer was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Close drains queued notifications and closes every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		<-h.done
		return
	}
	h.closed = true
	close(h.queue)
	h.mu.Unlock()
	<-h.done

	h.mu.Lock()
	for id, c := range h.subs {
		delete(h.subs, id)
		close(c)
	}
	h.mu.Unlock()
}

func (h *Hub) loop() {
	defer close(h.done)
	for n := range h.queue {
		// Numbered here so seq always matches delivery order.
		h.seq++
		n.Seq = h.seq
		h.deliver(n)
	}
}

func (h *Hub) deliver(n Notification) {
	h.mu.RLock()
	for _, c := range h.subs {
		select {
		case c <- n:
		default:
			h.dropped.Add(1)
		}
	}
	h.mu.RUnlock()

	if h.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.sink.Publish(ctx, n.Subject(), n); err != nil {
		h.logger.Warn("notification forward failed", "subject", n.Subject(), "seq", n.Seq, "err", err)
	}
}
