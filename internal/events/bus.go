// Package events carries progress events from the engine to whoever listens.
// Publishing never blocks: a slow subscriber loses its oldest events.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Phase is the operation an event belongs to.
type Phase string

// Phases
const (
	PhaseDrain  Phase = "drain"
	PhaseWalk   Phase = "walk"
	PhaseExport Phase = "export"
)

// Status of an item or a run.
type Status string

// Statuses
const (
	StatusStarted  Status = "started"
	StatusDone     Status = "done"
	StatusEmpty    Status = "empty"
	StatusFailed   Status = "failed"
	StatusProgress Status = "progress"
	StatusFinished Status = "finished"
)

// Event is one progress notification.
type Event struct {
	Seq       uint64    `json:"seq"`
	Time      time.Time `json:"time"`
	RunID     string    `json:"run_id,omitempty"`
	Phase     Phase     `json:"phase"`
	ItemRef   string    `json:"item_ref,omitempty"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Completed int       `json:"completed,omitempty"`
	Total     int       `json:"total,omitempty"`
}

// Publisher is what producers depend on.
type Publisher interface {
	Publish(ev Event)
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int

	seq     uint64 // guarded by mu
	dropped atomic.Uint64
	now     func() time.Time
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event), now: time.Now}
}

// Publish delivers ev to every subscriber without blocking.
// A nil bus drops everything.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}

	// seq is taken under mu so every subscriber sees it strictly increasing
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	ev.Seq = b.seq
	for _, ch := range b.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		// full: drop the oldest, then retry once
		select {
		case <-ch:
			b.dropped.Add(1)
		default:
		}
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel with the given buffer and a cancel func that
// unsubscribes and closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Pipe calls fn for every event until ctx is done.
func (b *Bus) Pipe(ctx context.Context, buffer int, fn func(Event)) {
	ch, cancel := b.Subscribe(buffer)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			fn(ev)
		}
	}
}

// Dropped returns how many events were discarded for slow subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
