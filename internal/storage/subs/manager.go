// Package subs tracks the active subscribers of each stream and turns
// committed appends into in-order, gap-free, duplicate-free deliveries.
package subs

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tailstream/engine/internal/logger"
	"github.com/tailstream/engine/internal/storage/events"
)

// Reader is the slice of the stream store a subscriber needs for backfill
// and for catching up after a notification overflow.
type Reader interface {
	// ReadFrom returns up to limit events with offset > cursor, in order.
	ReadFrom(ctx context.Context, name string, cursor uint64, limit int) ([]events.Event, error)
}

// Manager holds the subscriber registry for every stream. It is owned by
// the stream manager; appends are fanned out through Notify and stream
// removal through CloseStream.
type Manager struct {
	mu      sync.RWMutex
	streams map[string]map[*Subscription]struct{}

	chunk  int
	buffer int
	log    zerolog.Logger
}

// NewManager creates a subscription manager. chunk bounds backfill batch
// size; buffer bounds the per-subscriber live notification queue.
func NewManager(chunk, buffer int) *Manager {
	if chunk < 1 {
		chunk = 128
	}
	if buffer < 1 {
		buffer = 256
	}
	return &Manager{
		streams: make(map[string]map[*Subscription]struct{}),
		chunk:   chunk,
		buffer:  buffer,
		log:     logger.WithComponent("subs"),
	}
}

// Subscribe registers a subscriber for a stream and starts its delivery
// loop. cursor is the last offset the consumer has folded; watermark is
// the highest committed offset observed at subscribe time.
func (m *Manager) Subscribe(ctx context.Context, name string, cursor, watermark uint64, reader Reader) *Subscription {
	s := &Subscription{
		mgr:    m,
		name:   name,
		reader: reader,
		cursor: cursor,
		frames: make(chan Frame, 1),
		notify: make(chan events.Event, m.buffer),
		closed: make(chan struct{}),
	}
	s.last.Store(cursor)
	s.state.Store(int32(StateBackfilling))

	m.mu.Lock()
	set, ok := m.streams[name]
	if !ok {
		set = make(map[*Subscription]struct{})
		m.streams[name] = set
	}
	set[s] = struct{}{}
	m.mu.Unlock()

	m.log.Debug().
		Str("stream", name).
		Uint64("cursor", cursor).
		Uint64("watermark", watermark).
		Msg("Subscriber registered")

	go s.run(ctx, watermark)
	return s
}

// Notify fans a committed append out to every subscriber of the stream.
// It never blocks the writer: a subscriber whose queue is full is marked
// lagged and re-reads from the store once it drains.
func (m *Manager) Notify(name string, evts ...events.Event) {
	if len(evts) == 0 {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for s := range m.streams[name] {
		for _, evt := range evts {
			select {
			case s.notify <- evt:
			default:
				s.lagged.Store(true)
			}
		}
	}
}

// CloseStream sends every subscriber of the stream a terminal frame and
// closes it. Called by the stream manager on delete and on TTL expiry.
func (m *Manager) CloseStream(name string) {
	m.mu.Lock()
	set := m.streams[name]
	delete(m.streams, name)
	m.mu.Unlock()

	for s := range set {
		s.deleted.Store(true)
		s.close()
	}
	if len(set) > 0 {
		m.log.Debug().Str("stream", name).Int("subscribers", len(set)).Msg("Stream subscribers closed")
	}
}

// Count returns the number of active subscribers for a stream.
func (m *Manager) Count(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams[name])
}

// remove deregisters a subscription. Synchronous and O(1).
func (m *Manager) remove(s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.streams[s.name]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(m.streams, s.name)
		}
	}
}
