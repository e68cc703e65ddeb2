package subs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tailstream/engine/internal/storage/events"
)

// Subscription is one reader's handle on a stream. A dedicated goroutine
// drives the Backfilling -> Live -> Closed state machine and pushes frames
// on a channel; the transport only ever reads Frames and calls Close.
type Subscription struct {
	mgr    *Manager
	name   string
	reader Reader
	cursor uint64

	frames chan Frame
	notify chan events.Event
	closed chan struct{}

	closeOnce sync.Once
	state     atomic.Int32
	last      atomic.Uint64
	lagged    atomic.Bool
	deleted   atomic.Bool
}

// Frames returns the delivery channel. It is closed when the subscription
// ends; a FrameDeleted is the final frame if the stream was removed.
func (s *Subscription) Frames() <-chan Frame {
	return s.frames
}

// State returns the current lifecycle phase.
func (s *Subscription) State() State {
	return State(s.state.Load())
}

// Stream returns the subscribed stream name.
func (s *Subscription) Stream() string {
	return s.name
}

// Cursor returns the consumer-supplied resume position the subscription
// started from.
func (s *Subscription) Cursor() uint64 {
	return s.cursor
}

// NextOffset returns the cursor a consumer should resume from, one past
// the last offset pushed onto the frames channel. Only meaningful for
// frames already consumed from the channel; the transport tracks what it
// has actually written when it advertises a cursor out of band.
func (s *Subscription) NextOffset() string {
	return events.FormatOffset(s.last.Load() + 1)
}

// Close deregisters the subscription. Synchronous: once it returns, no
// further work is done on behalf of this subscriber.
func (s *Subscription) Close() {
	s.mgr.remove(s)
	s.close()
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// run drives delivery: chunked backfill up to the watermark observed at
// subscribe time, the up-to-date control frame, then live pushes.
func (s *Subscription) run(ctx context.Context, watermark uint64) {
	defer func() {
		s.state.Store(int32(StateClosed))
		if s.deleted.Load() {
			// Best effort terminal signal; the transport is normally
			// blocked on Frames and picks it up immediately.
			select {
			case s.frames <- Frame{Kind: FrameDeleted}:
			case <-time.After(time.Second):
			}
		}
		close(s.frames)
		s.mgr.remove(s)
	}()

	if !s.backfill(ctx, watermark) {
		return
	}

	// The watermark was captured before this subscriber was registered,
	// so an append committing in that window queued no notification. One
	// authoritative store read closes it; durable-commit-before-notify
	// ordering guarantees any such event is already readable.
	if !s.catchUp(ctx) {
		return
	}

	if !s.send(ctx, Frame{
		Kind:    FrameControl,
		Control: &Control{StreamNextOffset: s.NextOffset(), UpToDate: true},
	}) {
		return
	}
	s.state.Store(int32(StateLive))

	for {
		if s.lagged.Load() {
			// Notifications were dropped while the queue was full; fall
			// back to store reads until caught up again.
			s.state.Store(int32(StateBackfilling))
			if !s.catchUp(ctx) {
				return
			}
			s.state.Store(int32(StateLive))
		}

		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case evt := <-s.notify:
			batch := []events.Event{evt}
			// Coalesce everything already pending into one frame.
		drain:
			for len(batch) < s.mgr.chunk {
				select {
				case next := <-s.notify:
					batch = append(batch, next)
				default:
					break drain
				}
			}

			last := s.last.Load()
			out := make([]events.Event, 0, len(batch))
			for _, e := range batch {
				if e.Seq() > last {
					out = append(out, e)
					last = e.Seq()
				}
			}
			if len(out) == 0 {
				continue
			}
			if !s.send(ctx, Frame{Kind: FrameData, Events: out}) {
				return
			}
			s.last.Store(last)
		}
	}
}

// backfill delivers the stored segment (cursor, watermark] in bounded
// chunks. Appends landing during backfill queue on the notify channel and
// are deduplicated by the last-delivered guard.
func (s *Subscription) backfill(ctx context.Context, watermark uint64) bool {
	for s.last.Load() < watermark {
		evts, err := s.reader.ReadFrom(ctx, s.name, s.last.Load(), s.mgr.chunk)
		if err != nil {
			s.mgr.log.Debug().Err(err).Str("stream", s.name).Msg("Backfill read failed")
			return false
		}
		if len(evts) == 0 {
			break
		}
		if !s.send(ctx, Frame{Kind: FrameData, Events: evts}) {
			return false
		}
		s.last.Store(evts[len(evts)-1].Seq())
	}
	return true
}

// catchUp reads from the store until it is drained: after backfill, to
// pick up commits the notify channel never saw, and after a notification
// overflow. Queued notifications are discarded first; the store is
// authoritative.
func (s *Subscription) catchUp(ctx context.Context) bool {
	s.lagged.Store(false)
	for {
		select {
		case <-s.notify:
			continue
		default:
		}
		break
	}

	for {
		evts, err := s.reader.ReadFrom(ctx, s.name, s.last.Load(), s.mgr.chunk)
		if err != nil {
			return false
		}
		if len(evts) == 0 {
			return true
		}
		if !s.send(ctx, Frame{Kind: FrameData, Events: evts}) {
			return false
		}
		s.last.Store(evts[len(evts)-1].Seq())
	}
}

// send delivers a frame unless the subscription is torn down first.
func (s *Subscription) send(ctx context.Context, f Frame) bool {
	select {
	case s.frames <- f:
		return true
	case <-ctx.Done():
		return false
	case <-s.closed:
		return false
	}
}
