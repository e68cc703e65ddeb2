package client

import (
	"context"
	"sync"
	"time"
)

// reconnect backoff bounds for Reduce.
const (
	reduceBackoffMin = 500 * time.Millisecond
	reduceBackoffMax = 15 * time.Second
)

// Reducer folds one event into the projected state.
type Reducer[S any] func(state S, evt Event) S

// Projection is a live fold of a stream into state S. It tails the
// stream, applies each event exactly once in offset order, and
// reconnects from its committed cursor on transport failure.
type Projection[S any] struct {
	mu       sync.RWMutex
	state    S
	cursor   string
	isLoaded bool
	deleted  bool
	lastSeq  uint64

	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

// Reduce starts a projection of the stream using the given reducer and
// initial state. The projection runs until the stream is deleted, the
// context is cancelled, or Stop is called.
func Reduce[S any](ctx context.Context, c *Client, stream string, initial S, reduce Reducer[S], opts ...TailOption) *Projection[S] {
	options := &TailOptions{Cursor: CursorStart}
	for _, opt := range opts {
		opt(options)
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Projection[S]{
		state:  initial,
		cursor: options.Cursor,
		done:   make(chan struct{}),
		cancel: cancel,
	}
	if seq, err := parseSeq(options.Cursor); err == nil {
		p.lastSeq = seq
	}

	go p.run(ctx, c, stream, reduce)
	return p
}

func (p *Projection[S]) run(ctx context.Context, c *Client, stream string, reduce Reducer[S]) {
	defer close(p.done)
	defer p.cancel()

	backoff := reduceBackoffMin
	for {
		frames, errs := c.Tail(ctx, stream, WithCursor(p.Cursor()))

		healthy := p.consume(frames, reduce)
		err := <-errs

		if ctx.Err() != nil || p.Deleted() {
			return
		}
		if err != nil {
			if e, ok := err.(*Error); ok && e.IsNotFound() {
				p.fail(err)
				return
			}
			c.log.Warn().Err(err).Str("stream", stream).Msg("Tail failed, reconnecting")
		}

		// A connection that delivered frames resets the backoff.
		if healthy {
			backoff = reduceBackoffMin
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > reduceBackoffMax {
			backoff = reduceBackoffMax
		}
	}
}

// consume folds frames until the channel closes. Returns true if at
// least one frame arrived.
func (p *Projection[S]) consume(frames <-chan Frame, reduce Reducer[S]) bool {
	healthy := false
	for frame := range frames {
		healthy = true
		switch frame.Kind {
		case FrameData:
			p.mu.Lock()
			for _, evt := range frame.Events {
				seq := evt.Seq()
				// Replays after a reconnect are dropped here.
				if seq <= p.lastSeq {
					continue
				}
				p.state = reduce(p.state, evt)
				p.lastSeq = seq
				p.cursor = evt.Offset
			}
			p.mu.Unlock()
		case FrameControl:
			p.mu.Lock()
			if seq, err := parseSeq(frame.Control.StreamNextOffset); err == nil && seq > 0 && seq-1 >= p.lastSeq {
				p.cursor = formatSeq(seq - 1)
				p.lastSeq = seq - 1
			}
			if frame.Control.UpToDate {
				p.isLoaded = true
			}
			p.mu.Unlock()
		case FrameDeleted:
			p.mu.Lock()
			p.deleted = true
			p.mu.Unlock()
			return healthy
		}
	}
	return healthy
}

// State returns the current folded state.
func (p *Projection[S]) State() S {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Cursor returns the offset of the last applied event; resuming a new
// projection from it continues without duplicates.
func (p *Projection[S]) Cursor() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cursor
}

// IsLoaded reports whether backfill has completed at least once.
func (p *Projection[S]) IsLoaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isLoaded
}

// Deleted reports whether the stream was deleted, ending the projection.
func (p *Projection[S]) Deleted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.deleted
}

// Err returns the terminal error, if any, after Done is closed.
func (p *Projection[S]) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

func (p *Projection[S]) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Done is closed when the projection stops.
func (p *Projection[S]) Done() <-chan struct{} {
	return p.done
}

// Stop cancels the projection and waits for it to finish.
func (p *Projection[S]) Stop() {
	p.cancel()
	<-p.done
}
