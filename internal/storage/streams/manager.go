// Package streams implements the durable stream store and its log writer:
// crash-consistent append with offset assignment, cursor reads, TTL
// expiry, and terminal deletion. One writer is active per stream at a
// time; writers for different streams never contend.
package streams

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tailstream/engine/internal/logger"
	"github.com/tailstream/engine/internal/metrics"
	"github.com/tailstream/engine/internal/storage/events"
	"github.com/tailstream/engine/internal/storage/subs"
	"github.com/tailstream/engine/internal/tracing"
)

// Options tunes the manager.
type Options struct {
	// AppendRetries bounds commit attempts per append.
	AppendRetries int

	// SweepInterval is the TTL reaper period.
	SweepInterval time.Duration

	// BackfillChunk bounds events per subscriber delivery batch.
	BackfillChunk int

	// SubscriberBuffer bounds the per-subscriber notification queue.
	SubscriberBuffer int
}

func (o Options) withDefaults() Options {
	if o.AppendRetries < 1 {
		o.AppendRetries = 3
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 10 * time.Second
	}
	if o.BackfillChunk < 1 {
		o.BackfillChunk = 128
	}
	if o.SubscriberBuffer < 1 {
		o.SubscriberBuffer = 256
	}
	return o
}

// AppendOptions carries one append request.
type AppendOptions struct {
	Data events.Data

	// ExpectedSeq, when set, is the watermark the producer last observed.
	// A mismatch rejects the append with SequenceConflictError.
	ExpectedSeq *uint64

	// EventStreamID is the producer incarnation id. Empty means "use the
	// stream's creation incarnation".
	EventStreamID string

	// TTL applies only when the append implicitly creates the stream.
	TTL time.Duration
}

// CreateOptions carries an explicit stream creation.
type CreateOptions struct {
	TTL           time.Duration
	EventStreamID string
}

// streamState is the per-name writer exclusion. States are never removed;
// the map grows with the set of names ever touched, which is bounded by
// the same factor as the store itself.
type streamState struct {
	mu sync.Mutex
}

// Manager owns the stream keyspace of a shared Pebble DB and the
// subscription manager that fans out committed appends.
type Manager struct {
	db   *pebble.DB
	subs *subs.Manager

	states map[string]*streamState
	mu     sync.RWMutex

	opts    Options
	log     zerolog.Logger
	metrics *metrics.StreamMetrics

	stopCh chan struct{}
	ready  bool
	lifeMu sync.Mutex
}

// NewManager creates a stream manager over an open Pebble DB. metrics may
// be nil.
func NewManager(db *pebble.DB, opts Options, m *metrics.StreamMetrics) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		db:      db,
		subs:    subs.NewManager(opts.BackfillChunk, opts.SubscriberBuffer),
		states:  make(map[string]*streamState),
		opts:    opts,
		log:     logger.WithComponent("streams"),
		metrics: m,
	}
}

// Start launches the TTL reaper.
func (m *Manager) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.ready {
		return nil
	}
	m.stopCh = make(chan struct{})
	go m.runReaper(ctx, m.stopCh)
	m.ready = true
	m.log.Info().Dur("sweep_interval", m.opts.SweepInterval).Msg("Stream manager started")
	return nil
}

// Stop halts the reaper. The shared DB is closed by the owning store.
func (m *Manager) Stop(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if !m.ready {
		return nil
	}
	close(m.stopCh)
	m.ready = false
	m.log.Info().Msg("Stream manager stopped")
	return nil
}

// Ready reports whether the manager is serving.
func (m *Manager) Ready() bool {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	return m.ready
}

func (m *Manager) state(name string) *streamState {
	m.mu.RLock()
	st, ok := m.states[name]
	m.mu.RUnlock()
	if ok {
		return st
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok = m.states[name]; ok {
		return st
	}
	st = &streamState{}
	m.states[name] = st
	return st
}

type recordStatus int

const (
	statusOK recordStatus = iota
	statusMissing
	statusTombstone
)

// loadRecord reads a stream record. An expired record reports statusOK;
// callers decide between lazy NotFound and reaper purge.
func (m *Manager) loadRecord(name string) (Record, recordStatus, error) {
	val, closer, err := m.db.Get(keyMeta(name))
	if err == nil {
		rec, derr := decodeRecord(val)
		cerr := closer.Close()
		if derr != nil {
			return Record{}, statusMissing, ReadError{Name: name, Err: derr}
		}
		if cerr != nil {
			return Record{}, statusMissing, ReadError{Name: name, Err: cerr}
		}
		return rec, statusOK, nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return Record{}, statusMissing, ReadError{Name: name, Err: err}
	}

	_, closer, err = m.db.Get(keyTombstone(name))
	if err == nil {
		_ = closer.Close()
		return Record{}, statusTombstone, nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return Record{}, statusMissing, ReadError{Name: name, Err: err}
	}
	return Record{}, statusMissing, nil
}

// Create explicitly creates a stream. Creating an existing live stream is
// idempotent and returns the current record; a deleted or expired name is
// gone for good.
func (m *Manager) Create(ctx context.Context, name string, opts CreateOptions) (Record, error) {
	st := m.state(name)
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, status, err := m.loadRecord(name)
	if err != nil {
		return Record{}, err
	}
	switch status {
	case statusTombstone:
		return Record{}, StreamNotFoundError{Name: name}
	case statusOK:
		if rec.Expired(time.Now()) {
			return Record{}, StreamNotFoundError{Name: name}
		}
		return rec, nil
	}

	now := time.Now().UTC()
	rec = Record{
		Name:          name,
		EventStreamID: opts.EventStreamID,
		CreatedAt:     now,
	}
	if rec.EventStreamID == "" {
		rec.EventStreamID = uuid.NewString()
	}
	if opts.TTL > 0 {
		expires := now.Add(opts.TTL)
		rec.ExpiresAt = &expires
	}

	if err := m.commitRecord(ctx, name, rec, nil); err != nil {
		return Record{}, err
	}

	m.log.Info().
		Str("stream", name).
		Str("event_stream_id", rec.EventStreamID).
		Dur("ttl", opts.TTL).
		Msg("Stream created")
	return rec, nil
}

// Append durably persists one event and returns it with its assigned
// offset. The offset becomes visible only after the synced commit; a
// failed commit leaves the watermark unchanged.
func (m *Manager) Append(ctx context.Context, name string, opts AppendOptions) (events.Event, error) {
	ctx, span := StartAppendSpan(ctx, name, opts.Data.Type)
	evt, err := m.append(ctx, name, opts)
	if err == nil {
		span.SetAttributes(attribute.String(tracing.AttrOffset, evt.Offset))
	}
	endSpan(span, err)
	return evt, err
}

func (m *Manager) append(ctx context.Context, name string, opts AppendOptions) (events.Event, error) {
	start := time.Now()

	st := m.state(name)
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, status, err := m.loadRecord(name)
	if err != nil {
		return events.Event{}, err
	}
	switch status {
	case statusTombstone:
		return events.Event{}, StreamNotFoundError{Name: name}
	case statusMissing:
		// First append creates the stream implicitly.
		now := time.Now().UTC()
		rec = Record{
			Name:          name,
			EventStreamID: opts.EventStreamID,
			CreatedAt:     now,
		}
		if rec.EventStreamID == "" {
			rec.EventStreamID = uuid.NewString()
		}
		if opts.TTL > 0 {
			expires := now.Add(opts.TTL)
			rec.ExpiresAt = &expires
		}
	default:
		if rec.Expired(time.Now()) {
			return events.Event{}, StreamNotFoundError{Name: name}
		}
	}

	if opts.ExpectedSeq != nil && *opts.ExpectedSeq != rec.Watermark {
		return events.Event{}, SequenceConflictError{
			Name:     name,
			Expected: *opts.ExpectedSeq,
			Actual:   rec.Watermark,
		}
	}

	seq := rec.Watermark + 1
	incarnation := opts.EventStreamID
	if incarnation == "" {
		incarnation = rec.EventStreamID
	}
	evt := events.Event{
		Offset:        events.FormatOffset(seq),
		EventStreamID: incarnation,
		Data:          opts.Data,
		CreatedAt:     time.Now().UTC(),
	}

	encoded, err := encodeEvent(evt)
	if err != nil {
		return events.Event{}, WriteError{Name: name, Err: err}
	}
	rec.Watermark = seq

	if err := m.commitRecord(ctx, name, rec, encoded); err != nil {
		return events.Event{}, err
	}

	// Offset is durable; fan out to live subscribers.
	m.subs.Notify(name, evt)
	m.metrics.RecordAppend(name, len(encoded), time.Since(start))

	m.log.Debug().
		Str("stream", name).
		Str("offset", evt.Offset).
		Str("type", evt.Data.Type).
		Msg("Event appended")
	return evt, nil
}

// commitRecord writes the record (and optionally one event row keyed at
// the record's watermark) in a single synced batch, retrying transient
// persistence failures a bounded number of times.
func (m *Manager) commitRecord(ctx context.Context, name string, rec Record, encodedEvent []byte) error {
	meta, err := encodeRecord(rec)
	if err != nil {
		return WriteError{Name: name, Err: err}
	}

	var lastErr error
	for attempt := 0; attempt < m.opts.AppendRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return WriteError{Name: name, Err: err}
		}
		b := m.db.NewBatch()
		if encodedEvent != nil {
			if err := b.Set(keyEvent(name, rec.Watermark), encodedEvent, nil); err != nil {
				_ = b.Close()
				return WriteError{Name: name, Err: err}
			}
		}
		if err := b.Set(keyMeta(name), meta, nil); err != nil {
			_ = b.Close()
			return WriteError{Name: name, Err: err}
		}
		err := b.Commit(pebble.Sync)
		_ = b.Close()
		if err == nil {
			return nil
		}
		lastErr = err
		m.log.Warn().
			Err(err).
			Str("stream", name).
			Int("attempt", attempt+1).
			Msg("Commit failed, retrying")
		select {
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		case <-ctx.Done():
			return WriteError{Name: name, Err: ctx.Err()}
		}
	}
	return WriteError{Name: name, Err: lastErr}
}

// ReadFrom returns up to limit events with offset > cursor, in commit
// order, against a consistent snapshot. limit <= 0 means no bound. It
// never blocks, and is never blocked by, the stream's writer.
func (m *Manager) ReadFrom(ctx context.Context, name string, cursor uint64, limit int) ([]events.Event, error) {
	ctx, span := StartReadSpan(ctx, name, cursor)
	out, err := m.readFrom(ctx, name, cursor, limit)
	if err == nil {
		span.SetAttributes(attribute.Int(tracing.AttrEventCount, len(out)))
	}
	endSpan(span, err)
	return out, err
}

func (m *Manager) readFrom(ctx context.Context, name string, cursor uint64, limit int) ([]events.Event, error) {
	rec, status, err := m.loadRecord(name)
	if err != nil {
		return nil, err
	}
	if status != statusOK || rec.Expired(time.Now()) {
		return nil, StreamNotFoundError{Name: name}
	}

	low := keyEvent(name, cursor+1)
	_, high := keyEventBounds(name)
	iter, err := m.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return nil, ReadError{Name: name, Err: err}
	}
	defer func() { _ = iter.Close() }()

	out := make([]events.Event, 0, 16)
	for ok := iter.First(); ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, ReadError{Name: name, Err: err}
		}
		evt, derr := decodeEvent(iter.Value())
		if derr != nil {
			return nil, ReadError{Name: name, Err: derr}
		}
		// The key suffix and the stored envelope carry the offset
		// redundantly; a mismatch means a corrupt row, not a bad read.
		if seq := seqFromEventKey(iter.Key()); seq != evt.Seq() {
			return nil, ReadError{Name: name, Err: fmt.Errorf("event key offset %d does not match envelope offset %s", seq, evt.Offset)}
		}
		out = append(out, evt)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, ReadError{Name: name, Err: err}
	}
	m.metrics.RecordRead(name, len(out))
	return out, nil
}

// Get returns the stream record.
func (m *Manager) Get(name string) (Record, error) {
	rec, status, err := m.loadRecord(name)
	if err != nil {
		return Record{}, err
	}
	if status != statusOK || rec.Expired(time.Now()) {
		return Record{}, StreamNotFoundError{Name: name}
	}
	return rec, nil
}

// Watermark returns the highest committed offset of a stream.
func (m *Manager) Watermark(name string) (uint64, error) {
	rec, err := m.Get(name)
	if err != nil {
		return 0, err
	}
	return rec.Watermark, nil
}

// List enumerates live stream records. Expired records are hidden even
// before the reaper purges them.
func (m *Manager) List() ([]Record, error) {
	low, high := metaBounds()
	iter, err := m.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return nil, ReadError{Name: "*", Err: err}
	}
	defer func() { _ = iter.Close() }()

	now := time.Now()
	var out []Record
	for ok := iter.First(); ok; ok = iter.Next() {
		rec, derr := decodeRecord(iter.Value())
		if derr != nil {
			m.log.Warn().Str("key", string(iter.Key())).Msg("Skipping undecodable stream record")
			continue
		}
		if rec.Expired(now) {
			continue
		}
		out = append(out, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, ReadError{Name: "*", Err: err}
	}
	return out, nil
}

// Delete removes a stream and its events, writes a tombstone, and sends
// every subscriber the terminal signal. Idempotent; linearizable with
// concurrent appends and reads via the per-stream writer lock.
func (m *Manager) Delete(ctx context.Context, name string) error {
	ctx, span := StartDeleteSpan(ctx, name)

	st := m.state(name)
	st.mu.Lock()
	defer st.mu.Unlock()
	err := m.deleteLocked(ctx, name)
	endSpan(span, err)
	return err
}

func (m *Manager) deleteLocked(ctx context.Context, name string) error {
	_, status, err := m.loadRecord(name)
	if err != nil {
		return err
	}
	switch status {
	case statusMissing:
		return StreamNotFoundError{Name: name}
	case statusTombstone:
		// Re-deleting stays idempotent.
		return nil
	}

	low, high := keyEventBounds(name)
	b := m.db.NewBatch()
	defer func() { _ = b.Close() }()
	if err := b.DeleteRange(low, high, nil); err != nil {
		return WriteError{Name: name, Err: err}
	}
	if err := b.Delete(keyMeta(name), nil); err != nil {
		return WriteError{Name: name, Err: err}
	}
	if err := b.Set(keyTombstone(name), []byte(time.Now().UTC().Format(time.RFC3339Nano)), nil); err != nil {
		return WriteError{Name: name, Err: err}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return WriteError{Name: name, Err: err}
	}

	m.subs.CloseStream(name)
	m.metrics.RecordDelete(name)
	m.log.Info().Str("stream", name).Msg("Stream deleted")
	return nil
}

// Subscribe registers a live reader resuming from cursor (the "-1"
// sentinel means from the beginning).
func (m *Manager) Subscribe(ctx context.Context, name, cursor string) (*subs.Subscription, error) {
	cur, err := events.ParseCursor(cursor)
	if err != nil {
		return nil, InvalidCursorError{Cursor: cursor, Reason: err.Error()}
	}
	rec, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return m.subs.Subscribe(ctx, name, cur, rec.Watermark, m), nil
}

// Subscribers returns the live subscriber count for a stream.
func (m *Manager) Subscribers(name string) int {
	return m.subs.Count(name)
}
