package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tailstream/engine/internal/storage/events"
	"github.com/tailstream/engine/internal/storage/subs"
)

func setupTestManager(t *testing.T) (*Manager, string, func()) {
	tmpDir := t.TempDir()
	dbDir := filepath.Join(tmpDir, "streams")

	db, err := pebble.Open(dbDir, &pebble.Options{})
	require.NoError(t, err)

	manager := NewManager(db, Options{SweepInterval: 50 * time.Millisecond}, nil)
	ctx := context.Background()
	require.NoError(t, manager.Start(ctx))

	cleanup := func() {
		assert.NoError(t, manager.Stop(ctx))
		assert.NoError(t, db.Close())
	}
	return manager, dbDir, cleanup
}

func appendN(t *testing.T, m *Manager, name string, n int) []events.Event {
	t.Helper()
	ctx := context.Background()
	out := make([]events.Event, 0, n)
	for i := 0; i < n; i++ {
		evt, err := m.Append(ctx, name, AppendOptions{
			Data: events.Data{
				Type:    "prompt",
				Payload: json.RawMessage(fmt.Sprintf(`{"text":"message %d"}`, i+1)),
			},
		})
		require.NoError(t, err)
		out = append(out, evt)
	}
	return out
}

func TestManager_AppendAssignsSequentialOffsets(t *testing.T) {
	manager, _, cleanup := setupTestManager(t)
	defer cleanup()

	evts := appendN(t, manager, "session-1", 3)
	assert.Equal(t, "1", evts[0].Offset)
	assert.Equal(t, "2", evts[1].Offset)
	assert.Equal(t, "3", evts[2].Offset)

	watermark, err := manager.Watermark("session-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), watermark)
}

func TestManager_AppendCreatesStreamImplicitly(t *testing.T) {
	manager, _, cleanup := setupTestManager(t)
	defer cleanup()

	_, err := manager.Get("session-1")
	require.IsType(t, StreamNotFoundError{}, err)

	evt, err := manager.Append(context.Background(), "session-1", AppendOptions{
		Data: events.Data{Type: "session-create"},
	})
	require.NoError(t, err)
	assert.Equal(t, "1", evt.Offset)
	assert.NotEmpty(t, evt.EventStreamID)

	rec, err := manager.Get("session-1")
	require.NoError(t, err)
	assert.Equal(t, evt.EventStreamID, rec.EventStreamID)
	assert.Equal(t, uint64(1), rec.Watermark)
}

func TestManager_ReadFromRoundTrip(t *testing.T) {
	manager, _, cleanup := setupTestManager(t)
	defer cleanup()

	appended := appendN(t, manager, "session-1", 5)

	got, err := manager.ReadFrom(context.Background(), "session-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, evt := range got {
		assert.Equal(t, appended[i].Offset, evt.Offset)
		assert.Equal(t, appended[i].Data.Type, evt.Data.Type)
		assert.JSONEq(t, string(appended[i].Data.Payload), string(evt.Data.Payload))
	}
}

func TestManager_ReadFromCursorSemantics(t *testing.T) {
	manager, _, cleanup := setupTestManager(t)
	defer cleanup()

	appendN(t, manager, "session-1", 4)
	ctx := context.Background()

	// Cursor 2 returns only events after offset 2.
	got, err := manager.ReadFrom(ctx, "session-1", 2, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "3", got[0].Offset)
	assert.Equal(t, "4", got[1].Offset)

	// Cursor at the watermark yields nothing.
	got, err = manager.ReadFrom(ctx, "session-1", 4, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	// Limit caps the page.
	got, err = manager.ReadFrom(ctx, "session-1", 0, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[1].Offset)
}

func TestManager_ReadFromDetectsCorruptEventRow(t *testing.T) {
	manager, _, cleanup := setupTestManager(t)
	defer cleanup()
	ctx := context.Background()

	appendN(t, manager, "session-1", 2)

	// Plant an envelope under the wrong key; the offset is stored
	// redundantly in both, so reads must refuse the mismatch.
	evts, err := manager.ReadFrom(ctx, "session-1", 0, 0)
	require.NoError(t, err)
	bad := evts[1]
	bad.Offset = "5"
	raw, err := encodeEvent(bad)
	require.NoError(t, err)
	require.NoError(t, manager.db.Set(keyEvent("session-1", 2), raw, pebble.Sync))

	_, err = manager.ReadFrom(ctx, "session-1", 0, 0)
	var readErr ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Contains(t, err.Error(), "does not match")
}

func TestManager_ExpectedSeq(t *testing.T) {
	manager, _, cleanup := setupTestManager(t)
	defer cleanup()

	appendN(t, manager, "session-1", 2)
	ctx := context.Background()

	stale := uint64(1)
	_, err := manager.Append(ctx, "session-1", AppendOptions{
		Data:        events.Data{Type: "prompt", Payload: json.RawMessage(`{"text":"late"}`)},
		ExpectedSeq: &stale,
	})
	var conflict SequenceConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, uint64(1), conflict.Expected)
	assert.Equal(t, uint64(2), conflict.Actual)

	// The failed append must not consume an offset.
	watermark, err := manager.Watermark("session-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), watermark)

	current := uint64(2)
	evt, err := manager.Append(ctx, "session-1", AppendOptions{
		Data:        events.Data{Type: "prompt", Payload: json.RawMessage(`{"text":"wins"}`)},
		ExpectedSeq: &current,
	})
	require.NoError(t, err)
	assert.Equal(t, "3", evt.Offset)
}

func TestManager_CreateIsIdempotent(t *testing.T) {
	manager, _, cleanup := setupTestManager(t)
	defer cleanup()
	ctx := context.Background()

	first, err := manager.Create(ctx, "session-1", CreateOptions{EventStreamID: "incarnation-a"})
	require.NoError(t, err)
	assert.Equal(t, "incarnation-a", first.EventStreamID)

	second, err := manager.Create(ctx, "session-1", CreateOptions{EventStreamID: "incarnation-b"})
	require.NoError(t, err)
	assert.Equal(t, "incarnation-a", second.EventStreamID, "create on a live stream returns the existing record")
}

func TestManager_DeleteIsTerminal(t *testing.T) {
	manager, _, cleanup := setupTestManager(t)
	defer cleanup()
	ctx := context.Background()

	appendN(t, manager, "session-1", 3)
	require.NoError(t, manager.Delete(ctx, "session-1"))

	_, err := manager.Get("session-1")
	assert.IsType(t, StreamNotFoundError{}, err)

	_, err = manager.ReadFrom(ctx, "session-1", 0, 0)
	assert.IsType(t, StreamNotFoundError{}, err)

	// The name cannot be resurrected by append or create.
	_, err = manager.Append(ctx, "session-1", AppendOptions{Data: events.Data{Type: "prompt", Payload: json.RawMessage(`{"text":"x"}`)}})
	assert.IsType(t, StreamNotFoundError{}, err)

	_, err = manager.Create(ctx, "session-1", CreateOptions{})
	assert.IsType(t, StreamNotFoundError{}, err)

	// Deleting again is a no-op.
	assert.NoError(t, manager.Delete(ctx, "session-1"))
}

func TestManager_TTLExpiry(t *testing.T) {
	manager, _, cleanup := setupTestManager(t)
	defer cleanup()
	ctx := context.Background()

	rec, err := manager.Create(ctx, "ephemeral", CreateOptions{TTL: 30 * time.Millisecond})
	require.NoError(t, err)
	require.NotNil(t, rec.ExpiresAt)

	time.Sleep(60 * time.Millisecond)

	// Expired streams are invisible even before the reaper runs.
	_, err = manager.Get("ephemeral")
	assert.IsType(t, StreamNotFoundError{}, err)

	manager.sweepExpired(ctx)

	// After the sweep the name is tombstoned like an explicit delete.
	_, err = manager.Create(ctx, "ephemeral", CreateOptions{})
	assert.IsType(t, StreamNotFoundError{}, err)
}

func TestManager_ListHidesExpired(t *testing.T) {
	manager, _, cleanup := setupTestManager(t)
	defer cleanup()
	ctx := context.Background()

	_, err := manager.Create(ctx, "alive", CreateOptions{})
	require.NoError(t, err)
	_, err = manager.Create(ctx, "doomed", CreateOptions{TTL: 10 * time.Millisecond})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	recs, err := manager.List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "alive", recs[0].Name)
}

func TestManager_RecoversAfterReopen(t *testing.T) {
	tmpDir := t.TempDir()
	dbDir := filepath.Join(tmpDir, "streams")
	ctx := context.Background()

	db, err := pebble.Open(dbDir, &pebble.Options{})
	require.NoError(t, err)
	manager := NewManager(db, Options{}, nil)
	require.NoError(t, manager.Start(ctx))

	appendN(t, manager, "session-1", 3)
	appendN(t, manager, "gone", 1)
	require.NoError(t, manager.Delete(ctx, "gone"))

	require.NoError(t, manager.Stop(ctx))
	require.NoError(t, db.Close())

	db, err = pebble.Open(dbDir, &pebble.Options{})
	require.NoError(t, err)
	defer func() { assert.NoError(t, db.Close()) }()

	reopened := NewManager(db, Options{}, nil)
	require.NoError(t, reopened.Start(ctx))
	defer func() { assert.NoError(t, reopened.Stop(ctx)) }()

	watermark, err := reopened.Watermark("session-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), watermark)

	// Appends continue where the log left off.
	evt, err := reopened.Append(ctx, "session-1", AppendOptions{
		Data: events.Data{Type: "prompt", Payload: json.RawMessage(`{"text":"after restart"}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, "4", evt.Offset)

	// The tombstone survives the restart.
	_, err = reopened.Append(ctx, "gone", AppendOptions{
		Data: events.Data{Type: "prompt"},
	})
	var notFound StreamNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestManager_ConcurrentAppendsAreGapFree(t *testing.T) {
	manager, _, cleanup := setupTestManager(t)
	defer cleanup()
	ctx := context.Background()

	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := manager.Append(ctx, "busy", AppendOptions{
					Data: events.Data{
						Type:    "prompt",
						Payload: json.RawMessage(fmt.Sprintf(`{"writer":%d,"i":%d}`, w, i)),
					},
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	watermark, err := manager.Watermark("busy")
	require.NoError(t, err)
	assert.Equal(t, uint64(writers*perWriter), watermark)

	got, err := manager.ReadFrom(ctx, "busy", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, writers*perWriter)
	for i, evt := range got {
		assert.Equal(t, uint64(i+1), evt.Seq(), "offsets must be dense and ordered")
	}
}

func TestManager_SubscribeValidation(t *testing.T) {
	manager, _, cleanup := setupTestManager(t)
	defer cleanup()
	ctx := context.Background()

	_, err := manager.Subscribe(ctx, "missing", "-1")
	assert.IsType(t, StreamNotFoundError{}, err)

	appendN(t, manager, "session-1", 1)
	_, err = manager.Subscribe(ctx, "session-1", "not-a-cursor")
	assert.IsType(t, InvalidCursorError{}, err)
}

func waitFrame(t *testing.T, sub *subs.Subscription) subs.Frame {
	t.Helper()
	select {
	case frame, open := <-sub.Frames():
		require.True(t, open, "frames channel closed unexpectedly")
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return subs.Frame{}
	}
}

func TestManager_SubscribeBackfillThenLive(t *testing.T) {
	manager, _, cleanup := setupTestManager(t)
	defer cleanup()
	ctx := context.Background()

	appendN(t, manager, "session-1", 2)

	sub, err := manager.Subscribe(ctx, "session-1", "-1")
	require.NoError(t, err)
	defer sub.Close()

	// Backfill delivers the stored events first.
	frame := waitFrame(t, sub)
	require.Equal(t, subs.FrameData, frame.Kind)
	require.Len(t, frame.Events, 2)
	assert.Equal(t, "1", frame.Events[0].Offset)
	assert.Equal(t, "2", frame.Events[1].Offset)

	// Then the up-to-date control frame with a resumable cursor.
	frame = waitFrame(t, sub)
	require.Equal(t, subs.FrameControl, frame.Kind)
	require.NotNil(t, frame.Control)
	assert.Equal(t, "3", frame.Control.StreamNextOffset)
	assert.True(t, frame.Control.UpToDate)

	// Live appends arrive as pushes.
	appendN(t, manager, "session-1", 1)
	frame = waitFrame(t, sub)
	require.Equal(t, subs.FrameData, frame.Kind)
	require.Len(t, frame.Events, 1)
	assert.Equal(t, "3", frame.Events[0].Offset)
}

func TestManager_SubscribeResumeFromCursor(t *testing.T) {
	manager, _, cleanup := setupTestManager(t)
	defer cleanup()
	ctx := context.Background()

	appendN(t, manager, "session-1", 5)

	sub, err := manager.Subscribe(ctx, "session-1", "3")
	require.NoError(t, err)
	defer sub.Close()

	frame := waitFrame(t, sub)
	require.Equal(t, subs.FrameData, frame.Kind)
	require.Len(t, frame.Events, 2)
	assert.Equal(t, "4", frame.Events[0].Offset)
	assert.Equal(t, "5", frame.Events[1].Offset)
}

func TestManager_SubscribeAtWatermarkIsImmediatelyLive(t *testing.T) {
	manager, _, cleanup := setupTestManager(t)
	defer cleanup()
	ctx := context.Background()

	appendN(t, manager, "session-1", 2)

	sub, err := manager.Subscribe(ctx, "session-1", "2")
	require.NoError(t, err)
	defer sub.Close()

	frame := waitFrame(t, sub)
	require.Equal(t, subs.FrameControl, frame.Kind)
	assert.True(t, frame.Control.UpToDate)
	assert.Equal(t, "3", frame.Control.StreamNextOffset)
}

func TestManager_DeleteSignalsSubscribers(t *testing.T) {
	manager, _, cleanup := setupTestManager(t)
	defer cleanup()
	ctx := context.Background()

	appendN(t, manager, "session-1", 1)

	sub, err := manager.Subscribe(ctx, "session-1", "-1")
	require.NoError(t, err)

	// Drain backfill and the control frame.
	require.Equal(t, subs.FrameData, waitFrame(t, sub).Kind)
	require.Equal(t, subs.FrameControl, waitFrame(t, sub).Kind)

	require.NoError(t, manager.Delete(ctx, "session-1"))

	frame := waitFrame(t, sub)
	assert.Equal(t, subs.FrameDeleted, frame.Kind)

	// The frames channel closes after the terminal signal.
	select {
	case _, open := <-sub.Frames():
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("frames channel did not close after deleted frame")
	}
}

func TestManager_SubscriberCountTracksClose(t *testing.T) {
	manager, _, cleanup := setupTestManager(t)
	defer cleanup()
	ctx := context.Background()

	appendN(t, manager, "session-1", 1)

	sub, err := manager.Subscribe(ctx, "session-1", "-1")
	require.NoError(t, err)
	assert.Equal(t, 1, manager.Subscribers("session-1"))

	sub.Close()
	assert.Equal(t, 0, manager.Subscribers("session-1"), "close must deregister synchronously")
}
