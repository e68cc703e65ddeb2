package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apihttp "github.com/tailstream/engine/internal/api/http"
	"github.com/tailstream/engine/internal/api/validation"
	"github.com/tailstream/engine/internal/storage"
)

// newTestClient spins up a real engine backed by a temp directory and
// returns a client pointed at it.
func newTestClient(t *testing.T) *Client {
	t.Helper()

	store, err := storage.Open(storage.Config{DataDir: t.TempDir()}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Stop(ctx)
	})

	validator, err := validation.NewEventValidator()
	require.NoError(t, err)

	srv := httptest.NewServer(apihttp.NewServer("127.0.0.1:0", store, validator, nil, 30*time.Millisecond).Handler())
	t.Cleanup(srv.Close)

	return NewClient(srv.URL)
}

func TestClientCreate(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	info, err := c.Create(ctx, "session-1", WithTTL(time.Minute), WithEventStreamID("run-42"))
	require.NoError(t, err)
	assert.Equal(t, "session-1", info.Name)
	assert.Equal(t, "run-42", info.EventStreamID)
	assert.Equal(t, "1", info.NextOffset)
	require.NotNil(t, info.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Minute), *info.ExpiresAt, 5*time.Second)
}

func TestClientAppendAndPoll(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	off, err := c.Append(ctx, "chat", "note", map[string]string{"text": "a"})
	require.NoError(t, err)
	assert.Equal(t, "1", off)

	off, err = c.Prompt(ctx, "chat", "what next?")
	require.NoError(t, err)
	assert.Equal(t, "2", off)

	res, err := c.Poll(ctx, "chat")
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assert.Equal(t, "1", res.Events[0].Offset)
	assert.Equal(t, "note", res.Events[0].Data.Type)
	assert.Equal(t, "prompt", res.Events[1].Data.Type)
	assert.Equal(t, "3", res.NextOffset)
	assert.Equal(t, "2", res.Cursor)
	assert.True(t, res.UpToDate)
	assert.NotEmpty(t, res.ETag)
}

func TestClientPollPagination(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.Append(ctx, "chat", "note", nil)
		require.NoError(t, err)
	}

	res, err := c.Poll(ctx, "chat", WithPollMax(2))
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assert.False(t, res.UpToDate)

	// Resume from the returned cursor until caught up.
	var total int
	cursor := res.Cursor
	total += len(res.Events)
	for !res.UpToDate {
		res, err = c.Poll(ctx, "chat", WithPollCursor(cursor), WithPollMax(2))
		require.NoError(t, err)
		total += len(res.Events)
		cursor = res.Cursor
	}
	assert.Equal(t, 5, total)
	assert.Equal(t, "5", cursor)
}

func TestClientPollETag(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Append(ctx, "chat", "note", nil)
	require.NoError(t, err)

	res, err := c.Poll(ctx, "chat")
	require.NoError(t, err)
	require.NotEmpty(t, res.ETag)

	// An unchanged watermark short-circuits with no events.
	cached, err := c.Poll(ctx, "chat", WithPollCursor(res.Cursor), WithPollETag(res.ETag))
	require.NoError(t, err)
	assert.Empty(t, cached.Events)
	assert.True(t, cached.UpToDate)
	assert.Equal(t, res.Cursor, cached.Cursor)

	// New events invalidate the cached tag.
	_, err = c.Append(ctx, "chat", "note", nil)
	require.NoError(t, err)
	fresh, err := c.Poll(ctx, "chat", WithPollCursor(res.Cursor), WithPollETag(res.ETag))
	require.NoError(t, err)
	require.Len(t, fresh.Events, 1)
	assert.NotEqual(t, res.ETag, fresh.ETag)
}

func TestClientAppendExpectedSeq(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Append(ctx, "chat", "note", nil)
	require.NoError(t, err)
	_, err = c.Append(ctx, "chat", "note", nil)
	require.NoError(t, err)

	_, err = c.Append(ctx, "chat", "note", nil, WithExpectedSeq("1"))
	require.Error(t, err)

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsConflict())
	assert.Equal(t, "3", apiErr.NextOffset)

	off, err := c.Append(ctx, "chat", "note", nil, WithExpectedSeq("2"))
	require.NoError(t, err)
	assert.Equal(t, "3", off)
}

func TestClientNotFound(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Poll(ctx, "ghost")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsNotFound())

	err = c.Delete(ctx, "ghost")
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsNotFound())
}

func TestClientDelete(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Append(ctx, "chat", "note", nil)
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, "chat"))

	_, err = c.Poll(ctx, "chat")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsNotFound())
}

func TestClientList(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	streams, err := c.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, streams)

	_, err = c.Create(ctx, "alpha")
	require.NoError(t, err)
	_, err = c.Create(ctx, "beta")
	require.NoError(t, err)

	streams, err = c.List(ctx)
	require.NoError(t, err)
	require.Len(t, streams, 2)

	names := []string{streams[0].Name, streams[1].Name}
	assert.ElementsMatch(t, []string{"alpha", "beta"}, names)
}

func TestClientInvalidEvent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Append(ctx, "chat", "", nil)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsInvalid())
}
