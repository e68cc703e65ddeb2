// Package handlers implements the HTTP surface of the stream engine:
// producer appends, poll reads, live tails, and stream management.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/tailstream/engine/internal/api/validation"
	"github.com/tailstream/engine/internal/logger"
	"github.com/tailstream/engine/internal/metrics"
	"github.com/tailstream/engine/internal/storage"
	"github.com/tailstream/engine/internal/storage/events"
	"github.com/tailstream/engine/internal/storage/streams"
)

// Wire headers of the stream protocol.
const (
	HeaderNextOffset = "Stream-Next-Offset"
	HeaderCursor     = "Stream-Cursor"
	HeaderUpToDate   = "Stream-Up-To-Date"
	HeaderSeq        = "Stream-Seq"
	HeaderTTL        = "Stream-TTL"
	HeaderExpiresAt  = "Stream-Expires-At"
)

// StreamHandlers provides HTTP handlers for stream operations
type StreamHandlers struct {
	storage   storage.Backend
	validator *validation.EventValidator
	metrics   *metrics.StreamMetrics
	heartbeat time.Duration
	log       zerolog.Logger
}

// NewStreamHandlers creates new stream handlers. heartbeat is the control
// frame interval on live connections; metrics may be nil.
func NewStreamHandlers(backend storage.Backend, validator *validation.EventValidator, m *metrics.StreamMetrics, heartbeat time.Duration) *StreamHandlers {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &StreamHandlers{
		storage:   backend,
		validator: validator,
		metrics:   m,
		heartbeat: heartbeat,
		log:       logger.WithComponent("http.streams"),
	}
}

// CreateStreamRequest is the optional body of an explicit create.
type CreateStreamRequest struct {
	EventStreamID string `json:"eventStreamId,omitempty"`
}

// StreamResponse renders a stream record.
type StreamResponse struct {
	Name          string     `json:"name"`
	EventStreamID string     `json:"eventStreamId"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	NextOffset    string     `json:"nextOffset"`
}

func streamResponse(rec streams.Record) StreamResponse {
	return StreamResponse{
		Name:          rec.Name,
		EventStreamID: rec.EventStreamID,
		CreatedAt:     rec.CreatedAt,
		ExpiresAt:     rec.ExpiresAt,
		NextOffset:    events.FormatOffset(rec.Watermark + 1),
	}
}

// Create handles POST /api/v1/streams/{name}
func (h *StreamHandlers) Create(w http.ResponseWriter, r *http.Request, name string) {
	if err := validation.ValidateStreamName(name); err != nil {
		h.writeError(w, err, name)
		return
	}

	var req CreateStreamRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	ttl, err := parseTTL(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := h.storage.Streams().Create(r.Context(), name, streams.CreateOptions{
		TTL:           ttl,
		EventStreamID: req.EventStreamID,
	})
	if err != nil {
		h.writeError(w, err, name)
		return
	}

	if rec.ExpiresAt != nil {
		w.Header().Set(HeaderExpiresAt, rec.ExpiresAt.Format(time.RFC3339Nano))
	}
	writeJSON(w, http.StatusCreated, streamResponse(rec))
}

// AppendEventRequest is the producer-facing append body.
type AppendEventRequest struct {
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	EventStreamID string          `json:"eventStreamId,omitempty"`
}

// AppendEventResponse returns the assigned offset.
type AppendEventResponse struct {
	Offset string `json:"offset"`
}

// Append handles POST /api/v1/streams/{name}/events
func (h *StreamHandlers) Append(w http.ResponseWriter, r *http.Request, name string) {
	if err := validation.ValidateStreamName(name); err != nil {
		h.writeError(w, err, name)
		return
	}

	var req AppendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	data := events.Data{Type: req.Type, Payload: req.Payload}
	if err := h.validator.Validate(data); err != nil {
		h.writeError(w, err, name)
		return
	}

	opts := streams.AppendOptions{
		Data:          data,
		EventStreamID: req.EventStreamID,
	}

	if seq := r.Header.Get(HeaderSeq); seq != "" {
		expected, err := events.ParseOffset(seq)
		if err != nil {
			http.Error(w, "invalid "+HeaderSeq+" header", http.StatusBadRequest)
			return
		}
		opts.ExpectedSeq = &expected
	}

	ttl, err := parseTTL(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts.TTL = ttl

	evt, err := h.storage.Streams().Append(r.Context(), name, opts)
	if err != nil {
		h.writeError(w, err, name)
		return
	}

	writeJSON(w, http.StatusOK, AppendEventResponse{Offset: evt.Offset})
}

// PollResponse is the snapshot-mode read body.
type PollResponse struct {
	Events []events.Event `json:"events"`
}

// Poll handles GET /api/v1/streams/{name}?offset={cursor} without a live
// mode: one backfill read plus resumption metadata headers, then the
// connection closes.
func (h *StreamHandlers) Poll(w http.ResponseWriter, r *http.Request, name string) {
	cursor, err := events.ParseCursor(r.URL.Query().Get("offset"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	evtFilter, err := compileFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	limit := 0
	if m := r.URL.Query().Get("max"); m != "" {
		limit, err = strconv.Atoi(m)
		if err != nil || limit <= 0 {
			http.Error(w, "invalid max parameter", http.StatusBadRequest)
			return
		}
	}

	mgr := h.storage.Streams()
	watermark, err := mgr.Watermark(name)
	if err != nil {
		h.writeError(w, err, name)
		return
	}

	etag := fmt.Sprintf("%q", name+"@"+events.FormatOffset(watermark))
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag && cursor >= watermark {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	evts, err := mgr.ReadFrom(r.Context(), name, cursor, limit)
	if err != nil {
		h.writeError(w, err, name)
		return
	}

	// The cursor tracks the raw read position, so filtered-out events
	// are still considered delivered.
	delivered := cursor
	if len(evts) > 0 {
		delivered = evts[len(evts)-1].Seq()
	}
	evts = filterEvents(evtFilter, evts)

	w.Header().Set(HeaderNextOffset, events.FormatOffset(watermark+1))
	w.Header().Set(HeaderCursor, events.FormatOffset(delivered))
	w.Header().Set(HeaderUpToDate, strconv.FormatBool(delivered >= watermark))
	w.Header().Set("ETag", etag)
	writeJSON(w, http.StatusOK, PollResponse{Events: evts})
}

// Delete handles DELETE /api/v1/streams/{name}
func (h *StreamHandlers) Delete(w http.ResponseWriter, r *http.Request, name string) {
	if err := h.storage.Streams().Delete(r.Context(), name); err != nil {
		h.writeError(w, err, name)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListStreamsResponse enumerates known streams.
type ListStreamsResponse struct {
	Streams []StreamResponse `json:"streams"`
}

// List handles GET /api/v1/streams
func (h *StreamHandlers) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.storage.Streams().List()
	if err != nil {
		h.writeError(w, err, "")
		return
	}
	resp := ListStreamsResponse{Streams: make([]StreamResponse, 0, len(recs))}
	for _, rec := range recs {
		resp.Streams = append(resp.Streams, streamResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseTTL reads the Stream-TTL header as relative seconds.
func parseTTL(r *http.Request) (time.Duration, error) {
	raw := r.Header.Get(HeaderTTL)
	if raw == "" {
		return 0, nil
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("invalid %s header: must be positive seconds", HeaderTTL)
	}
	return time.Duration(secs) * time.Second, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto HTTP status codes.
func (h *StreamHandlers) writeError(w http.ResponseWriter, err error, name string) {
	statusCode := http.StatusInternalServerError

	switch e := err.(type) {
	case streams.StreamNotFoundError:
		statusCode = http.StatusNotFound
	case streams.SequenceConflictError:
		statusCode = http.StatusConflict
		w.Header().Set(HeaderNextOffset, events.FormatOffset(e.Actual+1))
	case streams.InvalidCursorError:
		statusCode = http.StatusBadRequest
	case validation.ValidationError:
		statusCode = http.StatusBadRequest
	case validation.StreamNameError:
		statusCode = http.StatusBadRequest
	}

	if statusCode == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("stream", name).Msg("Stream operation failed")
	}

	writeJSON(w, statusCode, map[string]interface{}{
		"status":  "error",
		"message": err.Error(),
	})
}
