package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tailstream/engine/internal/storage/events"
	"github.com/tailstream/engine/internal/storage/subs"
)

// Subscribe handles GET /api/v1/streams/{name}?offset={cursor}&live=sse:
// a long-lived response streaming data frames (backfill, then live
// pushes), control frames (up-to-date marker and heartbeats), and the
// terminal deleted frame. Closing the connection tears the subscription
// down synchronously.
func (h *StreamHandlers) Subscribe(w http.ResponseWriter, r *http.Request, name string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	evtFilter, err := compileFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sub, err := h.storage.Streams().Subscribe(r.Context(), name, r.URL.Query().Get("offset"))
	if err != nil {
		h.writeError(w, err, name)
		return
	}
	defer sub.Close()

	h.metrics.SubscriberConnected(name)
	defer h.metrics.SubscriberDisconnected(name)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	h.log.Debug().Str("stream", name).Msg("Live subscriber connected")

	// Heartbeat cursors cover only what this loop has written to the
	// wire. sub.NextOffset races ahead of frames still queued on the
	// channel, and a client checkpointing such a cursor would drop the
	// following data frame as a duplicate. Filtered-out events still
	// advance the cursor; they are consumed positions, just not shown.
	written := sub.Cursor()

	for {
		select {
		case <-r.Context().Done():
			return

		case frame, open := <-sub.Frames():
			if !open {
				return
			}
			if frame.Kind == subs.FrameData {
				written = frame.Events[len(frame.Events)-1].Seq()
				frame.Events = filterEvents(evtFilter, frame.Events)
				if len(frame.Events) == 0 {
					continue
				}
			}
			if err := writeSSEFrame(w, frame); err != nil {
				return
			}
			flusher.Flush()
			if frame.Kind == subs.FrameDeleted {
				return
			}

		case <-heartbeat.C:
			// Heartbeats let idle clients checkpoint a resumable cursor
			// and expose half-open connections via the write error.
			ctrl := subs.Frame{
				Kind: subs.FrameControl,
				Control: &subs.Control{
					StreamNextOffset: events.FormatOffset(written + 1),
					UpToDate:         sub.State() == subs.StateLive,
				},
			}
			if err := writeSSEFrame(w, ctrl); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEFrame renders one subscription frame as a server-sent event.
// Data frames always carry an ordered array; the client contract accepts
// either a single event or an array.
func writeSSEFrame(w http.ResponseWriter, frame subs.Frame) error {
	var payload []byte
	var err error

	switch frame.Kind {
	case subs.FrameData:
		payload, err = json.Marshal(frame.Events)
	case subs.FrameControl:
		payload, err = json.Marshal(frame.Control)
	case subs.FrameDeleted:
		payload = []byte("{}")
	default:
		return fmt.Errorf("unknown frame kind %q", frame.Kind)
	}
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Kind, payload)
	return err
}
