package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tailstream/engine/internal/storage/events"
	"github.com/tailstream/engine/internal/storage/subs"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Browser consumers connect cross-origin from app frontends.
		return true
	},
}

// WSFrame is the JSON message shape on the WebSocket tail. It mirrors the
// SSE protocol: data frames carry ordered event arrays, control frames a
// resumable cursor, deleted is terminal.
type WSFrame struct {
	Kind    string         `json:"kind"`
	Events  []events.Event `json:"events,omitempty"`
	Control *subs.Control  `json:"control,omitempty"`
}

// SubscribeWS handles GET /api/v1/streams/{name}/ws?offset={cursor}, the
// WebSocket variant of the live tail.
func (h *StreamHandlers) SubscribeWS(w http.ResponseWriter, r *http.Request, name string) {
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

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		h.log.Debug().Err(err).Str("stream", name).Msg("WebSocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()
	defer sub.Close()

	h.metrics.SubscriberConnected(name)
	defer h.metrics.SubscriberDisconnected(name)

	// Reader goroutine: consume control messages and detect peer close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1024)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pings := time.NewTicker(pingPeriod)
	defer pings.Stop()
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	writeFrame := func(frame WSFrame) error {
		payload, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, payload)
	}

	// Same discipline as the SSE loop: heartbeat cursors cover only
	// frames already written, never frames still queued on the channel.
	written := sub.Cursor()

	for {
		select {
		case <-done:
			return
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
			wsf := WSFrame{Kind: string(frame.Kind), Events: frame.Events, Control: frame.Control}
			if err := writeFrame(wsf); err != nil {
				return
			}
			if frame.Kind == subs.FrameDeleted {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream deleted"),
					time.Now().Add(writeWait))
				return
			}

		case <-heartbeat.C:
			ctrl := WSFrame{
				Kind: string(subs.FrameControl),
				Control: &subs.Control{
					StreamNextOffset: events.FormatOffset(written + 1),
					UpToDate:         sub.State() == subs.StateLive,
				},
			}
			if err := writeFrame(ctrl); err != nil {
				return
			}

		case <-pings.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
