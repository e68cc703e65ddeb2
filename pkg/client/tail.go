package client

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// Tail opens a live subscription and returns a channel of frames and a
// channel of errors. The frame channel is closed when the subscription
// ends: on a deleted frame, a server disconnect, or context
// cancellation. Frames arrive in order; the first control frame with
// UpToDate set marks the end of backfill.
func (c *Client) Tail(ctx context.Context, stream string, opts ...TailOption) (<-chan Frame, <-chan error) {
	options := &TailOptions{Cursor: CursorStart}
	for _, opt := range opts {
		opt(options)
	}

	frameChan := make(chan Frame, 16)
	errChan := make(chan error, 1)

	go func() {
		defer close(frameChan)
		defer close(errChan)

		u := c.streamURL(stream) + "?live=sse&offset=" + url.QueryEscape(options.Cursor)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			errChan <- err
			return
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpc.Do(req)
		if err != nil {
			errChan <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errChan <- responseError(resp)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

		var event string
		var data strings.Builder
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if event != "" || data.Len() > 0 {
					frame, ok := c.parseFrame(stream, event, data.String())
					event = ""
					data.Reset()
					if !ok {
						continue
					}
					select {
					case frameChan <- frame:
					case <-ctx.Done():
						return
					}
					if frame.Kind == FrameDeleted {
						return
					}
				}
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			}
			// Comment lines (":heartbeat") and unknown fields are ignored.
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			errChan <- err
		}
	}()

	return frameChan, errChan
}

// parseFrame decodes one SSE event. Malformed frames are logged and
// skipped so one bad frame does not wedge the tail.
func (c *Client) parseFrame(stream, event, data string) (Frame, bool) {
	switch FrameKind(event) {
	case FrameData:
		// Data frames carry either one event or an ordered batch.
		var evts []Event
		if err := json.Unmarshal([]byte(data), &evts); err != nil {
			var single Event
			if err := json.Unmarshal([]byte(data), &single); err != nil {
				c.log.Warn().Err(err).Str("stream", stream).Msg("Skipping malformed data frame")
				return Frame{}, false
			}
			evts = []Event{single}
		}
		return Frame{Kind: FrameData, Events: evts}, true
	case FrameControl:
		var ctl Control
		if err := json.Unmarshal([]byte(data), &ctl); err != nil {
			c.log.Warn().Err(err).Str("stream", stream).Msg("Skipping malformed control frame")
			return Frame{}, false
		}
		return Frame{Kind: FrameControl, Control: ctl}, true
	case FrameDeleted:
		return Frame{Kind: FrameDeleted}, true
	default:
		c.log.Warn().Str("stream", stream).Str("event", event).Msg("Skipping unknown frame kind")
		return Frame{}, false
	}
}
