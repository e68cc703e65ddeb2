package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/tailstream/engine/internal/filter"
	"github.com/tailstream/engine/internal/storage/events"
)

// compileFilter parses the optional filter query parameter.
func compileFilter(r *http.Request) (*filter.Filter, error) {
	return filter.Compile(r.URL.Query().Get("filter"))
}

// eventContext exposes an event to the filter language. The payload is
// decoded so expressions can reach into it, e.g. payload.text.
func eventContext(evt events.Event) filter.Context {
	ctx := filter.Context{
		"type":          evt.Data.Type,
		"offset":        evt.Seq(),
		"eventStreamId": evt.EventStreamID,
	}
	if len(evt.Data.Payload) > 0 {
		var payload interface{}
		if err := json.Unmarshal(evt.Data.Payload, &payload); err == nil {
			ctx["payload"] = payload
		}
	}
	return ctx
}

// filterEvents returns the events matching f, preserving order. A nil
// filter passes everything through untouched.
func filterEvents(f *filter.Filter, evts []events.Event) []events.Event {
	if f == nil {
		return evts
	}
	out := make([]events.Event, 0, len(evts))
	for _, evt := range evts {
		if f.Match(eventContext(evt)) {
			out = append(out, evt)
		}
	}
	return out
}
