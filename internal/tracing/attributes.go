package tracing

// Span attribute keys following OpenTelemetry semantic conventions
const (
	// Stream attributes
	AttrStreamName = "tailstream.stream.name"
	AttrCursor     = "tailstream.cursor"
	AttrOffset     = "tailstream.offset"
	AttrEventType  = "tailstream.event.type"
	AttrEventCount = "tailstream.event.count"
	AttrBytes      = "tailstream.bytes"

	// Operation attributes
	AttrOperation = "tailstream.operation"
	AttrError     = "tailstream.error"

	// HTTP attributes (OpenTelemetry semantic conventions)
	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"
	AttrHTTPUserAgent  = "http.user_agent"
)
