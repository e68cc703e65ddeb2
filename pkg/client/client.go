// Package client is the Go SDK for the tailstream engine. It speaks the
// HTTP wire protocol: producer appends, snapshot polls, live SSE tails,
// and the Reduce projection runtime that folds a stream into state.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Wire headers of the stream protocol.
const (
	headerNextOffset = "Stream-Next-Offset"
	headerCursor     = "Stream-Cursor"
	headerUpToDate   = "Stream-Up-To-Date"
	headerSeq        = "Stream-Seq"
	headerTTL        = "Stream-TTL"
)

const streamsPath = "/api/v1/streams"

// Client is the tailstream HTTP client
type Client struct {
	baseURL string
	httpc   *http.Client
	log     zerolog.Logger
}

// NewClient creates a new tailstream client for the given base URL,
// e.g. "http://localhost:8080".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) streamURL(name string) string {
	return c.baseURL + streamsPath + "/" + url.PathEscape(name)
}

// Create explicitly creates a stream. Creating an existing live stream
// is idempotent and returns its current record.
func (c *Client) Create(ctx context.Context, stream string, opts ...CreateOption) (*StreamInfo, error) {
	options := &CreateOptions{}
	for _, opt := range opts {
		opt(options)
	}

	var body io.Reader
	if options.EventStreamID != "" {
		raw, err := json.Marshal(map[string]string{"eventStreamId": options.EventStreamID})
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.streamURL(stream), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if options.TTL > 0 {
		req.Header.Set(headerTTL, strconv.FormatInt(int64(options.TTL/time.Second), 10))
	}

	var info StreamInfo
	if err := c.do(req, http.StatusCreated, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Append writes one event and returns its assigned offset. Appending to
// an unknown stream creates it; appending to a deleted one fails with
// not found.
func (c *Client) Append(ctx context.Context, stream, eventType string, payload interface{}, opts ...AppendOption) (string, error) {
	options := &AppendOptions{}
	for _, opt := range opts {
		opt(options)
	}

	body := map[string]interface{}{"type": eventType}
	if payload != nil {
		body["payload"] = payload
	}
	if options.EventStreamID != "" {
		body["eventStreamId"] = options.EventStreamID
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.streamURL(stream)+"/events", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if options.ExpectedSeq != "" {
		req.Header.Set(headerSeq, options.ExpectedSeq)
	}
	if options.TTL > 0 {
		req.Header.Set(headerTTL, strconv.FormatInt(int64(options.TTL/time.Second), 10))
	}

	var resp struct {
		Offset string `json:"offset"`
	}
	if err := c.do(req, http.StatusOK, &resp); err != nil {
		return "", err
	}
	return resp.Offset, nil
}

// Prompt appends a prompt event carrying the given text.
func (c *Client) Prompt(ctx context.Context, stream, text string, opts ...AppendOption) (string, error) {
	return c.Append(ctx, stream, "prompt", map[string]string{"text": text}, opts...)
}

// Poll performs one snapshot read after the cursor and returns the page
// plus the resumption metadata from the response headers.
func (c *Client) Poll(ctx context.Context, stream string, opts ...PollOption) (*PollResult, error) {
	options := &PollOptions{Cursor: CursorStart}
	for _, opt := range opts {
		opt(options)
	}

	u := c.streamURL(stream) + "?offset=" + url.QueryEscape(options.Cursor)
	if options.Max > 0 {
		u += "&max=" + strconv.Itoa(options.Max)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if options.ETag != "" {
		req.Header.Set("If-None-Match", options.ETag)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &PollResult{
			Cursor:   options.Cursor,
			UpToDate: true,
			ETag:     resp.Header.Get("ETag"),
		}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var body struct {
		Events []Event `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Message: "decode poll response", Err: err}
	}

	upToDate, _ := strconv.ParseBool(resp.Header.Get(headerUpToDate))
	return &PollResult{
		Events:     body.Events,
		NextOffset: resp.Header.Get(headerNextOffset),
		Cursor:     resp.Header.Get(headerCursor),
		UpToDate:   upToDate,
		ETag:       resp.Header.Get("ETag"),
	}, nil
}

// Delete removes a stream and all its events. Deletion is terminal:
// the name cannot be appended to or recreated afterwards.
func (c *Client) Delete(ctx context.Context, stream string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.streamURL(stream), nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusNoContent, nil)
}

// List returns all live streams.
func (c *Client) List(ctx context.Context) ([]StreamInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+streamsPath, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Streams []StreamInfo `json:"streams"`
	}
	if err := c.do(req, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Streams, nil
}

// do executes a request, enforces the expected status, and decodes the
// body into out when non-nil.
func (c *Client) do(req *http.Request, wantStatus int, out interface{}) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

// responseError turns a non-success response into an *Error.
func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	msg := strings.TrimSpace(string(raw))
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		msg = body.Message
	}
	if msg == "" {
		msg = fmt.Sprintf("request failed with status %d", resp.StatusCode)
	}

	return &Error{
		StatusCode: resp.StatusCode,
		Message:    msg,
		NextOffset: resp.Header.Get(headerNextOffset),
	}
}
