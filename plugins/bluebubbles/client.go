package bluebubbles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/openclaw/clawgate/pkg/apierr"
	"github.com/openclaw/clawgate/pkg/plugin"
)

const (
	defaultBaseURL = "http://127.0.0.1:1234"
	defaultTimeout = 5 * time.Second
)

// ClientConfig holds the connection settings for a BlueBubbles server.
type ClientConfig struct {
	BaseURL        string
	Password       string
	TimeoutSeconds float64
}

// Client is a thin HTTP client for the BlueBubbles REST API. It normalizes
// the server's payload shapes into the flat thread and message records the
// plugin exposes.
type Client struct {
	baseURL  string
	password string
	http     *http.Client
}

// NewClient returns a client for the given server, filling in defaults for
// unset fields.
func NewClient(cfg ClientConfig) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds * float64(time.Second))
	}
	return &Client{
		baseURL:  strings.TrimRight(base, "/"),
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout},
	}
}

// NewClientFromEnv builds a client from the BLUEBUBBLES_BASE_URL,
// BLUEBUBBLES_PASSWORD and BLUEBUBBLES_TIMEOUT_SECONDS variables.
func NewClientFromEnv() *Client {
	cfg := ClientConfig{
		BaseURL:  os.Getenv("BLUEBUBBLES_BASE_URL"),
		Password: os.Getenv("BLUEBUBBLES_PASSWORD"),
	}
	if raw := os.Getenv("BLUEBUBBLES_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.TimeoutSeconds = v
		}
	}
	return NewClient(cfg)
}

// Page is one window of a server collection: the normalized items, the raw
// server records they came from, and the cursor for the next window.
type Page struct {
	Items      []map[string]any
	RawItems   []map[string]any
	NextCursor any
}

// ListThreads fetches a page of chats.
func (c *Client) ListThreads(ctx context.Context, query plugin.Query) (*Page, error) {
	return c.listCollection(ctx, "/api/v1/chat", query, threadPayload)
}

// ListMessages fetches a page of messages.
func (c *Client) ListMessages(ctx context.Context, query plugin.Query) (*Page, error) {
	return c.listCollection(ctx, "/api/v1/message", query, messagePayload)
}

// GetThread fetches a single chat by guid.
func (c *Client) GetThread(ctx context.Context, threadID string) (map[string]any, error) {
	raw, err := c.request(ctx, http.MethodGet, "/api/v1/chat/"+threadID, nil, nil)
	if err != nil {
		return nil, err
	}
	item, err := ensureDict(raw)
	if err != nil {
		return nil, err
	}
	return threadPayload(item), nil
}

// GetMessage fetches a single message by guid.
func (c *Client) GetMessage(ctx context.Context, messageID string) (map[string]any, error) {
	raw, err := c.request(ctx, http.MethodGet, "/api/v1/message/"+messageID, nil, nil)
	if err != nil {
		return nil, err
	}
	item, err := ensureDict(raw)
	if err != nil {
		return nil, err
	}
	return messagePayload(item), nil
}

// SendText posts a new message into a chat.
func (c *Client) SendText(ctx context.Context, chatGUID, text string) (map[string]any, error) {
	raw, err := c.request(ctx, http.MethodPost, "/api/v1/message/text", nil, map[string]any{
		"chatGuid": chatGUID,
		"message":  text,
		"method":   "apple-script",
	})
	if err != nil {
		return nil, err
	}
	return ensureDict(raw)
}

// Reply posts a reply to an existing message.
func (c *Client) Reply(ctx context.Context, messageGUID, text string) (map[string]any, error) {
	raw, err := c.request(ctx, http.MethodPost, "/api/v1/message/reply", nil, map[string]any{
		"messageGuid": messageGUID,
		"message":     text,
		"method":      "apple-script",
	})
	if err != nil {
		return nil, err
	}
	return ensureDict(raw)
}

func (c *Client) listCollection(ctx context.Context, path string, query plugin.Query, transform func(map[string]any) map[string]any) (*Page, error) {
	offset, err := plugin.ParseOffsetCursor(query.Cursor)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(query.Limit))
	if query.Q != "" {
		params.Set("q", query.Q)
	}
	raw, err := c.request(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, err
	}
	items, err := ensureList(raw)
	if err != nil {
		return nil, err
	}

	page := items
	if len(page) > query.Limit {
		page = page[:query.Limit]
	}
	var next any
	if len(page) == query.Limit {
		next = strconv.Itoa(offset + len(page))
	}

	out := make([]map[string]any, 0, len(page))
	for _, item := range page {
		out = append(out, transform(item))
	}
	return &Page{Items: out, RawItems: page, NextCursor: next}, nil
}

func (c *Client) request(ctx context.Context, method, path string, params url.Values, payload map[string]any) (any, error) {
	if params == nil {
		params = url.Values{}
	}
	if c.password != "" {
		params.Set("password", c.password)
	}
	target := c.baseURL + path
	if encoded := params.Encode(); encoded != "" {
		target += "?" + encoded
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, apierr.Internal(fmt.Sprintf("encode BlueBubbles request: %v", err))
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, apierr.Internal(fmt.Sprintf("build BlueBubbles request: %v", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apierr.New(http.StatusInternalServerError, "BLUEBUBBLES_UNREACHABLE", err.Error())
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.New(http.StatusInternalServerError, "BLUEBUBBLES_UNREACHABLE", err.Error())
	}

	detail := strings.TrimSpace(string(raw))
	if resp.StatusCode == http.StatusNotFound {
		if detail == "" {
			detail = "BlueBubbles resource not found"
		}
		return nil, apierr.NotFound(detail)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if detail == "" {
			detail = "BlueBubbles request failed"
		}
		return nil, apierr.New(http.StatusInternalServerError, "BLUEBUBBLES_HTTP_ERROR", detail)
	}

	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, apierr.Internal("BlueBubbles response is not valid JSON")
	}
	// The server wraps most payloads in a {"status", "message", "data"}
	// envelope; only the data matters here.
	if envelope, ok := decoded.(map[string]any); ok {
		if data, ok := envelope["data"]; ok {
			return data, nil
		}
	}
	return decoded, nil
}

func ensureList(payload any) ([]map[string]any, error) {
	collect := func(values []any) []map[string]any {
		items := make([]map[string]any, 0, len(values))
		for _, v := range values {
			if item, ok := v.(map[string]any); ok {
				items = append(items, item)
			}
		}
		return items
	}
	if values, ok := payload.([]any); ok {
		return collect(values), nil
	}
	if envelope, ok := payload.(map[string]any); ok {
		for _, key := range []string{"items", "results", "messages", "chats"} {
			if values, ok := envelope[key].([]any); ok {
				return collect(values), nil
			}
		}
	}
	return nil, apierr.Validation("BlueBubbles response must contain a list")
}

func ensureDict(payload any) (map[string]any, error) {
	if item, ok := payload.(map[string]any); ok {
		return item, nil
	}
	return nil, apierr.Validation("BlueBubbles response must contain an object")
}

func threadPayload(item map[string]any) map[string]any {
	id := valueAt(item, "guid", "chatGuid", "id")
	if id == nil {
		id = "unknown"
	}
	participants := valueAt(item, "participants")
	if participants == nil {
		participants = []any{}
	}
	return map[string]any{
		"id":           stringified(id),
		"display_name": orEmpty(valueAt(item, "displayName", "name")),
		"participants": participants,
		"snippet":      orEmpty(valueAt(item, "latestMessage", "text")),
	}
}

func messagePayload(item map[string]any) map[string]any {
	id := valueAt(item, "guid", "messageGuid", "id")
	if id == nil {
		id = "unknown"
	}
	threadID := valueAt(item, "chatGuid", "threadId")
	if threadID == nil {
		threadID = ""
	}
	return map[string]any{
		"id":        stringified(id),
		"thread_id": stringified(threadID),
		"sender":    orEmpty(valueAt(item, "handle", "sender")),
		"text":      orEmpty(valueAt(item, "text")),
		"date":      orEmpty(valueAt(item, "dateCreated", "date")),
	}
}

// valueAt returns the first key whose value is present and non-empty.
func valueAt(item map[string]any, keys ...string) any {
	for _, key := range keys {
		v, ok := item[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if t == "" {
				continue
			}
		case float64:
			if t == 0 {
				continue
			}
		case bool:
			if !t {
				continue
			}
		}
		return v
	}
	return nil
}

func orEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}

func stringified(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
