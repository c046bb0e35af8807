package conformance

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/openclaw/clawgate/pkg/plugin"
	"github.com/openclaw/clawgate/plugins/gmail"
)

func itemIDs(items []map[string]any) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if id, ok := item["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// TestCollectionScreensBlockedSenders lists the demo mailbox and expects the
// message from the blocked domain to be absent, with no trace in the paging
// metadata.
func TestCollectionScreensBlockedSenders(t *testing.T) {
	client := startGateway(t, nil)

	var page collectionResponse
	resp := client.get("/v1/gmail/messages")
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &page)

	ids := itemIDs(page.Items)
	if len(ids) != 1 || ids[0] != "msg_allowed" {
		t.Fatalf("items = %v, want exactly [msg_allowed]", ids)
	}
	if page.NextCursor != nil {
		t.Errorf("next_cursor = %v, want null", *page.NextCursor)
	}
}

func TestSingleItemFromBlockedSender(t *testing.T) {
	client := startGateway(t, nil)

	resp := client.get("/v1/gmail/messages/msg_blocked")
	expectWireError(t, resp, http.StatusForbidden, "POLICY_BLOCKED")

	resp = client.get("/v1/gmail/messages/msg_blocked/body")
	expectWireError(t, resp, http.StatusForbidden, "POLICY_BLOCKED")

	resp = client.get("/v1/gmail/messages/msg_missing")
	expectWireError(t, resp, http.StatusNotFound, "NOT_FOUND")
}

// TestBodySanitization requests the body view with a tight budget and
// expects links and markup stripped on top of the truncation.
func TestBodySanitization(t *testing.T) {
	client := startGateway(t, nil)

	var payload struct {
		ID   string `json:"id"`
		Body string `json:"body"`
	}
	resp := client.get("/v1/gmail/messages/msg_allowed/body?max_chars=20")
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &payload)

	if payload.ID != "msg_allowed" {
		t.Errorf("id = %q, want msg_allowed", payload.ID)
	}
	if len(payload.Body) > 20 {
		t.Errorf("body length = %d, want <= 20: %q", len(payload.Body), payload.Body)
	}
	for _, banned := range []string{"<", "http"} {
		if strings.Contains(payload.Body, banned) {
			t.Errorf("body %q contains %q after sanitization", payload.Body, banned)
		}
	}

	// The default budget also strips markup, links, and whitespace runs.
	resp = client.get("/v1/gmail/messages/msg_allowed/body")
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &payload)
	for _, banned := range []string{"<", ">", "http", "  "} {
		if strings.Contains(payload.Body, banned) {
			t.Errorf("body %q contains %q after sanitization", payload.Body, banned)
		}
	}
}

func TestRawViewGate(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		client := startGateway(t, nil)
		resp := client.get("/v1/gmail/messages/msg_allowed/raw")
		expectWireError(t, resp, http.StatusForbidden, "POLICY_BLOCKED")
	})

	t.Run("enabled by policy", func(t *testing.T) {
		client := startGateway(t, func(e *env) {
			e.inputs.RawReadEnabled = true
		})

		var payload struct {
			Raw string `json:"raw"`
		}
		resp := client.get("/v1/gmail/messages/msg_allowed/raw")
		requireStatus(t, resp, http.StatusOK)
		decodeJSON(t, resp, &payload)
		if payload.Raw != "RAW_MIME_ALLOWED" {
			t.Errorf("raw = %q, want RAW_MIME_ALLOWED", payload.Raw)
		}
	})
}

func TestUnknownViewIsNotFound(t *testing.T) {
	client := startGateway(t, nil)

	resp := client.get("/v1/gmail/messages/msg_allowed/summary")
	expectWireError(t, resp, http.StatusNotFound, "NOT_FOUND")
}

// largeMailbox seeds count messages from clean senders for paging tests.
func largeMailbox(count int) []gmail.Message {
	messages := make([]gmail.Message, 0, count)
	for i := 0; i < count; i++ {
		messages = append(messages, gmail.Message{
			ID:       fmt.Sprintf("msg_%04d", i),
			ThreadID: fmt.Sprintf("thr_%04d", i),
			From:     "sender@corp.com",
			Subject:  fmt.Sprintf("Update %d", i),
			Snippet:  "routine update",
			Body:     "routine update",
		})
	}
	return messages
}

func TestLimitClampingAndPagination(t *testing.T) {
	client := startGateway(t, func(e *env) {
		e.plugins = []plugin.Plugin{gmail.NewWithMessages(largeMailbox(150))}
	})

	var first collectionResponse
	resp := client.get("/v1/gmail/messages?limit=500")
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &first)
	if len(first.Items) != 100 {
		t.Fatalf("oversized limit returned %d items, want the 100 cap", len(first.Items))
	}
	if first.NextCursor == nil {
		t.Fatal("first page has no next_cursor")
	}

	var second collectionResponse
	resp = client.get("/v1/gmail/messages?limit=500&cursor=" + *first.NextCursor)
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &second)
	if len(second.Items) != 50 {
		t.Errorf("second page returned %d items, want 50", len(second.Items))
	}
	if second.NextCursor != nil {
		t.Errorf("final page next_cursor = %v, want null", *second.NextCursor)
	}

	resp = client.get("/v1/gmail/messages?limit=0")
	expectWireError(t, resp, http.StatusBadRequest, "VALIDATION_ERROR")

	resp = client.get("/v1/gmail/messages?limit=abc")
	expectWireError(t, resp, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestSearchAndFilterPassthrough(t *testing.T) {
	client := startGateway(t, nil)

	var page collectionResponse
	resp := client.get("/v1/gmail/messages?q=weekly")
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &page)
	if ids := itemIDs(page.Items); len(ids) != 1 || ids[0] != "msg_allowed" {
		t.Errorf("q=weekly items = %v, want [msg_allowed]", ids)
	}

	resp = client.get("/v1/gmail/messages?q=nomatch")
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &page)
	if len(page.Items) != 0 {
		t.Errorf("q=nomatch items = %v, want none", itemIDs(page.Items))
	}

	resp = client.get("/v1/gmail/messages?label=OpenClaw")
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &page)
	if ids := itemIDs(page.Items); len(ids) != 1 || ids[0] != "msg_allowed" {
		t.Errorf("label=OpenClaw items = %v, want [msg_allowed]", ids)
	}
}

func TestThreadsResource(t *testing.T) {
	client := startGateway(t, nil)

	var page collectionResponse
	resp := client.get("/v1/gmail/threads")
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &page)
	if len(page.Items) == 0 {
		t.Fatal("threads list is empty")
	}

	// The threads resource does not advertise the raw view.
	resp = client.get("/v1/gmail/threads/thr_a/raw")
	if resp.StatusCode == http.StatusOK {
		t.Error("raw view on threads should not succeed")
	}
	readBody(t, resp)
}
