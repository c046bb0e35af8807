package audit

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOperation(t *testing.T) {
	cases := []struct {
		name string
		path string
		want operation
	}{
		{
			name: "global action",
			path: "/v1/gmail:send/propose",
			want: operation{Plugin: "gmail", Action: "send", Phase: "propose"},
		},
		{
			name: "resource action",
			path: "/v1/gmail/messages/msg_001:reply/execute",
			want: operation{Plugin: "gmail", Resource: "messages", ResourceID: "msg_001", Action: "reply", Phase: "execute"},
		},
		{
			name: "api alias prefix",
			path: "/api/gmail/messages/msg_001:archive/propose",
			want: operation{Plugin: "gmail", Resource: "messages", ResourceID: "msg_001", Action: "archive", Phase: "propose"},
		},
		{
			name: "approval approve",
			path: "/v1/approvals/APT-123:approve",
			want: operation{Resource: "approvals", ResourceID: "APT-123", Action: "approve"},
		},
		{
			name: "approval deny",
			path: "/v1/approvals/APT-123:deny",
			want: operation{Resource: "approvals", ResourceID: "APT-123", Action: "deny"},
		},
		{
			name: "approval fetch",
			path: "/v1/approvals/APT-123",
			want: operation{Resource: "approvals", ResourceID: "APT-123"},
		},
		{
			name: "collection read",
			path: "/v1/gmail/messages",
			want: operation{Plugin: "gmail", Resource: "messages"},
		},
		{
			name: "single read",
			path: "/v1/gmail/messages/msg_001",
			want: operation{Plugin: "gmail", Resource: "messages", ResourceID: "msg_001"},
		},
		{
			name: "view read",
			path: "/v1/gmail/messages/msg_001/body",
			want: operation{Plugin: "gmail", Resource: "messages", ResourceID: "msg_001"},
		},
		{
			name: "thread action",
			path: "/v1/imessage/threads/iMessage;-;+15551234567:send/execute",
			want: operation{Plugin: "imessage", Resource: "threads", ResourceID: "iMessage;-;+15551234567", Action: "send", Phase: "execute"},
		},
		{
			name: "prefix only",
			path: "/v1",
			want: operation{},
		},
		{
			name: "root",
			path: "/",
			want: operation{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseOperation(tc.path))
		})
	}
}

func TestShouldAudit(t *testing.T) {
	cases := []struct {
		method string
		path   string
		want   bool
	}{
		{http.MethodPost, "/v1/gmail:send/propose", true},
		{http.MethodPost, "/v1/approvals/APT-1:approve", true},
		{http.MethodPut, "/v1/gmail/messages/msg_001", true},
		{http.MethodDelete, "/v1/gmail/messages/msg_001", true},
		{http.MethodGet, "/v1/gmail/messages", false},
		{http.MethodGet, "/v1/plugins", false},
		{http.MethodGet, "/healthz", false},
		{http.MethodPost, "/healthz", false},
		{http.MethodGet, "/readyz", false},
		{http.MethodGet, "/livez", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, shouldAudit(tc.method, tc.path),
			"shouldAudit(%s %s)", tc.method, tc.path)
	}
}
