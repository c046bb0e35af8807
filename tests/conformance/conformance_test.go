// Package conformance exercises the gateway contract end to end: real HTTP
// through the full middleware stack, authentication enabled, and the demo
// gmail plugin registered. Each test boots its own in-process server, so the
// suite needs no external processes and is safe to run in parallel with -count.
package conformance

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openclaw/clawgate/pkg/authz"
	"github.com/openclaw/clawgate/pkg/config"
	"github.com/openclaw/clawgate/pkg/gateway"
	"github.com/openclaw/clawgate/pkg/plugin"
	"github.com/openclaw/clawgate/pkg/policy"
	"github.com/openclaw/clawgate/plugins/gmail"
)

const (
	devToken    = "dev-local-token"
	devIdentity = "agent@tailnet.ts.net"
)

// env holds the knobs a test can turn before the gateway is assembled.
type env struct {
	cfg     *config.Config
	plugins []plugin.Plugin
	tokens  map[string]authz.TokenRecord
	inputs  policy.Inputs
	opts    []gateway.ServerOption
}

// startGateway boots a fully wired gateway on an ephemeral port and returns
// a client already carrying the development credentials. The server is torn
// down with the test.
func startGateway(t *testing.T, mutate func(*env)) *agentClient {
	t.Helper()

	tokens, err := authz.ParseTokenTable("")
	if err != nil {
		t.Fatalf("default token table: %v", err)
	}
	e := &env{
		cfg:     config.Default(),
		plugins: []plugin.Plugin{gmail.New()},
		tokens:  tokens,
		inputs: policy.Inputs{
			Limits: policy.Limits{DefaultLimit: 20, MaxLimit: 100, DefaultBodyMaxChars: 1200},
		},
	}
	e.cfg.RequireAuth = true
	if mutate != nil {
		mutate(e)
	}

	registry, err := plugin.NewRegistry(e.plugins...)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	engine, err := policy.Build(e.inputs)
	if err != nil {
		t.Fatalf("build policy engine: %v", err)
	}
	auth := authz.NewService(e.cfg.RequireAuth, e.tokens, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := gateway.NewServer(e.cfg, registry, policy.NewStore(engine), auth, logger, e.opts...)
	ts := httptest.NewServer(srv.MountRoutes())
	t.Cleanup(ts.Close)

	return &agentClient{
		t:        t,
		baseURL:  ts.URL,
		token:    devToken,
		identity: devIdentity,
		http:     ts.Client(),
	}
}

// agentClient drives the gateway the way an agent would: bearer token plus
// tailnet identity header on every request.
type agentClient struct {
	t        *testing.T
	baseURL  string
	token    string
	identity string
	http     *http.Client
}

// withToken returns a copy of the client presenting different credentials.
func (c *agentClient) withToken(token, identity string) *agentClient {
	clone := *c
	clone.token = token
	clone.identity = identity
	return &clone
}

func (c *agentClient) do(method, path string, body any) *http.Response {
	c.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		c.t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.identity != "" {
		req.Header.Set(authz.IdentityHeader, c.identity)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (c *agentClient) get(path string) *http.Response {
	return c.do(http.MethodGet, path, nil)
}

func (c *agentClient) post(path string, body any) *http.Response {
	return c.do(http.MethodPost, path, body)
}

// readBody drains and closes the response, returning the raw payload.
func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return raw
}

func decodeJSON(t *testing.T, resp *http.Response, out any) []byte {
	t.Helper()
	raw := readBody(t, resp)
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode response: %v\nbody: %s", err, raw)
	}
	return raw
}

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body := readBody(t, resp)
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, want, body)
	}
}

// --- Types mirroring the wire contract ---

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type pluginSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	RuntimeMode string `json:"runtime_mode"`
}

type collectionResponse struct {
	Items      []map[string]any `json:"items"`
	NextCursor *string          `json:"next_cursor"`
}

type actionSuccess struct {
	Result  map[string]any `json:"result"`
	Summary string         `json:"summary"`
}

type needsApproval struct {
	ApprovalTicketID string         `json:"approval_ticket_id"`
	Summary          string         `json:"summary"`
	ProposedEffect   map[string]any `json:"proposed_effect"`
}

type approvalTicket struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Summary      string `json:"summary"`
	Fingerprint  string `json:"fingerprint"`
	CapabilityID string `json:"capability_id"`
}

// expectWireError asserts the response carries the error envelope with the
// given status and code, returning the message for further checks.
func expectWireError(t *testing.T, resp *http.Response, status int, code string) string {
	t.Helper()
	raw := readBody(t, resp)
	if resp.StatusCode != status {
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, status, raw)
	}
	var envelope errorEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v\nbody: %s", err, raw)
	}
	if envelope.Error.Code != code {
		t.Fatalf("error code = %q, want %q\nbody: %s", envelope.Error.Code, code, raw)
	}
	return envelope.Error.Message
}
