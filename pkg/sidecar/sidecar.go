// Package sidecar speaks the plugin contract to integrations hosted in a
// separate process over HTTP-JSON. The gateway treats a sidecar plugin
// exactly like an in-process one; all transport concerns live here.
package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openclaw/clawgate/pkg/apierr"
	"github.com/openclaw/clawgate/pkg/manifest"
	"github.com/openclaw/clawgate/pkg/plugin"
)

// SecretHeader carries the shared secret on every request to a sidecar.
const SecretHeader = "X-Clawgate-Sidecar-Secret"

const defaultTimeout = 5 * time.Second

// Config describes one sidecar endpoint.
type Config struct {
	ID             string
	BaseURL        string
	SharedSecret   string
	TimeoutSeconds float64
}

func (c Config) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return defaultTimeout
	}
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// Plugin is the client side of a sidecar integration. The manifest is fetched
// once at construction and never refreshed; restarting the gateway picks up a
// changed sidecar manifest.
type Plugin struct {
	baseURL  string
	secret   string
	http     *http.Client
	manifest *manifest.Plugin
}

var _ plugin.Plugin = (*Plugin)(nil)

// New connects to the sidecar at cfg.BaseURL, fetches its manifest, and
// validates it. The manifest id must equal cfg.ID so that a misrouted
// base_url cannot register a plugin under the wrong name.
func New(ctx context.Context, cfg Config) (*Plugin, error) {
	p := &Plugin{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		secret:  cfg.SharedSecret,
		http:    &http.Client{Timeout: cfg.timeout()},
	}

	var m manifest.Plugin
	if err := p.call(ctx, http.MethodGet, "/plugin/manifest", nil, &m); err != nil {
		return nil, err
	}
	m.ApplyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("sidecar manifest for '%s' is invalid: %w", cfg.ID, err)
	}
	if m.ID != cfg.ID {
		return nil, fmt.Errorf("sidecar plugin id mismatch: expected '%s', got '%s'", cfg.ID, m.ID)
	}
	p.manifest = &m
	return p, nil
}

// Manifest implements plugin.Plugin.
func (p *Plugin) Manifest() *manifest.Plugin { return p.manifest }

// ListResource implements plugin.Plugin. The query travels as the request
// body verbatim.
func (p *Plugin) ListResource(ctx context.Context, resource string, query plugin.Query) (*plugin.ReadResult, error) {
	var out plugin.ReadResult
	path := "/plugin/resources/" + resource + "/list"
	if err := p.call(ctx, http.MethodPost, path, query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetResource implements plugin.Plugin.
func (p *Plugin) GetResource(ctx context.Context, resource, resourceID, view string, query plugin.Query) (*plugin.ReadResult, error) {
	body := map[string]any{
		"view":  nullable(view),
		"query": query,
	}
	var out plugin.ReadResult
	path := "/plugin/resources/" + resource + "/" + resourceID + "/get"
	if err := p.call(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunAction implements plugin.Plugin. The phase is part of the URL so a
// sidecar can refuse execute on propose-only routes without parsing bodies.
func (p *Plugin) RunAction(ctx context.Context, actx plugin.ActionContext, args map[string]any) (*plugin.ActionResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	body := map[string]any{
		"resource":    nullable(actx.Resource),
		"resource_id": nullable(actx.ResourceID),
		"args":        args,
	}
	var out plugin.ActionResult
	path := "/plugin/actions/" + actx.Action.Name + "/" + actx.Phase
	if err := p.call(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	if out.Status == "" {
		out.Status = plugin.StatusSuccess
	}
	return &out, nil
}

// call sends one request and decodes the JSON object response into out.
// Error mapping: 404 becomes NOT_FOUND, any other non-2xx SIDECAR_HTTP_ERROR,
// a transport failure SIDECAR_UNREACHABLE, and a body that is not a JSON
// object SIDECAR_BAD_RESPONSE.
func (p *Plugin) call(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return apierr.Internal(err.Error())
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return apierr.Internal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	if p.secret != "" {
		req.Header.Set(SecretHeader, p.secret)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return apierr.New(http.StatusInternalServerError, apierr.CodeSidecarUnreachable, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apierr.New(http.StatusInternalServerError, apierr.CodeSidecarUnreachable, err.Error())
	}

	if resp.StatusCode == http.StatusNotFound {
		return apierr.NotFound(fallback(string(raw), "sidecar route not found"))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apierr.New(http.StatusInternalServerError, apierr.CodeSidecarHTTP,
			fallback(string(raw), "sidecar request failed"))
	}

	return decodeObject(raw, out)
}

// decodeObject enforces the object-body contract before decoding into out.
// An empty body counts as an empty object.
func decodeObject(raw []byte, out any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return badResponse("sidecar response must be a JSON object")
	}
	if _, ok := probe.(map[string]any); !ok {
		return badResponse("sidecar response must be a JSON object")
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return badResponse("sidecar response does not match the plugin contract: " + err.Error())
	}
	return nil
}

func badResponse(message string) error {
	return apierr.New(http.StatusInternalServerError, apierr.CodeSidecarBadResponse, message)
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
