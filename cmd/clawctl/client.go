package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openclaw/clawgate/pkg/authz"
)

type gatewayClient struct {
	baseURL  string
	token    string
	identity string
	http     *http.Client
}

func newClient() *gatewayClient {
	return &gatewayClient{
		baseURL:  serverURL,
		token:    authToken,
		identity: identity,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *gatewayClient) do(method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal error: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("request creation failed: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.identity != "" {
		req.Header.Set(authz.IdentityHeader, c.identity)
	}

	return c.http.Do(req)
}

// getJSON performs a GET request and decodes the response.
func (c *gatewayClient) getJSON(path string, v any) error {
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return wireError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// getRaw performs a GET request and returns the raw JSON object.
func (c *gatewayClient) getRaw(path string) (map[string]any, error) {
	var result map[string]any
	if err := c.getJSON(path, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// postJSON performs a POST request and decodes the response. The status code
// is returned so action callers can tell a completed run (200) from a
// pending approval (202).
func (c *gatewayClient) postJSON(path string, payload any, v any) (int, error) {
	resp, err := c.do(http.MethodPost, path, payload)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return resp.StatusCode, wireError(resp)
	}
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return resp.StatusCode, fmt.Errorf("decode error: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// wireError renders an error response, preferring the server's error
// envelope over the raw body.
func wireError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		return fmt.Errorf("server returned %d: %s (%s)", resp.StatusCode, envelope.Error.Message, envelope.Error.Code)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
}
