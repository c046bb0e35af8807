// Package load exercises latency targets and race windows on the hot paths.
// Each test boots an in-process gateway, so the suite runs in regular CI
// without a deployed server.
//
// Run with: go test ./tests/load/... -v -count=1 -timeout 5m
package load

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/openclaw/clawgate/pkg/authz"
	"github.com/openclaw/clawgate/pkg/config"
	"github.com/openclaw/clawgate/pkg/gateway"
	"github.com/openclaw/clawgate/pkg/plugin"
	"github.com/openclaw/clawgate/pkg/policy"
	"github.com/openclaw/clawgate/plugins/gmail"
)

func startGateway(t *testing.T) *httptest.Server {
	t.Helper()

	registry, err := plugin.NewRegistry(gmail.New())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	engine, err := policy.Build(policy.Inputs{
		Limits: policy.Limits{DefaultLimit: 20, MaxLimit: 100, DefaultBodyMaxChars: 1200},
	})
	if err != nil {
		t.Fatalf("build policy engine: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := gateway.NewServer(config.Default(), registry, policy.NewStore(engine),
		authz.NewService(false, nil, nil), logger)

	ts := httptest.NewServer(srv.MountRoutes())
	t.Cleanup(ts.Close)
	return ts
}

// latencyStats collects request latencies and computes percentiles.
type latencyStats struct {
	mu        sync.Mutex
	latencies []time.Duration
	errors    int
}

func (s *latencyStats) record(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, d)
}

func (s *latencyStats) recordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
}

func (s *latencyStats) percentile(p float64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(s.latencies))
	copy(sorted, s.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func (s *latencyStats) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.latencies)
}

func (s *latencyStats) errorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

func (s *latencyStats) report() string {
	return fmt.Sprintf(
		"total=%d errors=%d p50=%v p95=%v p99=%v",
		s.count(), s.errorCount(),
		s.percentile(0.50),
		s.percentile(0.95),
		s.percentile(0.99),
	)
}

// runLoadTest executes concurrent GETs against a URL and collects latency.
func runLoadTest(t *testing.T, url string, concurrency, totalRequests int) *latencyStats {
	t.Helper()
	stats := &latencyStats{}
	requests := make(chan struct{}, totalRequests)
	for i := 0; i < totalRequests; i++ {
		requests <- struct{}{}
	}
	close(requests)

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}
			for range requests {
				start := time.Now()
				resp, err := client.Get(url)
				elapsed := time.Since(start)
				if err != nil {
					stats.recordError()
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					stats.record(elapsed)
				} else {
					stats.recordError()
				}
			}
		}()
	}

	wg.Wait()
	return stats
}

// TestLoadPluginsList validates p95 latency for plugin discovery.
// Target: p95 <= 300ms.
func TestLoadPluginsList(t *testing.T) {
	ts := startGateway(t)

	stats := runLoadTest(t, ts.URL+"/v1/plugins", 10, 200)
	t.Logf("/v1/plugins load: %s", stats.report())

	p95 := stats.percentile(0.95)
	if p95 > 300*time.Millisecond {
		t.Errorf("p95 latency %v exceeds 300ms target", p95)
	}
	if stats.errorCount() > 0 {
		t.Errorf("had %d errors out of %d requests", stats.errorCount(), stats.count()+stats.errorCount())
	}
}

// TestLoadCollectionRead validates p95 latency for policy-screened reads.
// Target: p95 <= 300ms.
func TestLoadCollectionRead(t *testing.T) {
	ts := startGateway(t)

	stats := runLoadTest(t, ts.URL+"/v1/gmail/messages", 10, 200)
	t.Logf("/v1/gmail/messages load: %s", stats.report())

	p95 := stats.percentile(0.95)
	if p95 > 300*time.Millisecond {
		t.Errorf("p95 latency %v exceeds 300ms target", p95)
	}
	if stats.errorCount() > 0 {
		t.Errorf("had %d errors out of %d requests", stats.errorCount(), stats.count()+stats.errorCount())
	}
}

func postAction(client *http.Client, url string, body map[string]any) (int, []byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, payload, nil
}

// TestConcurrentApprovalDeduplication fires identical executes in parallel
// and expects exactly one pending ticket: every response is a 202 carrying
// the same approval_ticket_id.
func TestConcurrentApprovalDeduplication(t *testing.T) {
	ts := startGateway(t)
	url := ts.URL + "/v1/gmail/messages/msg_allowed:reply/execute"
	request := map[string]any{
		"idempotency_key": "idem-race-approval",
		"args":            map[string]any{"body": "racing for one ticket"},
	}

	const callers = 32
	tickets := make(chan string, callers)
	failures := make(chan string, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}
			status, payload, err := postAction(client, url, request)
			if err != nil {
				failures <- err.Error()
				return
			}
			if status != http.StatusAccepted {
				failures <- fmt.Sprintf("status %d body %s", status, payload)
				return
			}
			var pending struct {
				ApprovalTicketID string `json:"approval_ticket_id"`
			}
			if err := json.Unmarshal(payload, &pending); err != nil {
				failures <- err.Error()
				return
			}
			tickets <- pending.ApprovalTicketID
		}()
	}
	wg.Wait()
	close(tickets)
	close(failures)

	for failure := range failures {
		t.Errorf("concurrent execute failed: %s", failure)
	}

	distinct := map[string]bool{}
	total := 0
	for id := range tickets {
		distinct[id] = true
		total++
	}
	if total != callers {
		t.Fatalf("only %d of %d callers got a ticket", total, callers)
	}
	if len(distinct) != 1 {
		t.Fatalf("concurrent executes created %d tickets, want 1: %v", len(distinct), distinct)
	}
}

// TestConcurrentIdempotentReplay approves a keyed execute, then replays it
// from many goroutines at once: every response must be a 200 with a body
// identical to every other.
func TestConcurrentIdempotentReplay(t *testing.T) {
	ts := startGateway(t)
	url := ts.URL + "/v1/gmail/messages/msg_allowed:archive/execute"
	request := map[string]any{
		"idempotency_key": "idem-race-replay",
		"args":            map[string]any{},
	}
	setup := &http.Client{Timeout: 10 * time.Second}

	status, payload, err := postAction(setup, url, request)
	if err != nil {
		t.Fatalf("initial execute: %v", err)
	}
	if status != http.StatusAccepted {
		t.Fatalf("initial execute status = %d body %s", status, payload)
	}
	var pending struct {
		ApprovalTicketID string `json:"approval_ticket_id"`
	}
	if err := json.Unmarshal(payload, &pending); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}

	status, payload, err = postAction(setup, ts.URL+"/v1/approvals/"+pending.ApprovalTicketID+":approve", nil)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("approve status = %d body %s", status, payload)
	}

	const callers = 32
	bodies := make(chan []byte, callers)
	failures := make(chan string, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}
			status, payload, err := postAction(client, url, request)
			if err != nil {
				failures <- err.Error()
				return
			}
			if status != http.StatusOK {
				failures <- fmt.Sprintf("status %d body %s", status, payload)
				return
			}
			bodies <- payload
		}()
	}
	wg.Wait()
	close(bodies)
	close(failures)

	for failure := range failures {
		t.Errorf("concurrent replay failed: %s", failure)
	}

	var reference []byte
	for body := range bodies {
		if reference == nil {
			reference = body
			continue
		}
		if !bytes.Equal(reference, body) {
			t.Fatalf("replay responses diverge:\n%s\n%s", reference, body)
		}
	}
	if reference == nil {
		t.Fatal("no successful replays recorded")
	}
}
