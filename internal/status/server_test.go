package status

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adithyaa-s/atlasd/internal/session"
)

type stubReporter struct {
	healthy bool
	report  *session.Report
}

func (r *stubReporter) Snapshot() *session.Report {
	if r.report != nil {
		return r.report
	}
	return &session.Report{Session: "test", GeneratedAt: time.Unix(123, 0)}
}

func (r *stubReporter) Healthy() bool {
	return r.healthy
}

func newTestServer(t *testing.T, reporter Reporter) *Server {
	t.Helper()
	server, err := NewServer(Config{Reporter: reporter})
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	return server
}

func TestNewServerRequiresReporter(t *testing.T) {
	if _, err := NewServer(Config{}); err == nil {
		t.Fatalf("expected error when reporter is missing")
	}
}

func TestNormalizeAddr(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":           defaultAddr,
		"   ":        defaultAddr,
		":80":        ":80",
		"0.0.0.0:80": "0.0.0.0:80",
		"host:9000":  "host:9000",
		"[::1]:443":  "[::1]:443",
	}

	for input, expected := range tests {
		input, expected := input, expected
		t.Run(fmt.Sprintf("%s->%s", input, expected), func(t *testing.T) {
			t.Parallel()
			if got := normalizeAddr(input); got != expected {
				t.Fatalf("normalizeAddr(%q)=%q, want %q", input, got, expected)
			}
		})
	}
}

func TestHandleHealthz(t *testing.T) {
	reporter := &stubReporter{}
	server := newTestServer(t, reporter)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.handleHealthz(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while unready, got %d", rec.Code)
	}

	reporter.healthy = true
	rec = httptest.NewRecorder()
	server.handleHealthz(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once ready, got %d", rec.Code)
	}

	var payload map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode healthz payload: %v", err)
	}
	if !payload["healthy"] {
		t.Fatalf("expected healthy=true, got %v", payload)
	}
}

func TestHandleHealthzRejectsPost(t *testing.T) {
	server := newTestServer(t, &stubReporter{healthy: true})

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.handleHealthz(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodGet {
		t.Fatalf("expected Allow: GET, got %q", allow)
	}
}

func TestHandleStatus(t *testing.T) {
	reporter := &stubReporter{
		report: &session.Report{
			Session:     "atlas",
			GeneratedAt: time.Unix(123, 0),
			Healthy:     true,
			Services: map[string]session.ServiceReport{
				"calendar": {Name: "calendar", Role: "sidecar", Ready: true},
			},
		},
	}
	server := newTestServer(t, reporter)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	server.handleStatus(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var report session.Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode status payload: %v", err)
	}
	if report.Session != "atlas" {
		t.Fatalf("unexpected session name %q", report.Session)
	}
	svc, ok := report.Services["calendar"]
	if !ok {
		t.Fatalf("expected calendar service in report: %+v", report)
	}
	if !svc.Ready || svc.Role != "sidecar" {
		t.Fatalf("unexpected service report: %+v", svc)
	}
}

func TestRunServesUntilCancelled(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server, err := NewServer(Config{Reporter: &stubReporter{healthy: true}, Listener: listener})
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}

	ctx, cancel := stdcontext.WithCancel(stdcontext.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(ctx)
	}()

	client := &http.Client{Timeout: 2 * time.Second}
	url := fmt.Sprintf("http://%s/metrics", server.Addr())
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = client.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("metrics endpoint never became reachable: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for server shutdown")
	}
}
