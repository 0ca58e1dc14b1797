package fingpt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreflow360/core/internal/config"
	"github.com/coreflow360/core/internal/port/aibackend"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("FINGPT_TEST_KEY", "sk-test")
	return NewClient(config.Backend{
		URL:       srv.URL,
		APIKeyEnv: "FINGPT_TEST_KEY",
		Timeout:   time.Second,
	})
}

func TestInvoke(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/analyze" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["tenant_id"] != "tenant-1" || body["task"] != "sentiment-analysis" {
			t.Errorf("unexpected request body: %v", body)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"sentiment":"positive","score":0.92},"tokens_used":1480}`))
	})

	resp, err := c.Invoke(context.Background(), aibackend.Request{
		CapabilityID: "sentiment-analysis",
		TenantID:     "tenant-1",
		Payload:      []byte(`{"text":"record revenue"}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Units != 1480 {
		t.Fatalf("expected 1480 tokens, got %d", resp.Units)
	}
	if !strings.Contains(string(resp.Output), "positive") {
		t.Fatalf("unexpected output: %s", resp.Output)
	}
}

func TestInvokeUpstreamError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"model overloaded"}`, http.StatusServiceUnavailable)
	})

	_, err := c.Invoke(context.Background(), aibackend.Request{CapabilityID: "sentiment-analysis"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHealthFailure(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if err := c.Health(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
