package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mythcraft/api/internal/transport/http/dto"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

func TestHealthReportsDegradedDependencies(t *testing.T) {
	handler := NewHealthHandler(map[string]Pinger{
		"postgres": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
		"redis":    pingFunc(func(context.Context) error { return nil }),
		"nats":     nil,
	})

	rr := httptest.NewRecorder()
	handler.Get(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusOK)
	}
	var resp dto.HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "degraded" {
		t.Fatalf("unexpected status: %q", resp.Status)
	}
	want := map[string]string{"postgres": "down", "redis": "up", "nats": "disabled"}
	for name, state := range want {
		if resp.Checks[name] != state {
			t.Fatalf("unexpected %s check: got %q want %q", name, resp.Checks[name], state)
		}
	}
}

func TestHealthWithoutChecks(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHealthHandler(nil).Get(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusOK)
	}
}
