package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-agent/internal/bookings"
	"github.com/wolfman30/clinic-booking-agent/internal/conversation"
	"github.com/wolfman30/clinic-booking-agent/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-booking-agent/internal/http/middleware"
	"github.com/wolfman30/clinic-booking-agent/internal/reminders"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

type stubSessions struct{ turns int }

func (s *stubSessions) Start(context.Context) (conversation.Session, conversation.Reply, error) {
	return conversation.Session{ID: "s1", State: conversation.StateGreeting}, conversation.Reply{Text: "Hi"}, nil
}

func (s *stubSessions) Turn(_ context.Context, id, _ string) (conversation.Session, conversation.Reply, error) {
	s.turns++
	return conversation.Session{ID: id, State: conversation.StateGreeting}, conversation.Reply{Text: "Hi"}, nil
}

func (s *stubSessions) Cancel(_ context.Context, id string) (conversation.Session, error) {
	return conversation.Session{ID: id, State: conversation.StateAborted}, nil
}

type stubOperator struct{}

func (stubOperator) CancelAppointment(_ context.Context, id uuid.UUID, _ string) (bookings.Cancellation, error) {
	return bookings.Cancellation{}, nil
}

func (stubOperator) Failed(context.Context, int) ([]reminders.Task, error) {
	return nil, nil
}

func newTestRouter(t *testing.T, mutate func(*Config)) (http.Handler, *stubSessions) {
	t.Helper()
	logger := logging.Default()
	sessions := &stubSessions{}
	cfg := &Config{
		Logger:             logger,
		Sessions:           handlers.NewSessionsHandler(sessions, logger),
		Operator:           handlers.NewOperatorHandler(stubOperator{}, stubOperator{}, logger),
		CORSAllowedOrigins: []string{"https://clinic.example"},
		OperatorJWTSecret:  "secret",
	}
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg), sessions
}

func TestRouterHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterSessionRoutes(t *testing.T) {
	router, sessions := newTestRouter(t, nil)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodPost, "/v1/sessions", "", http.StatusCreated},
		{http.MethodPost, "/v1/sessions/s1/turns", `{"text":"hello"}`, http.StatusOK},
		{http.MethodDelete, "/v1/sessions/s1", "", http.StatusOK},
		{http.MethodGet, "/v1/sessions/s1/turns", "", http.StatusMethodNotAllowed},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != tc.want {
			t.Errorf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, rr.Code)
		}
	}
	if sessions.turns != 1 {
		t.Fatalf("expected one turn, got %d", sessions.turns)
	}
}

func TestRouterOperatorRoutesRequireToken(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/reminders/failed"},
		{http.MethodDelete, "/v1/appointments/" + uuid.NewString()},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", tc.method, tc.path, rr.Code)
		}
	}
}

func TestRouterOmitsUnconfiguredHandlers(t *testing.T) {
	router, _ := newTestRouter(t, func(cfg *Config) {
		cfg.Doctors = nil
		cfg.MetricsHandler = nil
	})
	for _, path := range []string{"/v1/doctors", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, rr.Code)
		}
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/v1/sessions/s1/turns", nil)
	req.Header.Set("Origin", "https://clinic.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://clinic.example" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestRouterRateLimitsTurns(t *testing.T) {
	router, sessions := newTestRouter(t, func(cfg *Config) {
		cfg.TurnLimiter = httpmiddleware.NewRateLimiter(1, 1)
	})
	codes := []int{}
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/turns", strings.NewReader(`{"text":"hi"}`))
		req.Header.Set("X-Real-IP", "198.51.100.4")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}
	if sessions.turns != 1 {
		t.Fatalf("limited request reached the handler")
	}
	// Starting a session is not throttled.
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	req.Header.Set("X-Real-IP", "198.51.100.4")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
}
