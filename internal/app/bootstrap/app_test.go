package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/clinic-booking-agent/internal/config"
	"github.com/wolfman30/clinic-booking-agent/internal/http/middleware"
	"github.com/wolfman30/clinic-booking-agent/internal/notify"
)

const operatorSecret = "operator-secret"

type sentMessage struct {
	channel notify.Channel
	subject string
}

type recordingGateway struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (g *recordingGateway) Send(_ context.Context, to notify.Recipient, ch notify.Channel, c notify.Content) error {
	if ch == notify.ChannelEmail && to.Email == "" {
		return &notify.DeliveryError{Channel: ch, Err: notify.ErrNoAddress}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sentMessage{channel: ch, subject: c.Subject})
	return nil
}

func (g *recordingGateway) subjects() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.sent))
	for _, m := range g.sent {
		out = append(out, m.subject)
	}
	return out
}

type testApp struct {
	app     *App
	server  *httptest.Server
	gateway *recordingGateway
	now     time.Time
	mu      sync.Mutex
}

func (ta *testApp) clock() time.Time {
	ta.mu.Lock()
	defer ta.mu.Unlock()
	return ta.now
}

func (ta *testApp) advance(d time.Duration) {
	ta.mu.Lock()
	defer ta.mu.Unlock()
	ta.now = ta.now.Add(d)
}

func testConfig() *appconfig.Config {
	cfg := appconfig.Load()
	cfg.Env = "test"
	cfg.ClinicName = "Riverside Clinic"
	cfg.ClinicTimezone = "UTC"
	cfg.Doctors = []string{"smith", "chen"}
	cfg.SlotHorizonDays = 14
	cfg.OperatorJWTSecret = operatorSecret
	cfg.TurnRatePerSecond = 0
	return cfg
}

func newTestApp(t *testing.T, cfg *appconfig.Config) *testApp {
	t.Helper()
	ta := &testApp{gateway: &recordingGateway{}, now: time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)}
	app, err := Build(cfg, Infra{Gateway: ta.gateway, Now: ta.clock}, nil)
	require.NoError(t, err)
	_, err = app.SeedCalendar(context.Background(), ta.clock())
	require.NoError(t, err)
	ta.app = app
	ta.server = httptest.NewServer(app.Handler)
	t.Cleanup(ta.server.Close)
	return ta
}

func (ta *testApp) do(t *testing.T, method, path string, body any, token string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ta.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Real-IP", "203.0.113.7")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ta.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (ta *testApp) say(t *testing.T, id, text string) map[string]any {
	t.Helper()
	code, body := ta.do(t, http.MethodPost, "/v1/sessions/"+id+"/turns", map[string]string{"text": text}, "")
	require.Equal(t, http.StatusOK, code, "turn %q: %v", text, body)
	return body
}

func operatorToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.OperatorClaims{
		Scope: middleware.OperatorScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "front-desk",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(operatorSecret))
	require.NoError(t, err)
	return token
}

func slotTimes(t *testing.T, ta *testApp, doctor, date string) []string {
	t.Helper()
	code, body := ta.do(t, http.MethodGet, "/v1/doctors/"+doctor+"/slots?date="+date, nil, "")
	require.Equal(t, http.StatusOK, code)
	var out []string
	for _, s := range body["slots"].([]any) {
		out = append(out, s.(map[string]any)["time"].(string))
	}
	return out
}

func TestBookingOverHTTP(t *testing.T) {
	ta := newTestApp(t, testConfig())
	ctx := context.Background()

	code, body := ta.do(t, http.MethodPost, "/v1/sessions", nil, "")
	require.Equal(t, http.StatusCreated, code)
	id := body["session_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "greeting", body["state"])

	body = ta.say(t, id, "My name is Jane Doe, DOB 04/02/1990, I want Dr. Smith")
	assert.Equal(t, "scheduling", body["state"])
	assert.Contains(t, body["reply"], "new patient")
	body = ta.say(t, id, "You can reach me at (415) 555-2671. I'd like to book for 2026-03-05.")
	assert.Equal(t, "scheduling", body["state"])
	body = ta.say(t, id, "option 2")
	assert.Equal(t, "insurance", body["state"])
	apptID, _ := body["appointment_id"].(string)
	require.NotEmpty(t, apptID)
	body = ta.say(t, id, "Aetna, member ID ABC12345")
	assert.Equal(t, "confirmation", body["state"])
	body = ta.say(t, id, "yes")
	assert.Equal(t, "done", body["state"])
	assert.Equal(t, "booked", body["outcome"])
	assert.Contains(t, body["reply"], "new patient intake form")

	assert.NotContains(t, slotTimes(t, ta, "smith", "2026-03-05"), "09:30")

	code, _ = ta.do(t, http.MethodPost, "/v1/sessions/"+id+"/turns", map[string]string{"text": "thanks"}, "")
	assert.Equal(t, http.StatusConflict, code)

	assert.Equal(t, 1, ta.app.Deliverer.Drain(ctx))
	assert.ElementsMatch(t, []string{"Appointment confirmed at Riverside Clinic", "New patient intake form"}, ta.gateway.subjects())

	code, _ = ta.do(t, http.MethodGet, "/v1/reminders/failed", nil, "")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, body = ta.do(t, http.MethodGet, "/v1/reminders/failed", nil, operatorToken(t))
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["reminders"])

	code, body = ta.do(t, http.MethodDelete, "/v1/appointments/"+apptID, map[string]string{"reason": "patient called"}, operatorToken(t))
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 3, body["reminders_cancelled"])
	assert.Contains(t, slotTimes(t, ta, "smith", "2026-03-05"), "09:30")

	// The cancellation event is the only outbox entry left and has no notification.
	assert.Equal(t, 1, ta.app.Deliverer.Drain(ctx))
}

func TestRemindersFireThroughWorker(t *testing.T) {
	ta := newTestApp(t, testConfig())

	_, body := ta.do(t, http.MethodPost, "/v1/sessions", nil, "")
	id := body["session_id"].(string)
	ta.say(t, id, "My name is Jane Doe, DOB 04/02/1990, I want Dr. Smith")
	ta.say(t, id, "You can reach me at (415) 555-2671. I'd like to book for 2026-03-05.")
	ta.say(t, id, "option 2")
	ta.say(t, id, "Aetna, member ID ABC12345")
	ta.say(t, id, "yes")

	// 2026-03-04 09:30 is 24 hours before the visit.
	ta.advance(47*time.Hour + 30*time.Minute)
	assert.Equal(t, 1, ta.app.ReminderWorker.Sweep(context.Background()))
	assert.Contains(t, ta.gateway.subjects(), "Riverside Clinic: appointment tomorrow")
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	ta := newTestApp(t, testConfig())

	code, _ := ta.do(t, http.MethodPost, "/v1/sessions/missing/turns", map[string]string{"text": "hi"}, "")
	assert.Equal(t, http.StatusNotFound, code)

	_, body := ta.do(t, http.MethodPost, "/v1/sessions", nil, "")
	id := body["session_id"].(string)
	ta.say(t, id, "My name is Jane Doe, DOB 04/02/1990, I want Dr. Smith")

	code, body = ta.do(t, http.MethodDelete, "/v1/sessions/"+id, nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "aborted", body["state"])
	assert.Equal(t, "cancelled", body["outcome"])

	code, _ = ta.do(t, http.MethodPost, "/v1/sessions/"+id+"/turns", map[string]string{"text": "hello?"}, "")
	assert.Equal(t, http.StatusConflict, code)
}

func TestReaperTimesOutIdleSessions(t *testing.T) {
	ta := newTestApp(t, testConfig())

	_, body := ta.do(t, http.MethodPost, "/v1/sessions", nil, "")
	id := body["session_id"].(string)

	ta.advance(31 * time.Minute)
	n, err := ta.app.Sessions.Reap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	code, _ := ta.do(t, http.MethodPost, "/v1/sessions/"+id+"/turns", map[string]string{"text": "hi"}, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestTurnRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.TurnRatePerSecond = 1
	cfg.TurnRateBurst = 1
	ta := newTestApp(t, cfg)

	_, body := ta.do(t, http.MethodPost, "/v1/sessions", nil, "")
	id := body["session_id"].(string)

	code, _ := ta.do(t, http.MethodPost, "/v1/sessions/"+id+"/turns", map[string]string{"text": "hi"}, "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = ta.do(t, http.MethodPost, "/v1/sessions/"+id+"/turns", map[string]string{"text": "hi"}, "")
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestHealthAndMetrics(t *testing.T) {
	ta := newTestApp(t, testConfig())

	code, body := ta.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = ta.do(t, http.MethodGet, "/v1/doctors", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["doctors"], 2)

	_, body = ta.do(t, http.MethodPost, "/v1/sessions", nil, "")
	ta.say(t, body["session_id"].(string), "hello")
	resp, err := ta.server.Client().Get(ta.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "clinic_conversation_turns_total")
}

func TestBuildRequiresConfig(t *testing.T) {
	_, err := Build(nil, Infra{}, nil)
	assert.Error(t, err)
}
