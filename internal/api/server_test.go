package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/pi-relay/internal/audit"
	"github.com/nerrad567/pi-relay/internal/capture"
	"github.com/nerrad567/pi-relay/internal/dashboard"
	"github.com/nerrad567/pi-relay/internal/geo"
	"github.com/nerrad567/pi-relay/internal/infrastructure/config"
	"github.com/nerrad567/pi-relay/internal/infrastructure/logging"
	"github.com/nerrad567/pi-relay/internal/registry"
	"github.com/nerrad567/pi-relay/internal/relay"
	"github.com/nerrad567/pi-relay/internal/state"
)

// testEnv bundles a Server with the components behind it.
type testEnv struct {
	srv      *Server
	router   *relay.Router
	registry *registry.Registry
	state    *state.Reconciler
	audit    *audit.Log
	captures *capture.Store
}

// testServer creates a Server over real in-memory components. Geolocation
// has no backend so public addresses resolve to Unknown without I/O.
func testServer(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		registry: registry.New(),
		state:    state.NewReconciler(),
		captures: capture.NewStore(),
	}
	enricher := geo.NewEnricher(nil, time.Second)
	env.audit = audit.NewLog(audit.DefaultCapacity, enricher)

	rt, err := relay.New(relay.Deps{
		Registry: env.registry,
		State:    env.state,
		Audit:    env.audit,
		Captures: env.captures,
	})
	if err != nil {
		t.Fatalf("relay.New() error: %v", err)
	}
	rt.Start(context.Background())
	t.Cleanup(func() { rt.Close() })
	env.router = rt

	log := logging.Discard()
	wsCfg := config.WebSocketConfig{
		Path:           "/ws",
		MaxMessageSize: 8192,
		PingInterval:   30,
		PongTimeout:    10,
	}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS:       wsCfg,
		Logger:   log,
		Router:   rt,
		Registry: env.registry,
		State:    env.state,
		Audit:    env.audit,
		Captures: env.captures,
		Geo:      enricher,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	// Initialise hub for tests
	srv.hub = NewHub(wsCfg, log, rt)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)
	t.Cleanup(cancel)

	env.srv = srv
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.srv.buildRouter().ServeHTTP(w, req)
	return w
}

func (e *testEnv) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.router.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t)

	for _, path := range []string{"/", "/api/health"} {
		w := env.do(t, http.MethodGet, path, "", nil)
		if w.Code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", path, w.Code, http.StatusOK)
		}
		resp := decodeBody(t, w)
		if resp["status"] != "ok" {
			t.Errorf("%s status = %v, want ok", path, resp["status"])
		}
		if resp["version"] != "test" {
			t.Errorf("%s version = %v, want test", path, resp["version"])
		}
		ts, _ := resp["timestamp"].(string) //nolint:errcheck // checked by Parse below
		if _, err := time.Parse(time.RFC3339, ts); err != nil {
			t.Errorf("%s timestamp %q not RFC 3339: %v", path, ts, err)
		}
	}
}

func TestHealth_ContentType(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/api/health", "", nil)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/api/health", "", nil)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/api/health", "", map[string]string{"X-Request-ID": "client-123"})

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodOptions, "/send-command", "", map[string]string{"Origin": "http://localhost:5173"})

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:5173")
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/api/nonexistent", "", nil)

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestDashboard(t *testing.T) {
	env := testServer(t)
	if w := env.do(t, http.MethodGet, "/dashboard/", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("unconfigured dashboard status = %d, want 404", w.Code)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>relay</html>"), 0o600); err != nil {
		t.Fatal(err)
	}
	h, err := dashboard.Handler(dir)
	if err != nil {
		t.Fatalf("dashboard.Handler() error = %v", err)
	}
	env.srv.dashboard = h

	w := env.do(t, http.MethodGet, "/dashboard/events", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "relay") {
		t.Errorf("GET /dashboard/events = %d %q, want index.html", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/dashboard", "", nil)
	if w.Code != http.StatusMovedPermanently || w.Header().Get("Location") != "/dashboard/" {
		t.Errorf("GET /dashboard = %d to %q, want redirect to /dashboard/", w.Code, w.Header().Get("Location"))
	}
}

func TestNew_InvalidDashboardDir(t *testing.T) {
	env := testServer(t)
	_, err := New(Deps{
		Config:   config.APIConfig{DashboardDir: "/nonexistent/dashboard"},
		Logger:   logging.Discard(),
		Router:   env.router,
		Registry: env.registry,
		State:    env.state,
		Audit:    env.audit,
		Captures: env.captures,
	})
	if err == nil {
		t.Error("New() with a missing dashboard dir should fail")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded first hop", headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1", "X-Real-IP": "198.51.100.2"}, remote: "10.0.0.1:5000", want: "203.0.113.7"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.2"}, remote: "10.0.0.1:5000", want: "198.51.100.2"},
		{name: "remote addr", remote: "192.0.2.4:41000", want: "192.0.2.4"},
		{name: "remote ipv6", remote: "[2001:db8::5]:443", want: "2001:db8::5"},
		{name: "empty forwarded", headers: map[string]string{"X-Forwarded-For": " "}, remote: "192.0.2.4:1", want: "192.0.2.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := clientIP(r); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ─── Command Tests ─────────────────────────────────────────────────

func TestSendCommand(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodPost, "/send-command", `{"command":"on","piId":"pi-001"}`, map[string]string{
		"X-Forwarded-For": "192.168.1.20",
		"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["success"] != true || resp["command"] != "LED ON" {
		t.Errorf("response = %v", resp)
	}

	env.flush(t)
	if env.state.Current() != state.On {
		t.Errorf("state = %q, want on", env.state.Current())
	}
	events, _ := env.audit.List()
	if len(events) != 1 {
		t.Fatalf("audit len = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Metadata == nil || ev.Metadata.IP != "192.168.1.20" || ev.Metadata.DeviceID != "pi-001" {
		t.Errorf("metadata = %+v", ev.Metadata)
	}
	if ev.Location == nil || ev.Location.Display != geo.DisplayLocalNetwork {
		t.Errorf("location = %+v, want Local Network", ev.Location)
	}
}

func TestSendCommand_Invalid(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{name: "toggle", body: `{"command":"toggle"}`, wantCode: ErrCodeInvalidCommand},
		{name: "missing", body: `{}`, wantCode: ErrCodeInvalidCommand},
		{name: "empty body", body: "", wantCode: ErrCodeInvalidCommand},
		{name: "malformed", body: `{"command":`, wantCode: ErrCodeInvalidBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/send-command", tt.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			resp := decodeBody(t, w)
			if resp["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", resp["code"], tt.wantCode)
			}
		})
	}

	env.flush(t)
	if env.state.Current() != state.Unknown || env.audit.Len() != 0 {
		t.Error("invalid command had side effects")
	}
}

func TestSendCommand_BodyTooLarge(t *testing.T) {
	env := testServer(t)

	body := `{"command":"on","piId":"` + strings.Repeat("x", maxRequestBodySize) + `"}`
	w := env.do(t, http.MethodPost, "/send-command", body, nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
	if resp := decodeBody(t, w); resp["code"] != ErrCodeBodyTooLarge {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeBodyTooLarge)
	}
	if env.state.Current() != state.Unknown {
		t.Error("oversized body changed state")
	}
}

func TestLEDShorthand(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodPost, "/api/led/off", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decodeBody(t, w); resp["command"] != "LED OFF" {
		t.Errorf("command = %v, want LED OFF", resp["command"])
	}

	w = env.do(t, http.MethodPost, "/api/led/on", `{"piId":"pi-002"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	env.flush(t)
	if env.audit.Len() != 2 {
		t.Errorf("audit len = %d, want 2", env.audit.Len())
	}
}

func TestLEDStatus(t *testing.T) {
	env := testServer(t)

	resp := decodeBody(t, env.do(t, http.MethodGet, "/led-status", "", nil))
	if resp["status"] != "unknown" || resp["updatedAt"] != nil {
		t.Errorf("initial = %v", resp)
	}

	env.do(t, http.MethodPost, "/api/led/on", "", nil)
	resp = decodeBody(t, env.do(t, http.MethodGet, "/led-status", "", nil))
	if resp["status"] != "on" || resp["updatedAt"] == nil {
		t.Errorf("after command = %v", resp)
	}
}

func TestLEDEvents(t *testing.T) {
	env := testServer(t)

	resp := decodeBody(t, env.do(t, http.MethodGet, "/led-events", "", nil))
	if resp["count"] != float64(0) {
		t.Errorf("count = %v, want 0", resp["count"])
	}
	if events, ok := resp["events"].([]any); !ok || len(events) != 0 {
		t.Errorf("events = %v, want []", resp["events"])
	}

	env.do(t, http.MethodPost, "/send-command", `{"command":"on"}`, nil)
	env.do(t, http.MethodPost, "/send-command", `{"command":"on"}`, nil)
	env.do(t, http.MethodPost, "/send-command", `{"command":"off"}`, nil)
	env.flush(t)

	resp = decodeBody(t, env.do(t, http.MethodGet, "/led-events", "", nil))
	if resp["count"] != float64(2) {
		t.Fatalf("count = %v, want 2", resp["count"])
	}
	events, _ := resp["events"].([]any) //nolint:errcheck // length checked below
	if len(events) != 2 {
		t.Fatalf("events len = %d", len(events))
	}
	first, _ := events[0].(map[string]any) //nolint:errcheck // nil map fails comparison
	if first["command"] != "off" || first["source"] != "dashboard" {
		t.Errorf("newest event = %v, want off from dashboard", first)
	}
}

// ─── Photo Tests ───────────────────────────────────────────────────

func TestLatestPhoto_NotFound(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/latest-photo", "", nil)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if resp := decodeBody(t, w); resp["message"] != "No photo available" {
		t.Errorf("message = %v", resp["message"])
	}
}

func TestLatestPhoto_Found(t *testing.T) {
	env := testServer(t)
	env.captures.Set(capture.Photo{
		Data:      json.RawMessage(`"aGVsbG8="`),
		Timestamp: json.RawMessage(`"2024-05-01T10:00:00.123Z"`),
		DeviceID:  "pi-001",
	})

	w := env.do(t, http.MethodGet, "/latest-photo", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeBody(t, w)
	if resp["success"] != true || resp["photo"] != "aGVsbG8=" || resp["piId"] != "pi-001" {
		t.Errorf("response = %v", resp)
	}
	if resp["timestamp"] != "2024-05-01T10:00:00.123Z" {
		t.Errorf("timestamp = %v, want verbatim", resp["timestamp"])
	}
}

func TestTakePhoto(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodPost, "/take-photo", `{"piId":"pi-001"}`, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeBody(t, w)
	if resp["success"] != true || resp["message"] != "Photo command sent" {
		t.Errorf("response = %v", resp)
	}
}

func TestListPis_Empty(t *testing.T) {
	env := testServer(t)
	resp := decodeBody(t, env.do(t, http.MethodGet, "/api/pis", "", nil))

	pis, ok := resp["pis"].([]any)
	if !ok || len(pis) != 0 {
		t.Errorf("pis = %v, want []", resp["pis"])
	}
}

func TestMetrics(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/api/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var m SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Relay.LEDState != "unknown" || m.Relay.AuditCapacity != audit.DefaultCapacity {
		t.Errorf("relay metrics = %+v", m.Relay)
	}
	if m.Geo == nil {
		t.Error("geo metrics missing")
	}
}

// ─── WebSocket Tests ───────────────────────────────────────────────

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, eventType, payload string) {
	t.Helper()
	frame := relay.Frame{Type: relay.FrameTypeEvent, EventType: eventType, Payload: json.RawMessage(payload)}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) relay.Frame {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f relay.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWebSocket_DeviceToDashboard(t *testing.T) {
	env := testServer(t)
	ts := httptest.NewServer(env.srv.buildRouter())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	device := dialWS(t, wsURL)
	dash := dialWS(t, wsURL)
	waitFor(t, func() bool { return env.registry.Count() == 2 })

	sendFrame(t, device, relay.EventRegister, `{"piId":"pi-001","capabilities":["led_control","camera"]}`)
	waitFor(t, func() bool { return len(env.registry.ListActive()) == 1 })

	resp := decodeBody(t, env.do(t, http.MethodGet, "/api/pis", "", nil))
	pis, _ := resp["pis"].([]any) //nolint:errcheck // length checked below
	if len(pis) != 1 {
		t.Fatalf("pis = %v", resp["pis"])
	}
	pi, _ := pis[0].(map[string]any) //nolint:errcheck // nil map fails comparison
	if pi["piId"] != "pi-001" || pi["connected"] != true || pi["socketId"] == "" {
		t.Errorf("pi = %v", pi)
	}

	sendFrame(t, device, relay.EventLEDStatus, `{"piId":"pi-001","status":"on","timestamp":"2024-01-01T00:00:00Z"}`)
	f := readFrame(t, dash)
	if f.Type != relay.FrameTypeEvent || f.EventType != relay.EventLEDStatus {
		t.Fatalf("frame = %+v", f)
	}

	env.flush(t)
	if env.state.Current() != state.On || env.audit.Len() != 1 {
		t.Errorf("state = %q audit = %d", env.state.Current(), env.audit.Len())
	}

	// A dashboard command reaches the device too.
	env.do(t, http.MethodPost, "/send-command", `{"command":"off"}`, nil)
	f = readFrame(t, device)
	if f.EventType != relay.EventLEDCommand || string(f.Payload) != `{"command":"off"}` {
		t.Errorf("device frame = %+v", f)
	}

	device.Close()
	waitFor(t, func() bool { return len(env.registry.ListActive()) == 0 })
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	env := testServer(t)
	ts := httptest.NewServer(env.srv.buildRouter())
	defer ts.Close()
	conn := dialWS(t, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws")

	if err := conn.WriteJSON(relay.Frame{Type: relay.FrameTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := readFrame(t, conn); f.Type != relay.FrameTypePong || f.ID != "p1" {
		t.Errorf("frame = %+v, want pong p1", f)
	}

	if err := conn.WriteJSON(relay.Frame{Type: "subscribe", ID: "s1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := readFrame(t, conn); f.Type != relay.FrameTypeError || f.ID != "s1" {
		t.Errorf("frame = %+v, want error s1", f)
	}

	sendFrame(t, conn, relay.EventLEDStatus, `{"status":"purple"}`)
	if f := readFrame(t, conn); f.Type != relay.FrameTypeError {
		t.Errorf("frame = %+v, want error for invalid status", f)
	}
	if env.state.Current() != state.Unknown {
		t.Error("invalid status changed state")
	}
}

func TestHub_ClientCount(t *testing.T) {
	env := testServer(t)
	hub := env.srv.hub

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := &WSClient{
		id:   "c1",
		hub:  hub,
		send: make(chan []byte, wsSendBufferSize),
	}
	hub.Register(client)
	if hub.ClientCount() != 1 || !env.registry.Has("c1") {
		t.Errorf("after register count = %d", hub.ClientCount())
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || env.registry.Has("c1") {
		t.Errorf("after unregister count = %d", hub.ClientCount())
	}

	if client.Send([]byte("x")) {
		t.Error("Send() on a closed client reported success")
	}
}
