package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"motorlink/internal/protocol"
	"motorlink/internal/registry"
	"motorlink/internal/telemetry"
)

type captureTransport struct {
	mu   sync.Mutex
	sent [][]byte
}

func (c *captureTransport) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, payload)
	return true
}

func (c *captureTransport) Ping() error { return nil }
func (c *captureTransport) Terminate()  {}

func (c *captureTransport) last(t *testing.T) map[string]interface{} {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.sent)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(c.sent[len(c.sent)-1], &decoded))
	return decoded
}

func (c *captureTransport) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fixture struct {
	registry *registry.Registry
	store    *telemetry.Store
	router   *mux.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := telemetry.NewStore(8)
	require.NoError(t, err)

	reg := registry.New()
	router := mux.NewRouter()
	NewAPIServer(reg, store).Routes(router)

	return &fixture{registry: reg, store: store, router: router}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestSetSpeed(t *testing.T) {
	t.Run("forwards valid speed", func(t *testing.T) {
		f := newFixture(t)
		device := &captureTransport{}
		f.registry.RegisterDevice("esp32-1", device, "a")

		rec, body := f.do(t, "POST", "/api/command/set-speed", `{"motor":"a","speed":60}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, protocol.MsgCommandSent, body["message"])

		sent := device.last(t)
		assert.Equal(t, "command", sent["type"])
		assert.Equal(t, "SET_SPEED", sent["command"])
		assert.Equal(t, "A", sent["motor"])
		assert.Equal(t, float64(60), sent["value"])
	})

	t.Run("rejects out of range speed", func(t *testing.T) {
		f := newFixture(t)
		device := &captureTransport{}
		f.registry.RegisterDevice("esp32-1", device, "a")

		rec, body := f.do(t, "POST", "/api/command/set-speed", `{"motor":"A","speed":150}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Speed must be between 0 and 100", body["error"])
		assert.Equal(t, 0, device.count())
	})

	t.Run("rejects bad motor", func(t *testing.T) {
		f := newFixture(t)
		rec, body := f.do(t, "POST", "/api/command/set-speed", `{"motor":"C","speed":10}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Motor must be A or B", body["error"])
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		f := newFixture(t)
		rec, _ := f.do(t, "POST", "/api/command/set-speed", `{"motor":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMotorCommands(t *testing.T) {
	t.Run("stop without devices reports failure", func(t *testing.T) {
		f := newFixture(t)
		rec, body := f.do(t, "POST", "/api/command/stop", `{"motor":"B"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, protocol.MsgNoDevices, body["message"])

		cmd := body["command"].(map[string]interface{})
		assert.Equal(t, "STOP", cmd["command"])
		assert.Equal(t, "B", cmd["motor"])
	})

	t.Run("forward uses its own success text", func(t *testing.T) {
		f := newFixture(t)
		f.registry.RegisterDevice("esp32-1", &captureTransport{}, "a")

		_, body := f.do(t, "POST", "/api/command/forward", `{"motor":"A"}`)
		assert.Equal(t, "Motor A set to FORWARD", body["message"])
	})

	t.Run("reverse requires motor", func(t *testing.T) {
		f := newFixture(t)
		rec, _ := f.do(t, "POST", "/api/command/reverse", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSetDirection(t *testing.T) {
	f := newFixture(t)
	device := &captureTransport{}
	f.registry.RegisterDevice("esp32-1", device, "a")

	rec, body := f.do(t, "POST", "/api/command/set-direction", `{"motor":"B","direction":"REVERSE"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Motor B direction set to reverse", body["message"])
	assert.Equal(t, "reverse", device.last(t)["direction"])

	rec, body = f.do(t, "POST", "/api/command/set-direction", `{"motor":"B","direction":"up"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Direction must be forward or reverse", body["error"])
}

func TestStart(t *testing.T) {
	t.Run("defaults to START", func(t *testing.T) {
		f := newFixture(t)
		device := &captureTransport{}
		f.registry.RegisterDevice("esp32-1", device, "a")

		rec, _ := f.do(t, "POST", "/api/command/start", `{"motor":"B"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "START", device.last(t)["command"])
	})

	t.Run("custom command without motor defaults to motor A", func(t *testing.T) {
		f := newFixture(t)
		device := &captureTransport{}
		f.registry.RegisterDevice("esp32-1", device, "a")

		rec, _ := f.do(t, "POST", "/api/command/start", `{"command":"LED_ON"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		sent := device.last(t)
		assert.Equal(t, "LED_ON", sent["command"])
		assert.Equal(t, "A", sent["motor"])
	})

	t.Run("start requires motor", func(t *testing.T) {
		f := newFixture(t)
		rec, body := f.do(t, "POST", "/api/command/start", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Motor must be A or B", body["error"])
	})

	t.Run("unknown custom command is never forwarded", func(t *testing.T) {
		f := newFixture(t)
		device := &captureTransport{}
		f.registry.RegisterDevice("esp32-1", device, "a")

		rec, _ := f.do(t, "POST", "/api/command/start", `{"command":"SELF_DESTRUCT"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, 0, device.count())
	})
}

func TestReadEndpoints(t *testing.T) {
	f := newFixture(t)
	f.registry.RegisterDevice("esp32-1", &captureTransport{}, "10.0.0.7:5000")
	f.registry.RegisterDashboard("session-1", &captureTransport{})

	env, err := protocol.Decode([]byte(`{"type":"telemetry","motorA":{"voltage":12,"current":500,"rpm":120},"motorB":{"voltage":12,"current":480,"rpm":118}}`))
	require.NoError(t, err)
	tel, err := protocol.ValidateTelemetry(env)
	require.NoError(t, err)
	f.store.Record("esp32-1", tel)

	t.Run("status lists peers", func(t *testing.T) {
		rec, body := f.do(t, "GET", "/api/status", "")
		assert.Equal(t, http.StatusOK, rec.Code)

		devices := body["devices"].([]interface{})
		require.Len(t, devices, 1)
		device := devices[0].(map[string]interface{})
		assert.Equal(t, "esp32-1", device["id"])
		assert.Equal(t, "10.0.0.7:5000", device["ip"])
		assert.Equal(t, true, device["connected"])

		dashboards := body["dashboards"].([]interface{})
		require.Len(t, dashboards, 1)

		stats := body["stats"].(map[string]interface{})
		assert.Equal(t, float64(1), stats["devices"])
		assert.Equal(t, float64(1), stats["dashboards"])
	})

	t.Run("latest telemetry", func(t *testing.T) {
		rec, body := f.do(t, "GET", "/api/telemetry/latest", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["success"])

		samples := body["telemetry"].(map[string]interface{})
		sample := samples["esp32-1"].(map[string]interface{})
		data := sample["data"].(map[string]interface{})
		motorA := data["motorA"].(map[string]interface{})
		assert.Equal(t, float64(120), motorA["rpm"])
	})

	t.Run("health", func(t *testing.T) {
		rec, body := f.do(t, "GET", "/api/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", body["status"])
	})
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest("OPTIONS", "/api/command/stop", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
