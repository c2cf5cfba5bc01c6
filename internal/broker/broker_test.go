package broker

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"motorlink/internal/config"
	"motorlink/internal/protocol"
	"motorlink/internal/registry"
)

const readTimeout = 2 * time.Second

type testBroker struct {
	server   *Server
	registry *registry.Registry
	http     *httptest.Server
}

func newTestBroker(t *testing.T) *testBroker {
	t.Helper()

	reg := registry.New()
	srv, err := NewServer(config.NewDefault(), reg)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(reg.Close)

	return &testBroker{server: srv, registry: reg, http: ts}
}

func (b *testBroker) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(b.http.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// dashboard connects a dashboard and consumes its greeting
func (b *testBroker) dashboard(t *testing.T) *websocket.Conn {
	t.Helper()
	conn := b.dial(t, "/ws/dashboard")
	greeting := readJSON(t, conn)
	require.Equal(t, "connection", greeting["type"])
	return conn
}

// device connects a device and waits until dash has seen its announcement
func (b *testBroker) device(t *testing.T, id string, dash *websocket.Conn) *websocket.Conn {
	t.Helper()
	conn := b.dial(t, "/ws/device?device_id="+id)
	status := readJSON(t, dash)
	require.Equal(t, "status", status["type"])
	require.Equal(t, "Device "+id+" connected", status["message"])
	return conn
}

func readRaw(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return data
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(readRaw(t, conn), &decoded))
	return decoded
}

// drain collects every frame that arrives before the connection stays
// quiet for the given window
func drain(t *testing.T, conn *websocket.Conn, quiet time.Duration) []map[string]interface{} {
	t.Helper()
	var frames []map[string]interface{}
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(quiet)))
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "unexpected read error: %v", err)
			return frames
		}
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &decoded))
		frames = append(frames, decoded)
	}
}

func expectClose(t *testing.T, conn *websocket.Conn, code int, reason string) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := conn.ReadMessage()

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, code, closeErr.Code)
	assert.Equal(t, reason, closeErr.Text)
}

func TestConnectionRouting(t *testing.T) {
	b := newTestBroker(t)

	t.Run("unknown path", func(t *testing.T) {
		expectClose(t, b.dial(t, "/ws/other"), websocket.ClosePolicyViolation, ReasonUnknownPath)
	})

	t.Run("framework internal path", func(t *testing.T) {
		expectClose(t, b.dial(t, "/_next/webpack-hmr"), websocket.CloseNormalClosure, ReasonInvalidEndpoint)
	})

	t.Run("device without id", func(t *testing.T) {
		expectClose(t, b.dial(t, "/ws/device"), websocket.ClosePolicyViolation, ReasonMissingDeviceID)
		assert.Equal(t, 0, b.registry.Snapshot().Devices)
	})

	t.Run("device path matches as substring", func(t *testing.T) {
		dash := b.dashboard(t)
		b.device(t, "edge-1", dash)

		_ = b.dial(t, "/proxy/ws/device?device_id=edge-2")
		status := readJSON(t, dash)
		assert.Equal(t, "Device edge-2 connected", status["message"])
	})
}

func TestDashboardGreeting(t *testing.T) {
	b := newTestBroker(t)
	first := b.dashboard(t)
	b.device(t, "esp32-1", first)

	conn := b.dial(t, "/ws/dashboard")
	greeting := readJSON(t, conn)
	assert.Equal(t, "connection", greeting["type"])
	assert.Equal(t, protocol.MsgConnected, greeting["message"])

	stats := greeting["stats"].(map[string]interface{})
	assert.Equal(t, float64(1), stats["devices"])
	assert.Equal(t, float64(2), stats["dashboards"])
	assert.Equal(t, []interface{}{"esp32-1"}, stats["deviceList"])
}

func TestTelemetryRelay(t *testing.T) {
	b := newTestBroker(t)
	dash := b.dashboard(t)
	device := b.device(t, "esp32-1", dash)

	raw := `{"type":"telemetry",  "motorA":{"voltage":12.1,"current":null,"rpm":0},` +
		`"motorB":{"voltage":12.0,"current":310,"rpm":95},"temperature":41.5,"extra":"kept"}`
	require.NoError(t, device.WriteMessage(websocket.TextMessage, []byte(raw)))

	assert.Equal(t, raw, string(readRaw(t, dash)))

	sample, ok := b.server.Telemetry().Latest("esp32-1")
	require.True(t, ok)
	assert.Equal(t, float64(95), sample.Telemetry.MotorB.RPM)
}

func TestInvalidDeviceMessagesAreDropped(t *testing.T) {
	b := newTestBroker(t)
	dash := b.dashboard(t)
	device := b.device(t, "esp32-1", dash)

	frames := []string{
		`not json`,
		`{"type":"telemetry","motorA":{"voltage":12,"current":1},"motorB":{"voltage":12,"current":1,"rpm":1}}`,
		`{"type":"status","state":"SPINNING"}`,
		`{"type":"command","command":"STOP","motor":"A"}`,
	}
	for _, frame := range frames {
		require.NoError(t, device.WriteMessage(websocket.TextMessage, []byte(frame)))
	}

	valid := `{"type":"status","state":"RUNNING","message":"ok"}`
	require.NoError(t, device.WriteMessage(websocket.TextMessage, []byte(valid)))

	// Frames of one device are handled in order, so the first frame the
	// dashboard sees must be the valid status
	assert.Equal(t, valid, string(readRaw(t, dash)))
}

func TestCommandForwarding(t *testing.T) {
	b := newTestBroker(t)
	dash := b.dashboard(t)
	device := b.device(t, "esp32-1", dash)

	cmd := `{"type":"command","command":"SET_SPEED","motor":"A","value":60}`
	require.NoError(t, dash.WriteMessage(websocket.TextMessage, []byte(cmd)))

	assert.Equal(t, cmd, string(readRaw(t, device)))

	ack := readJSON(t, dash)
	assert.Equal(t, "ack", ack["type"])
	assert.Equal(t, true, ack["success"])
	assert.Equal(t, protocol.MsgCommandSent, ack["message"])
}

func TestCommandDirectionNormalized(t *testing.T) {
	b := newTestBroker(t)
	dash := b.dashboard(t)
	device := b.device(t, "esp32-1", dash)

	cmd := `{"type":"command","command":"SET_DIRECTION","motor":"B","direction":"FORWARD"}`
	require.NoError(t, dash.WriteMessage(websocket.TextMessage, []byte(cmd)))

	forwarded := readJSON(t, device)
	assert.Equal(t, "forward", forwarded["direction"])
	assert.Equal(t, "B", forwarded["motor"])
}

func TestCommandWithoutDevices(t *testing.T) {
	b := newTestBroker(t)
	dash := b.dashboard(t)

	require.NoError(t, dash.WriteMessage(websocket.TextMessage, []byte(`{"type":"command","command":"STOP","motor":"A"}`)))

	ack := readJSON(t, dash)
	assert.Equal(t, "ack", ack["type"])
	assert.Equal(t, false, ack["success"])
	assert.Equal(t, protocol.MsgNoDevices, ack["message"])
}

func TestDashboardErrors(t *testing.T) {
	b := newTestBroker(t)
	dash := b.dashboard(t)
	device := b.device(t, "esp32-1", dash)

	tests := []struct {
		name    string
		frame   string
		message string
	}{
		{"malformed json", `{"type":`, protocol.MsgInvalidMessage},
		{"speed out of range", `{"type":"command","command":"SET_SPEED","motor":"A","value":101}`, protocol.MsgInvalidCommand},
		{"unknown command", `{"type":"command","command":"SELF_DESTRUCT","motor":"A"}`, protocol.MsgInvalidCommand},
		{"bad motor", `{"type":"command","command":"STOP","motor":"C"}`, protocol.MsgInvalidCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, dash.WriteMessage(websocket.TextMessage, []byte(tt.frame)))
			reply := readJSON(t, dash)
			assert.Equal(t, "error", reply["type"])
			assert.Equal(t, tt.message, reply["message"])
		})
	}

	// None of the rejected commands reached the device
	assert.Empty(t, drain(t, device, 200*time.Millisecond))
}

func TestStatusRequest(t *testing.T) {
	b := newTestBroker(t)
	dash := b.dashboard(t)
	b.device(t, "esp32-2", dash)
	b.device(t, "esp32-1", dash)

	require.NoError(t, dash.WriteMessage(websocket.TextMessage, []byte(`{"type":"status_request"}`)))

	reply := readJSON(t, dash)
	assert.Equal(t, "status_response", reply["type"])

	stats := reply["stats"].(map[string]interface{})
	assert.Equal(t, float64(2), stats["devices"])
	assert.Equal(t, float64(1), stats["dashboards"])
	assert.Equal(t, []interface{}{"esp32-1", "esp32-2"}, stats["deviceList"])
}

func TestDeviceDisconnectAnnounced(t *testing.T) {
	b := newTestBroker(t)
	dash := b.dashboard(t)
	device := b.device(t, "esp32-1", dash)

	require.NoError(t, device.Close())

	status := readJSON(t, dash)
	assert.Equal(t, "status", status["type"])
	assert.Equal(t, "IDLE", status["state"])
	assert.Equal(t, "Device esp32-1 disconnected", status["message"])

	assert.Equal(t, 0, b.registry.Snapshot().Devices)
}

func TestSupersededDeviceAnnouncesOnce(t *testing.T) {
	b := newTestBroker(t)
	dash := b.dashboard(t)
	first := b.device(t, "esp32-1", dash)
	second := b.device(t, "esp32-1", dash)

	// The broker closes the older connection
	require.NoError(t, first.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)

	assert.Equal(t, 1, b.registry.Snapshot().Devices)

	require.NoError(t, second.Close())

	disconnects := 0
	for _, frame := range drain(t, dash, 300*time.Millisecond) {
		if frame["message"] == "Device esp32-1 disconnected" {
			disconnects++
		}
	}
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, 0, b.registry.Snapshot().Devices)
}

func TestHeartbeatEviction(t *testing.T) {
	b := newTestBroker(t)
	dash := b.dashboard(t)

	// The device client never reads, so it never answers pings
	b.device(t, "esp32-1", dash)

	b.server.supervisor.Sweep()

	// Any inbound message keeps the dashboard alive for the next round
	require.NoError(t, dash.WriteMessage(websocket.TextMessage, []byte(`{"type":"status_request"}`)))
	require.Equal(t, "status_response", readJSON(t, dash)["type"])

	b.server.supervisor.Sweep()

	frames := drain(t, dash, 300*time.Millisecond)
	require.Len(t, frames, 1)
	assert.Equal(t, "Device esp32-1 disconnected", frames[0]["message"])

	assert.Equal(t, 0, b.registry.Snapshot().Devices)
	assert.Equal(t, 1, b.registry.Snapshot().Dashboards)
}

func TestRESTAndMetricsShareListener(t *testing.T) {
	b := newTestBroker(t)

	resp, err := http.Get(b.http.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(b.http.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
