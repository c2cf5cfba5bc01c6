package broker

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"motorlink/internal/logger"
	"motorlink/internal/metrics"
	"motorlink/internal/protocol"
	"motorlink/internal/registry"
	"motorlink/internal/telemetry"
)

// Close reasons sent to rejected connections
const (
	ReasonUnknownPath     = "Unknown WebSocket path"
	ReasonInvalidEndpoint = "Not a valid endpoint"
	ReasonMissingDeviceID = "Missing device_id"
)

// Paths of framework-internal channels that share the listener
var internalPathMarkers = []string{"/_next/", "webpack-hmr"}

type route int

const (
	routeUnknown route = iota
	routeInternal
	routeDevice
	routeDashboard
)

// Options configures a Router
type Options struct {
	Registry      *registry.Registry
	Telemetry     *telemetry.Store
	Metrics       *metrics.Metrics
	DevicePath    string
	DashboardPath string
	MaxPayload    int64
	SendBuffer    int
	WriteWait     time.Duration
}

// Router accepts WebSocket upgrades and binds each connection to the device
// or dashboard protocol loop according to its path
type Router struct {
	registry      *registry.Registry
	telemetry     *telemetry.Store
	metrics       *metrics.Metrics
	upgrader      websocket.Upgrader
	devicePath    string
	dashboardPath string
	maxPayload    int64
	sendBuffer    int
	writeWait     time.Duration
	logger        zerolog.Logger
}

// NewRouter creates a router from opts
func NewRouter(opts Options) *Router {
	if opts.Registry == nil {
		opts.Registry = registry.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(opts.Registry)
	}
	if opts.DevicePath == "" {
		opts.DevicePath = "/ws/device"
	}
	if opts.DashboardPath == "" {
		opts.DashboardPath = "/ws/dashboard"
	}
	if opts.MaxPayload == 0 {
		opts.MaxPayload = 100 * 1024
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}

	return &Router{
		registry:  opts.Registry,
		telemetry: opts.Telemetry,
		metrics:   opts.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Dashboards are served from other origins and auth is disabled
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		devicePath:    opts.DevicePath,
		dashboardPath: opts.DashboardPath,
		maxPayload:    opts.MaxPayload,
		sendBuffer:    opts.SendBuffer,
		writeWait:     opts.WriteWait,
		logger:        logger.With("router"),
	}
}

func (rt *Router) classify(path string) route {
	for _, marker := range internalPathMarkers {
		if strings.Contains(path, marker) {
			return routeInternal
		}
	}

	switch {
	case strings.Contains(path, rt.devicePath):
		return routeDevice
	case strings.Contains(path, rt.dashboardPath):
		return routeDashboard
	default:
		return routeUnknown
	}
}

// ServeHTTP upgrades the request and dispatches the connection exactly once
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered with an HTTP error
		rt.logger.Debug().
			Str("path", r.URL.Path).
			Err(err).
			Msg("WebSocket upgrade failed")
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			rt.logger.Error().
				Interface("panic", rec).
				Str("path", r.URL.Path).
				Msg("Recovered from connection handler panic")
			_ = conn.Close()
		}
	}()

	conn.SetReadLimit(rt.maxPayload)

	switch rt.classify(r.URL.Path) {
	case routeDevice:
		rt.serveDevice(conn, r)
	case routeDashboard:
		rt.serveDashboard(conn)
	case routeInternal:
		rt.reject(conn, websocket.CloseNormalClosure, ReasonInvalidEndpoint)
	default:
		rt.logger.Warn().
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Msg("Rejecting connection on unknown path")
		rt.reject(conn, websocket.ClosePolicyViolation, ReasonUnknownPath)
	}
}

// reject sends a close frame with code and reason and drops the connection
func (rt *Router) reject(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(rt.writeWait)); err != nil {
		rt.logger.Debug().Err(err).Msg("Failed to write close frame")
	}
	_ = conn.Close()
}

// readLoop feeds every inbound frame to handle until the connection fails.
// Protocol-level read errors end the loop quietly.
func (rt *Router) readLoop(conn *websocket.Conn, p *peer, handle func([]byte)) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
				websocket.CloseAbnormalClosure) {
				rt.logger.Debug().
					Str("peer", string(p.kind)).
					Str("id", p.id).
					Err(err).
					Msg("Connection closed with error")
			}
			return
		}
		handle(data)
	}
}

// reply queues a broker-originated envelope for one peer
func (rt *Router) reply(p *peer, msg interface{}) {
	data, err := protocol.Encode(msg)
	if err != nil {
		rt.logger.Error().Err(err).Msg("Failed to encode reply")
		return
	}
	if !p.Send(data) {
		rt.logger.Debug().
			Str("peer", string(p.kind)).
			Str("id", p.id).
			Msg("Reply dropped, send buffer unavailable")
	}
}

// announce broadcasts a broker-originated status to every dashboard
func (rt *Router) announce(status *protocol.Status) {
	data, err := protocol.Encode(status)
	if err != nil {
		rt.logger.Error().Err(err).Msg("Failed to encode status announcement")
		return
	}
	sent := rt.registry.BroadcastStatus(data)
	rt.metrics.Delivered(registry.PeerDashboard, string(protocol.TypeStatus), sent)
}

func remoteAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	return r.RemoteAddr
}
