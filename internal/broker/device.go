package broker

import (
	"net/http"

	"github.com/gorilla/websocket"
	"motorlink/internal/protocol"
	"motorlink/internal/registry"
)

// serveDevice runs the protocol loop of one device connection
func (rt *Router) serveDevice(conn *websocket.Conn, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		rt.logger.Warn().
			Str("remote_addr", r.RemoteAddr).
			Msg("Device connection without device_id")
		rt.metrics.Connection(registry.PeerDevice, "rejected")
		rt.reject(conn, websocket.ClosePolicyViolation, ReasonMissingDeviceID)
		return
	}

	p := newPeer(conn, registry.PeerDevice, deviceID, rt.sendBuffer, rt.writeWait)
	go p.writePump()

	conn.SetPongHandler(func(string) error {
		rt.registry.MarkDeviceAlive(deviceID)
		return nil
	})

	rt.registry.RegisterDevice(deviceID, p, remoteAddr(r))
	rt.metrics.Connection(registry.PeerDevice, "connected")
	rt.announce(protocol.DeviceConnected(deviceID))

	defer func() {
		p.Terminate()
		rt.metrics.Connection(registry.PeerDevice, "disconnected")

		// A newer connection with the same id keeps the device online
		if !rt.registry.ReleaseDevice(deviceID, p) {
			rt.logger.Debug().
				Str("device_id", deviceID).
				Msg("Superseded device connection closed")
			return
		}
		rt.logger.Info().
			Str("device_id", deviceID).
			Msg("Device disconnected")
		if rt.telemetry != nil {
			rt.telemetry.Forget(deviceID)
		}
		rt.announce(protocol.DeviceDisconnected(deviceID))
	}()

	rt.readLoop(conn, p, func(data []byte) {
		rt.handleDeviceMessage(deviceID, data)
	})
}

// handleDeviceMessage validates one device frame and relays it to the
// dashboards. Devices never get error replies.
func (rt *Router) handleDeviceMessage(deviceID string, data []byte) {
	rt.registry.MarkDeviceAlive(deviceID)

	env, err := protocol.Decode(data)
	if err != nil {
		rt.logger.Warn().
			Str("device_id", deviceID).
			Err(err).
			Msg("Dropping malformed device message")
		rt.metrics.Dropped(registry.PeerDevice, "malformed")
		return
	}
	rt.metrics.Received(registry.PeerDevice, string(env.Type))

	switch env.Type {
	case protocol.TypeTelemetry:
		tel, err := protocol.ValidateTelemetry(env)
		if err != nil {
			rt.logger.Warn().
				Str("device_id", deviceID).
				Err(err).
				Msg("Dropping invalid telemetry")
			rt.metrics.Dropped(registry.PeerDevice, "invalid")
			return
		}
		if rt.telemetry != nil {
			rt.telemetry.Record(deviceID, tel)
		}
		sent := rt.registry.BroadcastTelemetry(env.Raw)
		rt.metrics.Delivered(registry.PeerDashboard, string(env.Type), sent)

	case protocol.TypeStatus:
		status, err := protocol.ValidateStatus(env)
		if err != nil {
			rt.logger.Warn().
				Str("device_id", deviceID).
				Err(err).
				Msg("Dropping invalid status")
			rt.metrics.Dropped(registry.PeerDevice, "invalid")
			return
		}
		rt.logger.Debug().
			Str("device_id", deviceID).
			Str("state", string(status.State)).
			Msg("Device status")
		sent := rt.registry.BroadcastStatus(env.Raw)
		rt.metrics.Delivered(registry.PeerDashboard, string(env.Type), sent)

	case protocol.TypeAck:
		sent := rt.registry.BroadcastStatus(env.Raw)
		rt.metrics.Delivered(registry.PeerDashboard, string(env.Type), sent)

	default:
		rt.logger.Debug().
			Str("device_id", deviceID).
			Str("type", string(env.Type)).
			Err(protocol.ErrUnknownType).
			Msg("Ignoring device message")
		rt.metrics.Dropped(registry.PeerDevice, "unknown_type")
	}
}
