package broker

import (
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"motorlink/internal/protocol"
	"motorlink/internal/registry"
)

// serveDashboard runs the protocol loop of one dashboard connection
func (rt *Router) serveDashboard(conn *websocket.Conn) {
	sessionID := uuid.NewString()

	p := newPeer(conn, registry.PeerDashboard, sessionID, rt.sendBuffer, rt.writeWait)
	go p.writePump()

	conn.SetPongHandler(func(string) error {
		rt.registry.MarkDashboardAlive(sessionID)
		return nil
	})

	rt.registry.RegisterDashboard(sessionID, p)
	rt.metrics.Connection(registry.PeerDashboard, "connected")
	rt.reply(p, protocol.NewConnection(rt.registry.Snapshot()))

	defer func() {
		p.Terminate()
		rt.registry.RemoveDashboard(sessionID)
		rt.metrics.Connection(registry.PeerDashboard, "disconnected")
	}()

	rt.readLoop(conn, p, func(data []byte) {
		rt.handleDashboardMessage(p, data)
	})
}

// handleDashboardMessage executes one dashboard request and replies to it
func (rt *Router) handleDashboardMessage(p *peer, data []byte) {
	rt.registry.MarkDashboardAlive(p.id)

	env, err := protocol.Decode(data)
	if err != nil {
		rt.logger.Warn().
			Str("session_id", p.id).
			Err(err).
			Msg("Malformed dashboard message")
		rt.metrics.Dropped(registry.PeerDashboard, "malformed")
		rt.reply(p, protocol.NewError(protocol.MsgInvalidMessage))
		return
	}
	rt.metrics.Received(registry.PeerDashboard, string(env.Type))

	switch env.Type {
	case protocol.TypeCommand:
		rt.handleCommand(p, env)

	case protocol.TypeStatusRequest:
		rt.reply(p, protocol.NewStatusResponse(rt.registry.Snapshot()))

	default:
		rt.logger.Debug().
			Str("session_id", p.id).
			Str("type", string(env.Type)).
			Err(protocol.ErrUnknownType).
			Msg("Ignoring dashboard message")
		rt.metrics.Dropped(registry.PeerDashboard, "unknown_type")
	}
}

func (rt *Router) handleCommand(p *peer, env *protocol.Envelope) {
	cmd, err := protocol.ValidateCommand(env)
	if err != nil {
		rt.logger.Warn().
			Str("session_id", p.id).
			Err(err).
			Msg("Rejecting invalid command")
		rt.metrics.Dropped(registry.PeerDashboard, "invalid")
		rt.reply(p, protocol.NewError(protocol.MsgInvalidCommand))
		return
	}

	payload, err := cmd.Encode()
	if err != nil {
		rt.logger.Error().Err(err).Msg("Failed to encode command")
		rt.reply(p, protocol.NewError(protocol.MsgInvalidCommand))
		return
	}

	sent := rt.registry.ForwardCommand(payload)
	rt.metrics.Delivered(registry.PeerDevice, string(protocol.TypeCommand), sent)

	rt.logger.Info().
		Str("session_id", p.id).
		Str("command", string(cmd.Command)).
		Str("motor", string(cmd.Motor)).
		Int("sent", sent).
		Msg("Command forwarded")

	rt.reply(p, protocol.NewAck(sent))
}
