package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Ack answers a dashboard command with its delivery outcome
type Ack struct {
	Type      MessageType `json:"type"`
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Timestamp string      `json:"timestamp"`
}

// ErrorMessage reports a rejected dashboard message
type ErrorMessage struct {
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	Timestamp string      `json:"timestamp"`
}

// Connection greets a freshly registered dashboard
type Connection struct {
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	Stats     Stats       `json:"stats"`
	Timestamp string      `json:"timestamp"`
}

// StatusResponse answers a status_request
type StatusResponse struct {
	Type      MessageType `json:"type"`
	Stats     Stats       `json:"stats"`
	Timestamp string      `json:"timestamp"`
}

// StatusRequest asks the broker for its current stats
type StatusRequest struct {
	Type MessageType `json:"type"`
}

// Timestamp formats t the way every broker-originated envelope carries it
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func now() string {
	return Timestamp(time.Now())
}

// NewAck creates an ack for a forwarded command
func NewAck(sent int) *Ack {
	ack := &Ack{
		Type:      TypeAck,
		Success:   sent > 0,
		Message:   MsgNoDevices,
		Timestamp: now(),
	}
	if ack.Success {
		ack.Message = MsgCommandSent
	}
	return ack
}

// NewError creates an error envelope
func NewError(message string) *ErrorMessage {
	return &ErrorMessage{
		Type:      TypeError,
		Message:   message,
		Timestamp: now(),
	}
}

// NewConnection creates the greeting sent to a new dashboard
func NewConnection(stats Stats) *Connection {
	return &Connection{
		Type:      TypeConnection,
		Message:   MsgConnected,
		Stats:     stats,
		Timestamp: now(),
	}
}

// NewStatusResponse creates the reply to a status_request
func NewStatusResponse(stats Stats) *StatusResponse {
	return &StatusResponse{
		Type:      TypeStatusResponse,
		Stats:     stats,
		Timestamp: now(),
	}
}

// NewStatusRequest creates a status_request as sent by dashboards
func NewStatusRequest() *StatusRequest {
	return &StatusRequest{Type: TypeStatusRequest}
}

// NewStatus creates a broker-originated status announcement
func NewStatus(state State, message string) *Status {
	return &Status{
		Type:      TypeStatus,
		State:     state,
		Message:   message,
		Timestamp: now(),
	}
}

// DeviceConnected announces a device joining the registry
func DeviceConnected(deviceID string) *Status {
	return NewStatus(StateIdle, fmt.Sprintf("Device %s connected", deviceID))
}

// DeviceDisconnected announces a device leaving the registry
func DeviceDisconnected(deviceID string) *Status {
	return NewStatus(StateIdle, fmt.Sprintf("Device %s disconnected", deviceID))
}

// NewCommand creates a command for callers that do not go through a dashboard
func NewCommand(name CommandName, motor Motor) *Command {
	return &Command{
		Type:      TypeCommand,
		Command:   name,
		Motor:     motor,
		Timestamp: now(),
	}
}

// WithValue sets the SET_SPEED value
func (c *Command) WithValue(value float64) *Command {
	c.Value = &value
	return c
}

// WithDirection sets the SET_DIRECTION direction
func (c *Command) WithDirection(direction Direction) *Command {
	c.Direction = direction
	return c
}

// Encode serializes a broker-originated message to JSON bytes
func Encode(msg interface{}) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}
