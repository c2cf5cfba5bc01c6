package protocol

// MessageType is the envelope discriminator carried in the "type" field
type MessageType string

const (
	TypeCommand        MessageType = "command"
	TypeTelemetry      MessageType = "telemetry"
	TypeStatus         MessageType = "status"
	TypeAck            MessageType = "ack"
	TypeError          MessageType = "error"
	TypeConnection     MessageType = "connection"
	TypeStatusRequest  MessageType = "status_request"
	TypeStatusResponse MessageType = "status_response"
)

// CommandName enumerates the commands a device understands
type CommandName string

const (
	CommandStart        CommandName = "START"
	CommandStop         CommandName = "STOP"
	CommandSetSpeed     CommandName = "SET_SPEED"
	CommandReset        CommandName = "RESET"
	CommandLEDOn        CommandName = "LED_ON"
	CommandLEDOff       CommandName = "LED_OFF"
	CommandForward      CommandName = "FORWARD"
	CommandReverse      CommandName = "REVERSE"
	CommandSetDirection CommandName = "SET_DIRECTION"
)

var validCommands = map[CommandName]bool{
	CommandStart:        true,
	CommandStop:         true,
	CommandSetSpeed:     true,
	CommandReset:        true,
	CommandLEDOn:        true,
	CommandLEDOff:       true,
	CommandForward:      true,
	CommandReverse:      true,
	CommandSetDirection: true,
}

// IsValid reports whether the command is part of the device command set
func (c CommandName) IsValid() bool {
	return validCommands[c]
}

// Motor identifies one of the two motor channels
type Motor string

const (
	MotorA Motor = "A"
	MotorB Motor = "B"
)

// IsValid reports whether m names a motor channel
func (m Motor) IsValid() bool {
	return m == MotorA || m == MotorB
}

// Direction is the rotation direction used by SET_DIRECTION
type Direction string

const (
	DirectionForward Direction = "forward"
	DirectionReverse Direction = "reverse"
)

// State is the coarse device state reported in status messages
type State string

const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
	StateError   State = "ERROR"
)

// IsValid reports whether s is a known device state
func (s State) IsValid() bool {
	return s == StateIdle || s == StateRunning || s == StateError
}

// Speed bounds for SET_SPEED, inclusive
const (
	MinSpeed = 0
	MaxSpeed = 100
)

// Fixed texts of broker-originated envelopes
const (
	MsgConnected      = "Connected to server"
	MsgCommandSent    = "Command sent to device"
	MsgNoDevices      = "No devices connected"
	MsgInvalidCommand = "Invalid command format"
	MsgInvalidMessage = "Invalid message format"
)

// Stats is the registry snapshot shared with dashboards and REST callers
type Stats struct {
	Devices    int      `json:"devices"`
	Dashboards int      `json:"dashboards"`
	DeviceList []string `json:"deviceList"`
}
