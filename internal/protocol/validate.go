package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ValidationError describes the first field that failed validation
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err carries a *ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Command is a dashboard or REST issued instruction for the devices
type Command struct {
	Type      MessageType `json:"type"`
	Command   CommandName `json:"command"`
	Motor     Motor       `json:"motor,omitempty"`
	Value     *float64    `json:"value,omitempty"`
	Direction Direction   `json:"direction,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`

	env        *Envelope
	normalized bool
}

// Validate checks the command against the device command rules
func (c *Command) Validate() error {
	if c.Type != TypeCommand {
		return invalid("type", "expected %q, got %q", TypeCommand, c.Type)
	}
	if !c.Command.IsValid() {
		return invalid("command", "unsupported command %q", c.Command)
	}
	if c.Motor != "" && !c.Motor.IsValid() {
		return invalid("motor", "must be A or B, got %q", c.Motor)
	}

	switch c.Command {
	case CommandSetSpeed:
		if c.Value == nil {
			return invalid("value", "SET_SPEED requires a numeric value")
		}
		if *c.Value < MinSpeed || *c.Value > MaxSpeed {
			return invalid("value", "%v is outside [%d, %d]", *c.Value, MinSpeed, MaxSpeed)
		}
	case CommandSetDirection:
		if c.Direction != DirectionForward && c.Direction != DirectionReverse {
			return invalid("direction", "must be forward or reverse, got %q", c.Direction)
		}
	}

	return nil
}

// Encode returns the wire form of the command. Commands decoded from a
// dashboard keep their original bytes unless direction was normalized.
func (c *Command) Encode() ([]byte, error) {
	if c.env != nil {
		if !c.normalized {
			return c.env.Raw, nil
		}
		return c.env.with("direction", c.Direction)
	}
	return json.Marshal(c)
}

// ValidateCommand extracts and validates a command envelope
func ValidateCommand(env *Envelope) (*Command, error) {
	cmd := &Command{Type: env.Type, env: env}

	name, ok := env.String("command")
	if !ok {
		return nil, invalid("command", "missing or not a string")
	}
	cmd.Command = CommandName(name)

	if env.Has("motor") {
		motor, ok := env.String("motor")
		if !ok {
			return nil, invalid("motor", "not a string")
		}
		cmd.Motor = Motor(motor)
	}

	if value, ok := env.Number("value"); ok {
		cmd.Value = &value
	}

	if env.Has("direction") {
		direction, ok := env.String("direction")
		if !ok {
			return nil, invalid("direction", "not a string")
		}
		lowered := strings.ToLower(direction)
		cmd.Direction = Direction(lowered)
		cmd.normalized = lowered != direction
	}

	cmd.Timestamp, _ = env.String("timestamp")

	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// MotorReading is one motor channel of a telemetry sample. Current is nil
// when the device has no current sensor on that channel.
type MotorReading struct {
	Voltage float64  `json:"voltage"`
	Current *float64 `json:"current"`
	RPM     float64  `json:"rpm"`
}

// Telemetry is a validated sample from a device
type Telemetry struct {
	MotorA      MotorReading `json:"motorA"`
	MotorB      MotorReading `json:"motorB"`
	Temperature *float64     `json:"temperature,omitempty"`
	Vibration   *float64     `json:"vibration,omitempty"`
	IsJammed    *bool        `json:"isJammed,omitempty"`
	LEDState    *bool        `json:"ledState,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`

	Raw []byte `json:"-"`
}

// ValidateTelemetry checks both motor channels and collects the optional sensors
func ValidateTelemetry(env *Envelope) (*Telemetry, error) {
	if env.Type != TypeTelemetry {
		return nil, invalid("type", "expected %q, got %q", TypeTelemetry, env.Type)
	}

	t := &Telemetry{Raw: env.Raw}
	var err error
	if t.MotorA, err = motorReading(env, "motorA"); err != nil {
		return nil, err
	}
	if t.MotorB, err = motorReading(env, "motorB"); err != nil {
		return nil, err
	}

	if v, ok := env.Number("temperature"); ok {
		t.Temperature = &v
	}
	if v, ok := env.Number("vibration"); ok {
		t.Vibration = &v
	}
	if v, ok := boolOf(env.fields["isJammed"]); ok {
		t.IsJammed = &v
	}
	if v, ok := boolOf(env.fields["ledState"]); ok {
		t.LEDState = &v
	}
	t.Timestamp, _ = env.String("timestamp")

	return t, nil
}

func motorReading(env *Envelope, key string) (MotorReading, error) {
	var reading MotorReading

	obj, ok := env.Object(key)
	if !ok {
		return reading, invalid(key, "missing or not an object")
	}

	if reading.Voltage, ok = numberOf(obj["voltage"]); !ok {
		return reading, invalid(key+".voltage", "must be a number")
	}

	current, present := obj["current"]
	if !present {
		return reading, invalid(key+".current", "must be a number or null")
	}
	if !isNull(current) {
		value, ok := numberOf(current)
		if !ok {
			return reading, invalid(key+".current", "must be a number or null")
		}
		reading.Current = &value
	}

	if reading.RPM, ok = numberOf(obj["rpm"]); !ok {
		return reading, invalid(key+".rpm", "must be a number")
	}

	return reading, nil
}

// Status is a device state report
type Status struct {
	Type      MessageType `json:"type"`
	State     State       `json:"state"`
	Message   string      `json:"message,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// ValidateStatus checks that a status envelope carries a known state
func ValidateStatus(env *Envelope) (*Status, error) {
	if env.Type != TypeStatus {
		return nil, invalid("type", "expected %q, got %q", TypeStatus, env.Type)
	}

	state, ok := env.String("state")
	if !ok || !State(state).IsValid() {
		return nil, invalid("state", "must be one of IDLE, RUNNING, ERROR")
	}

	status := &Status{Type: TypeStatus, State: State(state)}
	status.Message, _ = env.String("message")
	status.Timestamp, _ = env.String("timestamp")
	return status, nil
}
