// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"motorlink/internal/protocol"
)

// Event is one line of the activity log
type Event struct {
	Timestamp time.Time
	Level     string // INF, WRN, ERR
	Message   string
}

// Messages produced by the connection commands
type (
	envelopeMsg struct {
		env *protocol.Envelope
	}

	malformedMsg struct {
		err error
	}

	disconnectedMsg struct {
		err error
	}

	sentMsg struct {
		action string
		err    error
	}
)

// Model is the terminal dashboard
type Model struct {
	conn Conn
	url  string

	stats       protocol.Stats
	telemetry   *protocol.Telemetry
	telemetryAt time.Time

	events    []Event
	maxEvents int

	connected bool
	err       error

	width    int
	height   int
	quitting bool
}

// NewModel creates a monitor bound to an open broker connection
func NewModel(conn Conn, url string) Model {
	return Model{
		conn:      conn,
		url:       url,
		connected: true,
		events:    []Event{},
		maxEvents: 8,
	}
}

// Init starts listening for broker frames
func (m Model) Init() tea.Cmd {
	return listen(m.conn)
}

// listen waits for a single frame; Update re-arms it after every frame
func listen(conn Conn) tea.Cmd {
	return func() tea.Msg {
		env, err := conn.Next()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				return malformedMsg{err: err}
			}
			return disconnectedMsg{err: err}
		}
		return envelopeMsg{env: env}
	}
}

func send(conn Conn, action string, msgs ...interface{}) tea.Cmd {
	return func() tea.Msg {
		for _, msg := range msgs {
			if err := conn.Send(msg); err != nil {
				return sentMsg{action: action, err: err}
			}
		}
		return sentMsg{action: action}
	}
}

// Update handles key presses and broker frames
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit

		case "r":
			if !m.connected {
				return m, nil
			}
			return m, send(m.conn, "status request", protocol.NewStatusRequest())

		case "s":
			if !m.connected {
				return m, nil
			}
			return m, send(m.conn, "stop all motors",
				protocol.NewCommand(protocol.CommandStop, protocol.MotorA),
				protocol.NewCommand(protocol.CommandStop, protocol.MotorB),
			)
		}
		return m, nil

	case envelopeMsg:
		m = m.handleEnvelope(msg.env)
		return m, listen(m.conn)

	case malformedMsg:
		m = m.addEvent("WRN", "Ignoring malformed frame from broker")
		return m, listen(m.conn)

	case disconnectedMsg:
		m.connected = false
		m.err = msg.err
		m = m.addEvent("ERR", fmt.Sprintf("Disconnected: %v", msg.err))
		return m, nil

	case sentMsg:
		if msg.err != nil {
			m = m.addEvent("ERR", fmt.Sprintf("Failed to send %s: %v", msg.action, msg.err))
		} else {
			m = m.addEvent("INF", "Sent "+msg.action)
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleEnvelope(env *protocol.Envelope) Model {
	switch env.Type {
	case protocol.TypeConnection, protocol.TypeStatusResponse:
		var payload struct {
			Message string         `json:"message"`
			Stats   protocol.Stats `json:"stats"`
		}
		if err := json.Unmarshal(env.Raw, &payload); err != nil {
			return m.addEvent("WRN", "Unreadable stats from broker")
		}
		m.stats = payload.Stats
		if payload.Message != "" {
			m = m.addEvent("INF", payload.Message)
		}

	case protocol.TypeTelemetry:
		tel, err := protocol.ValidateTelemetry(env)
		if err != nil {
			return m.addEvent("WRN", fmt.Sprintf("Invalid telemetry: %v", err))
		}
		m.telemetry = tel
		m.telemetryAt = time.Now()

	case protocol.TypeStatus:
		status, err := protocol.ValidateStatus(env)
		if err != nil {
			return m.addEvent("WRN", fmt.Sprintf("Invalid status: %v", err))
		}
		level := "INF"
		if status.State == protocol.StateError {
			level = "ERR"
		}
		text := string(status.State)
		if status.Message != "" {
			text += " " + status.Message
		}
		m = m.addEvent(level, text)

	case protocol.TypeAck:
		var ack protocol.Ack
		if err := json.Unmarshal(env.Raw, &ack); err != nil {
			return m.addEvent("WRN", "Unreadable ack from broker")
		}
		level := "INF"
		if !ack.Success {
			level = "WRN"
		}
		m = m.addEvent(level, "Ack: "+ack.Message)

	case protocol.TypeError:
		message, _ := env.String("message")
		m = m.addEvent("ERR", "Broker error: "+message)
	}

	return m
}

func (m Model) addEvent(level, message string) Model {
	events := append(m.events, Event{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	})
	if len(events) > m.maxEvents {
		events = events[len(events)-m.maxEvents:]
	}
	m.events = events
	return m
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return successStyle.Render("Monitor closed") + "\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("MotorLink Monitor"))
	b.WriteString("\n\n")

	if m.connected {
		b.WriteString(successStyle.Render("● connected"))
	} else {
		b.WriteString(errorStyle.Render("● disconnected"))
	}
	b.WriteString(helpStyle.Render("  " + m.url))
	b.WriteString("\n\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		panelStyle.Render(m.renderStats()),
		panelStyle.Render(m.renderTelemetry()),
	))
	b.WriteString("\n\n")

	b.WriteString(subtitleStyle.Render("Activity"))
	b.WriteString("\n")
	if len(m.events) == 0 {
		b.WriteString(helpStyle.Render("  waiting for broker messages"))
		b.WriteString("\n")
	}
	for _, event := range m.events {
		b.WriteString(renderEvent(event))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("r: refresh stats • s: stop both motors • q: quit"))
	b.WriteString("\n")

	return b.String()
}

func (m Model) renderStats() string {
	var b strings.Builder
	b.WriteString(subtitleStyle.Render("Broker"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Devices:    %d\n", m.stats.Devices))
	b.WriteString(fmt.Sprintf("Dashboards: %d\n", m.stats.Dashboards))
	for _, id := range m.stats.DeviceList {
		b.WriteString("  • " + id + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderTelemetry() string {
	var b strings.Builder
	b.WriteString(subtitleStyle.Render("Telemetry"))
	b.WriteString("\n")

	if m.telemetry == nil {
		b.WriteString(helpStyle.Render("no telemetry yet"))
		return b.String()
	}

	b.WriteString(renderMotor("A", m.telemetry.MotorA))
	b.WriteString(renderMotor("B", m.telemetry.MotorB))
	if m.telemetry.Temperature != nil {
		b.WriteString(fmt.Sprintf("Temperature: %.1f°C\n", *m.telemetry.Temperature))
	}
	if m.telemetry.IsJammed != nil && *m.telemetry.IsJammed {
		b.WriteString(errorStyle.Render("JAMMED"))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("updated " + m.telemetryAt.Format("15:04:05")))
	return b.String()
}

func renderMotor(name string, reading protocol.MotorReading) string {
	current := "n/a"
	if reading.Current != nil {
		current = fmt.Sprintf("%.0fmA", *reading.Current)
	}
	return fmt.Sprintf("Motor %s: %.1fV %s %.0frpm\n", name, reading.Voltage, current, reading.RPM)
}

func renderEvent(event Event) string {
	line := fmt.Sprintf("%s %s %s", event.Timestamp.Format("15:04:05"), event.Level, event.Message)
	switch event.Level {
	case "ERR":
		return errorStyle.Render(line)
	case "WRN":
		return warningStyle.Render(line)
	default:
		return line
	}
}

// Run connects to url and runs the monitor until the user quits
func Run(ctx context.Context, url string) error {
	client, err := Dial(ctx, url)
	if err != nil {
		return err
	}
	defer client.Close()

	p := tea.NewProgram(NewModel(client, url), tea.WithAltScreen())

	// Ensure proper cleanup on panic or interrupt
	defer func() {
		if r := recover(); r != nil {
			p.Kill()
		}
	}()

	_, err = p.Run()
	return err
}
