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

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"motorlink/internal/logger"
	"motorlink/internal/protocol"
	"motorlink/internal/registry"
	"motorlink/internal/telemetry"
)

// Broker is the part of the peer registry the REST layer may use
type Broker interface {
	ForwardCommand(msg []byte) int
	Snapshot() protocol.Stats
	Devices() []registry.DeviceInfo
	Dashboards() []registry.DashboardInfo
}

// APIServer handles REST API requests
type APIServer struct {
	broker    Broker
	telemetry *telemetry.Store
	logger    zerolog.Logger
	startTime time.Time
}

// NewAPIServer creates a new API server
func NewAPIServer(broker Broker, store *telemetry.Store) *APIServer {
	return &APIServer{
		broker:    broker,
		telemetry: store,
		logger:    logger.With("api"),
		startTime: time.Now(),
	}
}

// Routes mounts the REST endpoints under /api on router
func (api *APIServer) Routes(router *mux.Router) {
	apiRouter := router.PathPrefix("/api").Subrouter()

	apiRouter.Use(api.loggingMiddleware)
	apiRouter.Use(api.corsMiddleware)

	// Command endpoints
	apiRouter.HandleFunc("/command/start", api.handleStart).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/command/stop", api.handleMotorCommand(protocol.CommandStop)).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/command/forward", api.handleMotorCommand(protocol.CommandForward)).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/command/reverse", api.handleMotorCommand(protocol.CommandReverse)).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/command/set-speed", api.handleSetSpeed).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/command/set-direction", api.handleSetDirection).Methods("POST", "OPTIONS")

	// Read-only endpoints
	apiRouter.HandleFunc("/status", api.handleStatus).Methods("GET")
	apiRouter.HandleFunc("/telemetry/latest", api.handleLatestTelemetry).Methods("GET")
	apiRouter.HandleFunc("/health", api.handleHealth).Methods("GET")
}

// Middleware
func (api *APIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		api.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("API request")
	})
}

func (api *APIServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Response helpers
func (api *APIServer) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		api.logger.Error().Err(err).Msg("Failed to write response")
	}
}

func (api *APIServer) sendError(w http.ResponseWriter, status int, message string) {
	api.sendJSON(w, status, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// CommandRequest is the body accepted by the command endpoints
type CommandRequest struct {
	Motor     string   `json:"motor"`
	Command   string   `json:"command,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Direction string   `json:"direction,omitempty"`
}

// CommandResponse reports the outcome of a forwarded command
type CommandResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Command *protocol.Command `json:"command"`
}

var errMotor = errors.New("Motor must be A or B")

func decodeCommandRequest(r *http.Request) (*CommandRequest, error) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	req.Motor = strings.ToUpper(req.Motor)
	return &req, nil
}

func (req *CommandRequest) motor() (protocol.Motor, error) {
	motor := protocol.Motor(req.Motor)
	if !motor.IsValid() {
		return "", errMotor
	}
	return motor, nil
}

// forward validates and sends cmd, answering the request either way
func (api *APIServer) forward(w http.ResponseWriter, cmd *protocol.Command, successMessage string) {
	if err := cmd.Validate(); err != nil {
		api.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload, err := cmd.Encode()
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to encode command")
		api.sendError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	sent := api.broker.ForwardCommand(payload)

	api.logger.Info().
		Str("command", string(cmd.Command)).
		Str("motor", string(cmd.Motor)).
		Int("sent", sent).
		Msg("REST command forwarded")

	message := protocol.MsgNoDevices
	if sent > 0 {
		message = successMessage
	}

	api.sendJSON(w, http.StatusOK, CommandResponse{
		Success: sent > 0,
		Message: message,
		Command: cmd,
	})
}

// handleStart sends START, or a custom command when one is given. Custom
// commands such as LED_ON do not need a motor and default to motor A.
func (api *APIServer) handleStart(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCommandRequest(r)
	if err != nil {
		api.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	name := protocol.CommandStart
	if req.Command != "" {
		name = protocol.CommandName(req.Command)
	} else if _, err := req.motor(); err != nil {
		api.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	motor := protocol.Motor(req.Motor)
	if motor == "" {
		motor = protocol.MotorA
	}

	cmd := protocol.NewCommand(name, motor)
	if req.Speed != nil {
		cmd.WithValue(*req.Speed)
	}
	if req.Direction != "" {
		cmd.WithDirection(protocol.Direction(strings.ToLower(req.Direction)))
	}

	api.forward(w, cmd, protocol.MsgCommandSent)
}

func (api *APIServer) handleMotorCommand(name protocol.CommandName) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeCommandRequest(r)
		if err != nil {
			api.sendError(w, http.StatusBadRequest, err.Error())
			return
		}

		motor, err := req.motor()
		if err != nil {
			api.sendError(w, http.StatusBadRequest, err.Error())
			return
		}

		message := protocol.MsgCommandSent
		if name == protocol.CommandForward || name == protocol.CommandReverse {
			message = fmt.Sprintf("Motor %s set to %s", motor, name)
		}

		api.forward(w, protocol.NewCommand(name, motor), message)
	}
}

func (api *APIServer) handleSetSpeed(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCommandRequest(r)
	if err != nil {
		api.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	motor, err := req.motor()
	if err != nil {
		api.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Speed == nil || *req.Speed < protocol.MinSpeed || *req.Speed > protocol.MaxSpeed {
		api.sendError(w, http.StatusBadRequest, "Speed must be between 0 and 100")
		return
	}

	cmd := protocol.NewCommand(protocol.CommandSetSpeed, motor).WithValue(*req.Speed)
	api.forward(w, cmd, protocol.MsgCommandSent)
}

func (api *APIServer) handleSetDirection(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCommandRequest(r)
	if err != nil {
		api.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	motor, err := req.motor()
	if err != nil {
		api.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	direction := protocol.Direction(strings.ToLower(req.Direction))
	if direction != protocol.DirectionForward && direction != protocol.DirectionReverse {
		api.sendError(w, http.StatusBadRequest, "Direction must be forward or reverse")
		return
	}

	cmd := protocol.NewCommand(protocol.CommandSetDirection, motor).WithDirection(direction)
	api.forward(w, cmd, fmt.Sprintf("Motor %s direction set to %s", motor, direction))
}

// DeviceStatus is one device entry of GET /api/status
type DeviceStatus struct {
	ID            string    `json:"id"`
	IP            string    `json:"ip"`
	Connected     bool      `json:"connected"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	ConnectedAt   time.Time `json:"connectedAt"`
}

// DashboardStatus is one dashboard entry of GET /api/status
type DashboardStatus struct {
	SessionID   string    `json:"sessionId"`
	Connected   bool      `json:"connected"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	Devices    []DeviceStatus    `json:"devices"`
	Dashboards []DashboardStatus `json:"dashboards"`
	Stats      protocol.Stats    `json:"stats"`
}

func (api *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	devices := api.broker.Devices()
	dashboards := api.broker.Dashboards()

	response := StatusResponse{
		Devices:    make([]DeviceStatus, 0, len(devices)),
		Dashboards: make([]DashboardStatus, 0, len(dashboards)),
		Stats:      api.broker.Snapshot(),
	}

	for _, d := range devices {
		response.Devices = append(response.Devices, DeviceStatus{
			ID:            d.ID,
			IP:            d.RemoteAddr,
			Connected:     true,
			LastHeartbeat: d.LastHeartbeat,
			ConnectedAt:   d.ConnectedAt,
		})
	}
	for _, d := range dashboards {
		response.Dashboards = append(response.Dashboards, DashboardStatus{
			SessionID:   d.SessionID,
			Connected:   true,
			ConnectedAt: d.ConnectedAt,
		})
	}

	api.sendJSON(w, http.StatusOK, response)
}

func (api *APIServer) handleLatestTelemetry(w http.ResponseWriter, r *http.Request) {
	samples := map[string]telemetry.Sample{}
	if api.telemetry != nil {
		samples = api.telemetry.All()
	}

	api.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"stats":     api.broker.Snapshot(),
		"telemetry": samples,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (api *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := api.broker.Snapshot()

	api.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"components": map[string]string{
			"registry":  "ok",
			"websocket": "ok",
		},
		"devices":    stats.Devices,
		"dashboards": stats.Dashboards,
		"uptime":     time.Since(api.startTime).Round(time.Second).String(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
