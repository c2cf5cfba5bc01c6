package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"motorlink/internal/logger"
	"motorlink/internal/protocol"
)

// Transport is the write side of a peer connection as seen by the registry.
// Send must not block; it reports whether the frame was queued.
type Transport interface {
	Send(payload []byte) bool
	Ping() error
	Terminate()
}

// PeerKind distinguishes the two peer classes
type PeerKind string

const (
	PeerDevice    PeerKind = "device"
	PeerDashboard PeerKind = "dashboard"
)

// DeviceInfo is a point-in-time copy of a registered device
type DeviceInfo struct {
	ID            string    `json:"id"`
	RemoteAddr    string    `json:"ip"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	Alive         bool      `json:"alive"`
}

// DashboardInfo is a point-in-time copy of a registered dashboard
type DashboardInfo struct {
	SessionID   string    `json:"sessionId"`
	ConnectedAt time.Time `json:"connectedAt"`
	Alive       bool      `json:"alive"`
}

type deviceEntry struct {
	info      DeviceInfo
	transport Transport
}

type dashboardEntry struct {
	info      DashboardInfo
	transport Transport
}

// Probe is one unit of heartbeat work produced by Sweep
type Probe struct {
	Kind      PeerKind
	ID        string
	Transport Transport
	Evicted   bool
}

// Registry is the authoritative map of connected devices and dashboards
type Registry struct {
	devices    map[string]*deviceEntry
	dashboards map[string]*dashboardEntry
	// evicted remembers device transports removed by Sweep until their
	// connection releases the id
	evicted map[Transport]string
	mutex   sync.RWMutex
	logger  zerolog.Logger
	now     func() time.Time
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry, creating it on first use
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New()
	})
	return defaultRegistry
}

// New creates an empty registry. Servers should share Default(); New is for
// isolated instances such as tests.
func New() *Registry {
	return &Registry{
		devices:    make(map[string]*deviceEntry),
		dashboards: make(map[string]*dashboardEntry),
		evicted:    make(map[Transport]string),
		logger:     logger.With("registry"),
		now:        time.Now,
	}
}

// RegisterDevice inserts or replaces the entry for id. A replaced entry's
// transport is terminated.
func (r *Registry) RegisterDevice(id string, transport Transport, remoteAddr string) DeviceInfo {
	now := r.now()
	entry := &deviceEntry{
		info: DeviceInfo{
			ID:            id,
			RemoteAddr:    remoteAddr,
			ConnectedAt:   now,
			LastHeartbeat: now,
			Alive:         true,
		},
		transport: transport,
	}

	r.mutex.Lock()
	previous := r.devices[id]
	r.devices[id] = entry
	count := len(r.devices)
	r.mutex.Unlock()

	if previous != nil && previous.transport != transport {
		r.logger.Warn().
			Str("device_id", id).
			Str("previous_addr", previous.info.RemoteAddr).
			Msg("Device re-registered, superseding previous connection")
		previous.transport.Terminate()
	}

	r.logger.Info().
		Str("device_id", id).
		Str("remote_addr", remoteAddr).
		Int("devices", count).
		Msg("Device registered")

	return entry.info
}

// RemoveDevice drops the entry for id. It is idempotent.
func (r *Registry) RemoveDevice(id string) (DeviceInfo, bool) {
	r.mutex.Lock()
	entry, exists := r.devices[id]
	if exists {
		delete(r.devices, id)
	}
	r.mutex.Unlock()

	if !exists {
		return DeviceInfo{}, false
	}

	r.logger.Info().
		Str("device_id", id).
		Msg("Device removed")
	return entry.info, true
}

// ReleaseDevice is called by a connection that is going away. It removes the
// entry if it still belongs to transport and reports whether the departure
// should be announced: true when transport held the id until now or was
// evicted by Sweep, false when a newer connection superseded it.
func (r *Registry) ReleaseDevice(id string, transport Transport) bool {
	r.mutex.Lock()
	entry, exists := r.devices[id]

	if evictedID, ok := r.evicted[transport]; ok && evictedID == id {
		delete(r.evicted, transport)
		r.mutex.Unlock()
		return !exists
	}

	if !exists || entry.transport != transport {
		r.mutex.Unlock()
		return false
	}
	delete(r.devices, id)
	r.mutex.Unlock()

	r.logger.Info().
		Str("device_id", id).
		Msg("Device removed")
	return true
}

// RegisterDashboard inserts the entry for sessionID
func (r *Registry) RegisterDashboard(sessionID string, transport Transport) DashboardInfo {
	entry := &dashboardEntry{
		info: DashboardInfo{
			SessionID:   sessionID,
			ConnectedAt: r.now(),
			Alive:       true,
		},
		transport: transport,
	}

	r.mutex.Lock()
	previous := r.dashboards[sessionID]
	r.dashboards[sessionID] = entry
	count := len(r.dashboards)
	r.mutex.Unlock()

	if previous != nil && previous.transport != transport {
		previous.transport.Terminate()
	}

	r.logger.Info().
		Str("session_id", sessionID).
		Int("dashboards", count).
		Msg("Dashboard registered")

	return entry.info
}

// RemoveDashboard drops the entry for sessionID. It is idempotent.
func (r *Registry) RemoveDashboard(sessionID string) (DashboardInfo, bool) {
	r.mutex.Lock()
	entry, exists := r.dashboards[sessionID]
	if exists {
		delete(r.dashboards, sessionID)
	}
	r.mutex.Unlock()

	if !exists {
		return DashboardInfo{}, false
	}

	r.logger.Info().
		Str("session_id", sessionID).
		Msg("Dashboard removed")
	return entry.info, true
}

// TouchDeviceHeartbeat refreshes lastHeartbeat; unknown ids are ignored
func (r *Registry) TouchDeviceHeartbeat(id string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if entry, exists := r.devices[id]; exists {
		entry.info.LastHeartbeat = r.now()
	}
}

// MarkDeviceAlive records a sign of life from a device
func (r *Registry) MarkDeviceAlive(id string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if entry, exists := r.devices[id]; exists {
		entry.info.Alive = true
		entry.info.LastHeartbeat = r.now()
	}
}

// MarkDashboardAlive records a sign of life from a dashboard
func (r *Registry) MarkDashboardAlive(sessionID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if entry, exists := r.dashboards[sessionID]; exists {
		entry.info.Alive = true
	}
}

// ForwardCommand sends msg to every device and returns how many accepted it
func (r *Registry) ForwardCommand(msg []byte) int {
	r.mutex.RLock()
	targets := make([]Transport, 0, len(r.devices))
	for _, entry := range r.devices {
		targets = append(targets, entry.transport)
	}
	r.mutex.RUnlock()

	sent := fanOut(targets, msg)
	r.logger.Debug().
		Int("targets", len(targets)).
		Int("sent", sent).
		Msg("Command forwarded to devices")
	return sent
}

// BroadcastTelemetry sends msg to every dashboard
func (r *Registry) BroadcastTelemetry(msg []byte) int {
	return fanOut(r.dashboardTransports(), msg)
}

// BroadcastStatus sends msg to every dashboard
func (r *Registry) BroadcastStatus(msg []byte) int {
	return fanOut(r.dashboardTransports(), msg)
}

func (r *Registry) dashboardTransports() []Transport {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	targets := make([]Transport, 0, len(r.dashboards))
	for _, entry := range r.dashboards {
		targets = append(targets, entry.transport)
	}
	return targets
}

func fanOut(targets []Transport, msg []byte) int {
	sent := 0
	for _, t := range targets {
		if t.Send(msg) {
			sent++
		}
	}
	return sent
}

// Snapshot returns counts and the sorted list of device ids
func (r *Registry) Snapshot() protocol.Stats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return protocol.Stats{
		Devices:    len(r.devices),
		Dashboards: len(r.dashboards),
		DeviceList: ids,
	}
}

// Devices returns a copy of every device entry ordered by id
func (r *Registry) Devices() []DeviceInfo {
	r.mutex.RLock()
	devices := make([]DeviceInfo, 0, len(r.devices))
	for _, entry := range r.devices {
		devices = append(devices, entry.info)
	}
	r.mutex.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].ID < devices[j].ID
	})
	return devices
}

// Device returns a copy of the entry for id
func (r *Registry) Device(id string) (DeviceInfo, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	entry, exists := r.devices[id]
	if !exists {
		return DeviceInfo{}, false
	}
	return entry.info, true
}

// Dashboards returns a copy of every dashboard entry ordered by connect time
func (r *Registry) Dashboards() []DashboardInfo {
	r.mutex.RLock()
	dashboards := make([]DashboardInfo, 0, len(r.dashboards))
	for _, entry := range r.dashboards {
		dashboards = append(dashboards, entry.info)
	}
	r.mutex.RUnlock()

	sort.Slice(dashboards, func(i, j int) bool {
		if dashboards[i].ConnectedAt.Equal(dashboards[j].ConnectedAt) {
			return dashboards[i].SessionID < dashboards[j].SessionID
		}
		return dashboards[i].ConnectedAt.Before(dashboards[j].ConnectedAt)
	})
	return dashboards
}

// Sweep runs one liveness round over all peers. Peers that did not show a
// sign of life since the previous round are removed and returned with
// Evicted set; every other peer has its flag cleared and is returned for
// probing. The caller terminates or pings the returned transports.
func (r *Registry) Sweep() []Probe {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	probes := make([]Probe, 0, len(r.devices)+len(r.dashboards))

	for id, entry := range r.devices {
		probe := Probe{Kind: PeerDevice, ID: id, Transport: entry.transport}
		if !entry.info.Alive {
			delete(r.devices, id)
			r.evicted[entry.transport] = id
			probe.Evicted = true
		} else {
			entry.info.Alive = false
		}
		probes = append(probes, probe)
	}

	for id, entry := range r.dashboards {
		probe := Probe{Kind: PeerDashboard, ID: id, Transport: entry.transport}
		if !entry.info.Alive {
			delete(r.dashboards, id)
			probe.Evicted = true
		} else {
			entry.info.Alive = false
		}
		probes = append(probes, probe)
	}

	return probes
}

// Close terminates every registered transport and empties the registry
func (r *Registry) Close() {
	r.mutex.Lock()
	transports := make([]Transport, 0, len(r.devices)+len(r.dashboards))
	for _, entry := range r.devices {
		transports = append(transports, entry.transport)
	}
	for _, entry := range r.dashboards {
		transports = append(transports, entry.transport)
	}
	r.devices = make(map[string]*deviceEntry)
	r.dashboards = make(map[string]*dashboardEntry)
	r.evicted = make(map[Transport]string)
	r.mutex.Unlock()

	for _, t := range transports {
		t.Terminate()
	}

	r.logger.Info().
		Int("terminated", len(transports)).
		Msg("Registry closed")
}
