package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"motorlink/internal/logger"
	"motorlink/internal/registry"
)

// DefaultInterval is the probe period used when none is configured
const DefaultInterval = 25 * time.Second

// Observer is notified about the outcome of each probe
type Observer interface {
	PeerEvicted(kind registry.PeerKind)
	PingFailed(kind registry.PeerKind)
}

// Supervisor periodically probes every registered peer and evicts the ones
// that stayed silent for a whole period
type Supervisor struct {
	registry *registry.Registry
	interval time.Duration
	observer Observer
	logger   zerolog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mutex    sync.Mutex
	running  bool
}

// NewSupervisor creates a supervisor for reg
func NewSupervisor(reg *registry.Registry, interval time.Duration, observer Observer) *Supervisor {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Supervisor{
		registry: reg,
		interval: interval,
		observer: observer,
		logger:   logger.With("heartbeat"),
	}
}

// Start launches the heartbeat loop. Calling Start twice is a no-op.
func (s *Supervisor) Start() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	s.wg.Add(1)
	go s.heartbeatLoop(s.ctx)
}

// Stop halts the loop and waits for an in-flight sweep to finish
func (s *Supervisor) Stop() {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mutex.Unlock()

	s.wg.Wait()
}

// Interval returns the probe period
func (s *Supervisor) Interval() time.Duration {
	return s.interval
}

func (s *Supervisor) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", s.interval).
		Msg("Starting heartbeat loop")

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			s.logger.Info().Msg("Heartbeat loop stopping")
			return
		}
	}
}

// Sweep runs a single probe round. Pings go out concurrently so one stalled
// peer does not hold up the rest of the round.
func (s *Supervisor) Sweep() {
	probes := s.registry.Sweep()

	var wg sync.WaitGroup
	evicted := 0
	for _, probe := range probes {
		if probe.Evicted {
			evicted++
			s.logger.Warn().
				Str("peer", string(probe.Kind)).
				Str("id", probe.ID).
				Msg("Peer missed heartbeat - terminating")
			probe.Transport.Terminate()
			if s.observer != nil {
				s.observer.PeerEvicted(probe.Kind)
			}
			continue
		}

		wg.Add(1)
		go func(probe registry.Probe) {
			defer wg.Done()
			s.ping(probe)
		}(probe)
	}
	wg.Wait()

	s.logger.Debug().
		Int("probed", len(probes)-evicted).
		Int("evicted", evicted).
		Msg("Heartbeat sweep complete")
}

func (s *Supervisor) ping(probe registry.Probe) {
	if err := probe.Transport.Ping(); err != nil {
		s.logger.Debug().
			Str("peer", string(probe.Kind)).
			Str("id", probe.ID).
			Err(err).
			Msg("Heartbeat ping failed")
		if s.observer != nil {
			s.observer.PingFailed(probe.Kind)
		}
	}
}
