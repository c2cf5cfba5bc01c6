package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"motorlink/internal/protocol"
)

// DefaultSize bounds the number of devices tracked when no size is given
const DefaultSize = 32

// Sample is the most recent validated telemetry of one device
type Sample struct {
	DeviceID   string              `json:"deviceId"`
	ReceivedAt time.Time           `json:"receivedAt"`
	Telemetry  *protocol.Telemetry `json:"-"`
	Data       json.RawMessage     `json:"data"`
}

// Store keeps the latest sample per device. The least recently updated
// device is dropped once the size is exceeded.
type Store struct {
	cache *lru.Cache[string, Sample]
}

// NewStore creates a store tracking up to size devices
func NewStore(size int) (*Store, error) {
	if size <= 0 {
		size = DefaultSize
	}

	cache, err := lru.New[string, Sample](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry cache: %w", err)
	}

	return &Store{cache: cache}, nil
}

// Record stores t as the latest sample of deviceID
func (s *Store) Record(deviceID string, t *protocol.Telemetry) {
	s.cache.Add(deviceID, Sample{
		DeviceID:   deviceID,
		ReceivedAt: time.Now().UTC(),
		Telemetry:  t,
		Data:       json.RawMessage(t.Raw),
	})
}

// Latest returns the latest sample of deviceID
func (s *Store) Latest(deviceID string) (Sample, bool) {
	return s.cache.Peek(deviceID)
}

// All returns the latest sample of every tracked device
func (s *Store) All() map[string]Sample {
	samples := make(map[string]Sample, s.cache.Len())
	for _, id := range s.cache.Keys() {
		if sample, ok := s.cache.Peek(id); ok {
			samples[id] = sample
		}
	}
	return samples
}

// Forget drops the sample of deviceID
func (s *Store) Forget(deviceID string) {
	s.cache.Remove(deviceID)
}

// Len returns the number of tracked devices
func (s *Store) Len() int {
	return s.cache.Len()
}
