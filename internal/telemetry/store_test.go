package telemetry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"motorlink/internal/protocol"
)

func sample(t *testing.T, rpm int) *protocol.Telemetry {
	t.Helper()
	raw := fmt.Sprintf(`{"type":"telemetry","motorA":{"voltage":12,"current":500,"rpm":%d},"motorB":{"voltage":12,"current":null,"rpm":1}}`, rpm)
	env, err := protocol.Decode([]byte(raw))
	require.NoError(t, err)
	tel, err := protocol.ValidateTelemetry(env)
	require.NoError(t, err)
	return tel
}

func TestStore(t *testing.T) {
	t.Run("keeps only the latest sample per device", func(t *testing.T) {
		store, err := NewStore(4)
		require.NoError(t, err)

		store.Record("esp32-1", sample(t, 100))
		store.Record("esp32-1", sample(t, 120))

		latest, ok := store.Latest("esp32-1")
		require.True(t, ok)
		assert.Equal(t, float64(120), latest.Telemetry.MotorA.RPM)
		assert.Contains(t, string(latest.Data), `"rpm":120`)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("evicts least recently updated device", func(t *testing.T) {
		store, err := NewStore(2)
		require.NoError(t, err)

		store.Record("a", sample(t, 1))
		store.Record("b", sample(t, 2))
		store.Record("a", sample(t, 3))
		store.Record("c", sample(t, 4))

		all := store.All()
		assert.Len(t, all, 2)
		assert.Contains(t, all, "a")
		assert.Contains(t, all, "c")
		assert.NotContains(t, all, "b")
	})

	t.Run("forget removes a device", func(t *testing.T) {
		store, err := NewStore(0)
		require.NoError(t, err)

		store.Record("a", sample(t, 1))
		store.Forget("a")
		_, ok := store.Latest("a")
		assert.False(t, ok)
	})
}
