package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
)

func sampleMeters() []domain.MeterConfig {
	return []domain.MeterConfig{
		{MeterID: "SOLAR_001", MeterType: domain.MeterSolar, PushTopic: "meters/shared"},
		{MeterID: "GRID_001", MeterType: domain.MeterGrid},
		{MeterID: "WIND_001", MeterType: domain.MeterWind, PushTopic: "meters/shared"},
		{MeterID: "BATT_001", MeterType: domain.MeterBattery, PushTopic: "meters/battery"},
	}
}

func TestRegistryGetAndAll(t *testing.T) {
	reg, err := New(sampleMeters())
	require.NoError(t, err)
	require.Equal(t, 4, reg.Len())

	m, err := reg.Get("GRID_001")
	require.NoError(t, err)
	require.Equal(t, domain.MeterGrid, m.MeterType)

	_, err = reg.Get("NOPE")
	require.ErrorIs(t, err, domain.ErrMeterNotFound)

	all := reg.All()
	require.Equal(t, []string{"SOLAR_001", "GRID_001", "WIND_001", "BATT_001"}, ids(all))

	// mutating the returned slice must not leak into the registry
	all[0].MeterID = "changed"
	require.Equal(t, "SOLAR_001", reg.All()[0].MeterID)
}

func TestRegistryRejectsDuplicateIDs(t *testing.T) {
	_, err := New([]domain.MeterConfig{{MeterID: "A"}, {MeterID: "A"}})
	require.ErrorIs(t, err, ErrDuplicateMeter)
}

func TestRegistryTopics(t *testing.T) {
	reg, err := New(sampleMeters())
	require.NoError(t, err)

	m, ok := reg.ByTopic("meters/shared")
	require.True(t, ok)
	require.Equal(t, "SOLAR_001", m.MeterID, "first match wins")

	_, ok = reg.ByTopic("meters/unknown")
	require.False(t, ok)
	_, ok = reg.ByTopic("")
	require.False(t, ok)

	require.Equal(t, []string{"meters/shared", "meters/battery"}, reg.Topics())
}

func ids(ms []domain.MeterConfig) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.MeterID
	}
	return out
}
