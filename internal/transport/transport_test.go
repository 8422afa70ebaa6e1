package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bandlink/internal/band"
)

func TestDefaultCharacteristicMapCoversAllSensors(t *testing.T) {
	m := DefaultCharacteristicMap()

	tests := []struct {
		uuid   string
		sensor band.SensorType
	}{
		{EEGCharUUID, band.SensorEEG},
		{PPGCharUUID, band.SensorPPG},
		{AccelCharUUID, band.SensorAccelerometer},
		{BatteryCharUUID, band.SensorBattery},
	}
	for _, tt := range tests {
		sensor, ok := m.Lookup(tt.uuid)
		require.True(t, ok, "uuid %s should be mapped", tt.uuid)
		assert.Equal(t, tt.sensor, sensor)
	}
}

func TestCharacteristicMapLookupNormalizes(t *testing.T) {
	m := DefaultCharacteristicMap()

	// The BLE stack reports UUIDs in assorted cases and with dashes.
	for _, uuid := range []string{"FF41", "ff41", "Ff41"} {
		sensor, ok := m.Lookup(uuid)
		require.True(t, ok, "uuid %s", uuid)
		assert.Equal(t, band.SensorEEG, sensor)
	}

	_, ok := m.Lookup("ff99")
	assert.False(t, ok)
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.Equal(t, 30*time.Second, opts.ConnectTimeout)
	assert.True(t, opts.AutoReconnect)
	assert.Equal(t, time.Second, opts.ReconnectInitial)
	assert.Equal(t, 30*time.Second, opts.ReconnectMax)
	assert.Zero(t, opts.ReconnectAttempts, "unlimited by default")
	assert.Len(t, opts.Characteristics, 4)
}

func TestNextBackoffDoublesUpToCap(t *testing.T) {
	max := 30 * time.Second

	b := time.Second
	var seen []time.Duration
	for i := 0; i < 7; i++ {
		b = nextBackoff(b, max)
		seen = append(seen, b)
	}

	assert.Equal(t, []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}, seen)
}

func TestDialRejectsEmptyAddress(t *testing.T) {
	_, err := Dial(context.Background(), "   ", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address")
}

func TestDefaultScanOptions(t *testing.T) {
	opts := DefaultScanOptions()
	assert.Equal(t, 10*time.Second, opts.Duration)
	assert.True(t, opts.BandsOnly)
}
