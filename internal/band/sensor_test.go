package band

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSensorType(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected SensorType
		wantErr  bool
	}{
		{name: "eeg", input: "eeg", expected: SensorEEG},
		{name: "eeg uppercase", input: "EEG", expected: SensorEEG},
		{name: "ppg", input: "ppg", expected: SensorPPG},
		{name: "accel short", input: "acc", expected: SensorAccelerometer},
		{name: "accel long", input: "accelerometer", expected: SensorAccelerometer},
		{name: "battery", input: "battery", expected: SensorBattery},
		{name: "battery padded", input: "  batt ", expected: SensorBattery},
		{name: "unknown", input: "gyro", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSensorType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestRegistryDescriptors(t *testing.T) {
	reg := NewRegistry(DefaultHardware())
	require.Equal(t, 4, reg.Len())

	eeg, ok := reg.Lookup(SensorEEG)
	require.True(t, ok)
	assert.Equal(t, 179, eeg.PacketSize)
	assert.Equal(t, 25, eeg.SamplesPerPacket())
	assert.Equal(t, 4*time.Millisecond, eeg.SampleStep())
	assert.Equal(t, 2500, eeg.MaxBatch())

	ppg, ok := reg.Lookup(SensorPPG)
	require.True(t, ok)
	assert.Equal(t, 172, ppg.PacketSize)
	assert.Equal(t, 28, ppg.SamplesPerPacket())
	assert.Equal(t, 20*time.Millisecond, ppg.SampleStep())
	assert.Equal(t, 500, ppg.MaxBatch())

	accel, ok := reg.Lookup(SensorAccelerometer)
	require.True(t, ok)
	assert.Equal(t, 0, accel.PacketSize, "accel payload length is variable")
	assert.Equal(t, 10, accel.MinPacketSize)
	assert.Equal(t, 500, accel.MaxBatch())

	batt, ok := reg.Lookup(SensorBattery)
	require.True(t, ok)
	assert.Equal(t, 1, batt.MinPacketSize)
	assert.Zero(t, batt.SampleStep())
}

func TestRegistryOrderIsStable(t *testing.T) {
	reg := NewRegistry(DefaultHardware())
	var order []SensorType
	reg.Each(func(d Descriptor) {
		order = append(order, d.Type)
	})
	assert.Equal(t, []SensorType{SensorEEG, SensorPPG, SensorAccelerometer, SensorBattery}, order)
}

func TestReadingAccessors(t *testing.T) {
	ts := time.Unix(100, 0)

	var r Reading = EEGReading{Timestamp: ts, Ch1Raw: -1}
	assert.Equal(t, SensorEEG, r.Sensor())
	assert.Equal(t, ts, r.Time())

	r = PPGReading{Timestamp: ts}
	assert.Equal(t, SensorPPG, r.Sensor())

	r = AccelReading{Timestamp: ts}
	assert.Equal(t, SensorAccelerometer, r.Sensor())

	r = BatteryReading{Timestamp: ts, Level: 87}
	assert.Equal(t, SensorBattery, r.Sensor())
}
