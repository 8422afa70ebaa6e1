package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bandlink/internal/band"
	"github.com/srg/bandlink/internal/batch"
	"github.com/srg/bandlink/internal/packet"
	"github.com/srg/bandlink/internal/transport"
	"github.com/srg/bandlink/pkg/config"
)

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestFormatUserError(t *testing.T) {
	assert.Equal(t,
		"operation timed out - is the band in range and powered on?",
		FormatUserError(fmt.Errorf("connect: %w", context.DeadlineExceeded)))

	assert.Equal(t,
		"connection to the band was lost",
		FormatUserError(fmt.Errorf("stream: %w", ErrConnectionLost)))

	// Wrapper prefixes are stripped from Bluetooth state errors.
	assert.Equal(t,
		"Bluetooth is turned off - please enable Bluetooth and retry",
		FormatUserError(fmt.Errorf("failed to connect to device: Bluetooth is turned off - please enable Bluetooth and retry")))

	// Other errors pass through untouched.
	assert.Equal(t, "scan failed: radio busy",
		FormatUserError(fmt.Errorf("scan failed: radio busy")))
}

func TestParseSensors(t *testing.T) {
	sensors, err := parseSensors([]string{"eeg", "ppg", "accel"})
	require.NoError(t, err)
	assert.Equal(t, []band.SensorType{band.SensorEEG, band.SensorPPG, band.SensorAccelerometer}, sensors)

	// Battery is silently skipped; it never batches.
	sensors, err = parseSensors([]string{"eeg", "battery"})
	require.NoError(t, err)
	assert.Equal(t, []band.SensorType{band.SensorEEG}, sensors)

	_, err = parseSensors([]string{"battery"})
	assert.Error(t, err)

	_, err = parseSensors([]string{"gyro"})
	assert.Error(t, err)
}

func TestSensorPolicyPrecedence(t *testing.T) {
	cfg := config.Default()
	cfg.Batches.EEG = config.SensorBatch{Count: 100}

	// Config default applies when no flags are set.
	streamCount, streamWindow = 0, 0
	p, ok := sensorPolicy(band.SensorEEG, cfg)
	require.True(t, ok)
	assert.Equal(t, batch.Count(100), p)

	// Unconfigured sensor falls back to a one-second window.
	p, ok = sensorPolicy(band.SensorPPG, cfg)
	require.True(t, ok)
	assert.Equal(t, batch.Window(time.Second), p)

	// --count beats config.
	streamCount = 25
	p, _ = sensorPolicy(band.SensorEEG, cfg)
	assert.Equal(t, batch.Count(25), p)

	// --window beats --count.
	streamWindow = 2 * time.Second
	p, _ = sensorPolicy(band.SensorEEG, cfg)
	assert.Equal(t, batch.Window(2*time.Second), p)

	streamCount, streamWindow = 0, 0
}

func TestParseHexPayload(t *testing.T) {
	want := []byte{0xde, 0xad, 0xbe, 0xef}

	for _, input := range []string{
		"deadbeef",
		"DE AD BE EF",
		"de:ad:be:ef",
		"de-ad-be-ef",
	} {
		got, err := parseHexPayload(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := parseHexPayload("not hex")
	assert.Error(t, err)
}

func TestDecodeOneBattery(t *testing.T) {
	dec := packet.NewDecoder(band.DefaultHardware())

	decodeFormat = "summary"
	defer func() { decodeFormat = "json" }()

	err := decodeOne(dec, band.SensorBattery, "5a")
	assert.NoError(t, err)

	err = decodeOne(dec, band.SensorBattery, "")
	assert.Error(t, err, "empty payload is malformed")
}

func TestWriteReadingsJSON(t *testing.T) {
	dec := packet.NewDecoder(band.DefaultHardware())

	data := make([]byte, 179)
	binary.LittleEndian.PutUint32(data[:4], 32768000)
	readings, err := dec.Decode(band.SensorEEG, data, time.Time{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeReadingsJSON(&buf, readings))
	assert.Contains(t, buf.String(), "\"ch1Raw\"")
	assert.Contains(t, buf.String(), "\"leadOff\"")
}

func TestDisplayDeviceTable(t *testing.T) {
	var buf bytes.Buffer
	err := displayDeviceTable(&buf, []transport.DeviceInfo{
		{Address: "AA:BB:CC:DD:EE:FF", Name: "band-042", RSSI: -61, BandMatch: true, LastSeen: time.Now()},
		{Address: "11:22:33:44:55:66", RSSI: -80, LastSeen: time.Now()},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "band-042")
	assert.Contains(t, out, "AA:BB:CC:DD:EE:FF")
	assert.Contains(t, out, "-61 dBm")
	assert.Contains(t, out, "(unnamed)")
}

func TestDecodeHexRoundTrip(t *testing.T) {
	// A battery payload survives the hex pipeline end to end.
	raw := []byte{0x64}
	decoded, err := parseHexPayload(hex.EncodeToString(raw))
	require.NoError(t, err)

	dec := packet.NewDecoder(band.DefaultHardware())
	rd, err := dec.DecodeBattery(decoded, time.Unix(1000, 0))
	require.NoError(t, err)
	assert.Equal(t, uint8(100), rd.Level)
}
