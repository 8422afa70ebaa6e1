// Package transport manages the BLE link to the band: discovery, connection,
// notification subscriptions per sensor characteristic, and automatic
// reconnection. It delivers raw notification payloads upward; decoding is
// someone else's job.
package transport

import (
	"strings"
	"time"

	"github.com/srg/bandlink/internal/band"
)

// Band GATT layout: one vendor service carries the three streaming sensors;
// battery uses the standard Battery Service.
const (
	BandServiceUUID    = "ff40"
	EEGCharUUID        = "ff41"
	PPGCharUUID        = "ff42"
	AccelCharUUID      = "ff43"
	BatteryServiceUUID = "180f"
	BatteryCharUUID    = "2a19"
)

// normalizeUUID converts a UUID string to the BLE library's internal format
// (lowercase, no dashes).
func normalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}

// CharacteristicMap maps normalized characteristic UUIDs to sensor types.
type CharacteristicMap map[string]band.SensorType

// DefaultCharacteristicMap returns the band's production UUID mapping.
func DefaultCharacteristicMap() CharacteristicMap {
	return CharacteristicMap{
		normalizeUUID(EEGCharUUID):     band.SensorEEG,
		normalizeUUID(PPGCharUUID):     band.SensorPPG,
		normalizeUUID(AccelCharUUID):   band.SensorAccelerometer,
		normalizeUUID(BatteryCharUUID): band.SensorBattery,
	}
}

// Lookup resolves a characteristic UUID (any format) to its sensor.
func (m CharacteristicMap) Lookup(uuid string) (band.SensorType, bool) {
	t, ok := m[normalizeUUID(uuid)]
	return t, ok
}

// NotificationHandler receives one raw notification payload per call. The
// data slice is only valid for the duration of the call; implementations
// must copy it if they retain it.
type NotificationHandler func(sensor band.SensorType, data []byte)

// Options configures the connection.
type Options struct {
	ConnectTimeout  time.Duration
	Characteristics CharacteristicMap

	// AutoReconnect redials after an unexpected disconnect, with capped
	// exponential backoff.
	AutoReconnect     bool
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int // 0 means unlimited
}

// DefaultOptions returns sensible defaults for connecting to a band.
func DefaultOptions() *Options {
	return &Options{
		ConnectTimeout:   30 * time.Second,
		Characteristics:  DefaultCharacteristicMap(),
		AutoReconnect:    true,
		ReconnectInitial: time.Second,
		ReconnectMax:     30 * time.Second,
	}
}
