package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceInfo is a snapshot of one advertising device.
type DeviceInfo struct {
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	RSSI      int       `json:"rssi"`
	LastSeen  time.Time `json:"lastSeen"`
	AdvCount  int       `json:"advCount"`
	BandMatch bool      `json:"bandMatch"`
}

// Scanner discovers nearby bands over BLE advertisement.
type Scanner struct {
	devices *hashmap.Map[string, *DeviceInfo]
	logger  *logrus.Logger

	scanOptions *ScanOptions
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	// BandsOnly restricts results to devices advertising the band service.
	BandsOnly bool
	AllowList []string
	BlockList []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: false,
		BandsOnly:       true,
	}
}

// NewScanner creates a new band scanner
func NewScanner(logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{logger: logger}
}

// Scan performs BLE discovery with provided options and returns the devices
// seen, keyed by address.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) (map[string]DeviceInfo, error) {
	s.devices = hashmap.New[string, *DeviceInfo]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.scanOptions = opts
	defer func() {
		s.scanOptions = nil
	}()
	err = dev.Scan(scanCtx, opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	devices := make(map[string]DeviceInfo, s.devices.Len())
	s.devices.Range(func(key string, value *DeviceInfo) bool {
		devices[key] = *value
		return true
	})
	return devices, nil
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(adv ble.Advertisement) {
	addr := adv.Addr().String()

	info, existing := s.devices.Get(addr)
	if !existing {
		if !s.shouldIncludeDevice(adv, s.scanOptions) {
			return
		}
		info, existing = s.devices.GetOrInsert(addr, &DeviceInfo{
			Address:   addr,
			BandMatch: advertisesBandService(adv),
		})
	}

	info.RSSI = adv.RSSI()
	info.LastSeen = time.Now()
	info.AdvCount++
	if name := adv.LocalName(); name != "" {
		info.Name = name
	}

	if !existing {
		s.logger.WithFields(logrus.Fields{
			"device":  info.Name,
			"address": info.Address,
			"rssi":    info.RSSI,
		}).Info("Discovered new device")
	}
}

// shouldIncludeDevice applies allow/block/service filters
func (s *Scanner) shouldIncludeDevice(adv ble.Advertisement, opts *ScanOptions) bool {
	addr := adv.Addr().String()

	for _, blocked := range opts.BlockList {
		if addr == blocked {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if addr == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if opts.BandsOnly && !advertisesBandService(adv) {
		return false
	}
	return true
}

// advertisesBandService reports whether the advertisement carries the band's
// vendor service UUID.
func advertisesBandService(adv ble.Advertisement) bool {
	target := ble.MustParse(BandServiceUUID)
	for _, u := range adv.Services() {
		if u.Equal(target) {
			return true
		}
	}
	return false
}
