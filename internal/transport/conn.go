package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/bandlink/internal/band"
)

// Conn is a live connection to one band. It discovers the sensor
// characteristics, subscribes to their notifications, and hands payloads to
// the registered handler in arrival order per characteristic.
type Conn struct {
	logger  *logrus.Logger
	opts    *Options
	address string

	mu        sync.RWMutex
	client    ble.Client
	chars     map[band.SensorType]*ble.Characteristic
	handler   NotificationHandler
	connected bool
	closing   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Dial connects to the band at the given address and discovers its sensor
// characteristics. The returned Conn is connected but not yet subscribed.
func Dial(ctx context.Context, address string, opts *Options, logger *logrus.Logger) (*Conn, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("failed to connect: device address is not set")
	}

	c := &Conn{
		logger:  logger,
		opts:    opts,
		address: address,
		chars:   make(map[band.SensorType]*ble.Characteristic),
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(ctx); err != nil {
		c.cancel()
		return nil, err
	}
	return c, nil
}

// connect dials the device and populates the characteristic handles.
func (c *Conn) connect(ctx context.Context) error {
	dev, err := DeviceFactory()
	if err != nil {
		return fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	c.logger.WithField("address", c.address).Info("Connecting to band...")

	connCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	client, err := ble.Dial(connCtx, ble.NewAddr(c.address))
	if err != nil {
		return fmt.Errorf("failed to connect to device %q: %w", c.address, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		client.CancelConnection()
		return fmt.Errorf("failed to discover profile: %w", err)
	}

	chars := make(map[band.SensorType]*ble.Characteristic)
	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			sensor, ok := c.opts.Characteristics.Lookup(char.UUID.String())
			if !ok {
				continue
			}
			c.logger.WithFields(logrus.Fields{
				"sensor":    sensor.String(),
				"char_uuid": char.UUID.String(),
			}).Debug("Found sensor characteristic")
			chars[sensor] = char
		}
	}
	if len(chars) == 0 {
		client.CancelConnection()
		return fmt.Errorf("device %q exposes no band sensor characteristics", c.address)
	}

	c.mu.Lock()
	c.client = client
	c.chars = chars
	c.connected = true
	c.mu.Unlock()

	c.logger.WithField("sensors", len(chars)).Info("Band connected")

	// Watch for link loss on this client generation.
	c.wg.Add(1)
	go c.watchDisconnect(client)
	return nil
}

// IsConnected reports the current link state.
func (c *Conn) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Sensors lists the sensor types discovered on this device.
func (c *Conn) Sensors() []band.SensorType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]band.SensorType, 0, len(c.chars))
	for t := range c.chars {
		out = append(out, t)
	}
	return out
}

// Subscribe registers the notification handler and subscribes to every
// discovered sensor characteristic. Notifications for one characteristic
// arrive in order on the BLE callback goroutine.
func (c *Conn) Subscribe(handler NotificationHandler) error {
	if handler == nil {
		return fmt.Errorf("notification handler cannot be nil")
	}

	c.mu.Lock()
	c.handler = handler
	client := c.client
	connected := c.connected
	chars := make(map[band.SensorType]*ble.Characteristic, len(c.chars))
	for t, ch := range c.chars {
		chars[t] = ch
	}
	c.mu.Unlock()

	if !connected {
		return fmt.Errorf("device not connected - establish connection before subscribing")
	}
	return c.subscribeAll(client, chars, handler)
}

func (c *Conn) subscribeAll(client ble.Client, chars map[band.SensorType]*ble.Characteristic, handler NotificationHandler) error {
	var failures []string
	for sensor, char := range chars {
		if char.Property&ble.CharNotify == 0 && char.Property&ble.CharIndicate == 0 {
			failures = append(failures, fmt.Sprintf("%s: notifications unsupported", sensor))
			continue
		}
		sensorCapture := sensor
		err := client.Subscribe(char, false, func(data []byte) {
			handler(sensorCapture, data)
		})
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", sensor, err))
			c.logger.WithFields(logrus.Fields{
				"sensor": sensor.String(),
				"error":  err,
			}).Error("Failed to subscribe to sensor notifications")
			continue
		}
		c.logger.WithField("sensor", sensor.String()).Info("Subscribed to sensor notifications")
	}

	if len(failures) > 0 {
		return fmt.Errorf("subscription failures - %s", strings.Join(failures, "; "))
	}
	return nil
}

// ReadBattery reads the battery characteristic directly, bypassing
// notifications.
func (c *Conn) ReadBattery() ([]byte, error) {
	c.mu.RLock()
	client := c.client
	char, ok := c.chars[band.SensorBattery]
	connected := c.connected
	c.mu.RUnlock()

	if !connected || client == nil {
		return nil, fmt.Errorf("not connected to device")
	}
	if !ok {
		return nil, fmt.Errorf("battery characteristic not found")
	}
	data, err := client.ReadCharacteristic(char)
	if err != nil {
		return nil, fmt.Errorf("failed to read battery characteristic: %w", err)
	}
	return data, nil
}

// watchDisconnect waits for link loss on one client generation and, when
// configured, drives the reconnect loop.
func (c *Conn) watchDisconnect(client ble.Client) {
	defer c.wg.Done()

	select {
	case <-c.ctx.Done():
		return
	case <-client.Disconnected():
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.client = nil
	handler := c.handler
	c.mu.Unlock()

	c.logger.Warn("Band connection lost")

	if !c.opts.AutoReconnect {
		return
	}
	c.reconnectLoop(handler)
}

// reconnectLoop redials with capped exponential backoff until the context is
// cancelled, the attempt limit is reached, or the link is back up.
func (c *Conn) reconnectLoop(handler NotificationHandler) {
	backoff := c.opts.ReconnectInitial
	if backoff <= 0 {
		backoff = time.Second
	}

	for attempt := 1; ; attempt++ {
		if c.opts.ReconnectAttempts > 0 && attempt > c.opts.ReconnectAttempts {
			c.logger.WithField("attempts", c.opts.ReconnectAttempts).Error("Giving up on reconnecting to band")
			return
		}

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}

		c.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"backoff": backoff.String(),
		}).Info("Reconnecting to band...")

		if err := c.connect(c.ctx); err != nil {
			c.logger.WithField("error", err).Warn("Reconnect attempt failed")
			backoff = nextBackoff(backoff, c.opts.ReconnectMax)
			continue
		}

		if handler != nil {
			c.mu.RLock()
			client := c.client
			chars := make(map[band.SensorType]*ble.Characteristic, len(c.chars))
			for t, ch := range c.chars {
				chars[t] = ch
			}
			c.mu.RUnlock()
			if err := c.subscribeAll(client, chars, handler); err != nil {
				c.logger.WithField("error", err).Warn("Resubscription after reconnect failed")
			}
		}
		return
	}
}

// nextBackoff doubles the delay up to the cap.
func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if max > 0 && next > max {
		next = max
	}
	return next
}

// Close tears the connection down: unsubscribes, cancels the reconnect
// supervisor, and disconnects the client.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	client := c.client
	chars := make(map[band.SensorType]*ble.Characteristic, len(c.chars))
	for t, ch := range c.chars {
		chars[t] = ch
	}
	c.client = nil
	c.connected = false
	c.mu.Unlock()

	c.cancel()

	var unsubErrors []string
	if client != nil {
		for sensor, char := range chars {
			err1 := client.Unsubscribe(char, false) // notify
			err2 := client.Unsubscribe(char, true)  // indicate
			if err1 != nil && err2 != nil {
				unsubErrors = append(unsubErrors, fmt.Sprintf("%s: notify=%v, indicate=%v", sensor, err1, err2))
			}
		}
	}

	c.wg.Wait()

	var disconnectErr error
	if client != nil {
		disconnectErr = client.CancelConnection()
	}

	if len(unsubErrors) > 0 {
		c.logger.WithField("errors", strings.Join(unsubErrors, "; ")).Warn("Failed to unsubscribe from some sensors during disconnect")
	}
	if disconnectErr != nil {
		c.logger.WithField("error", disconnectErr).Warn("Band disconnected with errors")
	} else {
		c.logger.Info("Band disconnected")
	}
	return disconnectErr
}
