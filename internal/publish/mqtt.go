// Package publish streams completed batches and battery updates to an MQTT
// broker for live consumers.
package publish

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/srg/bandlink/internal/band"
	"github.com/srg/bandlink/internal/stream"
)

// Config holds the MQTT connection settings.
type Config struct {
	Broker          string
	Port            int
	Username        string
	Password        string
	TopicPrefix     string
	QoS             byte
	UseTLS          bool
	InsecureSkipTLS bool
	ConnectTimeout  time.Duration
}

// Publisher forwards batches to the broker. Publishing is fire-and-forget:
// a slow broker never blocks the caller beyond the client's buffering.
type Publisher struct {
	client mqtt.Client
	cfg    Config
	logger *logrus.Logger
}

// batchMessage is the wire format for one completed batch.
type batchMessage struct {
	Sensor   string         `json:"sensor"`
	Count    int            `json:"count"`
	Readings []band.Reading `json:"readings"`
}

// NewPublisher connects to the broker and returns a ready publisher.
func NewPublisher(cfg Config, logger *logrus.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "bandlink"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions()
	protocol := "tcp"
	if cfg.UseTLS {
		protocol = "tls"
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: cfg.InsecureSkipTLS})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", protocol, cfg.Broker, cfg.Port))
	opts.SetClientID(fmt.Sprintf("bandlink-%d", time.Now().Unix()))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.WithField("error", err).Warn("MQTT connection lost")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("MQTT connect timeout after %s", cfg.ConnectTimeout)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	logger.WithFields(logrus.Fields{
		"broker": cfg.Broker,
		"prefix": cfg.TopicPrefix,
	}).Info("MQTT publisher connected")
	return &Publisher{client: client, cfg: cfg, logger: logger}, nil
}

// PublishBatch sends one completed batch as JSON on
// <prefix>/<sensor>/batch.
func (p *Publisher) PublishBatch(b stream.Batch) {
	payload, err := json.Marshal(batchMessage{
		Sensor:   b.Sensor.String(),
		Count:    len(b.Readings),
		Readings: b.Readings,
	})
	if err != nil {
		p.logger.WithField("error", err).Warn("Failed to marshal batch for MQTT")
		return
	}
	topic := fmt.Sprintf("%s/%s/batch", p.cfg.TopicPrefix, b.Sensor)
	p.client.Publish(topic, p.cfg.QoS, false, payload)
}

// PublishBattery sends the latest battery level (retained) on
// <prefix>/battery.
func (p *Publisher) PublishBattery(r band.BatteryReading) {
	payload, err := json.Marshal(r)
	if err != nil {
		p.logger.WithField("error", err).Warn("Failed to marshal battery reading for MQTT")
		return
	}
	p.client.Publish(p.cfg.TopicPrefix+"/battery", p.cfg.QoS, true, payload)
}

// Close disconnects from the broker after flushing in-flight messages.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
	p.logger.Info("MQTT publisher disconnected")
}
