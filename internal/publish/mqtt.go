// Package publish sends per-symbol measurements to an MQTT broker.
package publish

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jeongseonghan/qam-lab/internal/config"
	"github.com/jeongseonghan/qam-lab/internal/modem"
)

// ErrNotConnected is returned when publishing while the broker link is down.
var ErrNotConnected = errors.New("MQTT not connected")

// Publisher publishes symbol snapshots. A nil *Publisher is valid and
// drops everything, which is what New returns when MQTT is disabled.
type Publisher struct {
	client mqtt.Client
	config *config.MQTTConfig
	log    logrus.FieldLogger
}

// SymbolMessage is the JSON payload of one published symbol.
type SymbolMessage struct {
	Modulation string    `json:"modulation"`
	Order      int       `json:"order"`
	Labeling   string    `json:"labeling"`
	Timestamp  time.Time `json:"timestamp"`
	modem.SymbolMetrics
}

func generateClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "qamlab_" + hex.EncodeToString(b)
}

// New connects to the configured broker. The initial connection is not
// required to succeed; the client keeps retrying in the background.
func New(cfg *config.MQTTConfig, log logrus.FieldLogger) (*Publisher, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	log = log.WithField("component", "mqtt")

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "tls"
	}
	brokerURL := fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(generateClientID())
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(5 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("connected to broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("connection lost, will auto-reconnect")
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Debug("attempting to reconnect")
	})

	client := mqtt.NewClient(opts)
	log.WithField("broker", brokerURL).Info("connecting")
	token := client.Connect()
	if token.WaitTimeout(5 * time.Second) {
		if err := token.Error(); err != nil {
			log.WithError(err).Warn("initial connection failed, retrying in background")
		}
	} else {
		log.Warn("connection timeout, retrying in background")
	}

	return newPublisher(client, cfg, log), nil
}

func newPublisher(client mqtt.Client, cfg *config.MQTTConfig, log logrus.FieldLogger) *Publisher {
	return &Publisher{client: client, config: cfg, log: log}
}

// Topic returns {prefix}/symbols/{order}/{labeling}.
func (p *Publisher) Topic(mod modem.Modulation, labeling modem.Labeling) string {
	return fmt.Sprintf("%s/symbols/%d/%s", p.config.TopicPrefix, int(mod), labeling)
}

// PublishSymbol publishes one symbol snapshot asynchronously.
func (p *Publisher) PublishSymbol(mod modem.Modulation, labeling modem.Labeling, m modem.SymbolMetrics) error {
	if p == nil {
		return nil
	}
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(SymbolMessage{
		Modulation:    mod.String(),
		Order:         int(mod),
		Labeling:      labeling.String(),
		Timestamp:     time.Now().UTC(),
		SymbolMetrics: m,
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	topic := p.Topic(mod, labeling)
	token := p.client.Publish(topic, p.config.QoS, p.config.Retain, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			p.log.WithError(token.Error()).WithField("topic", topic).Error("publish failed")
		} else {
			p.log.WithFields(logrus.Fields{"topic": topic, "position": m.Position}).Debug("published symbol")
		}
	}()
	return nil
}

// IsConnected reports whether the broker link is up.
func (p *Publisher) IsConnected() bool {
	if p == nil || p.client == nil {
		return false
	}
	return p.client.IsConnected()
}

// Disconnect gracefully disconnects from the broker.
func (p *Publisher) Disconnect() {
	if p != nil && p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		p.log.Info("disconnected from broker")
	}
}
