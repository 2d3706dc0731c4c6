// Package mqtt publishes dashboard state and events to an MQTT broker
// for external automation. Publishing is best effort: a slow or absent
// broker never blocks the control loop.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/greenroomlabs/envirodash/internal/control"
)

// Config selects the broker and topic layout.
type Config struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Broker      string `yaml:"broker" json:"broker"`
	ClientID    string `yaml:"client_id" json:"client_id"`
	TopicPrefix string `yaml:"topic_prefix" json:"topic_prefix"`
}

// Publisher pushes status snapshots and events to a broker.
type Publisher interface {
	// PublishStatus publishes the full dashboard state, retained, so a
	// late subscriber immediately sees the current environment.
	PublishStatus(st control.Status) error
	// PublishEvent publishes one event at QoS 1.
	PublishEvent(e control.Event) error
	Close()
}

const publishTimeout = 2 * time.Second

// NewNoop returns a Publisher that drops everything, for running
// without a broker configured.
func NewNoop() Publisher {
	return noopPublisher{}
}

type noopPublisher struct{}

func (noopPublisher) PublishStatus(control.Status) error { return nil }
func (noopPublisher) PublishEvent(control.Event) error   { return nil }
func (noopPublisher) Close()                             {}

type pahoPublisher struct {
	client paho.Client
	prefix string
}

// New connects to the configured broker. The client reconnects in the
// background on broker restarts; publishes during an outage fail fast
// and are dropped.
func New(cfg Config) (Publisher, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "envirodash"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "envirodash"
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	opts.OnConnect = func(paho.Client) {
		log.Printf("[mqtt] connected to %s", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Printf("[mqtt] connection lost: %v", err)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		// ConnectRetry keeps trying in the background; treat a slow
		// first connect as non-fatal and only fail on a hard error.
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("mqtt: connect %s: %w", cfg.Broker, err)
		}
		log.Printf("[mqtt] broker %s not reachable yet, retrying in background", cfg.Broker)
	}

	return &pahoPublisher{client: client, prefix: cfg.TopicPrefix}, nil
}

func (p *pahoPublisher) publish(topic string, payload interface{}, qos byte, retained bool) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mqtt: marshal for %s: %w", topic, err)
	}
	token := p.client.Publish(topic, qos, retained, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s: %w", topic, err)
	}
	return nil
}

func (p *pahoPublisher) PublishStatus(st control.Status) error {
	return p.publish(p.prefix+"/status", st, 0, true)
}

func (p *pahoPublisher) PublishEvent(e control.Event) error {
	return p.publish(p.prefix+"/events", e, 1, false)
}

func (p *pahoPublisher) Close() {
	p.client.Disconnect(1000)
}
