package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cavas/internal/logger"
	"cavas/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const publishTimeout = 2 * time.Second

var ErrNotConnected = errors.New("mqtt not connected")

// EventMessage is the JSON body published for a confirmed event.
type EventMessage struct {
	SessionID  string  `json:"session_id"`
	Timestamp  string  `json:"timestamp"`
	Object     string  `json:"detected_object"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"confirmation_source"`
	Box        [4]int  `json:"box"`
}

// MQTTPublisher mirrors confirmed events to an MQTT broker under <topic>/<label>.
type MQTTPublisher struct {
	client    mqtt.Client
	topic     string
	sessionID string
	logger    *logger.Logger

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
}

// NewMQTTPublisher builds a publisher for broker ("host:port" or a full URL).
// Call Connect before use.
func NewMQTTPublisher(broker, topic, sessionID string, logger *logger.Logger) *MQTTPublisher {
	p := &MQTTPublisher{
		topic:     strings.TrimRight(topic, "/"),
		sessionID: sessionID,
		logger:    logger,
		published: make(map[string]uint64),
	}

	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("cavas-" + uuid.NewString()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("📡 MQTT connected to %s", broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warning("MQTT connection lost, reconnecting: %v", err)
	}

	p.client = mqtt.NewClient(opts)
	return p
}

func newWithClient(client mqtt.Client, topic, sessionID string, logger *logger.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client:    client,
		topic:     strings.TrimRight(topic, "/"),
		sessionID: sessionID,
		logger:    logger,
		published: make(map[string]uint64),
	}
}

// Connect waits up to timeout for the broker.
func (p *MQTTPublisher) Connect(timeout time.Duration) error {
	token := p.client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

func (p *MQTTPublisher) Name() string {
	return "mqtt"
}

// Append publishes rec when it was confirmed. It does not wait for the broker;
// delivery failures are logged from a separate goroutine.
func (p *MQTTPublisher) Append(rec models.EventRecord) error {
	if !rec.Confirmed {
		return nil
	}
	if !p.client.IsConnected() {
		p.countError()
		return ErrNotConnected
	}

	topic := p.Topic(rec.Label)
	payload, err := json.Marshal(p.message(rec))
	if err != nil {
		p.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := p.client.Publish(topic, 0, false, payload)
	go p.await(topic, token)
	return nil
}

// Topic returns the topic used for label.
func (p *MQTTPublisher) Topic(label string) string {
	return p.topic + "/" + strings.ReplaceAll(label, " ", "_")
}

func (p *MQTTPublisher) message(rec models.EventRecord) EventMessage {
	return EventMessage{
		SessionID:  p.sessionID,
		Timestamp:  rec.Timestamp.UTC().Format(time.RFC3339Nano),
		Object:     rec.Label,
		Confidence: rec.Confidence,
		Source:     string(rec.Source),
		Box:        [4]int{rec.Box.X1, rec.Box.Y1, rec.Box.X2, rec.Box.Y2},
	}
}

func (p *MQTTPublisher) await(topic string, token mqtt.Token) {
	if !token.WaitTimeout(publishTimeout) {
		p.countError()
		p.logger.Warning("MQTT publish to %s timed out", topic)
		return
	}
	if err := token.Error(); err != nil {
		p.countError()
		p.logger.Warning("MQTT publish to %s failed: %v", topic, err)
		return
	}
	p.mu.Lock()
	p.published[topic]++
	p.mu.Unlock()
}

func (p *MQTTPublisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}

// Published returns delivered message counts per topic and the error count.
func (p *MQTTPublisher) Published() (map[string]uint64, uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]uint64, len(p.published))
	for k, v := range p.published {
		out[k] = v
	}
	return out, p.errors
}

// Disconnect closes the broker connection with a short grace period.
func (p *MQTTPublisher) Disconnect() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		p.logger.Info("MQTT disconnected")
	}
}
