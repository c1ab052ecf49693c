// Package mqtt ingests sensor samples published to an MQTT broker.
//
// Devices publish JSON samples to a topic such as quakesentinel/<device>/accel.
// When a payload carries no device_id, the segment matched by the first '+'
// wildcard of the subscription filter is used instead.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/rewired-gh/quakesentinel/internal/config"
	"github.com/rewired-gh/quakesentinel/internal/logger"
	"github.com/rewired-gh/quakesentinel/internal/models"
)

// Ingester accepts samples into the pipeline.
type Ingester interface {
	Ingest(ctx context.Context, sample models.Sample) (*models.SeismicEvent, error)
}

// Subscriber feeds MQTT messages into an Ingester.
type Subscriber struct {
	cfg      config.MQTTConfig
	ingester Ingester
	client   paho.Client
}

// NewSubscriber creates a subscriber. Nothing connects until Start.
func NewSubscriber(cfg config.MQTTConfig, ingester Ingester) *Subscriber {
	return &Subscriber{cfg: cfg, ingester: ingester}
}

// Start connects to the broker and subscribes. The subscription is renewed
// on every reconnect. Messages are handled with ctx until Stop.
func (s *Subscriber) Start(ctx context.Context) error {
	opts := paho.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)
	// Ingest blocks under backpressure; keep the network loop free.
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(func(c paho.Client) {
		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ paho.Client, msg paho.Message) {
			if err := s.Handle(ctx, msg.Topic(), msg.Payload()); err != nil {
				logger.Warn("Dropped MQTT message on %s: %v", msg.Topic(), err)
			}
		})
		if token.Wait() && token.Error() != nil {
			logger.Error("Failed to subscribe to %s: %v", s.cfg.Topic, token.Error())
			return
		}
		logger.Info("Subscribed to MQTT topic %s (qos %d)", s.cfg.Topic, s.cfg.QoS)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("MQTT connection lost: %v", err)
	})

	s.client = paho.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Stop disconnects from the broker.
func (s *Subscriber) Stop() {
	if s.client == nil {
		return
	}
	s.client.Disconnect(250)
	logger.Info("MQTT subscriber disconnected")
}

// Handle decodes one payload and ingests it.
func (s *Subscriber) Handle(ctx context.Context, topic string, payload []byte) error {
	sample, err := DecodeSample(payload)
	if err != nil {
		return err
	}
	if sample.DeviceID == "" {
		sample.DeviceID = DeviceFromTopic(s.cfg.Topic, topic)
	}

	event, err := s.ingester.Ingest(ctx, sample)
	if err != nil {
		return fmt.Errorf("ingesting sample from %s: %w", topic, err)
	}
	logger.Debug("Ingested %s event %d from %s", event.EventType, event.ID, topic)
	return nil
}

// DecodeSample parses a JSON sample. Malformed payloads wrap
// models.ErrInvalidInput.
func DecodeSample(payload []byte) (models.Sample, error) {
	var sample models.Sample
	if err := json.Unmarshal(payload, &sample); err != nil {
		return models.Sample{}, fmt.Errorf("%w: malformed sample: %w", models.ErrInvalidInput, err)
	}
	return sample, nil
}

// DeviceFromTopic returns the topic segment matched by the first '+' in
// filter, or "" when there is none.
func DeviceFromTopic(filter, topic string) string {
	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")
	for i, part := range filterParts {
		if i >= len(topicParts) {
			return ""
		}
		if part == "+" {
			return topicParts[i]
		}
	}
	return ""
}
