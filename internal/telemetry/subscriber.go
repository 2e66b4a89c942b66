// Package telemetry ingests ambulance GPS samples published over MQTT.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/application"
	"github.com/rescuelink/service-dispatch/internal/geo"
	"go.uber.org/zap"
)

// DefaultTopic carries one position per message; the wildcard level is the ambulance ID.
const DefaultTopic = "/fleet/ambulance/+/position"

type positionRecorder interface {
	RecordPosition(ctx context.Context, ambulanceID uuid.UUID, coords geo.Coordinates, recordedAt time.Time) (*application.PositionDTO, error)
}

type positionMessage struct {
	AmbulanceID string  `json:"ambulance_id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timestamp   int64   `json:"timestamp"`
}

// PositionSubscriber stores positions received on the telemetry topic.
type PositionSubscriber struct {
	client   mqtt.Client
	topic    string
	recorder positionRecorder
	timeout  time.Duration
	logger   *zap.Logger
}

// NewPositionSubscriber creates a PositionSubscriber. An empty topic uses DefaultTopic.
func NewPositionSubscriber(client mqtt.Client, topic string, recorder positionRecorder, logger *zap.Logger) *PositionSubscriber {
	if topic == "" {
		topic = DefaultTopic
	}
	return &PositionSubscriber{
		client:   client,
		topic:    topic,
		recorder: recorder,
		timeout:  5 * time.Second,
		logger:   logger,
	}
}

// Connect dials the broker.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return client, nil
}

// Start subscribes with QoS 1.
func (s *PositionSubscriber) Start() error {
	token := s.client.Subscribe(s.topic, 1, s.handleMessage)
	token.Wait()
	return token.Error()
}

// Stop unsubscribes from the topic.
func (s *PositionSubscriber) Stop() {
	s.client.Unsubscribe(s.topic).WaitTimeout(2 * time.Second)
}

func (s *PositionSubscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var raw positionMessage
	if err := json.Unmarshal(msg.Payload(), &raw); err != nil {
		s.logger.Warn("invalid position message", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	if raw.AmbulanceID == "" {
		raw.AmbulanceID = ambulanceFromTopic(msg.Topic())
	}

	id, coords, at, err := validatePositionMessage(raw)
	if err != nil {
		s.logger.Warn("rejected position message", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.recorder.RecordPosition(ctx, id, coords, at); err != nil {
		s.logger.Error("failed to record position",
			zap.String("ambulance_id", id.String()),
			zap.Error(err),
		)
	}
}

// ambulanceFromTopic returns the segment after "ambulance" in the topic.
func ambulanceFromTopic(topic string) string {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "ambulance" {
			return parts[i+1]
		}
	}
	return ""
}

func validatePositionMessage(msg positionMessage) (uuid.UUID, geo.Coordinates, time.Time, error) {
	id, err := uuid.Parse(msg.AmbulanceID)
	if err != nil {
		return uuid.Nil, geo.Coordinates{}, time.Time{}, fmt.Errorf("ambulance_id: %w", err)
	}
	coords := geo.Coordinates{Lat: msg.Latitude, Lng: msg.Longitude}
	if err := coords.Validate(); err != nil {
		return uuid.Nil, geo.Coordinates{}, time.Time{}, err
	}
	if msg.Timestamp <= 0 {
		return uuid.Nil, geo.Coordinates{}, time.Time{}, fmt.Errorf("timestamp: must be positive")
	}
	return id, coords, time.Unix(msg.Timestamp, 0).UTC(), nil
}
