package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/smartline-dispatch/internal/models"
)

// KafkaProducer publishes location samples and trip status events to the
// change-feed. It is the secondary delivery path; direct WebSocket
// notification stays primary.
type KafkaProducer struct {
	locations *kafka.Writer
	trips     *kafka.Writer
}

func NewKafkaProducer(brokers []string, locationTopic, tripTopic string) *KafkaProducer {
	return &KafkaProducer{
		locations: kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: locationTopic, Balancer: &kafka.LeastBytes{}}),
		trips:     kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: tripTopic, Balancer: &kafka.LeastBytes{}}),
	}
}

func (k *KafkaProducer) PublishLocation(ctx context.Context, pos models.DriverPosition) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(pos)
	return k.locations.WriteMessages(ctx, kafka.Message{Key: []byte(pos.DriverID), Value: b})
}

// TripEvent is the change-feed record for a trip status transition.
// Consumers must treat the same trip id + status pair as idempotent.
type TripEvent struct {
	TripID   string            `json:"trip_id"`
	Status   models.TripStatus `json:"status"`
	DriverID string            `json:"driver_id,omitempty"`
	At       time.Time         `json:"at"`
}

func (k *KafkaProducer) PublishTripEvent(ctx context.Context, tripID string, status models.TripStatus, driverID string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(TripEvent{TripID: tripID, Status: status, DriverID: driverID, At: time.Now().UTC()})
	return k.trips.WriteMessages(ctx, kafka.Message{Key: []byte(tripID), Value: b})
}

func (k *KafkaProducer) Close() error {
	var err error
	if k.locations != nil {
		err = k.locations.Close()
	}
	if k.trips != nil {
		if cerr := k.trips.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
