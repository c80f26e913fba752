package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/airnet-dev/airquality-pipeline/internal/aq"
)

// Reading is the message published for one deployment's most recent
// non-null value after a synoptic refresh.
type Reading struct {
	Source             string    `json:"source"`
	DeviceDeploymentID string    `json:"deviceDeploymentID"`
	Pollutant          string    `json:"pollutant"`
	Units              string    `json:"units"`
	Longitude          float64   `json:"longitude"`
	Latitude           float64   `json:"latitude"`
	Time               time.Time `json:"time"`
	Value              float64   `json:"value"`
}

// Producer publishes monitor updates to Kafka for downstream consumers.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a producer. Messages are partitioned by
// deviceDeploymentID so one deployment's readings stay ordered.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

// PublishReadings sends the latest non-null value of every deployment in the
// monitor. Deployments with no values at all are skipped.
func (p *Producer) PublishReadings(ctx context.Context, source string, m aq.Monitor) error {
	var messages []kafka.Message
	for col, rec := range m.Meta {
		reading, ok := latestReading(m, col)
		if !ok {
			continue
		}

		reading.Source = source
		reading.DeviceDeploymentID = rec.DeviceDeploymentID
		reading.Pollutant = rec.Pollutant
		reading.Units = rec.Units
		reading.Longitude = rec.Longitude
		reading.Latitude = rec.Latitude

		value, err := json.Marshal(reading)
		if err != nil {
			return fmt.Errorf("marshal reading for %s: %w", rec.DeviceDeploymentID, err)
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(rec.DeviceDeploymentID),
			Value: value,
		})
	}

	if len(messages) == 0 {
		return nil
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("failed to write readings batch: %w", err)
	}
	return nil
}

// Close closes the producer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func latestReading(m aq.Monitor, col int) (Reading, bool) {
	for r := len(m.Data.Values) - 1; r >= 0; r-- {
		row := m.Data.Values[r]
		if col < len(row) && row[col] != nil {
			return Reading{Time: m.Data.Times[r], Value: *row[col]}, true
		}
	}
	return Reading{}, false
}
