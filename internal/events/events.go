// Package events publishes coordinator events to Kafka. A disabled producer
// accepts every publish and drops it.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const TopicPrefix = "bingo."

// Envelope is the message body on every topic.
type Envelope struct {
	ID         uuid.UUID `json:"eventId"`
	Type       string    `json:"eventType"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, eventType, key string, payload any) error
}

type Producer struct {
	writer  *kafka.Writer
	enabled bool
}

func NewProducer(brokers []string, enabled bool) *Producer {
	if !enabled || len(brokers) == 0 {
		log.Info().Msg("kafka producer disabled")
		return &Producer{}
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	log.Info().Strs("brokers", brokers).Msg("kafka producer initialized")
	return &Producer{writer: w, enabled: true}
}

func (p *Producer) Enabled() bool { return p != nil && p.enabled }

// Publish writes one envelope to TopicPrefix+eventType keyed by key.
func (p *Producer) Publish(ctx context.Context, eventType, key string, payload any) error {
	if !p.Enabled() {
		return nil
	}
	msg, err := Encode(eventType, key, payload)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: TopicPrefix + eventType,
		Key:   []byte(key),
		Value: msg,
	})
}

func Encode(eventType, key string, payload any) ([]byte, error) {
	return json.Marshal(Envelope{
		ID:         uuid.New(),
		Type:       eventType,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	})
}

func (p *Producer) Close() error {
	if p != nil && p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
