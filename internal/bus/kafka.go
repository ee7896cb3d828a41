// Package bus provides an illustrative message-bus adapter a host can use
// to satisfy internal/engine.ChangePublisher against a real Kafka broker.
// Nothing in the engine imports or calls this package — it exists only to
// show how the named external collaborator contract is wired in practice.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/MeKo-Tech/osm-engine/internal/osm"
)

// changeMessage is the wire shape published for each change record.
type changeMessage struct {
	Type      osm.ChangeType    `json:"type"`
	SubjectID string            `json:"subject_id"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// KafkaPublisher publishes change records to a single Kafka topic,
// satisfying engine.ChangePublisher.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher dials brokers and returns a publisher for topic. The
// caller must call Close when done.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.V3_6_0_0

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("bus: creating kafka producer: %w", err)
	}
	return &KafkaPublisher{producer: producer, topic: topic}, nil
}

// Publish sends change as a JSON message keyed by the subject object's
// canonical id, so compacted topics retain only the latest change per object.
func (p *KafkaPublisher) Publish(change osm.ObjectChange) error {
	key, body, err := encodeChange(change, time.Now())
	if err != nil {
		return err
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(body),
	})
	if err != nil {
		return fmt.Errorf("bus: publishing change for %s: %w", key, err)
	}
	return nil
}

// encodeChange renders change as the JSON wire message and its partition
// key, split out from Publish so the encoding is testable without a broker.
func encodeChange(change osm.ObjectChange, now time.Time) (key string, body []byte, err error) {
	subject := change.Subject()
	if subject == nil {
		return "", nil, fmt.Errorf("bus: change has neither Old nor New")
	}

	msg := changeMessage{
		Type:      change.Type,
		SubjectID: subject.CanonicalID(),
		Tags:      subject.Tags,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
	body, err = json.Marshal(msg)
	if err != nil {
		return "", nil, fmt.Errorf("bus: encoding change: %w", err)
	}
	return subject.CanonicalID(), body, nil
}

// Close releases the underlying Kafka producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
