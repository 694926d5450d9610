package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"go.uber.org/zap"
)

// KafkaPublisher sends events to a topic keyed by group id, so every event of
// one group lands on the same partition in order.
type KafkaPublisher struct {
	producer sarama.AsyncProducer
	topic    string
	log      *zap.Logger
	wg       sync.WaitGroup
}

func NewKafkaProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Flush.Frequency = 500 * time.Millisecond
	cfg.Producer.Flush.MaxMessages = 10
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = true
	cfg.Version = sarama.V2_5_0_0
	return cfg
}

func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	producer, err := sarama.NewAsyncProducer(brokers, NewKafkaProducerConfig())
	if err != nil {
		return nil, err
	}
	return NewKafkaPublisherWithProducer(producer, topic, log), nil
}

func NewKafkaPublisherWithProducer(producer sarama.AsyncProducer, topic string, log *zap.Logger) *KafkaPublisher {
	p := &KafkaPublisher{
		producer: producer,
		topic:    topic,
		log:      log.Named("procurement.events.kafka"),
	}
	p.wg.Add(1)
	go p.drainErrors()
	return p
}

func (p *KafkaPublisher) drainErrors() {
	defer p.wg.Done()
	for err := range p.producer.Errors() {
		p.log.Warn("kafka delivery failed", zap.String("topic", p.topic), zap.Error(err.Err))
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(event.GroupID.String()),
		Value:     sarama.ByteEncoder(payload),
		Timestamp: event.OccurredAt,
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}
	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *KafkaPublisher) Close() error {
	p.producer.AsyncClose()
	p.wg.Wait()
	return nil
}
