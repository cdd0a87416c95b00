package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"pass-commerce/internal/config"
	"pass-commerce/internal/models"
)

// Producer streams order lifecycle events, one writer per topic so
// downstream consumers can subscribe to just the transitions they care
// about.
type Producer struct {
	created   *kafka.Writer
	paid      *kafka.Writer
	cancelled *kafka.Writer
	redeemed  *kafka.Writer
}

func NewProducer(brokers []string, topics config.TopicConfig) *Producer {
	newWriter := func(topic string) *kafka.Writer {
		return kafka.NewWriter(kafka.WriterConfig{
			Brokers: brokers,
			Topic:   topic,
		})
	}
	return &Producer{
		created:   newWriter(topics.OrderCreated),
		paid:      newWriter(topics.OrderPaid),
		cancelled: newWriter(topics.OrderCancelled),
		redeemed:  newWriter(topics.OrderRedeemed),
	}
}

func (p *Producer) publish(w *kafka.Writer, key string, payload interface{}) error {
	msgBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return w.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(key),
		Value: msgBytes,
	})
}

// PublishOrderCreated streams the full order with its lines so
// consumers never need a follow-up lookup.
func (p *Producer) PublishOrderCreated(order models.OrderWithLines) error {
	return p.publish(p.created, order.Order.ID, order)
}

func (p *Producer) PublishOrderPaid(order models.Order) error {
	return p.publish(p.paid, order.ID, order)
}

func (p *Producer) PublishOrderCancelled(order models.Order) error {
	return p.publish(p.cancelled, order.ID, order)
}

func (p *Producer) PublishOrderRedeemed(order models.Order) error {
	return p.publish(p.redeemed, order.ID, order)
}

func (p *Producer) Close() error {
	var firstErr error
	for _, w := range []*kafka.Writer{p.created, p.paid, p.cancelled, p.redeemed} {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EnsureTopicsExist creates the lifecycle topics if the broker doesn't
// have them yet. Best effort: individual failures are skipped so a
// partially provisioned broker doesn't block startup.
func EnsureTopicsExist(brokers []string, topics config.TopicConfig) error {
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.Dial("tcp", controller.Host)
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	for _, topic := range []string{topics.OrderCreated, topics.OrderPaid, topics.OrderCancelled, topics.OrderRedeemed} {
		err := controllerConn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
		if err != nil && err.Error() != "kafka server: topic already exists" {
			continue
		}
	}
	return nil
}
