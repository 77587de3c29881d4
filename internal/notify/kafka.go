package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes notifications as checkout events so downstream
// consumers (analytics, support tooling) see the same outcomes the shopper
// does. Publishing is best-effort; a broker outage never fails a checkout.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaSink{writer: writer}
}

func (k *KafkaSink) Success(ctx context.Context, userID, message string) {
	k.publish(ctx, newNotification(userID, LevelSuccess, message))
}

func (k *KafkaSink) Error(ctx context.Context, userID, message string) {
	k.publish(ctx, newNotification(userID, LevelError, message))
}

func (k *KafkaSink) publish(ctx context.Context, n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		log.Printf("[Notify] Failed to marshal notification: %v", err)
		return
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.UserID),
		Value: data,
		Time:  n.CreatedAt,
	})
	if err != nil {
		log.Printf("[Notify] Failed to publish notification for %s: %v", n.UserID, err)
	}
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
