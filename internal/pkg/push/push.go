package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Job is one delivery request for a single device token
type Job struct {
	RecipientID string            `json:"recipientId"`
	Token       string            `json:"token"`
	Platform    string            `json:"platform,omitempty"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Notification is what the dispatcher hands to the gateway
type Notification struct {
	RecipientID string
	Title       string
	Body        string
	Data        map[string]string
}

// Endpoint is a registered device
type Endpoint struct {
	Token    string
	Platform string
}

// messageWriter is the subset of *kafka.Writer used here
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Gateway publishes push jobs to the outbound push topic. A separate
// delivery worker consumes the topic and talks to APNs/FCM.
type Gateway struct {
	w   messageWriter
	now func() time.Time
}

// NewGateway creates a gateway writing to topic on brokers
func NewGateway(brokers []string, topic string) *Gateway {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &Gateway{w: w, now: time.Now}
}

// Send publishes one job per endpoint, keyed by recipient so that all jobs
// for a user land on the same partition.
func (g *Gateway) Send(ctx context.Context, n Notification, endpoints []Endpoint) error {
	if len(endpoints) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(endpoints))
	now := g.now()
	for _, ep := range endpoints {
		value, err := json.Marshal(Job{
			RecipientID: n.RecipientID,
			Token:       ep.Token,
			Platform:    ep.Platform,
			Title:       n.Title,
			Body:        n.Body,
			Data:        n.Data,
			CreatedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("push: encode job: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(n.RecipientID),
			Value: value,
			Time:  now,
		})
	}

	if err := g.w.WriteMessages(ctx, msgs...); err != nil {
		var writeErrs kafka.WriteErrors
		if errors.As(err, &writeErrs) {
			return fmt.Errorf("push: %d of %d jobs failed: %w", writeErrs.Count(), len(msgs), err)
		}
		return fmt.Errorf("push: publish: %w", err)
	}
	return nil
}

// Close flushes pending writes
func (g *Gateway) Close() error { return g.w.Close() }
