package events

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event types
const (
	DepositPending  = "deposit.pending"
	DepositCredited = "deposit.credited"
	SweepSubmitted  = "sweep.submitted"
	SweepSkipped    = "sweep.skipped"
	SweepFailed     = "sweep.failed"
	WalletAssigned  = "wallet.assigned"
)

type Event struct {
	ID          string    `json:"id"`
	EventType   string    `json:"event_type"`
	UserID      string    `json:"user_id,omitempty"`
	TxID        string    `json:"tx_id,omitempty"`
	ChainID     string    `json:"chain_id,omitempty"`
	Address     string    `json:"address,omitempty"`
	Asset       string    `json:"asset,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	AmountLocal string    `json:"amount_local,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	TxHash      string    `json:"tx_hash,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher emits domain events. Publishing is best effort: callers log
// failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, evt *Event) error
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaPublisher struct {
	writer MessageWriter
	logger *zap.Logger
}

func NewKafkaPublisher(writer MessageWriter, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, logger: logger}
}

// NewKafkaWriter builds the async writer used for deposit events.
func NewKafkaWriter(brokers []string, topic string, logger *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // same key, same partition
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Compression:  kafka.Snappy,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt *Event) error {
	if evt.ID == "" {
		evt.ID = ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Keyed by user so a user's events stay ordered
	key := evt.UserID
	if key == "" {
		key = evt.Address
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  evt.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", evt.EventType, err)
	}
	return nil
}

// NopPublisher drops events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *Event) error { return nil }
