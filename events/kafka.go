/*
Package events publishes committed audit records to Kafka.

PURPOSE:
  Downstream consumers (notification delivery, reporting) learn about case
  changes from the audit stream instead of polling the database. The
  sickness service calls Publish only after its transaction commits, so
  every message describes a durable change.

MESSAGE FORMAT:
  key:    organisation id ("" for platform-wide records such as seeding),
          so all records of one organisation land on one partition in order
  value:  JSON AuditMessage
  header: "action" = the audit action

SEE ALSO:
  - sickness/service.go: when records are handed to the publisher
  - generic/store.go: AuditRecord
*/
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/warp/absence-engine/generic"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AuditMessage is the JSON value of one published record.
type AuditMessage struct {
	ID             string         `json:"id"`
	ActorID        string         `json:"actor_id"`
	OrganisationID *string        `json:"organisation_id"`
	Action         string         `json:"action"`
	Entity         string         `json:"entity"`
	EntityID       string         `json:"entity_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	At             time.Time      `json:"at"`
}

// Publisher implements generic.AuditPublisher on a Kafka topic.
type Publisher struct {
	writer  MessageWriter
	log     *zap.Logger
	timeout time.Duration
}

type Option func(*Publisher)

func WithLogger(l *zap.Logger) Option { return func(p *Publisher) { p.log = l } }

// WithTimeout bounds each Publish call. Zero means the caller's context only.
func WithTimeout(d time.Duration) Option { return func(p *Publisher) { p.timeout = d } }

// NewKafkaPublisher writes to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, opts ...Option) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return NewPublisher(w, opts...)
}

// NewPublisher wraps an existing writer.
func NewPublisher(w MessageWriter, opts ...Option) *Publisher {
	p := &Publisher{writer: w, log: zap.NewNop(), timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish writes recs as one batch.
func (p *Publisher) Publish(ctx context.Context, recs []generic.AuditRecord) error {
	if len(recs) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(recs))
	for _, rec := range recs {
		msg, err := encode(rec)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish %d audit records: %w", len(msgs), err)
	}
	p.log.Debug("audit records published",
		zap.Int("count", len(msgs)),
		zap.Strings("actions", lo.Map(recs, func(r generic.AuditRecord, _ int) string { return string(r.Action) })))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func encode(rec generic.AuditRecord) (kafka.Message, error) {
	var org *string
	key := ""
	if rec.OrganisationID != nil {
		key = string(*rec.OrganisationID)
		org = &key
	}
	value, err := json.Marshal(AuditMessage{
		ID:             rec.ID,
		ActorID:        string(rec.ActorID),
		OrganisationID: org,
		Action:         string(rec.Action),
		Entity:         rec.Entity,
		EntityID:       rec.EntityID,
		Metadata:       rec.Metadata,
		At:             rec.At.UTC(),
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode audit record %s: %w", rec.ID, err)
	}
	return kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: "action", Value: []byte(rec.Action)}},
		Time:    rec.At,
	}, nil
}

var _ generic.AuditPublisher = (*Publisher)(nil)
