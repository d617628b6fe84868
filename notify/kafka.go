package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/phillip/case-funding-ledger/models"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Event is the JSON document published for every notification.
type Event struct {
	Type              string               `json:"type"`
	ContributionID    string               `json:"contribution_id"`
	CaseID            string               `json:"case_id"`
	CaseTitle         string               `json:"case_title,omitempty"`
	DonorID           string               `json:"donor_id,omitempty"`
	Amount            string               `json:"amount"`
	Status            models.ApprovalState `json:"status"`
	RejectionReason   string               `json:"rejection_reason,omitempty"`
	ResubmissionCount int                  `json:"resubmission_count"`
	Recipients        []string             `json:"recipients,omitempty"`
	At                time.Time            `json:"at"`
}

// Kafka publishes ledger events keyed by contribution id so that events of
// one contribution stay ordered within a partition.
type Kafka struct {
	writer kafkaWriter
	now    func() time.Time
}

func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		trimmed := strings.TrimSpace(b)
		if trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Kafka{writer: w, now: time.Now}, nil
}

func (k *Kafka) NotifyApproval(ctx context.Context, n Notice) error {
	return k.publish(ctx, KindApproval, n, nil)
}

func (k *Kafka) NotifyRejection(ctx context.Context, n Notice) error {
	return k.publish(ctx, KindRejection, n, nil)
}

func (k *Kafka) NotifyResubmission(ctx context.Context, admins []models.User, n Notice) error {
	ids := make([]primitive.ObjectID, 0, len(admins))
	for _, u := range admins {
		ids = append(ids, u.ID)
	}
	return k.publish(ctx, KindResubmission, n, ids)
}

func (k *Kafka) publish(ctx context.Context, kind string, n Notice, recipients []primitive.ObjectID) error {
	if k == nil || k.writer == nil {
		return fmt.Errorf("kafka dispatcher not initialized")
	}
	c, a := n.Contribution, n.Approval

	ev := Event{
		Type:              kind,
		ContributionID:    c.ID.Hex(),
		CaseID:            c.CaseID.Hex(),
		CaseTitle:         n.CaseTitle,
		Amount:            c.Amount.String(),
		Status:            a.Status,
		RejectionReason:   a.RejectionReason,
		ResubmissionCount: a.ResubmissionCount,
		At:                k.now().UTC(),
	}
	if c.DonorID != nil {
		ev.DonorID = c.DonorID.Hex()
	}
	for _, id := range recipients {
		ev.Recipients = append(ev.Recipients, id.Hex())
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", kind, err)
	}
	msg := kafka.Message{Key: []byte(ev.ContributionID), Value: value}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", kind, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
