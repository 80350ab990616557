package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/0xsysr3ll/electledger/config"
	"github.com/0xsysr3ll/electledger/internal/model"
)

// Producer publishes cast-vote events for the gateway side of the system.
// Messages are keyed by voter id with a hash balancer, so every event for one
// voter lands in the same partition and duplicates of the same reaction are
// observed in order by a single consumer worker.
type Producer struct {
	writer *kafka.Writer
	ctx    context.Context
}

func NewProducer(cfg *config.KafkaConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}

	return &Producer{
		writer: writer,
		ctx:    context.Background(),
	}, nil
}

// PublishCastVote sends one cast-vote event. An event id is assigned when the
// caller did not provide one; it correlates gateway and consumer logs across
// redeliveries.
func (p *Producer) PublishCastVote(event *model.CastVoteEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.CastAt.IsZero() {
		event.CastAt = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode cast-vote event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(event.VoterID, 10)),
		Value: data,
		Time:  event.CastAt,
	}

	if err := p.writer.WriteMessages(p.ctx, msg); err != nil {
		return fmt.Errorf("publish cast-vote event: %w", err)
	}

	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
