package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/0xsysr3ll/electledger/config"
	"github.com/0xsysr3ll/electledger/internal/model"
)

// EventHandler is invoked once per delivered cast-vote event. Returning an
// error leaves the event to be redelivered; delivery is at-least-once and the
// ledger's idempotency is what makes redelivery safe.
type EventHandler func(event *model.CastVoteEvent) error

// Consumer reads cast-vote events with one reader per partition when the
// partition layout can be discovered, falling back to a consumer group
// otherwise.
type Consumer struct {
	readers []*kafka.Reader
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	log     *logrus.Logger
}

func NewConsumer(cfg *config.KafkaConfig, log *logrus.Logger) (*Consumer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	var readers []*kafka.Reader
	partitions := discoverPartitions(ctx, cfg, log)

	if len(partitions) > 0 {
		workers := cfg.Workers
		if len(partitions) < workers {
			log.WithFields(logrus.Fields{
				"partitions": len(partitions),
				"workers":    workers,
			}).Info("fewer partitions than workers, reducing worker count")
			workers = len(partitions)
		}

		for i := 0; i < workers; i++ {
			partition := partitions[i%len(partitions)]
			reader := kafka.NewReader(kafka.ReaderConfig{
				Brokers:   cfg.Brokers,
				Topic:     cfg.Topic,
				Partition: partition,
				MinBytes:  10e3, // 10KB
				MaxBytes:  10e6, // 10MB
			})
			readers = append(readers, reader)
			log.WithFields(logrus.Fields{
				"worker":    i,
				"partition": partition,
			}).Debug("assigned consumer worker to partition")
		}
	}

	if len(readers) == 0 {
		log.Info("partition discovery unavailable, using consumer group mode")
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}))
	}

	return &Consumer{
		readers: readers,
		ctx:     ctx,
		cancel:  cancel,
		log:     log,
	}, nil
}

func discoverPartitions(ctx context.Context, cfg *config.KafkaConfig, log *logrus.Logger) []int {
	if len(cfg.Brokers) == 0 {
		return nil
	}

	conn, err := kafka.DialLeader(ctx, "tcp", cfg.Brokers[0], cfg.Topic, 0)
	if err != nil {
		log.WithError(err).Warn("failed to dial kafka leader for partition discovery")
		return nil
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		log.WithError(err).Warn("failed to read kafka partitions")
		return nil
	}

	var ids []int
	for _, p := range partitions {
		if p.Topic == cfg.Topic {
			ids = append(ids, p.ID)
		}
	}

	log.WithFields(logrus.Fields{
		"topic":      cfg.Topic,
		"partitions": len(ids),
	}).Info("discovered kafka partitions")

	return ids
}

// Start launches one goroutine per reader. Non-blocking.
func (c *Consumer) Start(handler EventHandler) {
	for i, reader := range c.readers {
		c.wg.Add(1)
		go func(workerID int, r *kafka.Reader) {
			defer c.wg.Done()
			c.consume(workerID, r, handler)
		}(i, reader)
	}

	c.log.WithField("workers", len(c.readers)).Info("cast-vote consumers started")
}

func (c *Consumer) consume(workerID int, reader *kafka.Reader, handler EventHandler) {
	log := c.log.WithField("worker", workerID)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			msg, err := reader.ReadMessage(c.ctx)
			if err != nil {
				if err == context.Canceled {
					return
				}
				log.WithError(err).Warn("failed to read message")
				time.Sleep(time.Second)
				continue
			}

			var event model.CastVoteEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				log.WithError(err).Warn("dropping malformed cast-vote event")
				continue
			}

			if err := handler(&event); err != nil {
				// Store outage: back off and keep going. The event will be
				// redelivered and the ledger tolerates the duplicate.
				log.WithError(err).WithField("event", event.EventID).Warn("handler failed, backing off")
				time.Sleep(time.Second)
			}
		}
	}
}

// Stop cancels the workers, waits for them and closes the readers.
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()

	for i, reader := range c.readers {
		if err := reader.Close(); err != nil {
			c.log.WithError(err).WithField("worker", i).Warn("failed to close reader")
		}
	}

	c.log.Info("cast-vote consumers stopped")
	return nil
}
