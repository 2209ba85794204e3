// Package events carries the Kafka side of the indexer: article-indexed
// notifications out, operator replay commands in.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"newsindex/logger"
	"newsindex/types"

	"github.com/IBM/sarama"
)

// IndexedEvent is published once per committed article.
type IndexedEvent struct {
	ArticleID   string    `json:"article_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	SourceName  string    `json:"source_name"`
	PublishedAt time.Time `json:"published_at"`
	IndexedAt   time.Time `json:"indexed_at"`
}

type PublisherConfig struct {
	Brokers []string
	Topic   string
}

// Publisher sends IndexedEvents keyed by article id, so every event for an
// article lands on the same Kafka partition.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
	log      *slog.Logger
}

func NewPublisher(cfg PublisherConfig, log *slog.Logger) (*Publisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewPublisherWithProducer(producer, cfg.Topic, log), nil
}

func NewPublisherWithProducer(producer sarama.SyncProducer, topic string, log *slog.Logger) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		now:      time.Now,
		log:      logger.OrDefault(log),
	}
}

func (p *Publisher) Name() string { return "kafka" }

// Deliver publishes one event per article.
func (p *Publisher) Deliver(ctx context.Context, articles []*types.Article) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(articles) == 0 {
		return nil
	}

	indexedAt := p.now().UTC()
	msgs := make([]*sarama.ProducerMessage, 0, len(articles))
	for _, a := range articles {
		value, err := json.Marshal(IndexedEvent{
			ArticleID:   a.ID,
			Title:       a.Title,
			URL:         a.URL,
			SourceName:  a.SourceName,
			PublishedAt: a.PublishedAt,
			IndexedAt:   indexedAt,
		})
		if err != nil {
			return fmt.Errorf("encode event for %s: %w", a.ID, err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(a.ID),
			Value: sarama.ByteEncoder(value),
		})
	}

	if err := p.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("publish %d events: %w", len(msgs), err)
	}
	p.log.Debug("indexed events published", "topic", p.topic, "count", len(msgs))
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
