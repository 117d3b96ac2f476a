package feed

import (
	"context"
	"errors"
	"io"

	"github.com/segmentio/kafka-go"
	"github.com/yanun0323/logs"

	"l4book/pkg/exception"
)

// KafkaOption configures a Kafka source. Producers key messages by coin, so
// one partition carries the whole ordered stream of a coin.
type KafkaOption struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
}

// Kafka reads raw book messages from a topic and commits an offset only
// after the handler accepted the message.
type Kafka struct {
	opt    KafkaOption
	reader *kafka.Reader
}

// NewKafka builds a group reader. A group is required: a reader without one
// reads a single partition and would miss every coin keyed elsewhere.
func NewKafka(opt KafkaOption) (*Kafka, error) {
	if len(opt.Brokers) == 0 || opt.Topic == "" {
		return nil, errors.New("kafka feed: brokers and topic are required")
	}
	if opt.GroupID == "" {
		return nil, exception.ErrFeedNoGroup
	}
	if opt.MinBytes <= 0 {
		opt.MinBytes = 1
	}
	if opt.MaxBytes <= 0 {
		opt.MaxBytes = 10e6
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     opt.Brokers,
		Topic:       opt.Topic,
		GroupID:     opt.GroupID,
		MinBytes:    opt.MinBytes,
		MaxBytes:    opt.MaxBytes,
		StartOffset: kafka.LastOffset,
	})
	return &Kafka{opt: opt, reader: reader}, nil
}

// Run fetches messages until ctx ends or the reader is closed.
func (k *Kafka) Run(ctx context.Context, h Handler) error {
	if h == nil {
		return exception.ErrFeedNilHandler
	}
	logs.Infof("kafka feed: reading %s from %v, group: %q", k.opt.Topic, k.opt.Brokers, k.opt.GroupID)

	for {
		msg, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			logs.Errorf("kafka feed: fetch, err: %+v", err)
			if sleepCtx(ctx, defaultReconnectDelay) != nil {
				return nil
			}
			continue
		}

		if err := h(ctx, msg.Value); err != nil {
			if errors.Is(err, exception.ErrIngestClosed) || ctx.Err() != nil {
				return err
			}
			logs.Errorf("kafka feed: handle offset %d, err: %+v", msg.Offset, err)
		}

		if err := k.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logs.Errorf("kafka feed: commit offset %d, err: %+v", msg.Offset, err)
		}
	}
}

// Resync is not something a log can do on demand; the producer is expected
// to publish periodic snapshots. The request is only logged.
func (k *Kafka) Resync(coin string) error {
	logs.Warnf("kafka feed: %s waits for the next snapshot on %s", coin, k.opt.Topic)
	return nil
}

// Close closes the reader.
func (k *Kafka) Close() error {
	return k.reader.Close()
}
