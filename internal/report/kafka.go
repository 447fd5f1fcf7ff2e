package report

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/l2vpn/internal/core"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// KafkaConfig is decoded from events.options.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	Compression  string        `mapstructure:"compression"` // none|gzip|snappy|lz4
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// KafkaReporter publishes events as JSON messages keyed by MAC.
type KafkaReporter struct {
	writer *kafka.Writer
	config KafkaConfig

	reportedCount atomic.Uint64
	errorCount    atomic.Uint64
}

// ParseKafkaConfig decodes and validates reporter options.
func ParseKafkaConfig(options map[string]any) (KafkaConfig, error) {
	cfg := KafkaConfig{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Compression:  defaultCompression,
		MaxAttempts:  defaultMaxAttempts,
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, err
	}
	if err := decoder.Decode(options); err != nil {
		return cfg, fmt.Errorf("%w: kafka options: %v", core.ErrConfigInvalid, err)
	}

	if len(cfg.Brokers) == 0 {
		return cfg, fmt.Errorf("%w: kafka reporter requires brokers", core.ErrConfigInvalid)
	}
	if cfg.Topic == "" {
		return cfg, fmt.Errorf("%w: kafka reporter requires topic", core.ErrConfigInvalid)
	}
	return cfg, nil
}

// NewKafkaReporter creates the writer. No connection is made until the first event.
func NewKafkaReporter(options map[string]any) (*KafkaReporter, error) {
	cfg, err := ParseKafkaConfig(options)
	if err != nil {
		return nil, err
	}

	writerConfig := kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
	}

	switch cfg.Compression {
	case "none", "":
		writerConfig.CompressionCodec = nil
	case "gzip":
		writerConfig.CompressionCodec = compress.Gzip.Codec()
	case "snappy":
		writerConfig.CompressionCodec = compress.Snappy.Codec()
	case "lz4":
		writerConfig.CompressionCodec = compress.Lz4.Codec()
	default:
		return nil, fmt.Errorf("%w: invalid compression type: %s", core.ErrConfigInvalid, cfg.Compression)
	}

	slog.Info("kafka event reporter configured",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"compression", cfg.Compression,
	)

	return &KafkaReporter{
		writer: kafka.NewWriter(writerConfig),
		config: cfg,
	}, nil
}

func (r *KafkaReporter) Name() string { return "kafka" }

// Report writes one event synchronously.
func (r *KafkaReporter) Report(ctx context.Context, ev Event) error {
	value, err := ev.Marshal()
	if err != nil {
		r.errorCount.Add(1)
		return fmt.Errorf("serialize event failed: %w", err)
	}

	msg := kafka.Message{
		Key:   ev.Key(),
		Value: value,
		Time:  ev.Time,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}

	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		r.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}

	r.reportedCount.Add(1)
	return nil
}

// Close flushes pending messages.
func (r *KafkaReporter) Close() error {
	err := r.writer.Close()
	slog.Info("kafka event reporter stopped",
		"total_reported", r.reportedCount.Load(),
		"total_errors", r.errorCount.Load(),
	)
	return err
}
