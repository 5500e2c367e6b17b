package mq

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"fulfillment/internal/pkg/logger"
)

// HandlerFunc 处理一条消息。ctx 中已经恢复了生产者的追踪上下文
type HandlerFunc func(ctx context.Context, msg kafka.Message) error

// Consumer 循环拉取消息并交给 HandlerFunc，处理完成后手动提交 offset。
// 处理失败的消息只记录日志后跳过，不阻塞后续消息。
type Consumer struct {
	name       string
	reader     Reader
	handle     HandlerFunc
	retryDelay time.Duration
}

func NewConsumer(name string, reader Reader, handle HandlerFunc) *Consumer {
	return &Consumer{name: name, reader: reader, handle: handle, retryDelay: time.Second}
}

// Run 阻塞直到 ctx 结束。ctx 结束时关闭 reader 并返回 nil
func (c *Consumer) Run(ctx context.Context) error {
	log := logger.Ctx(ctx).With().Str("consumer", c.name).Logger()
	log.Info().Msg("✅ Kafka consumer started.")
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Warn().Err(err).Msg("Kafka reader close failed")
		}
		log.Info().Msg("🛑 Kafka consumer stopped.")
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("Could not fetch message, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
			continue
		}

		headers := KafkaHeaderCarrier(msg.Headers)
		msgCtx := otel.GetTextMapPropagator().Extract(ctx, &headers)
		if err := c.handle(msgCtx, msg); err != nil {
			logger.Ctx(msgCtx).Error().Err(err).Str("consumer", c.name).
				Int("partition", msg.Partition).Int64("offset", msg.Offset).Msg("Message handling failed, skipped")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to commit message")
		}
	}
}
