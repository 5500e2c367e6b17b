package infrastructure

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	shared "fulfillment/domain"
	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/pkg/mq"
)

// KafkaEventPublisher 把订单事件写入 Kafka，以用户 ID 作为分区 key
type KafkaEventPublisher struct {
	writer mq.Writer
}

func NewKafkaEventPublisher(writer mq.Writer) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: writer}
}

func (p *KafkaEventPublisher) PublishOrderCompleted(ctx context.Context, event *shared.OrderCompleted) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal OrderCompleted")
	}
	if err := mq.ProduceMessage(ctx, p.writer, []byte(strconv.FormatInt(event.UserID, 10)), eventBytes); err != nil {
		return errors.Wrapf(err, "produce OrderCompleted for order %d", event.OrderID)
	}
	return nil
}

// LogEventPublisher 在没有配置 Kafka 时使用，只记录日志
type LogEventPublisher struct{}

func (LogEventPublisher) PublishOrderCompleted(ctx context.Context, event *shared.OrderCompleted) error {
	logger.Ctx(ctx).Info().Str("event_id", event.EventID).Int64("order_id", event.OrderID).Msg("OrderCompleted (kafka disabled)")
	return nil
}
