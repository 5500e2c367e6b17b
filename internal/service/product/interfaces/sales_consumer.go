package interfaces

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	shared "fulfillment/domain"
	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/pkg/mq"
	"fulfillment/internal/service/product/application"
	"fulfillment/internal/service/product/domain"
)

// NewSalesHandler 消费 OrderCompleted 事件并累加销量排行。
// 事件至少投递一次，重复投递会被重复计数，排行只作展示用途。
func NewSalesHandler(service *application.ProductService) mq.HandlerFunc {
	return func(ctx context.Context, msg kafka.Message) error {
		var event shared.OrderCompleted
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return errors.Wrap(err, "decode OrderCompleted")
		}
		lines := make([]domain.StockLine, 0, len(event.Items))
		for _, it := range event.Items {
			lines = append(lines, domain.StockLine{ProductID: it.ProductID, Quantity: it.Quantity})
		}
		if err := service.RecordSales(ctx, lines); err != nil {
			return errors.Wrapf(err, "record sales for order %d", event.OrderID)
		}
		logger.Ctx(ctx).Debug().Int64("order_id", event.OrderID).Int("lines", len(lines)).Msg("Sales ranking updated")
		return nil
	}
}
