package events

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
)

var _ order.Publisher = LogPublisher{}

// LogPublisher writes events to the request logger. It is used when no
// broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, e order.Event) error {
	zctx.From(ctx).Info("Order event",
		zap.String("type", string(e.Type)),
		zap.String("order_id", e.Order.ID),
		zap.String("status", string(e.Order.Status)),
	)
	return nil
}
