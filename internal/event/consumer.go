package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/sobhihamadi/TakwaFortress-sub000/pkg/kafka"
)

// AccountCache is the part of the cached account store the consumer drives.
type AccountCache interface {
	Invalidate(ctx context.Context, accountID string) error
}

// Consumer keeps this process's account cache coherent with writes made by
// other fortressd instances.
type Consumer struct {
	cache  AccountCache
	logger *slog.Logger
}

func NewConsumer(cache AccountCache, logger *slog.Logger) *Consumer {
	return &Consumer{cache: cache, logger: logger}
}

// HandleAccountUpdated drops the cached copy of the updated account.
func (c *Consumer) HandleAccountUpdated(ctx context.Context, evt *pkgkafka.Event) error {
	var data AccountUpdatedData
	if err := evt.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal account.updated data: %w", err)
	}
	if data.AccountID == "" {
		data.AccountID = evt.AggregateID
	}
	if data.AccountID == "" {
		c.logger.WarnContext(ctx, "account.updated without account id", slog.String("event_id", evt.EventID))
		return nil
	}

	if err := c.cache.Invalidate(ctx, data.AccountID); err != nil {
		return fmt.Errorf("invalidate account %s: %w", data.AccountID, err)
	}
	c.logger.DebugContext(ctx, "account cache invalidated from event",
		slog.String("account_id", data.AccountID),
		slog.String("event_id", evt.EventID),
	)
	return nil
}
