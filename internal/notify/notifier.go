// Package notify is the outbound notification boundary. Delivery itself
// (email, webhooks) lives outside this core; the default implementation
// only logs the event.
package notify

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type QuoteDecisionEvent struct {
	OrgID    snowflake.ID
	QuoteID  snowflake.ID
	Accepted bool
	Actor    string
}

type PaymentRefundedEvent struct {
	OrgID     snowflake.ID
	PaymentID snowflake.ID
	Amount    int64
	Currency  string
}

type Notifier interface {
	QuoteDecided(ctx context.Context, event QuoteDecisionEvent)
	PaymentRefunded(ctx context.Context, event PaymentRefundedEvent)
}

type logNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) Notifier {
	return &logNotifier{log: log.Named("notify")}
}

func (n *logNotifier) QuoteDecided(ctx context.Context, event QuoteDecisionEvent) {
	_ = ctx
	n.log.Info("quote decided",
		zap.String("org_id", event.OrgID.String()),
		zap.String("quote_id", event.QuoteID.String()),
		zap.Bool("accepted", event.Accepted),
		zap.String("actor", event.Actor),
	)
}

func (n *logNotifier) PaymentRefunded(ctx context.Context, event PaymentRefundedEvent) {
	_ = ctx
	n.log.Info("payment refunded",
		zap.String("org_id", event.OrgID.String()),
		zap.String("payment_id", event.PaymentID.String()),
		zap.Int64("amount", event.Amount),
		zap.String("currency", event.Currency),
	)
}

var Module = fx.Module("notify",
	fx.Provide(NewLogNotifier),
)
