package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/frahmantamala/skillpay-gateway/internal/core/events"
)

// EventHandler writes the audit trail for transaction lifecycle events and
// keeps running totals of final outcomes.
type EventHandler struct {
	logger  *slog.Logger
	settled atomic.Int64
	failed  atomic.Int64
}

func NewEventHandler(logger *slog.Logger) *EventHandler {
	return &EventHandler{logger: logger}
}

func (h *EventHandler) HandleTransactionEvent(ctx context.Context, event events.Event) error {
	txnEvent, ok := event.(*events.TransactionEvent)
	if !ok {
		h.logger.Error("invalid event type for transaction handler", "event_type", event.EventType())
		return fmt.Errorf("expected TransactionEvent, got %T", event)
	}

	switch txnEvent.EventType() {
	case events.EventTypeTransactionSettled:
		h.settled.Add(1)
	case events.EventTypeTransactionFailed:
		h.failed.Add(1)
	}

	h.logger.Info("transaction audit",
		"event_type", txnEvent.EventType(),
		"event_id", txnEvent.EventID(),
		"cust_ref_num", txnEvent.CustRefNum,
		"agg_ref_no", txnEvent.AggRefNo,
		"amount", txnEvent.Amount,
		"previous_status", txnEvent.PreviousStatus,
		"pay_status", txnEvent.PayStatus,
		"resp_code", txnEvent.RespCode,
		"source", txnEvent.Source,
		"occurred_at", txnEvent.OccurredAt())

	return nil
}

// Totals returns how many settled and failed events have been seen.
func (h *EventHandler) Totals() (settled, failed int64) {
	return h.settled.Load(), h.failed.Load()
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	types := []string{
		events.EventTypeTransactionInitiated,
		events.EventTypeTransactionSettled,
		events.EventTypeTransactionFailed,
	}
	for _, t := range types {
		eventBus.Subscribe(t, h.HandleTransactionEvent)
	}

	h.logger.Info("transaction event handlers registered", "handlers", types)
}
