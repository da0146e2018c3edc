package transaction_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/skillpay-gateway/internal/core/events"
	"github.com/frahmantamala/skillpay-gateway/internal/transaction"
)

type otherEvent struct {
	events.BaseEvent
}

var _ = Describe("EventHandler", func() {
	var (
		ctx     context.Context
		handler *transaction.EventHandler
		bus     *events.EventBus
	)

	BeforeEach(func() {
		ctx = context.Background()
		handler = transaction.NewEventHandler(quietLogger())
		bus = events.NewEventBus(quietLogger())
		handler.RegisterEventHandlers(bus)
	})

	It("counts final outcomes", func() {
		Expect(bus.PublishSync(ctx, events.NewTransactionInitiatedEvent("ref-1", "AGG1", "100.00", "PPPP"))).To(Succeed())
		Expect(bus.PublishSync(ctx, events.NewTransactionSettledEvent("ref-1", "AGG1", "100.00", "PPPP", "00", "Success", "callback"))).To(Succeed())
		Expect(bus.PublishSync(ctx, events.NewTransactionFailedEvent("ref-2", "AGG2", "50.00", "PPPP", "U30", "Declined", "status_enquiry"))).To(Succeed())
		Expect(bus.PublishSync(ctx, events.NewTransactionFailedEvent("ref-3", "AGG3", "50.00", "PPPP", "U30", "Declined", "callback"))).To(Succeed())

		settled, failed := handler.Totals()
		Expect(settled).To(BeEquivalentTo(1))
		Expect(failed).To(BeEquivalentTo(2))
	})

	It("rejects events of another kind", func() {
		err := handler.HandleTransactionEvent(ctx, otherEvent{events.BaseEvent{Type: events.EventTypeTransactionSettled}})
		Expect(err).To(HaveOccurred())

		settled, _ := handler.Totals()
		Expect(settled).To(BeZero())
	})
})
