package transaction_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/frahmantamala/skillpay-gateway/internal"
	"github.com/frahmantamala/skillpay-gateway/internal/paymentgateway"
	"github.com/frahmantamala/skillpay-gateway/internal/transaction"
	"github.com/frahmantamala/skillpay-gateway/internal/transaction/memory"
)

type scriptedChecker struct {
	mu      sync.Mutex
	results []*transaction.StatusResult
	err     error
	calls   int
}

func (c *scriptedChecker) CheckStatus(ctx context.Context, custRefNum string) (*transaction.StatusResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	idx := c.calls - 1
	if idx >= len(c.results) {
		idx = len(c.results) - 1
	}
	return c.results[idx], nil
}

func (c *scriptedChecker) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func statusResult(status transaction.PayStatus) *transaction.StatusResult {
	return &transaction.StatusResult{
		Transaction: &transaction.Transaction{CustRefNum: "ref-1", PayStatus: status},
		Source:      transaction.StatusSourceGateway,
	}
}

type recordingQueue struct {
	mu       sync.Mutex
	accepted []string
	capacity int
}

func (q *recordingQueue) Enqueue(job paymentgateway.StatusJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity > 0 && len(q.accepted) >= q.capacity {
		return paymentgateway.ErrQueueFull
	}
	q.accepted = append(q.accepted, job.CustRefNum)
	return nil
}

// backloggedQueue accepts everything and reports a fixed backlog.
type backloggedQueue struct {
	recordingQueue
	backlog int
}

func (q *backloggedQueue) QueueLength() int { return q.backlog }

var _ = Describe("Poller", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("stops at the first terminal status", func() {
		checker := &scriptedChecker{results: []*transaction.StatusResult{
			statusResult(transaction.StatusGatewayPending),
			statusResult(transaction.StatusGatewayPending),
			statusResult(transaction.StatusSuccess),
		}}
		poller := transaction.NewPoller(checker, time.Millisecond, time.Second, quietLogger())

		result, err := poller.Poll(ctx, "ref-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Transaction.PayStatus).To(Equal(transaction.StatusSuccess))
		Expect(result.Warning).To(BeEmpty())
		Expect(checker.count()).To(Equal(3))
	})

	It("returns the last result with a warning when the timeout elapses", func() {
		checker := &scriptedChecker{results: []*transaction.StatusResult{
			statusResult(transaction.StatusGatewayPending),
		}}
		poller := transaction.NewPoller(checker, 5*time.Millisecond, 40*time.Millisecond, quietLogger())

		result, err := poller.Poll(ctx, "ref-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Transaction.PayStatus).To(Equal(transaction.StatusGatewayPending))
		Expect(result.Warning).To(Equal(transaction.StatusWarningPollTimeout))
		Expect(checker.count()).To(BeNumerically(">", 1))
	})

	It("keeps a gateway warning from the last check", func() {
		pending := statusResult(transaction.StatusGatewayPending)
		pending.Warning = transaction.StatusWarningGatewayUnavailable
		checker := &scriptedChecker{results: []*transaction.StatusResult{pending}}
		poller := transaction.NewPoller(checker, 5*time.Millisecond, 20*time.Millisecond, quietLogger())

		result, err := poller.Poll(ctx, "ref-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Warning).To(Equal(transaction.StatusWarningGatewayUnavailable))
	})

	It("gives up immediately on unknown references", func() {
		checker := &scriptedChecker{err: apperrors.ErrTransactionNotFound}
		poller := transaction.NewPoller(checker, time.Millisecond, time.Second, quietLogger())

		_, err := poller.Poll(ctx, "ghost")
		Expect(apperrors.IsNotFound(err)).To(BeTrue())
		Expect(checker.count()).To(Equal(1))
	})
})

var _ = Describe("Reconciler", func() {
	var (
		ctx     context.Context
		tracker *transaction.Tracker
	)

	BeforeEach(func() {
		ctx = context.Background()
		tracker = transaction.NewTracker(memory.NewTransactionRepository(), nil, quietLogger()).
			WithClock(stepClock(time.Date(2025, 1, 12, 10, 0, 0, 0, time.Local)))

		for _, ref := range []string{"ref-1", "ref-2", "ref-3"} {
			_, err := tracker.Upsert(ctx, ref, transaction.Fields{PayStatus: ptr(transaction.StatusGatewayPending)})
			Expect(err).NotTo(HaveOccurred())
		}
		_, err := tracker.Upsert(ctx, "ref-done", transaction.Fields{PayStatus: ptr(transaction.StatusSuccess)})
		Expect(err).NotTo(HaveOccurred())
	})

	It("enqueues only pending transactions, newest first", func() {
		queue := &recordingQueue{}
		reconciler := transaction.NewReconciler(tracker, queue, 10, quietLogger())

		enqueued, err := reconciler.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(enqueued).To(Equal(3))
		Expect(queue.accepted).To(Equal([]string{"ref-3", "ref-2", "ref-1"}))
	})

	It("stops when the queue is full", func() {
		queue := &recordingQueue{capacity: 2}
		reconciler := transaction.NewReconciler(tracker, queue, 10, quietLogger())

		enqueued, err := reconciler.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(enqueued).To(Equal(2))
	})

	It("logs the queue backlog when the queue reports one", func() {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		reconciler := transaction.NewReconciler(tracker, &backloggedQueue{backlog: 7}, 10, logger)

		_, err := reconciler.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(buf.String()).To(ContainSubstring(`"queue_length":7`))
	})

	It("respects the batch size", func() {
		queue := &recordingQueue{}
		reconciler := transaction.NewReconciler(tracker, queue, 1, quietLogger())

		enqueued, err := reconciler.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(enqueued).To(Equal(1))
		Expect(queue.accepted).To(Equal([]string{"ref-3"}))
	})

	It("sweeps until the context is cancelled", func() {
		queue := &recordingQueue{}
		reconciler := transaction.NewReconciler(tracker, queue, 10, quietLogger())

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- reconciler.Run(runCtx, time.Hour) }()

		Eventually(func() int {
			queue.mu.Lock()
			defer queue.mu.Unlock()
			return len(queue.accepted)
		}).Should(Equal(3))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})
})
