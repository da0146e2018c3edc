package transaction

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	errors "github.com/frahmantamala/skillpay-gateway/internal"
	"github.com/frahmantamala/skillpay-gateway/internal/paymentgateway"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollTimeout  = 2 * time.Minute
)

var errStillPending = stderrors.New("transaction still pending")

type StatusChecker interface {
	CheckStatus(ctx context.Context, custRefNum string) (*StatusResult, error)
}

// Poller repeats status checks on a fixed interval until the transaction is
// terminal or the overall timeout elapses.
type Poller struct {
	checker  StatusChecker
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func NewPoller(checker StatusChecker, interval, timeout time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return &Poller{
		checker:  checker,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Poll returns the first terminal result. When the timeout elapses first it
// returns the last result it saw, with a warning and no error. Unknown
// references and invalid input fail immediately.
func (p *Poller) Poll(ctx context.Context, custRefNum string) (*StatusResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var last *StatusResult
	attempts := 0

	operation := func() error {
		attempts++
		result, err := p.checker.CheckStatus(ctx, custRefNum)
		if err != nil {
			if errors.IsNotFound(err) || errors.IsValidationError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		last = result
		if result.Transaction.IsTerminal() {
			return nil
		}
		return errStillPending
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(p.interval), ctx)
	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		p.logger.Debug("status poll pending",
			"cust_ref_num", custRefNum,
			"attempt", attempts,
			"next_in", wait,
			"reason", err)
	})

	if err == nil {
		p.logger.Info("status poll finished", "cust_ref_num", custRefNum, "attempts", attempts,
			"pay_status", last.Transaction.PayStatus)
		return last, nil
	}
	if last != nil && !errors.IsNotFound(err) && !errors.IsValidationError(err) {
		p.logger.Info("status poll timed out", "cust_ref_num", custRefNum, "attempts", attempts,
			"pay_status", last.Transaction.PayStatus)
		result := *last
		if result.Warning == "" {
			result.Warning = StatusWarningPollTimeout
		}
		return &result, nil
	}
	return nil, err
}

type Enqueuer interface {
	Enqueue(job paymentgateway.StatusJob) error
}

// backlogReporter is implemented by queues that can say how many jobs are
// still waiting, such as paymentgateway.Pool.
type backlogReporter interface {
	QueueLength() int
}

// Reconciler feeds pending transactions to the status enquiry worker pool so
// payments whose callback never arrived still reach a final status.
type Reconciler struct {
	tracker   *Tracker
	queue     Enqueuer
	batchSize int
	logger    *slog.Logger
}

func NewReconciler(tracker *Tracker, queue Enqueuer, batchSize int, logger *slog.Logger) *Reconciler {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Reconciler{
		tracker:   tracker,
		queue:     queue,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Sweep enqueues one batch of pending references and returns how many were
// accepted by the queue.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	pending, err := r.tracker.ListPending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, txn := range pending {
		if err := r.queue.Enqueue(paymentgateway.StatusJob{CustRefNum: txn.CustRefNum}); err != nil {
			if stderrors.Is(err, paymentgateway.ErrQueueFull) {
				break
			}
			return enqueued, err
		}
		enqueued++
	}

	attrs := []any{"pending", len(pending), "enqueued", enqueued}
	if backlog, ok := r.queue.(backlogReporter); ok {
		attrs = append(attrs, "queue_length", backlog.QueueLength())
	}
	r.logger.Info("pending transactions swept", attrs...)
	return enqueued, nil
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Error("pending sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
