package transaction

import (
	"context"
	"log/slog"
	"time"

	errors "github.com/frahmantamala/skillpay-gateway/internal"
	"github.com/frahmantamala/skillpay-gateway/internal/core/events"
)

// RepositoryAPI is implemented by every store variant. Upsert and Update must
// be atomic per custRefNum: the merge of patch into the stored record happens
// under the store's own lock or transaction.
type RepositoryAPI interface {
	Upsert(ctx context.Context, custRefNum string, patch Fields, now time.Time) (*Change, error)
	// Update returns errors.ErrTransactionNotFound instead of creating.
	Update(ctx context.Context, custRefNum string, patch Fields, now time.Time) (*Change, error)
	// Insert stores t verbatim unless custRefNum already exists.
	Insert(ctx context.Context, t *Transaction) (bool, error)
	GetByReference(ctx context.Context, custRefNum string) (*Transaction, error)
	ListAll(ctx context.Context) ([]*Transaction, error)
	ListPending(ctx context.Context, limit int) ([]*Transaction, error)
}

const (
	SourceInitiation    = "initiation"
	SourceCallback      = "callback"
	SourceStatusEnquiry = "status_enquiry"
	SourceSeed          = "seed"
)

type sourceKey struct{}

func withSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok {
		return s
	}
	return "unknown"
}

// Tracker owns the lifecycle of transaction records on top of a store and
// announces transitions on the event bus.
type Tracker struct {
	repo     RepositoryAPI
	eventBus *events.EventBus
	logger   *slog.Logger
	now      func() time.Time
}

func NewTracker(repo RepositoryAPI, eventBus *events.EventBus, logger *slog.Logger) *Tracker {
	return &Tracker{
		repo:     repo,
		eventBus: eventBus,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the time source used for createdAt and updatedAt.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Upsert creates the record for custRefNum or merges fields into it.
func (t *Tracker) Upsert(ctx context.Context, custRefNum string, fields Fields) (*Transaction, error) {
	if custRefNum == "" {
		return nil, errors.ErrMissingReference
	}

	change, err := t.repo.Upsert(ctx, custRefNum, fields, t.now())
	if err != nil {
		t.logger.Error("failed to upsert transaction", "cust_ref_num", custRefNum, "error", err)
		return nil, err
	}

	t.afterWrite(ctx, change)
	return change.Current, nil
}

// Update merges fields into an existing record and never creates one.
func (t *Tracker) Update(ctx context.Context, custRefNum string, fields Fields) (*Transaction, error) {
	if custRefNum == "" {
		return nil, errors.ErrMissingReference
	}

	change, err := t.repo.Update(ctx, custRefNum, fields, t.now())
	if err != nil {
		if errors.IsNotFound(err) {
			t.logger.Warn("update for unknown transaction", "cust_ref_num", custRefNum)
		} else {
			t.logger.Error("failed to update transaction", "cust_ref_num", custRefNum, "error", err)
		}
		return nil, err
	}

	t.afterWrite(ctx, change)
	return change.Current, nil
}

func (t *Tracker) GetByReference(ctx context.Context, custRefNum string) (*Transaction, error) {
	if custRefNum == "" {
		return nil, errors.ErrMissingReference
	}
	return t.repo.GetByReference(ctx, custRefNum)
}

func (t *Tracker) ListAll(ctx context.Context) ([]*Transaction, error) {
	return t.repo.ListAll(ctx)
}

func (t *Tracker) ListPending(ctx context.Context, limit int) ([]*Transaction, error) {
	return t.repo.ListPending(ctx, limit)
}

// Seed inserts fixed records, skipping references that already exist.
func (t *Tracker) Seed(ctx context.Context, txns []*Transaction) (int, error) {
	inserted := 0
	for _, txn := range txns {
		ok, err := t.repo.Insert(ctx, txn)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	t.logger.Info("transactions seeded", "inserted", inserted, "total", len(txns))
	return inserted, nil
}

func (t *Tracker) afterWrite(ctx context.Context, change *Change) {
	current := change.Current
	source := sourceFrom(ctx)

	if change.Created() {
		t.logger.Info("transaction created",
			"cust_ref_num", current.CustRefNum,
			"agg_ref_no", current.AggRefNo,
			"pay_status", current.PayStatus,
			"source", source)
		t.publish(ctx, events.NewTransactionInitiatedEvent(
			current.CustRefNum, current.AggRefNo, current.Amount.StringFixed(2), string(current.PayStatus)))
	} else {
		t.logger.Info("transaction updated",
			"cust_ref_num", current.CustRefNum,
			"old_status", change.Previous.PayStatus,
			"new_status", current.PayStatus,
			"source", source)
	}

	if change.OverwroteOutcome() {
		t.logger.Warn("final status overwritten",
			"cust_ref_num", current.CustRefNum,
			"old_status", change.Previous.PayStatus,
			"new_status", current.PayStatus,
			"source", source)
	}

	if !change.BecameTerminal() {
		return
	}

	previous := ""
	if change.Previous != nil {
		previous = string(change.Previous.PayStatus)
	}
	amount := current.Amount.StringFixed(2)

	switch current.PayStatus {
	case StatusSuccess:
		t.publish(ctx, events.NewTransactionSettledEvent(
			current.CustRefNum, current.AggRefNo, amount, previous, current.RespCode, current.RespMessage, source))
	case StatusFailed:
		t.publish(ctx, events.NewTransactionFailedEvent(
			current.CustRefNum, current.AggRefNo, amount, previous, current.RespCode, current.RespMessage, source))
	}
}

func (t *Tracker) publish(ctx context.Context, event events.Event) {
	if t.eventBus == nil {
		return
	}
	if err := t.eventBus.Publish(ctx, event); err != nil {
		t.logger.Error("failed to publish transaction event", "event_type", event.EventType(), "error", err)
	}
}
