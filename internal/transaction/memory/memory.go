package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	errors "github.com/frahmantamala/skillpay-gateway/internal"
	"github.com/frahmantamala/skillpay-gateway/internal/transaction"
)

// TransactionRepository keeps transactions in process memory. Everything is
// lost on restart; it backs the demo mode.
type TransactionRepository struct {
	mu     sync.RWMutex
	byRef  map[string]*transaction.Transaction
	nextID int64
}

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{
		byRef:  make(map[string]*transaction.Transaction),
		nextID: 1,
	}
}

var _ transaction.RepositoryAPI = (*TransactionRepository)(nil)

func (r *TransactionRepository) Upsert(ctx context.Context, custRefNum string, patch transaction.Fields, now time.Time) (*transaction.Change, error) {
	return r.write(custRefNum, patch, now, true)
}

func (r *TransactionRepository) Update(ctx context.Context, custRefNum string, patch transaction.Fields, now time.Time) (*transaction.Change, error) {
	return r.write(custRefNum, patch, now, false)
}

func (r *TransactionRepository) write(custRefNum string, patch transaction.Fields, now time.Time, create bool) (*transaction.Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.byRef[custRefNum]
	if existing == nil && !create {
		return nil, errors.ErrTransactionNotFound
	}

	merged := transaction.Merge(existing, custRefNum, patch, now)
	if existing == nil {
		merged.ID = r.nextID
		r.nextID++
	}
	r.byRef[custRefNum] = merged

	return &transaction.Change{Previous: existing.Clone(), Current: merged.Clone()}, nil
}

func (r *TransactionRepository) Insert(ctx context.Context, t *transaction.Transaction) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byRef[t.CustRefNum]; exists {
		return false, nil
	}
	stored := t.Clone()
	stored.ID = r.nextID
	r.nextID++
	r.byRef[t.CustRefNum] = stored
	return true, nil
}

func (r *TransactionRepository) GetByReference(ctx context.Context, custRefNum string) (*transaction.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byRef[custRefNum]
	if !ok {
		return nil, errors.ErrTransactionNotFound
	}
	return t.Clone(), nil
}

func (r *TransactionRepository) ListAll(ctx context.Context) ([]*transaction.Transaction, error) {
	return r.list(func(*transaction.Transaction) bool { return true }, 0), nil
}

func (r *TransactionRepository) ListPending(ctx context.Context, limit int) ([]*transaction.Transaction, error) {
	return r.list(func(t *transaction.Transaction) bool { return !t.IsTerminal() }, limit), nil
}

// list returns matching records newest first; limit <= 0 means no limit.
func (r *TransactionRepository) list(keep func(*transaction.Transaction) bool, limit int) []*transaction.Transaction {
	r.mu.RLock()
	result := make([]*transaction.Transaction, 0, len(r.byRef))
	for _, t := range r.byRef {
		if keep(t) {
			result = append(result, t.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}
