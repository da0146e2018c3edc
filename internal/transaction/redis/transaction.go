package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/skillpay-gateway/internal"
	"github.com/frahmantamala/skillpay-gateway/internal/transaction"
)

const (
	DefaultKeyPrefix = "skillpay"
	maxTxAttempts    = 10
)

// TransactionRepository stores each transaction as a JSON document and keeps
// two indexes next to it: a sorted set of references by creation time and a
// set of references that are not yet terminal.
type TransactionRepository struct {
	client goredis.UniversalClient
	prefix string
}

func NewTransactionRepository(client goredis.UniversalClient, prefix string) *TransactionRepository {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &TransactionRepository{
		client: client,
		prefix: prefix,
	}
}

var _ transaction.RepositoryAPI = (*TransactionRepository)(nil)

func (r *TransactionRepository) key(custRefNum string) string {
	return r.prefix + ":txn:" + custRefNum
}

func (r *TransactionRepository) byCreatedKey() string { return r.prefix + ":txn:by_created" }
func (r *TransactionRepository) pendingKey() string   { return r.prefix + ":txn:pending" }
func (r *TransactionRepository) sequenceKey() string  { return r.prefix + ":txn:seq" }

type record struct {
	ID              int64           `json:"id"`
	CustRefNum      string          `json:"custRefNum"`
	AggRefNo        string          `json:"aggRefNo,omitempty"`
	AuthID          string          `json:"authId,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	ContactNo       string          `json:"contactNo,omitempty"`
	EmailID         string          `json:"emailId,omitempty"`
	PaymentDate     time.Time       `json:"paymentDate"`
	PayStatus       string          `json:"payStatus"`
	RespCode        string          `json:"respCode,omitempty"`
	RespMessage     string          `json:"respMessage,omitempty"`
	ServiceRRN      string          `json:"serviceRRN,omitempty"`
	MOP             string          `json:"mop,omitempty"`
	QRString        string          `json:"qrString,omitempty"`
	PayRespDate     *time.Time      `json:"payRespDate,omitempty"`
	GatewayResponse json.RawMessage `json:"gatewayResponse,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func toRecord(t *transaction.Transaction) record {
	return record{
		ID:              t.ID,
		CustRefNum:      t.CustRefNum,
		AggRefNo:        t.AggRefNo,
		AuthID:          t.AuthID,
		Amount:          t.Amount,
		ContactNo:       t.ContactNo,
		EmailID:         t.EmailID,
		PaymentDate:     t.PaymentDate,
		PayStatus:       string(t.PayStatus),
		RespCode:        t.RespCode,
		RespMessage:     t.RespMessage,
		ServiceRRN:      t.ServiceRRN,
		MOP:             t.MOP,
		QRString:        t.QRString,
		PayRespDate:     t.PayRespDate,
		GatewayResponse: t.GatewayResponse,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func (rec record) toTransaction() *transaction.Transaction {
	return &transaction.Transaction{
		ID:              rec.ID,
		CustRefNum:      rec.CustRefNum,
		AggRefNo:        rec.AggRefNo,
		AuthID:          rec.AuthID,
		Amount:          rec.Amount,
		ContactNo:       rec.ContactNo,
		EmailID:         rec.EmailID,
		PaymentDate:     rec.PaymentDate,
		PayStatus:       transaction.PayStatus(rec.PayStatus),
		RespCode:        rec.RespCode,
		RespMessage:     rec.RespMessage,
		ServiceRRN:      rec.ServiceRRN,
		MOP:             rec.MOP,
		QRString:        rec.QRString,
		PayRespDate:     rec.PayRespDate,
		GatewayResponse: rec.GatewayResponse,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
}

func decode(data []byte) (*transaction.Transaction, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode stored transaction: %w", err)
	}
	return rec.toTransaction(), nil
}

type getter func(ctx context.Context, key string) *goredis.StringCmd

func (r *TransactionRepository) load(ctx context.Context, get getter, custRefNum string) (*transaction.Transaction, error) {
	data, err := get(ctx, r.key(custRefNum)).Bytes()
	if stderrors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

// save queues the document and its index entries on pipe.
func (r *TransactionRepository) save(ctx context.Context, pipe goredis.Pipeliner, t *transaction.Transaction) error {
	payload, err := json.Marshal(toRecord(t))
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}
	pipe.Set(ctx, r.key(t.CustRefNum), payload, 0)
	pipe.ZAdd(ctx, r.byCreatedKey(), goredis.Z{Score: float64(t.CreatedAt.UnixMilli()), Member: t.CustRefNum})
	if t.IsTerminal() {
		pipe.SRem(ctx, r.pendingKey(), t.CustRefNum)
	} else {
		pipe.SAdd(ctx, r.pendingKey(), t.CustRefNum)
	}
	return nil
}

// atomically runs fn under WATCH on the transaction key, retrying when
// another writer touched the key first.
func (r *TransactionRepository) atomically(ctx context.Context, custRefNum string, fn func(tx *goredis.Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := r.client.Watch(ctx, fn, r.key(custRefNum))
		if stderrors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("transaction %s: too many concurrent writers", custRefNum)
}

func (r *TransactionRepository) Upsert(ctx context.Context, custRefNum string, patch transaction.Fields, now time.Time) (*transaction.Change, error) {
	return r.write(ctx, custRefNum, patch, now, true)
}

func (r *TransactionRepository) Update(ctx context.Context, custRefNum string, patch transaction.Fields, now time.Time) (*transaction.Change, error) {
	return r.write(ctx, custRefNum, patch, now, false)
}

func (r *TransactionRepository) write(ctx context.Context, custRefNum string, patch transaction.Fields, now time.Time, create bool) (*transaction.Change, error) {
	var change *transaction.Change

	err := r.atomically(ctx, custRefNum, func(tx *goredis.Tx) error {
		existing, err := r.load(ctx, tx.Get, custRefNum)
		if err != nil {
			return err
		}
		if existing == nil && !create {
			return errors.ErrTransactionNotFound
		}

		merged := transaction.Merge(existing, custRefNum, patch, now)
		if existing == nil {
			id, err := tx.Incr(ctx, r.sequenceKey()).Result()
			if err != nil {
				return err
			}
			merged.ID = id
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			return r.save(ctx, pipe, merged)
		})
		if err != nil {
			return err
		}

		change = &transaction.Change{Previous: existing, Current: merged}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

func (r *TransactionRepository) Insert(ctx context.Context, t *transaction.Transaction) (bool, error) {
	inserted := false

	err := r.atomically(ctx, t.CustRefNum, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, r.key(t.CustRefNum)).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		stored := t.Clone()
		stored.ID, err = tx.Incr(ctx, r.sequenceKey()).Result()
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			return r.save(ctx, pipe, stored)
		})
		if err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

func (r *TransactionRepository) GetByReference(ctx context.Context, custRefNum string) (*transaction.Transaction, error) {
	t, err := r.load(ctx, r.client.Get, custRefNum)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.ErrTransactionNotFound
	}
	return t, nil
}

func (r *TransactionRepository) ListAll(ctx context.Context) ([]*transaction.Transaction, error) {
	refs, err := r.client.ZRevRange(ctx, r.byCreatedKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return r.loadMany(ctx, refs)
}

func (r *TransactionRepository) ListPending(ctx context.Context, limit int) ([]*transaction.Transaction, error) {
	refs, err := r.client.SMembers(ctx, r.pendingKey()).Result()
	if err != nil {
		return nil, err
	}

	txns, err := r.loadMany(ctx, refs)
	if err != nil {
		return nil, err
	}

	sort.Slice(txns, func(i, j int) bool {
		return txns[i].CreatedAt.After(txns[j].CreatedAt)
	})
	if limit > 0 && len(txns) > limit {
		txns = txns[:limit]
	}
	return txns, nil
}

// loadMany fetches documents in the order of refs, skipping references whose
// document has disappeared.
func (r *TransactionRepository) loadMany(ctx context.Context, refs []string) ([]*transaction.Transaction, error) {
	if len(refs) == 0 {
		return []*transaction.Transaction{}, nil
	}

	keys := make([]string, len(refs))
	for i, ref := range refs {
		keys[i] = r.key(ref)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*transaction.Transaction, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		t, err := decode([]byte(s))
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}
