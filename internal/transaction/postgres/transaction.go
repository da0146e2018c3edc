package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	errors "github.com/frahmantamala/skillpay-gateway/internal"
	transactionDatamodel "github.com/frahmantamala/skillpay-gateway/internal/core/datamodel/transaction"
	"github.com/frahmantamala/skillpay-gateway/internal/transaction"
)

// TransactionRepository stores transactions through gorm. It is used with the
// postgres, mysql and sqlite dialects.
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{
		db: db,
	}
}

var _ transaction.RepositoryAPI = (*TransactionRepository)(nil)

// AutoMigrate creates the transactions table for dialects that are not
// managed by goose migrations.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&transactionDatamodel.Transaction{})
}

var byReference = clause.OnConflict{
	Columns:   []clause.Column{{Name: "cust_ref_num"}},
	DoNothing: true,
}

func (r *TransactionRepository) Upsert(ctx context.Context, custRefNum string, patch transaction.Fields, now time.Time) (*transaction.Change, error) {
	return r.write(ctx, custRefNum, patch, now, true)
}

func (r *TransactionRepository) Update(ctx context.Context, custRefNum string, patch transaction.Fields, now time.Time) (*transaction.Change, error) {
	return r.write(ctx, custRefNum, patch, now, false)
}

// write reads the row under a row lock, merges in Go and writes the result
// back in the same database transaction. A create that loses the race to a
// concurrent insert re-reads the winner and merges into it.
func (r *TransactionRepository) write(ctx context.Context, custRefNum string, patch transaction.Fields, now time.Time, create bool) (*transaction.Change, error) {
	var change *transaction.Change

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := lockByReference(tx, custRefNum)
		if err != nil {
			return err
		}
		if existing == nil && !create {
			return errors.ErrTransactionNotFound
		}

		if existing == nil {
			created := transaction.Merge(nil, custRefNum, patch, now)
			row := transaction.ToDataModel(created)
			res := tx.Clauses(byReference).Create(row)
			if res.Error != nil {
				return fmt.Errorf("insert transaction: %w", res.Error)
			}
			if res.RowsAffected == 1 {
				created.ID = row.ID
				change = &transaction.Change{Current: created}
				return nil
			}

			existing, err = lockByReference(tx, custRefNum)
			if err != nil {
				return err
			}
			if existing == nil {
				return fmt.Errorf("transaction %s vanished during upsert", custRefNum)
			}
		}

		merged := transaction.Merge(existing, custRefNum, patch, now)
		if err := tx.Save(transaction.ToDataModel(merged)).Error; err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		change = &transaction.Change{Previous: existing, Current: merged}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

func lockByReference(tx *gorm.DB, custRefNum string) (*transaction.Transaction, error) {
	var row transactionDatamodel.Transaction
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("cust_ref_num = ?", custRefNum).
		First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	return transaction.FromDataModel(&row), nil
}

func (r *TransactionRepository) Insert(ctx context.Context, t *transaction.Transaction) (bool, error) {
	row := transaction.ToDataModel(t)
	row.ID = 0
	res := r.db.WithContext(ctx).Clauses(byReference).Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *TransactionRepository) GetByReference(ctx context.Context, custRefNum string) (*transaction.Transaction, error) {
	var row transactionDatamodel.Transaction
	err := r.db.WithContext(ctx).Where("cust_ref_num = ?", custRefNum).First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return transaction.FromDataModel(&row), nil
}

func (r *TransactionRepository) ListAll(ctx context.Context) ([]*transaction.Transaction, error) {
	var rows []*transactionDatamodel.Transaction
	err := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return transaction.FromDataModelSlice(rows), nil
}

func (r *TransactionRepository) ListPending(ctx context.Context, limit int) ([]*transaction.Transaction, error) {
	terminal := make([]string, 0, len(transaction.TerminalStatuses))
	for status := range transaction.TerminalStatuses {
		terminal = append(terminal, string(status))
	}

	query := r.db.WithContext(ctx).
		Where("pay_status NOT IN ?", terminal).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []*transactionDatamodel.Transaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return transaction.FromDataModelSlice(rows), nil
}
