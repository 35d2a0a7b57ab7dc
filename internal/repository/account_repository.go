package repository

import (
	"context"
	"errors"
	"kurate-api/internal/models"
	apperrors "kurate-api/internal/pkg/errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AdmissionUpdate is the write an admission decision produced. When Create
// is set a new account row is inserted; otherwise the existing row's counter
// is moved to UsedCount and its timestamp refreshed.
type AdmissionUpdate struct {
	Create    *models.Account
	UsedCount int
}

type AccountRepository interface {
	GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error)
	GetByCustomerID(ctx context.Context, customerID string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) error
	UpdateByIdentifier(ctx context.Context, identifier string, fields map[string]interface{}) error
	UpdateByCustomerID(ctx context.Context, customerID string, fields map[string]interface{}) error

	// Authorize runs decide against the caller's account row inside one
	// transaction, holding a row lock so concurrent admissions for the same
	// identifier serialize instead of losing increments. decide receives nil
	// when no row exists yet and returns nil to leave the store untouched.
	Authorize(ctx context.Context, identifier string, decide func(account *models.Account) (*AdmissionUpdate, error)) error
}

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	var account models.Account
	result := r.db.WithContext(ctx).First(&account, "identifier = ?", identifier)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrStoreUnavailable, "failed to get account by identifier: "+result.Error.Error())
	}

	return &account, nil
}

func (r *accountRepository) GetByCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	var account models.Account
	result := r.db.WithContext(ctx).First(&account, "customer_id = ?", customerID)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrStoreUnavailable, "failed to get account by customer id: "+result.Error.Error())
	}

	return &account, nil
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	result := r.db.WithContext(ctx).Create(account)
	if result.Error != nil {
		return apperrors.Wrap(apperrors.ErrStoreUnavailable, "failed to create account: "+result.Error.Error())
	}
	return nil
}

func (r *accountRepository) UpdateByIdentifier(ctx context.Context, identifier string, fields map[string]interface{}) error {
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now()
	}

	result := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("identifier = ?", identifier).
		Updates(fields)

	if result.Error != nil {
		return apperrors.Wrap(apperrors.ErrStoreUnavailable, "failed to update account by identifier: "+result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *accountRepository) UpdateByCustomerID(ctx context.Context, customerID string, fields map[string]interface{}) error {
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now()
	}

	result := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("customer_id = ?", customerID).
		Updates(fields)

	if result.Error != nil {
		return apperrors.Wrap(apperrors.ErrStoreUnavailable, "failed to update account by customer id: "+result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *accountRepository) Authorize(ctx context.Context, identifier string, decide func(account *models.Account) (*AdmissionUpdate, error)) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.Account
		var current *models.Account

		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&account, "identifier = ?", identifier).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			current = nil
		case err != nil:
			return apperrors.Wrap(apperrors.ErrStoreUnavailable, "failed to lock account: "+err.Error())
		default:
			current = &account
		}

		update, err := decide(current)
		if err != nil {
			return err
		}
		if update == nil {
			return nil
		}

		if update.Create != nil {
			if err := tx.Create(update.Create).Error; err != nil {
				return apperrors.Wrap(apperrors.ErrStoreUnavailable, "failed to create account: "+err.Error())
			}
			return nil
		}

		err = tx.Model(&models.Account{}).
			Where("identifier = ?", identifier).
			Updates(map[string]interface{}{
				"used_count": update.UsedCount,
				"updated_at": time.Now(),
			}).Error
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStoreUnavailable, "failed to update account counter: "+err.Error())
		}
		return nil
	})
}
