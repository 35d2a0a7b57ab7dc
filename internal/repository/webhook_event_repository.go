package repository

import (
	"context"
	"kurate-api/internal/models"
	apperrors "kurate-api/internal/pkg/errors"

	"gorm.io/gorm"
)

type WebhookEventRepository interface {
	Create(ctx context.Context, event *models.BillingWebhookEvent) error
}

type webhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) Create(ctx context.Context, event *models.BillingWebhookEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrStoreUnavailable, "failed to record webhook event: "+err.Error())
	}
	return nil
}
