package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BillingWebhookEvent records every webhook delivery from the billing
// provider before it is applied, for replay and audit.
type BillingWebhookEvent struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Provider       string    `gorm:"type:varchar(50);not null" json:"provider"`
	EventType      string    `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Payload        string    `gorm:"type:text;not null" json:"payload"`
	SignatureValid bool      `gorm:"not null" json:"signature_valid"`
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (BillingWebhookEvent) TableName() string {
	return "billing_webhook_events"
}

func (e *BillingWebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return nil
}
