package models

import (
	"time"

	"gorm.io/gorm"
)

type SubscriptionStatus string

const (
	StatusFree      SubscriptionStatus = "free"
	StatusActive    SubscriptionStatus = "active"
	StatusOnTrial   SubscriptionStatus = "on_trial"
	StatusPaid      SubscriptionStatus = "paid"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// Premium reports whether the status entitles the account to unwatermarked
// output.
func (s SubscriptionStatus) Premium() bool {
	switch s {
	case StatusActive, StatusOnTrial, StatusPaid:
		return true
	}
	return false
}

// Account is the per-caller record tracking plan and usage. Identifier is an
// email address for authenticated callers, or anonymous_<ip> for callers
// without a verifiable credential.
type Account struct {
	ID                 uint           `gorm:"primarykey" json:"id"`
	Identifier         string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"identifier"`
	Name               string         `gorm:"type:varchar(255)" json:"name"`
	CustomerID         string         `gorm:"type:varchar(64);index" json:"customer_id"`
	SubscriptionStatus string         `gorm:"type:varchar(50);not null;default:'free'" json:"subscription_status"`
	ProductName        string         `gorm:"type:varchar(255)" json:"product_name"`
	PlanType           string         `gorm:"type:varchar(50)" json:"plan_type"`
	BillingCycle       string         `gorm:"type:varchar(50)" json:"billing_cycle"`
	UsedCount          int            `gorm:"not null;default:0" json:"used_count"`
	LimitCount         *int           `gorm:"default:null" json:"limit_count"`
	AllCount           *int           `gorm:"default:null" json:"all_count"`
	TestMode           bool           `gorm:"not null;default:false" json:"test_mode"`
	CreatedAt          time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}
	return nil
}

// CreditCeiling returns the authoritative limit_count, treating an unset
// column as zero the way the billing rows are written.
func (a *Account) CreditCeiling() int {
	if a.LimitCount == nil {
		return 0
	}
	return *a.LimitCount
}

// CycleCeiling returns the authoritative all_count for subscription plans.
func (a *Account) CycleCeiling() int {
	if a.AllCount == nil {
		return 0
	}
	return *a.AllCount
}
