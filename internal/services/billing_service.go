package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"kurate-api/internal/config"
	"kurate-api/internal/logger"
	"kurate-api/internal/models"
	apperrors "kurate-api/internal/pkg/errors"
	"kurate-api/internal/repository"

	"github.com/sirupsen/logrus"
)

// Product names from the billing provider are matched against this keyword
// to filter out events for other storefront products.
const appProductKeyword = "kurate art"

// BillingAttributes is the provider payload subset this service consumes.
type BillingAttributes struct {
	UserEmail      string      `json:"user_email"`
	UserName       string      `json:"user_name"`
	CustomerID     json.Number `json:"customer_id"`
	Status         string      `json:"status"`
	ProductName    string      `json:"product_name"`
	TestMode       bool        `json:"test_mode"`
	FirstOrderItem *struct {
		ProductName string `json:"product_name"`
	} `json:"first_order_item"`
}

type billingEnvelope struct {
	Meta struct {
		EventName  string                 `json:"event_name"`
		CustomData map[string]interface{} `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		Attributes BillingAttributes `json:"attributes"`
	} `json:"data"`
}

// BillingEvent is one parsed webhook delivery.
type BillingEvent struct {
	Name       string
	Attributes BillingAttributes
	CustomData map[string]interface{}
	Raw        []byte
}

// ProductName returns the product the event concerns; order events carry it
// on the first order item, subscription events at the top level.
func (e *BillingEvent) ProductName() string {
	if e.Name == "order_created" && e.Attributes.FirstOrderItem != nil {
		return e.Attributes.FirstOrderItem.ProductName
	}
	return e.Attributes.ProductName
}

// VerifyWebhookSignature checks the provider's hex HMAC-SHA256 signature
// over the raw body with a constant-time comparison.
func VerifyWebhookSignature(payload []byte, signatureHeader, secret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || secret == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected))
}

// ParseBillingEvent decodes a webhook body into a BillingEvent.
func ParseBillingEvent(payload []byte) (*BillingEvent, error) {
	var envelope billingEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "failed to parse webhook payload: "+err.Error())
	}
	if envelope.Meta.EventName == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "webhook payload has no event name")
	}

	return &BillingEvent{
		Name:       envelope.Meta.EventName,
		Attributes: envelope.Data.Attributes,
		CustomData: envelope.Meta.CustomData,
		Raw:        payload,
	}, nil
}

// BillingService applies plan-change events pushed by the billing provider
// to account records.
type BillingService interface {
	HandleEvent(ctx context.Context, event *BillingEvent) (string, error)
}

type billingService struct {
	accounts repository.AccountRepository
	events   repository.WebhookEventRepository
	cache    CacheService
	limits   *config.PlanLimitConfig
}

func NewBillingService(
	accounts repository.AccountRepository,
	events repository.WebhookEventRepository,
	cache CacheService,
	limits *config.PlanLimitConfig,
) BillingService {
	return &billingService{
		accounts: accounts,
		events:   events,
		cache:    cache,
		limits:   limits,
	}
}

func (s *billingService) HandleEvent(ctx context.Context, event *BillingEvent) (string, error) {
	record := &models.BillingWebhookEvent{
		Provider:       "lemonsqueezy",
		EventType:      event.Name,
		Payload:        string(event.Raw),
		SignatureValid: true,
	}
	if err := s.events.Create(ctx, record); err != nil {
		logger.LogEvent(logrus.ErrorLevel, "Failed to persist webhook event", logrus.Fields{
			"event_type": event.Name,
			"error":      err.Error(),
		})
	}

	if !strings.Contains(strings.ToLower(event.ProductName()), appProductKeyword) {
		return "ignored: foreign product", nil
	}

	var err error
	var result string
	switch event.Name {
	case "order_created":
		result, err = s.handleOrderCreated(ctx, event)
	case "subscription_created":
		result, err = s.handleSubscriptionCreated(ctx, event)
	case "subscription_updated":
		result, err = s.handleSubscriptionUpdated(ctx, event)
	case "subscription_cancelled":
		result, err = s.handleSubscriptionCancelled(ctx, event)
	default:
		logger.LogEvent(logrus.InfoLevel, "Unhandled webhook event type", logrus.Fields{
			"event_type": event.Name,
		})
		return "ignored: unhandled event type", nil
	}
	if err != nil {
		return "", err
	}

	s.invalidateStatus(ctx, event.Attributes.UserEmail)
	return result, nil
}

// handleOrderCreated records a purchase against the buyer's account. Credit
// packs carry their ceiling here since one-time orders produce no
// subscription events.
func (s *billingService) handleOrderCreated(ctx context.Context, event *BillingEvent) (string, error) {
	attrs := event.Attributes

	account, err := s.accounts.GetByIdentifier(ctx, attrs.UserEmail)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return "", err
	}

	planType := customField(event.CustomData, "plan_type")
	var limitCount *int
	if count, ok := s.limits.CreditPackCounts[planType]; ok {
		limitCount = &count
	}

	if account == nil {
		newAccount := &models.Account{
			Identifier:         attrs.UserEmail,
			Name:               attrs.UserName,
			CustomerID:         attrs.CustomerID.String(),
			SubscriptionStatus: string(models.StatusPaid),
			ProductName:        event.ProductName(),
			PlanType:           planType,
			BillingCycle:       customField(event.CustomData, "billing_cycle"),
			LimitCount:         limitCount,
			TestMode:           attrs.TestMode,
		}
		if err := s.accounts.Create(ctx, newAccount); err != nil {
			return "", err
		}
		return "order recorded: account created", nil
	}

	fields := map[string]interface{}{
		"customer_id":         attrs.CustomerID.String(),
		"subscription_status": string(models.StatusPaid),
		"product_name":        event.ProductName(),
		"plan_type":           planType,
		"test_mode":           attrs.TestMode,
	}
	if limitCount != nil {
		fields["limit_count"] = *limitCount
	}
	if err := s.accounts.UpdateByIdentifier(ctx, account.Identifier, fields); err != nil {
		return "", err
	}
	return "order recorded: account updated", nil
}

func (s *billingService) handleSubscriptionCreated(ctx context.Context, event *BillingEvent) (string, error) {
	attrs := event.Attributes
	planType := customField(event.CustomData, "plan_type")

	fields := map[string]interface{}{
		"identifier":          attrs.UserEmail,
		"name":                attrs.UserName,
		"subscription_status": attrs.Status,
		"product_name":        attrs.ProductName,
		"plan_type":           planType,
		"billing_cycle":       customField(event.CustomData, "billing_cycle"),
		"test_mode":           attrs.TestMode,
	}

	if models.SubscriptionStatus(attrs.Status).Premium() {
		if count, ok := s.limits.SubscriptionCounts[planType]; ok {
			fields["all_count"] = count
		} else if count, ok := s.limits.CreditPackCounts[planType]; ok {
			fields["limit_count"] = count
		}
	}

	if err := s.accounts.UpdateByCustomerID(ctx, attrs.CustomerID.String(), fields); err != nil {
		return "", err
	}
	return "subscription created", nil
}

func (s *billingService) handleSubscriptionUpdated(ctx context.Context, event *BillingEvent) (string, error) {
	attrs := event.Attributes

	err := s.accounts.UpdateByCustomerID(ctx, attrs.CustomerID.String(), map[string]interface{}{
		"identifier":          attrs.UserEmail,
		"name":                attrs.UserName,
		"subscription_status": attrs.Status,
		"product_name":        attrs.ProductName,
		"test_mode":           attrs.TestMode,
		"used_count":          0,
	})
	if err != nil {
		return "", err
	}
	return "subscription updated", nil
}

func (s *billingService) handleSubscriptionCancelled(ctx context.Context, event *BillingEvent) (string, error) {
	attrs := event.Attributes

	err := s.accounts.UpdateByCustomerID(ctx, attrs.CustomerID.String(), map[string]interface{}{
		"subscription_status": string(models.StatusCancelled),
	})
	if err != nil {
		return "", err
	}
	return "subscription cancelled", nil
}

func (s *billingService) invalidateStatus(ctx context.Context, email string) {
	if s.cache == nil || email == "" {
		return
	}
	if err := s.cache.Delete(ctx, StatusCacheKey(email)); err != nil {
		logger.LogEvent(logrus.WarnLevel, "Failed to invalidate status cache", logrus.Fields{
			"identifier": email,
			"error":      err.Error(),
		})
	}
}

func customField(customData map[string]interface{}, key string) string {
	if customData == nil {
		return ""
	}
	if v, ok := customData[key].(string); ok {
		return v
	}
	return ""
}
