package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"kurate-api/internal/config"
	"kurate-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWebhookEventRepository struct {
	events []*models.BillingWebhookEvent
}

func (r *fakeWebhookEventRepository) Create(ctx context.Context, event *models.BillingWebhookEvent) error {
	r.events = append(r.events, event)
	return nil
}

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"meta":{"event_name":"order_created"}}`)
	secret := "whsec_test"

	assert.True(t, VerifyWebhookSignature(payload, signPayload(payload, secret), secret))
	assert.False(t, VerifyWebhookSignature(payload, signPayload(payload, "wrong"), secret))
	assert.False(t, VerifyWebhookSignature(payload, "", secret))
	assert.False(t, VerifyWebhookSignature(payload, signPayload(payload, secret), ""))
	assert.False(t, VerifyWebhookSignature([]byte("tampered"), signPayload(payload, secret), secret))
}

func TestParseBillingEvent(t *testing.T) {
	payload := []byte(`{
		"meta": {"event_name": "subscription_created", "custom_data": {"plan_type": "professional"}},
		"data": {"attributes": {"user_email": "a@b.com", "customer_id": 123, "status": "active", "product_name": "Kurate Art - Monthly Payment"}}
	}`)

	event, err := ParseBillingEvent(payload)

	require.NoError(t, err)
	assert.Equal(t, "subscription_created", event.Name)
	assert.Equal(t, "a@b.com", event.Attributes.UserEmail)
	assert.Equal(t, "123", event.Attributes.CustomerID.String())
	assert.Equal(t, "professional", event.CustomData["plan_type"])
	assert.Equal(t, "Kurate Art - Monthly Payment", event.ProductName())
}

func TestParseBillingEventRejectsMissingEventName(t *testing.T) {
	_, err := ParseBillingEvent([]byte(`{"data": {}}`))
	require.Error(t, err)

	_, err = ParseBillingEvent([]byte(`not json`))
	require.Error(t, err)
}

func TestOrderCreatedEventUsesFirstOrderItemProduct(t *testing.T) {
	payload := []byte(`{
		"meta": {"event_name": "order_created"},
		"data": {"attributes": {"user_email": "a@b.com", "customer_id": 1, "first_order_item": {"product_name": "Kurate Art - 10 credit"}}}
	}`)

	event, err := ParseBillingEvent(payload)

	require.NoError(t, err)
	assert.Equal(t, "Kurate Art - 10 credit", event.ProductName())
}

func billingFixture() (*fakeAccountRepository, *fakeWebhookEventRepository, BillingService) {
	accounts := newFakeAccountRepository()
	events := &fakeWebhookEventRepository{}
	svc := NewBillingService(accounts, events, nil, config.NewPlanLimitConfig())
	return accounts, events, svc
}

func subscriptionEvent(name, status, planType string) *BillingEvent {
	payload := fmt.Sprintf(`{
		"meta": {"event_name": %q, "custom_data": {"plan_type": %q, "billing_cycle": "monthly"}},
		"data": {"attributes": {"user_email": "a@b.com", "user_name": "Ada", "customer_id": 77, "status": %q, "product_name": "Kurate Art - Monthly Payment"}}
	}`, name, planType, status)

	event, err := ParseBillingEvent([]byte(payload))
	if err != nil {
		panic(err)
	}
	return event
}

func TestHandleEventIgnoresForeignProduct(t *testing.T) {
	accounts, events, svc := billingFixture()

	payload := []byte(`{
		"meta": {"event_name": "subscription_created"},
		"data": {"attributes": {"user_email": "a@b.com", "customer_id": 9, "status": "active", "product_name": "Some Other App - Monthly"}}
	}`)
	event, err := ParseBillingEvent(payload)
	require.NoError(t, err)

	result, err := svc.HandleEvent(context.Background(), event)

	require.NoError(t, err)
	assert.Contains(t, result, "ignored")
	assert.Empty(t, accounts.accounts)
	// The delivery is still recorded for audit.
	assert.Len(t, events.events, 1)
}

func TestHandleOrderCreatedCreatesAccountWithCreditCeiling(t *testing.T) {
	accounts, _, svc := billingFixture()

	payload := []byte(`{
		"meta": {"event_name": "order_created", "custom_data": {"plan_type": "small"}},
		"data": {"attributes": {"user_email": "a@b.com", "user_name": "Ada", "customer_id": 77, "first_order_item": {"product_name": "Kurate Art - 10 credit"}}}
	}`)
	event, err := ParseBillingEvent(payload)
	require.NoError(t, err)

	_, err = svc.HandleEvent(context.Background(), event)
	require.NoError(t, err)

	account := accounts.accounts["a@b.com"]
	require.NotNil(t, account)
	assert.Equal(t, "77", account.CustomerID)
	assert.Equal(t, "paid", account.SubscriptionStatus)
	assert.Equal(t, "Kurate Art - 10 credit", account.ProductName)
	require.NotNil(t, account.LimitCount)
	assert.Equal(t, 10, *account.LimitCount)
}

func TestHandleOrderCreatedUpdatesExistingAccount(t *testing.T) {
	accounts, _, svc := billingFixture()
	accounts.accounts["a@b.com"] = &models.Account{
		Identifier:         "a@b.com",
		SubscriptionStatus: string(models.StatusFree),
		UsedCount:          2,
	}

	payload := []byte(`{
		"meta": {"event_name": "order_created", "custom_data": {"plan_type": "medium"}},
		"data": {"attributes": {"user_email": "a@b.com", "customer_id": 77, "first_order_item": {"product_name": "Kurate Art - 25 credit"}}}
	}`)
	event, err := ParseBillingEvent(payload)
	require.NoError(t, err)

	_, err = svc.HandleEvent(context.Background(), event)
	require.NoError(t, err)

	account := accounts.accounts["a@b.com"]
	assert.Equal(t, "paid", account.SubscriptionStatus)
	require.NotNil(t, account.LimitCount)
	assert.Equal(t, 25, *account.LimitCount)
	// Usage already consumed stays put; plan changes never touch the counter
	// except where the provider event says so.
	assert.Equal(t, 2, account.UsedCount)
}

func TestHandleSubscriptionCreatedSetsCycleCeiling(t *testing.T) {
	accounts, _, svc := billingFixture()
	accounts.accounts["a@b.com"] = &models.Account{
		Identifier: "a@b.com",
		CustomerID: "77",
	}

	_, err := svc.HandleEvent(context.Background(), subscriptionEvent("subscription_created", "active", "professional"))
	require.NoError(t, err)

	account := accounts.accounts["a@b.com"]
	assert.Equal(t, "active", account.SubscriptionStatus)
	require.NotNil(t, account.AllCount)
	assert.Equal(t, 200, *account.AllCount)
	assert.Equal(t, "monthly", account.BillingCycle)
}

func TestHandleSubscriptionCreatedMasterPlan(t *testing.T) {
	accounts, _, svc := billingFixture()
	accounts.accounts["a@b.com"] = &models.Account{Identifier: "a@b.com", CustomerID: "77"}

	_, err := svc.HandleEvent(context.Background(), subscriptionEvent("subscription_created", "active", "master"))
	require.NoError(t, err)

	require.NotNil(t, accounts.accounts["a@b.com"].AllCount)
	assert.Equal(t, 2000, *accounts.accounts["a@b.com"].AllCount)
}

func TestHandleSubscriptionCreatedNonEntitlingStatusSkipsCeilings(t *testing.T) {
	accounts, _, svc := billingFixture()
	accounts.accounts["a@b.com"] = &models.Account{Identifier: "a@b.com", CustomerID: "77"}

	_, err := svc.HandleEvent(context.Background(), subscriptionEvent("subscription_created", "past_due", "professional"))
	require.NoError(t, err)

	account := accounts.accounts["a@b.com"]
	assert.Equal(t, "past_due", account.SubscriptionStatus)
	assert.Nil(t, account.AllCount)
}

func TestHandleSubscriptionUpdatedResetsUsage(t *testing.T) {
	accounts, _, svc := billingFixture()
	accounts.accounts["a@b.com"] = &models.Account{
		Identifier:         "a@b.com",
		CustomerID:         "77",
		SubscriptionStatus: string(models.StatusActive),
		UsedCount:          150,
	}

	_, err := svc.HandleEvent(context.Background(), subscriptionEvent("subscription_updated", "active", "professional"))
	require.NoError(t, err)

	assert.Equal(t, 0, accounts.accounts["a@b.com"].UsedCount)
}

func TestHandleSubscriptionCancelled(t *testing.T) {
	accounts, _, svc := billingFixture()
	accounts.accounts["a@b.com"] = &models.Account{
		Identifier:         "a@b.com",
		CustomerID:         "77",
		SubscriptionStatus: string(models.StatusActive),
	}

	_, err := svc.HandleEvent(context.Background(), subscriptionEvent("subscription_cancelled", "cancelled", ""))
	require.NoError(t, err)

	assert.Equal(t, "cancelled", accounts.accounts["a@b.com"].SubscriptionStatus)
}

func TestHandleEventUnknownTypeAcknowledged(t *testing.T) {
	_, events, svc := billingFixture()

	payload := []byte(`{
		"meta": {"event_name": "subscription_payment_success"},
		"data": {"attributes": {"product_name": "Kurate Art - Monthly Payment", "customer_id": 77}}
	}`)
	event, err := ParseBillingEvent(payload)
	require.NoError(t, err)

	result, err := svc.HandleEvent(context.Background(), event)

	require.NoError(t, err)
	assert.Contains(t, result, "ignored")
	assert.Len(t, events.events, 1)
}
