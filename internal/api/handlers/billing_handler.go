package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"kurate-api/internal/logger"
	"kurate-api/internal/services"

	"github.com/sirupsen/logrus"
)

// BillingHandler receives plan-change webhooks from the billing provider.
type BillingHandler struct {
	billingService services.BillingService
	webhookSecret  string
}

func NewBillingHandler(billingService services.BillingService, webhookSecret string) *BillingHandler {
	return &BillingHandler{
		billingService: billingService,
		webhookSecret:  webhookSecret,
	}
}

type webhookResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *BillingHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodyBytes = int64(65536)
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeWebhookResponse(w, http.StatusServiceUnavailable, webhookResponse{Error: "failed to read request body"})
		return
	}

	if !services.VerifyWebhookSignature(payload, r.Header.Get("X-Signature"), h.webhookSecret) {
		logger.LogEvent(logrus.WarnLevel, "Webhook signature verification failed", logrus.Fields{
			"remote": r.RemoteAddr,
		})
		writeWebhookResponse(w, http.StatusUnauthorized, webhookResponse{Error: "invalid signature"})
		return
	}

	event, err := services.ParseBillingEvent(payload)
	if err != nil {
		writeWebhookResponse(w, http.StatusBadRequest, webhookResponse{Error: "invalid payload"})
		return
	}

	result, err := h.billingService.HandleEvent(r.Context(), event)
	if err != nil {
		// Acknowledge anyway; the event is persisted and a retry storm from
		// the provider would not make a store failure recover faster.
		logger.LogEvent(logrus.ErrorLevel, "Webhook event processing failed", logrus.Fields{
			"event_type": event.Name,
			"error":      err.Error(),
		})
		writeWebhookResponse(w, http.StatusOK, webhookResponse{Success: false, Error: "processing failed"})
		return
	}

	writeWebhookResponse(w, http.StatusOK, webhookResponse{Success: true, Result: result})
}

func writeWebhookResponse(w http.ResponseWriter, status int, resp webhookResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
