package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"kurate-api/internal/logger"
	"kurate-api/internal/services"

	"github.com/sirupsen/logrus"
)

// GenerateHandler serves the metered image-generation endpoint.
type GenerateHandler struct {
	quotaService      services.QuotaService
	generationService services.GenerationService
}

func NewGenerateHandler(quotaService services.QuotaService, generationService services.GenerationService) *GenerateHandler {
	return &GenerateHandler{
		quotaService:      quotaService,
		generationService: generationService,
	}
}

type generateResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Generate admits the request against the caller's quota, then proxies it to
// the generation API. Quota is consumed at admission; a downstream failure
// does not refund it.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	identity, ok := services.IdentityFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	req := services.DefaultGenerationRequest()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}

	decision, err := h.quotaService.Authorize(r.Context(), identity, time.Now())
	if err != nil {
		logger.LogEvent(logrus.ErrorLevel, "Quota authorization failed", logrus.Fields{
			"identifier": identity.Key,
			"error":      err.Error(),
		})
		writeJSONError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}
	if !decision.Allowed() {
		writeJSONError(w, http.StatusForbidden, decision.Reason, "")
		return
	}

	if req.Prompt == "" || req.ImageURL == "" {
		writeJSONError(w, http.StatusBadRequest, "Missing required parameters: prompt and image_url", "")
		return
	}

	result, err := h.generationService.Generate(r.Context(), &req)
	if err != nil {
		var upstream *services.UpstreamError
		if errors.As(err, &upstream) {
			writeJSONError(w, upstream.StatusCode, upstream.Error(), upstream.Detail)
			return
		}
		logger.LogEvent(logrus.ErrorLevel, "Generation call failed", logrus.Fields{
			"identifier": identity.Key,
			"error":      err.Error(),
		})
		writeJSONError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(generateResponse{
		Success: true,
		Data:    result,
	})
}

func writeJSONError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{
		Error:   message,
		Details: details,
	})
}
