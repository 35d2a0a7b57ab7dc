package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"kurate-api/internal/config"
	"kurate-api/internal/logger"
	"kurate-api/internal/services"

	"github.com/sirupsen/logrus"
)

// StatusHandler serves the read-only entitlement query used by the frontend
// to decide watermarking and tier display.
type StatusHandler struct {
	quotaService services.QuotaService
	cache        services.CacheService
	cacheTTL     time.Duration
}

func NewStatusHandler(quotaService services.QuotaService, cache services.CacheService, cacheCfg *config.CacheConfig) *StatusHandler {
	return &StatusHandler{
		quotaService: quotaService,
		cache:        cache,
		cacheTTL:     cacheCfg.DefaultTTL,
	}
}

type statusResponse struct {
	RequiresWatermark  bool    `json:"requiresWatermark"`
	UserType           string  `json:"userType"`
	SubscriptionStatus *string `json:"subscriptionStatus"`
}

func (h *StatusHandler) UserStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := services.IdentityFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	if !identity.Anonymous && h.cache != nil {
		if cached, err := h.cache.Get(r.Context(), services.StatusCacheKey(identity.Key)); err == nil && cached != "" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(cached))
			return
		}
	}

	entitlement, err := h.quotaService.Status(r.Context(), identity, time.Now())
	if err != nil {
		logger.LogEvent(logrus.ErrorLevel, "Entitlement query failed", logrus.Fields{
			"identifier": identity.Key,
			"error":      err.Error(),
		})
		writeJSONError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	resp := statusResponse{
		RequiresWatermark: entitlement.RequiresWatermark,
		UserType:          string(entitlement.Tier),
	}
	if entitlement.SubscriptionStatus != "" {
		status := entitlement.SubscriptionStatus
		resp.SubscriptionStatus = &status
	}

	if !identity.Anonymous && h.cache != nil {
		if err := h.cache.Set(r.Context(), services.StatusCacheKey(identity.Key), resp, h.cacheTTL); err != nil {
			logger.LogEvent(logrus.WarnLevel, "Failed to cache status response", logrus.Fields{
				"identifier": identity.Key,
				"error":      err.Error(),
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
