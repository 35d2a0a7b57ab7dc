package services

import (
	"context"
	"errors"
	"time"

	"kurate-api/internal/config"
	"kurate-api/internal/logger"
	"kurate-api/internal/models"
	apperrors "kurate-api/internal/pkg/errors"
	"kurate-api/internal/repository"

	"github.com/sirupsen/logrus"
)

// QuotaService gates metered requests and answers the read-only entitlement
// query. Authorize mutates usage state; Status never does.
type QuotaService interface {
	Authorize(ctx context.Context, identity Identity, now time.Time) (Decision, error)
	Status(ctx context.Context, identity Identity, now time.Time) (Entitlement, error)
}

type quotaService struct {
	accounts repository.AccountRepository
	limits   *config.PlanLimitConfig
}

func NewQuotaService(accounts repository.AccountRepository, limits *config.PlanLimitConfig) QuotaService {
	return &quotaService{
		accounts: accounts,
		limits:   limits,
	}
}

func (s *quotaService) Authorize(ctx context.Context, identity Identity, now time.Time) (Decision, error) {
	var decision Decision

	err := s.accounts.Authorize(ctx, identity.Key, func(account *models.Account) (*repository.AdmissionUpdate, error) {
		decision = Evaluate(account, identity.Anonymous, now, s.limits)

		switch decision.Kind {
		case DecisionDeny:
			return nil, nil

		case DecisionCreateAndAllow:
			return &repository.AdmissionUpdate{Create: s.newAccount(identity)}, nil

		default:
			if account != nil && !knownStatus(account.SubscriptionStatus) {
				logger.LogEvent(logrus.WarnLevel, "Unrecognized subscription status admitted unmetered", logrus.Fields{
					"identifier": identity.Key,
					"status":     account.SubscriptionStatus,
				})
			}
			return &repository.AdmissionUpdate{UsedCount: decision.NewUsedCount}, nil
		}
	})
	if err != nil {
		return Decision{}, err
	}

	return decision, nil
}

func (s *quotaService) Status(ctx context.Context, identity Identity, now time.Time) (Entitlement, error) {
	if identity.Anonymous {
		return AnonymousEntitlement(), nil
	}

	account, err := s.accounts.GetByIdentifier(ctx, identity.Key)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return ResolveEntitlement(nil, now), nil
		}
		return Entitlement{}, err
	}

	return ResolveEntitlement(account, now), nil
}

func (s *quotaService) newAccount(identity Identity) *models.Account {
	name := identity.Name
	if identity.Anonymous {
		name = "Anonymous User"
	} else if name == "" {
		name = "Unknown User"
	}

	return &models.Account{
		Identifier:         identity.Key,
		Name:               name,
		SubscriptionStatus: string(models.StatusFree),
		UsedCount:          1,
	}
}

func knownStatus(status string) bool {
	switch models.SubscriptionStatus(status) {
	case models.StatusFree, models.StatusActive, models.StatusOnTrial, models.StatusPaid:
		return true
	}
	return false
}
