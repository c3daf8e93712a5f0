package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	"github.com/smallbiznis/coursemart/internal/identity/domain"
	obslogger "github.com/smallbiznis/coursemart/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Config config.Config
	Tuning *config.TuningHolder
	Clock  clock.Clock
	Repo   domain.Repository
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	verifier *svixVerifier
}

func NewService(p Params) domain.Service {
	log := p.Log.Named("identity.service")
	key, err := DecodeSecret(p.Config.Identity.WebhookSecret)
	if err != nil {
		log.Warn("identity webhook secret unusable; identity webhooks will be rejected", zap.Error(err))
	}
	tuning := p.Tuning
	return &Service{
		db:    p.DB,
		log:   log,
		clock: p.Clock,
		repo:  p.Repo,
		verifier: &svixVerifier{
			key:       key,
			tolerance: func() time.Duration { return tuning.Get().Webhook.Tolerance },
			clock:     p.Clock,
		},
	}
}

type userEvent struct {
	Type string   `json:"type"`
	Data userData `json:"data"`
}

type userData struct {
	ID             string `json:"id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	ImageURL       string `json:"image_url"`
	EmailAddresses []struct {
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
	PublicMetadata struct {
		Role string `json:"role"`
	} `json:"public_metadata"`
}

func (d userData) email() string {
	if len(d.EmailAddresses) == 0 {
		return ""
	}
	return strings.TrimSpace(d.EmailAddresses[0].EmailAddress)
}

func (d userData) displayName() string {
	name := strings.TrimSpace(strings.TrimSpace(d.FirstName) + " " + strings.TrimSpace(d.LastName))
	if name == "" {
		return "Anonymous"
	}
	return name
}

func (s *Service) HandleWebhook(ctx context.Context, payload []byte, headers http.Header) (domain.EventResult, error) {
	log := obslogger.WithContext(ctx, s.log)

	msgID, err := s.verifier.verify(payload, headers)
	if err != nil {
		log.Warn("identity webhook rejected", zap.Error(err))
		return domain.EventResult{}, err
	}

	var evt userEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return domain.EventResult{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	evt.Type = strings.TrimSpace(evt.Type)
	if evt.Type == "" {
		return domain.EventResult{}, domain.ErrMalformedPayload
	}
	result := domain.EventResult{MessageID: msgID, Type: evt.Type, LearnerID: strings.TrimSpace(evt.Data.ID)}

	switch evt.Type {
	case domain.EventUserCreated, domain.EventUserUpdated, domain.EventUserDeleted:
		if result.LearnerID == "" {
			return domain.EventResult{}, domain.ErrMalformedPayload
		}
	default:
		log.Debug("identity event ignored", zap.String("type", evt.Type))
		return result, nil
	}

	now := s.clock.Now().UTC()
	switch evt.Type {
	case domain.EventUserCreated:
		err = s.repo.Upsert(ctx, s.db, s.learnerFrom(evt.Data, now))
		result.Applied = err == nil
	case domain.EventUserUpdated:
		result.Applied, err = s.update(ctx, s.learnerFrom(evt.Data, now))
	case domain.EventUserDeleted:
		result.Applied, err = s.repo.SoftDelete(ctx, s.db, result.LearnerID, now)
	}
	if err != nil {
		log.Error("identity event failed", zap.String("type", evt.Type), zap.String("learner_id", result.LearnerID), zap.Error(err))
		return domain.EventResult{}, err
	}

	log.Info("identity event processed",
		zap.String("type", evt.Type),
		zap.String("learner_id", result.LearnerID),
		zap.Bool("applied", result.Applied),
	)
	return result, nil
}

// update creates the learner when the update outran the create; deleted
// learners stay deleted.
func (s *Service) update(ctx context.Context, learner *domain.Learner) (bool, error) {
	var applied bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updated, err := s.repo.Update(ctx, tx, learner)
		if err != nil {
			return err
		}
		if updated {
			applied = true
			return nil
		}
		existing, err := s.repo.FindByID(ctx, tx, learner.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		if err := s.repo.Upsert(ctx, tx, learner); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

func (s *Service) learnerFrom(d userData, now time.Time) *domain.Learner {
	return &domain.Learner{
		ID:        strings.TrimSpace(d.ID),
		Email:     d.email(),
		Name:      d.displayName(),
		ImageURL:  strings.TrimSpace(d.ImageURL),
		Role:      domain.ParseRole(d.PublicMetadata.Role),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Service) GetLearner(ctx context.Context, id string) (*domain.Learner, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrLearnerNotFound
	}
	learner, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if !learner.Active() {
		return nil, domain.ErrLearnerNotFound
	}
	return learner, nil
}

func (s *Service) RoleOf(ctx context.Context, id string) (domain.Role, error) {
	learner, err := s.GetLearner(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrLearnerNotFound) {
			return "", err
		}
		return "", fmt.Errorf("resolve role: %w", err)
	}
	return domain.ParseRole(string(learner.Role)), nil
}
