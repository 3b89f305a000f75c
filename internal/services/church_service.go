package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"treasury-service/internal/apperrors"
	"treasury-service/internal/authz"
	"treasury-service/internal/models"
	"treasury-service/internal/repositories"
)

// ChurchService exposes the tenants that own reports and local postings.
type ChurchService struct {
	store    repositories.Store
	resolver *authz.Resolver
	logger   *zap.Logger
}

func NewChurchService(store repositories.Store, resolver *authz.Resolver, logger *zap.Logger) *ChurchService {
	return &ChurchService{store: store, resolver: resolver, logger: logger.Named("churches")}
}

type ChurchInput struct {
	Name   string `json:"name"`
	City   string `json:"city"`
	Pastor string `json:"pastor"`
}

func (s *ChurchService) List(ctx context.Context, p *authz.Principal) ([]*models.Church, error) {
	filter, err := s.resolver.Authorize(p, authz.ResourceChurches, authz.ActionRead, authz.Target{})
	if err != nil {
		return nil, err
	}
	if filter.Empty() {
		return []*models.Church{}, nil
	}
	churches, err := s.store.Churches().List(ctx, filter)
	if err != nil {
		return nil, apperrors.Internal("list churches", err)
	}
	return churches, nil
}

func (s *ChurchService) Get(ctx context.Context, p *authz.Principal, id int64) (*models.Church, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceChurches, authz.ActionRead, authz.Target{ChurchID: id}); err != nil {
		return nil, err
	}
	c, err := s.store.Churches().GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr("church", id, "get church", err)
	}
	return c, nil
}

func (s *ChurchService) Create(ctx context.Context, p *authz.Principal, in ChurchInput) (*models.Church, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceChurches, authz.ActionCreate, authz.Target{}); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperrors.Validation("name is required")
	}
	c := &models.Church{
		Name:   strings.TrimSpace(in.Name),
		City:   strings.TrimSpace(in.City),
		Pastor: strings.TrimSpace(in.Pastor),
		Active: true,
	}
	if err := s.store.Churches().Insert(ctx, c); err != nil {
		return nil, apperrors.Internal("insert church", err)
	}
	s.logger.Info("church created", zap.Int64("church_id", c.ID), zap.String("user_id", p.ID))
	return c, nil
}
