package services

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"treasury-service/internal/apperrors"
	"treasury-service/internal/authz"
	"treasury-service/internal/models"
	"treasury-service/internal/repositories"
)

// Listing limits shared by every paginated operation.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Page is a window over an ordered listing.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func normalizePage(limit, offset int) (int, int, error) {
	if limit < 0 || offset < 0 {
		return 0, 0, apperrors.Validation("limit and offset must not be negative")
	}
	if limit == 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return limit, offset, nil
}

func emptyPage[T any](limit, offset int) *Page[T] {
	return &Page[T]{Items: []T{}, Limit: limit, Offset: offset}
}

// lookupErr turns a repository read error into the service taxonomy.
func lookupErr(entity string, id int64, op string, err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return apperrors.NotFound(entity, id)
	}
	return apperrors.Wrap(op, err)
}

func writeAudit(ctx context.Context, tx repositories.Store, entity string, id int64, action string, p *authz.Principal, details map[string]any) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return apperrors.Internal("encode audit details", err)
	}
	entry := &models.AuditEntry{
		EntityType: entity,
		EntityID:   id,
		Action:     action,
		Details:    raw,
		UserID:     p.ID,
	}
	if err := tx.Audit().Insert(ctx, entry); err != nil {
		return apperrors.Internal("write audit entry", err)
	}
	return nil
}

// lockFunds takes the row locks of every fund in ascending id order.
func lockFunds(ctx context.Context, tx repositories.Store, ids ...int64) (map[int64]*models.Fund, error) {
	ordered := slices.Clone(ids)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	funds := make(map[int64]*models.Fund, len(ordered))
	for _, id := range ordered {
		f, err := tx.Funds().GetForUpdate(ctx, id)
		if err != nil {
			return nil, lookupErr("fund", id, "lock fund", err)
		}
		funds[id] = f
	}
	return funds, nil
}

func int64Ptr(v int64) *int64 {
	return &v
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func clock() time.Time {
	return time.Now().UTC()
}

func isNotFound(err error) bool {
	return errors.Is(err, repositories.ErrNotFound)
}
