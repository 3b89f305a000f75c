package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"treasury-service/internal/apperrors"
	"treasury-service/internal/authz"
	"treasury-service/internal/models"
	"treasury-service/internal/repositories"
)

// SeparationPolicy decides who may approve a fund event relative to the
// principal that submitted it.
type SeparationPolicy string

const (
	// SeparationNone lets anyone holding the approve permission approve.
	SeparationNone SeparationPolicy = "none"
	// SeparationDistinctPrincipal forbids approving one's own submission.
	SeparationDistinctPrincipal SeparationPolicy = "distinct_principal"
	// SeparationHigherTier additionally requires the approver's role level
	// to be above the submitter's level at submission time.
	SeparationHigherTier SeparationPolicy = "higher_tier"
)

// ReasonSeparationOfDuties is the authorization code for approvals refused
// by the separation policy.
const ReasonSeparationOfDuties = "separation_of_duties"

func ParseSeparationPolicy(s string) (SeparationPolicy, error) {
	switch p := SeparationPolicy(strings.TrimSpace(s)); p {
	case SeparationNone, SeparationDistinctPrincipal, SeparationHigherTier:
		return p, nil
	case "":
		return SeparationDistinctPrincipal, nil
	}
	return "", fmt.Errorf("unknown separation of duties policy %q", s)
}

type FundEventService struct {
	store      repositories.Store
	resolver   *authz.Resolver
	ledger     *LedgerService
	separation SeparationPolicy
	logger     *zap.Logger
}

func NewFundEventService(store repositories.Store, resolver *authz.Resolver, ledger *LedgerService, separation SeparationPolicy, logger *zap.Logger) *FundEventService {
	return &FundEventService{
		store:      store,
		resolver:   resolver,
		ledger:     ledger,
		separation: separation,
		logger:     logger.Named("fund_events"),
	}
}

type FundEventInput struct {
	FundID      int64     `json:"fund_id"`
	ChurchID    *int64    `json:"church_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	EventDate   time.Time `json:"event_date"`
}

func (in FundEventInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperrors.Validation("name is required")
	}
	if in.EventDate.IsZero() {
		return apperrors.Validation("event_date is required")
	}
	return nil
}

type LineItemInput struct {
	Type        models.LineItemType `json:"type"`
	Description string              `json:"description"`
	Amount      int64               `json:"amount"`
	Notes       string              `json:"notes"`
}

func (in LineItemInput) validate() error {
	if in.Type != models.LineIncome && in.Type != models.LineExpense {
		return apperrors.Validation("line item type must be income or expense")
	}
	if strings.TrimSpace(in.Description) == "" {
		return apperrors.Validation("description is required")
	}
	if in.Amount <= 0 {
		return apperrors.Validation("amount must be positive")
	}
	return nil
}

func validStage(stage models.LineItemStage) error {
	if stage != models.StageBudget && stage != models.StageActual {
		return apperrors.Validation("unknown line item stage %q", stage)
	}
	return nil
}

func eventTarget(e *models.FundEvent) authz.Target {
	return authz.Target{ChurchID: deref(e.ChurchID), FundID: e.FundID}
}

func (s *FundEventService) loadForUpdate(ctx context.Context, tx repositories.Store, p *authz.Principal, act authz.Action, id int64) (*models.FundEvent, error) {
	ev, err := tx.FundEvents().GetForUpdate(ctx, id)
	if err != nil {
		return nil, lookupErr("fund event", id, "get fund event", err)
	}
	if _, err := s.resolver.Authorize(p, authz.ResourceFundEvents, act, eventTarget(ev)); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *FundEventService) Create(ctx context.Context, p *authz.Principal, in FundEventInput) (*models.FundEvent, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceFundEvents, authz.ActionCreate, authz.Target{ChurchID: deref(in.ChurchID), FundID: in.FundID}); err != nil {
		return nil, err
	}
	if in.FundID <= 0 {
		return nil, apperrors.Validation("fund_id is required")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	ev := &models.FundEvent{
		FundID:      in.FundID,
		ChurchID:    in.ChurchID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		EventDate:   in.EventDate,
		Status:      models.EventDraft,
		CreatedBy:   p.ID,
	}
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		fund, err := tx.Funds().GetByID(ctx, in.FundID)
		if err != nil {
			return lookupErr("fund", in.FundID, "get fund", err)
		}
		if !fund.Active {
			return apperrors.DomainState("fund %d is archived", fund.ID)
		}
		if in.ChurchID != nil {
			if _, err := tx.Churches().GetByID(ctx, *in.ChurchID); err != nil {
				return lookupErr("church", *in.ChurchID, "get church", err)
			}
		}
		if err := tx.FundEvents().Insert(ctx, ev); err != nil {
			return apperrors.Internal("insert fund event", err)
		}
		return writeAudit(ctx, tx, models.EntityFundEvent, ev.ID, models.AuditActionCreated, p, map[string]any{
			"fund_id": ev.FundID,
			"name":    ev.Name,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("fund event created", zap.Int64("event_id", ev.ID), zap.Int64("fund_id", ev.FundID))
	return ev, nil
}

// Update changes the details of an editable event. The fund is fixed.
func (s *FundEventService) Update(ctx context.Context, p *authz.Principal, id int64, in FundEventInput) (*models.FundEvent, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceFundEvents, authz.ActionUpdate, authz.Target{}); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	var ev *models.FundEvent
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		var err error
		ev, err = s.loadForUpdate(ctx, tx, p, authz.ActionUpdate, id)
		if err != nil {
			return err
		}
		if !ev.Editable() {
			return apperrors.DomainState("fund event %d is %s and can no longer be edited", id, ev.Status)
		}
		if in.FundID != 0 && in.FundID != ev.FundID {
			return apperrors.Validation("the fund of an event cannot change")
		}
		ev.Name = strings.TrimSpace(in.Name)
		ev.Description = in.Description
		ev.EventDate = in.EventDate
		if err := tx.FundEvents().Update(ctx, ev); err != nil {
			return apperrors.Internal("update fund event", err)
		}
		return writeAudit(ctx, tx, models.EntityFundEvent, id, models.AuditActionUpdated, p, map[string]any{
			"name": ev.Name,
		})
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// Submit records the submitter and their role level for the separation
// of duties check at approval.
func (s *FundEventService) Submit(ctx context.Context, p *authz.Principal, id int64) (*models.FundEvent, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceFundEvents, authz.ActionSubmit, authz.Target{}); err != nil {
		return nil, err
	}

	var ev *models.FundEvent
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		var err error
		ev, err = s.loadForUpdate(ctx, tx, p, authz.ActionSubmit, id)
		if err != nil {
			return err
		}
		if !ev.Editable() {
			return apperrors.DomainState("fund event %d is %s and cannot be submitted", id, ev.Status)
		}
		now := clock()
		ev.Status = models.EventSubmitted
		ev.SubmittedBy = p.ID
		ev.SubmitterLevel = s.resolver.Level(p.Role)
		ev.SubmittedAt = &now
		if err := tx.FundEvents().Update(ctx, ev); err != nil {
			return apperrors.Internal("submit fund event", err)
		}
		return writeAudit(ctx, tx, models.EntityFundEvent, id, models.AuditActionSubmitted, p, nil)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("fund event submitted", zap.Int64("event_id", id), zap.String("user_id", p.ID))
	return ev, nil
}

func (s *FundEventService) checkSeparation(p *authz.Principal, ev *models.FundEvent) error {
	switch s.separation {
	case SeparationNone:
		return nil
	case SeparationHigherTier:
		if p.ID != ev.SubmittedBy && s.resolver.Level(p.Role) > ev.SubmitterLevel {
			return nil
		}
		return apperrors.Authorization(ReasonSeparationOfDuties,
			"fund events must be approved by a different principal of a higher tier than the submitter")
	default:
		if p.ID != ev.SubmittedBy {
			return nil
		}
		return apperrors.Authorization(ReasonSeparationOfDuties, "a fund event cannot be approved by its submitter")
	}
}

// Approve posts the actual line items of a submitted event into its fund:
// one income entry and one expense entry, each only when non-zero. The
// balance is checked under the fund lock; on failure nothing changes.
func (s *FundEventService) Approve(ctx context.Context, p *authz.Principal, id int64) (*models.FundEvent, error) {
	filter, err := s.resolver.Authorize(p, authz.ResourceFundEvents, authz.ActionApprove, authz.Target{})
	if err != nil {
		return nil, err
	}
	// Approval posts to the fund, so the grant must reach funds, not churches.
	if filter.Scope == authz.ScopeOwn {
		return nil, apperrors.Authorization(authz.ReasonOutOfScope, "fund event approval requires an all or assigned scope")
	}

	var (
		ev     *models.FundEvent
		totals models.Totals
	)
	err = s.store.WithinTx(ctx, func(tx repositories.Store) error {
		var err error
		ev, err = s.loadForUpdate(ctx, tx, p, authz.ActionApprove, id)
		if err != nil {
			return err
		}
		if ev.Status != models.EventSubmitted {
			return apperrors.DomainState("fund event %d is %s, only submitted events can be approved", id, ev.Status)
		}
		if err := s.checkSeparation(p, ev); err != nil {
			return err
		}

		fund, err := tx.Funds().GetForUpdate(ctx, ev.FundID)
		if err != nil {
			return lookupErr("fund", ev.FundID, "lock fund", err)
		}
		actuals, err := tx.FundEvents().ListLineItems(ctx, id, models.StageActual)
		if err != nil {
			return apperrors.Internal("list actual items", err)
		}
		totals = models.SumByType(actuals)
		if fund.CurrentBalance+totals.Net() < 0 {
			return apperrors.InsufficientFunds(fund.ID, fund.CurrentBalance, totals.Expense)
		}

		base := Posting{
			FundID:      ev.FundID,
			Date:        ev.EventDate,
			ChurchID:    ev.ChurchID,
			FundEventID: int64Ptr(ev.ID),
			CreatedBy:   p.ID,
		}
		if totals.Income > 0 {
			income := base
			income.Concept = fmt.Sprintf("Event %q income", ev.Name)
			income.AmountIn = totals.Income
			if _, err := s.ledger.Post(ctx, tx, income); err != nil {
				return err
			}
		}
		if totals.Expense > 0 {
			expense := base
			expense.Concept = fmt.Sprintf("Event %q expenses", ev.Name)
			expense.AmountOut = totals.Expense
			if _, err := s.ledger.Post(ctx, tx, expense); err != nil {
				return err
			}
		}

		now := clock()
		ev.Status = models.EventApproved
		ev.ApprovedBy = p.ID
		ev.ApprovedAt = &now
		if err := tx.FundEvents().Update(ctx, ev); err != nil {
			return apperrors.Internal("approve fund event", err)
		}
		return writeAudit(ctx, tx, models.EntityFundEvent, id, models.AuditActionApproved, p, map[string]any{
			"income":  totals.Income,
			"expense": totals.Expense,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("fund event approved",
		zap.Int64("event_id", id),
		zap.Int64("fund_id", ev.FundID),
		zap.Int64("income", totals.Income),
		zap.Int64("expense", totals.Expense),
		zap.String("user_id", p.ID),
	)
	return ev, nil
}

// Reject closes a submitted event with a reason. Rejected events stay
// editable and can be submitted again.
func (s *FundEventService) Reject(ctx context.Context, p *authz.Principal, id int64, reason string) (*models.FundEvent, error) {
	return s.sendBack(ctx, p, id, reason, models.EventRejected)
}

// RequestRevision returns a submitted event to its submitter with notes.
func (s *FundEventService) RequestRevision(ctx context.Context, p *authz.Principal, id int64, notes string) (*models.FundEvent, error) {
	return s.sendBack(ctx, p, id, notes, models.EventPendingRevision)
}

func (s *FundEventService) sendBack(ctx context.Context, p *authz.Principal, id int64, text string, status models.FundEventStatus) (*models.FundEvent, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceFundEvents, authz.ActionReject, authz.Target{}); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.Validation("a reason is required")
	}

	action := models.AuditActionRejected
	if status == models.EventPendingRevision {
		action = models.AuditActionRevision
	}

	var ev *models.FundEvent
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		var err error
		ev, err = s.loadForUpdate(ctx, tx, p, authz.ActionReject, id)
		if err != nil {
			return err
		}
		if ev.Status != models.EventSubmitted {
			return apperrors.DomainState("fund event %d is %s, only submitted events can be sent back", id, ev.Status)
		}
		ev.Status = status
		if status == models.EventRejected {
			ev.RejectionReason = text
		} else {
			ev.RevisionNotes = text
		}
		if err := tx.FundEvents().Update(ctx, ev); err != nil {
			return apperrors.Internal("update fund event", err)
		}
		return writeAudit(ctx, tx, models.EntityFundEvent, id, action, p, map[string]any{
			"reason": text,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("fund event sent back", zap.Int64("event_id", id), zap.String("status", string(status)))
	return ev, nil
}

func (s *FundEventService) Delete(ctx context.Context, p *authz.Principal, id int64) error {
	if _, err := s.resolver.Authorize(p, authz.ResourceFundEvents, authz.ActionDelete, authz.Target{}); err != nil {
		return err
	}
	return s.store.WithinTx(ctx, func(tx repositories.Store) error {
		ev, err := s.loadForUpdate(ctx, tx, p, authz.ActionDelete, id)
		if err != nil {
			return err
		}
		if ev.Status == models.EventApproved {
			return apperrors.DomainState("fund event %d is approved and cannot be deleted", id)
		}
		if err := tx.FundEvents().Delete(ctx, id); err != nil {
			return lookupErr("fund event", id, "delete fund event", err)
		}
		return writeAudit(ctx, tx, models.EntityFundEvent, id, models.AuditActionDeleted, p, map[string]any{
			"fund_id": ev.FundID,
			"name":    ev.Name,
		})
	})
}

// EventList is a page of events plus per-status counts over the whole
// visible set.
type EventList struct {
	Page[*models.FundEvent]
	Counts map[models.FundEventStatus]int `json:"counts"`
}

func (s *FundEventService) List(ctx context.Context, p *authz.Principal, q models.FundEventQuery) (*EventList, error) {
	filter, err := s.resolver.Authorize(p, authz.ResourceFundEvents, authz.ActionRead, authz.Target{})
	if err != nil {
		return nil, err
	}
	q.Limit, q.Offset, err = normalizePage(q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}

	out := &EventList{Counts: map[models.FundEventStatus]int{}}
	for _, st := range models.AllEventStatuses {
		out.Counts[st] = 0
	}
	if filter.Empty() {
		out.Page = *emptyPage[*models.FundEvent](q.Limit, q.Offset)
		return out, nil
	}

	items, total, err := s.store.FundEvents().List(ctx, q, filter)
	if err != nil {
		return nil, apperrors.Internal("list fund events", err)
	}
	counts, err := s.store.FundEvents().CountByStatus(ctx, filter)
	if err != nil {
		return nil, apperrors.Internal("count fund events", err)
	}
	out.Page = Page[*models.FundEvent]{Items: items, Total: total, Limit: q.Limit, Offset: q.Offset}
	for st, n := range counts {
		out.Counts[st] = n
	}
	return out, nil
}

type EventDetail struct {
	*models.FundEvent
	Budget       []*models.LineItem `json:"budget"`
	Actuals      []*models.LineItem `json:"actuals"`
	BudgetTotals models.Totals      `json:"budget_totals"`
	ActualTotals models.Totals      `json:"actual_totals"`
}

func (s *FundEventService) get(ctx context.Context, p *authz.Principal, id int64) (*models.FundEvent, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceFundEvents, authz.ActionRead, authz.Target{}); err != nil {
		return nil, err
	}
	ev, err := s.store.FundEvents().GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr("fund event", id, "get fund event", err)
	}
	if _, err := s.resolver.Authorize(p, authz.ResourceFundEvents, authz.ActionRead, eventTarget(ev)); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *FundEventService) items(ctx context.Context, id int64) (budget, actuals []*models.LineItem, err error) {
	budget, err = s.store.FundEvents().ListLineItems(ctx, id, models.StageBudget)
	if err != nil {
		return nil, nil, apperrors.Internal("list budget items", err)
	}
	actuals, err = s.store.FundEvents().ListLineItems(ctx, id, models.StageActual)
	if err != nil {
		return nil, nil, apperrors.Internal("list actual items", err)
	}
	return budget, actuals, nil
}

func (s *FundEventService) Get(ctx context.Context, p *authz.Principal, id int64) (*EventDetail, error) {
	ev, err := s.get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	budget, actuals, err := s.items(ctx, id)
	if err != nil {
		return nil, err
	}
	return &EventDetail{
		FundEvent:    ev,
		Budget:       budget,
		Actuals:      actuals,
		BudgetTotals: models.SumByType(budget),
		ActualTotals: models.SumByType(actuals),
	}, nil
}

// Variance compares planned and actual totals per line type.
func (s *FundEventService) Variance(ctx context.Context, p *authz.Principal, id int64) ([]models.Variance, error) {
	if _, err := s.get(ctx, p, id); err != nil {
		return nil, err
	}
	budget, actuals, err := s.items(ctx, id)
	if err != nil {
		return nil, err
	}
	planned, actual := models.SumByType(budget), models.SumByType(actuals)
	return []models.Variance{
		{Type: models.LineIncome, Planned: planned.Income, Actual: actual.Income, Delta: actual.Income - planned.Income},
		{Type: models.LineExpense, Planned: planned.Expense, Actual: actual.Expense, Delta: actual.Expense - planned.Expense},
	}, nil
}

// editItems runs fn with the event locked and checked for edit rights.
func (s *FundEventService) editItems(ctx context.Context, p *authz.Principal, eventID int64, fn func(tx repositories.Store, ev *models.FundEvent) error) error {
	if _, err := s.resolver.Authorize(p, authz.ResourceFundEvents, authz.ActionUpdate, authz.Target{}); err != nil {
		return err
	}
	return s.store.WithinTx(ctx, func(tx repositories.Store) error {
		ev, err := s.loadForUpdate(ctx, tx, p, authz.ActionUpdate, eventID)
		if err != nil {
			return err
		}
		if !ev.Editable() {
			return apperrors.DomainState("fund event %d is %s and its line items are frozen", eventID, ev.Status)
		}
		return fn(tx, ev)
	})
}

func (s *FundEventService) lineItem(ctx context.Context, tx repositories.Store, eventID int64, stage models.LineItemStage, itemID int64) (*models.LineItem, error) {
	item, err := tx.FundEvents().GetLineItem(ctx, stage, itemID)
	if err != nil {
		return nil, lookupErr(string(stage)+" item", itemID, "get line item", err)
	}
	if item.EventID != eventID {
		return nil, apperrors.NotFound(string(stage)+" item", itemID)
	}
	item.Stage = stage
	return item, nil
}

func (s *FundEventService) AddLineItem(ctx context.Context, p *authz.Principal, eventID int64, stage models.LineItemStage, in LineItemInput) (*models.LineItem, error) {
	if err := validStage(stage); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	item := &models.LineItem{
		EventID:     eventID,
		Stage:       stage,
		Type:        in.Type,
		Description: strings.TrimSpace(in.Description),
		Amount:      in.Amount,
		Notes:       in.Notes,
	}
	err := s.editItems(ctx, p, eventID, func(tx repositories.Store, _ *models.FundEvent) error {
		if err := tx.FundEvents().InsertLineItem(ctx, item); err != nil {
			return apperrors.Internal("insert line item", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *FundEventService) UpdateLineItem(ctx context.Context, p *authz.Principal, eventID int64, stage models.LineItemStage, itemID int64, in LineItemInput) (*models.LineItem, error) {
	if err := validStage(stage); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	var item *models.LineItem
	err := s.editItems(ctx, p, eventID, func(tx repositories.Store, _ *models.FundEvent) error {
		var err error
		item, err = s.lineItem(ctx, tx, eventID, stage, itemID)
		if err != nil {
			return err
		}
		item.Type = in.Type
		item.Description = strings.TrimSpace(in.Description)
		item.Amount = in.Amount
		item.Notes = in.Notes
		if err := tx.FundEvents().UpdateLineItem(ctx, item); err != nil {
			return apperrors.Internal("update line item", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *FundEventService) DeleteLineItem(ctx context.Context, p *authz.Principal, eventID int64, stage models.LineItemStage, itemID int64) error {
	if err := validStage(stage); err != nil {
		return err
	}
	return s.editItems(ctx, p, eventID, func(tx repositories.Store, _ *models.FundEvent) error {
		if _, err := s.lineItem(ctx, tx, eventID, stage, itemID); err != nil {
			return err
		}
		if err := tx.FundEvents().DeleteLineItem(ctx, stage, itemID); err != nil {
			return lookupErr(string(stage)+" item", itemID, "delete line item", err)
		}
		return nil
	})
}
