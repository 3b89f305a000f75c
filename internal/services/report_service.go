package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"treasury-service/internal/apperrors"
	"treasury-service/internal/authz"
	"treasury-service/internal/matching"
	"treasury-service/internal/models"
	"treasury-service/internal/repositories"
)

// ReportPolicy holds the approval settings of the monthly report workflow.
type ReportPolicy struct {
	NationalFundID       int64
	ContributorTolerance int64
	DepositTolerance     int64
}

type ReportService struct {
	store    repositories.Store
	resolver *authz.Resolver
	ledger   *LedgerService
	policy   ReportPolicy
	logger   *zap.Logger
}

func NewReportService(store repositories.Store, resolver *authz.Resolver, ledger *LedgerService, policy ReportPolicy, logger *zap.Logger) *ReportService {
	return &ReportService{
		store:    store,
		resolver: resolver,
		ledger:   ledger,
		policy:   policy,
		logger:   logger.Named("reports"),
	}
}

// ReportInput carries the raw declared figures. Computed fields are never
// accepted from callers.
type ReportInput struct {
	ChurchID        int64                     `json:"church_id"`
	Month           int                       `json:"month"`
	Year            int                       `json:"year"`
	Tithes          int64                     `json:"tithes"`
	Offerings       int64                     `json:"offerings"`
	OtherIncome     int64                     `json:"other_income"`
	Designated      []models.DesignatedAmount `json:"designated"`
	Expenses        []models.ExpenseAmount    `json:"expenses"`
	DepositReceipt  string                    `json:"deposit_receipt"`
	DepositDate     *time.Time                `json:"deposit_date"`
	DepositedAmount int64                     `json:"deposited_amount"`
	Observations    string                    `json:"observations"`
}

func (in ReportInput) validatePeriod() error {
	if in.ChurchID <= 0 {
		return apperrors.Validation("church_id is required")
	}
	if in.Month < 1 || in.Month > 12 {
		return apperrors.Validation("month must be between 1 and 12")
	}
	if in.Year < 2000 || in.Year > 2100 {
		return apperrors.Validation("year %d is out of range", in.Year)
	}
	return nil
}

func (in ReportInput) validateFigures() error {
	if in.Tithes < 0 || in.Offerings < 0 || in.OtherIncome < 0 || in.DepositedAmount < 0 {
		return apperrors.Validation("declared amounts must not be negative")
	}
	seen := make(map[int64]bool, len(in.Designated))
	for _, d := range in.Designated {
		if d.FundID <= 0 {
			return apperrors.Validation("designated amounts need a fund_id")
		}
		if d.Amount < 0 {
			return apperrors.Validation("designated amount for fund %d is negative", d.FundID)
		}
		if seen[d.FundID] {
			return apperrors.Validation("fund %d is designated twice", d.FundID)
		}
		seen[d.FundID] = true
	}
	for _, e := range in.Expenses {
		if strings.TrimSpace(e.Category) == "" {
			return apperrors.Validation("expense category is required")
		}
		if e.Amount < 0 {
			return apperrors.Validation("expense %q is negative", e.Category)
		}
	}
	return nil
}

// apply copies the raw figures onto r and recomputes it.
func (in ReportInput) apply(r *models.MonthlyReport) {
	r.Tithes = in.Tithes
	r.Offerings = in.Offerings
	r.OtherIncome = in.OtherIncome
	r.Designated = slices.Clone(in.Designated)
	r.Expenses = slices.Clone(in.Expenses)
	r.DepositReceipt = strings.TrimSpace(in.DepositReceipt)
	r.DepositDate = in.DepositDate
	r.DepositedAmount = in.DepositedAmount
	r.Observations = in.Observations
	r.Recompute()
}

func (s *ReportService) checkDesignatedFunds(ctx context.Context, tx repositories.Store, designated []models.DesignatedAmount) error {
	for _, d := range designated {
		fund, err := tx.Funds().GetByID(ctx, d.FundID)
		if isNotFound(err) {
			return apperrors.Validation("designated fund %d does not exist", d.FundID)
		}
		if err != nil {
			return apperrors.Internal("get designated fund", err)
		}
		if !fund.Active {
			return apperrors.Validation("designated fund %d is archived", d.FundID)
		}
	}
	return nil
}

func reportTarget(r *models.MonthlyReport) authz.Target {
	return authz.Target{ChurchID: r.ChurchID}
}

// loadForUpdate locks the report inside tx and checks the principal may
// perform act on its church.
func (s *ReportService) loadForUpdate(ctx context.Context, tx repositories.Store, p *authz.Principal, act authz.Action, id int64) (*models.MonthlyReport, error) {
	rep, err := tx.Reports().GetForUpdate(ctx, id)
	if err != nil {
		return nil, lookupErr("report", id, "get report", err)
	}
	if _, err := s.resolver.Authorize(p, authz.ResourceReports, act, reportTarget(rep)); err != nil {
		return nil, err
	}
	return rep, nil
}

// Create opens a draft report for a church's month. A second report for the
// same period is a conflict, including when two callers race.
func (s *ReportService) Create(ctx context.Context, p *authz.Principal, in ReportInput) (*models.MonthlyReport, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceReports, authz.ActionCreate, authz.Target{ChurchID: in.ChurchID}); err != nil {
		return nil, err
	}
	if err := in.validatePeriod(); err != nil {
		return nil, err
	}
	if err := in.validateFigures(); err != nil {
		return nil, err
	}

	rep := &models.MonthlyReport{
		ChurchID:  in.ChurchID,
		Month:     in.Month,
		Year:      in.Year,
		Status:    models.ReportDraft,
		CreatedBy: p.ID,
	}
	in.apply(rep)

	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		if _, err := tx.Churches().GetByID(ctx, in.ChurchID); err != nil {
			return lookupErr("church", in.ChurchID, "get church", err)
		}
		if err := s.checkDesignatedFunds(ctx, tx, in.Designated); err != nil {
			return err
		}
		if err := tx.Reports().Insert(ctx, rep); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return apperrors.Conflict("a report for church %d %02d/%d already exists", in.ChurchID, in.Month, in.Year)
			}
			return apperrors.Internal("insert report", err)
		}
		return writeAudit(ctx, tx, models.EntityReport, rep.ID, models.AuditActionCreated, p, map[string]any{
			"church_id": rep.ChurchID,
			"month":     rep.Month,
			"year":      rep.Year,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("report created",
		zap.Int64("report_id", rep.ID),
		zap.Int64("church_id", rep.ChurchID),
		zap.Int("month", rep.Month),
		zap.Int("year", rep.Year),
	)
	return rep, nil
}

// Update replaces the raw figures of an editable report. Church and period
// are fixed at creation. Editing a rejected report returns it to draft.
func (s *ReportService) Update(ctx context.Context, p *authz.Principal, id int64, in ReportInput) (*models.MonthlyReport, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceReports, authz.ActionUpdate, authz.Target{}); err != nil {
		return nil, err
	}
	if err := in.validateFigures(); err != nil {
		return nil, err
	}

	var rep *models.MonthlyReport
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		var err error
		rep, err = s.loadForUpdate(ctx, tx, p, authz.ActionUpdate, id)
		if err != nil {
			return err
		}
		if !rep.Editable() {
			return apperrors.DomainState("report %d is %s and can no longer be edited", id, rep.Status)
		}
		if (in.ChurchID != 0 && in.ChurchID != rep.ChurchID) ||
			(in.Month != 0 && in.Month != rep.Month) ||
			(in.Year != 0 && in.Year != rep.Year) {
			return apperrors.Validation("church and period of a report cannot change")
		}
		if err := s.checkDesignatedFunds(ctx, tx, in.Designated); err != nil {
			return err
		}

		previous := rep.Status
		in.apply(rep)
		rep.Status = models.ReportDraft
		if err := tx.Reports().Update(ctx, rep); err != nil {
			return apperrors.Internal("update report", err)
		}
		return writeAudit(ctx, tx, models.EntityReport, id, models.AuditActionUpdated, p, map[string]any{
			"previous_status":            previous,
			"national_fund_contribution": rep.NationalFundContribution,
			"total_income":               rep.TotalIncome,
		})
	})
	if err != nil {
		return nil, err
	}
	return rep, nil
}

type ContributorInput struct {
	Name     string `json:"name"`
	Document string `json:"document"`
	Amount   int64  `json:"amount"`
}

// SetContributors replaces the tithe contributor records of an editable report.
func (s *ReportService) SetContributors(ctx context.Context, p *authz.Principal, id int64, in []ContributorInput) ([]*models.Contributor, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceReports, authz.ActionUpdate, authz.Target{}); err != nil {
		return nil, err
	}
	contributors := make([]*models.Contributor, 0, len(in))
	for _, c := range in {
		if strings.TrimSpace(c.Name) == "" {
			return nil, apperrors.Validation("contributor name is required")
		}
		if c.Amount <= 0 {
			return nil, apperrors.Validation("contributor %q needs a positive amount", c.Name)
		}
		contributors = append(contributors, &models.Contributor{
			Name:     strings.TrimSpace(c.Name),
			Document: strings.TrimSpace(c.Document),
			Amount:   c.Amount,
		})
	}

	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		rep, err := s.loadForUpdate(ctx, tx, p, authz.ActionUpdate, id)
		if err != nil {
			return err
		}
		if !rep.Editable() {
			return apperrors.DomainState("report %d is %s and can no longer be edited", id, rep.Status)
		}
		if err := tx.Reports().ReplaceContributors(ctx, id, contributors); err != nil {
			return apperrors.Internal("replace contributors", err)
		}
		return writeAudit(ctx, tx, models.EntityReport, id, models.AuditActionUpdated, p, map[string]any{
			"contributors": len(contributors),
		})
	})
	if err != nil {
		return nil, err
	}
	return contributors, nil
}

// Submit hands a draft or rejected report over for approval.
func (s *ReportService) Submit(ctx context.Context, p *authz.Principal, id int64) (*models.MonthlyReport, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceReports, authz.ActionSubmit, authz.Target{}); err != nil {
		return nil, err
	}

	var rep *models.MonthlyReport
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		var err error
		rep, err = s.loadForUpdate(ctx, tx, p, authz.ActionSubmit, id)
		if err != nil {
			return err
		}
		if !rep.Editable() {
			return apperrors.DomainState("report %d is %s and cannot be submitted", id, rep.Status)
		}
		if !rep.HasIncome() {
			return apperrors.Validation("a report needs at least one positive income figure")
		}
		if rep.Tithes > 0 {
			contributors, err := tx.Reports().ListContributors(ctx, id)
			if err != nil {
				return apperrors.Internal("list contributors", err)
			}
			match := matching.ReconcileContributors(rep.Tithes, contributors, s.policy.ContributorTolerance)
			if !match.Matched {
				return apperrors.Validation("contributor records sum to %d but tithes declare %d", match.Declared, match.Expected)
			}
		}

		now := clock()
		rep.Status = models.ReportSubmitted
		rep.SubmittedBy = p.ID
		rep.SubmittedAt = &now
		rep.RejectionReason = ""
		if err := tx.Reports().Update(ctx, rep); err != nil {
			return apperrors.Internal("submit report", err)
		}
		return writeAudit(ctx, tx, models.EntityReport, id, models.AuditActionSubmitted, p, map[string]any{
			"remittance_due": rep.RemittanceDue(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("report submitted", zap.Int64("report_id", id), zap.String("user_id", p.ID))
	return rep, nil
}

// Approve checks the deposit evidence, posts the remitted amounts into the
// national fund and every designated fund, and freezes the report.
func (s *ReportService) Approve(ctx context.Context, p *authz.Principal, id int64) (*models.MonthlyReport, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceReports, authz.ActionApprove, authz.Target{}); err != nil {
		return nil, err
	}

	var (
		rep      *models.MonthlyReport
		postings []*models.Transaction
	)
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		var err error
		rep, err = s.loadForUpdate(ctx, tx, p, authz.ActionApprove, id)
		if err != nil {
			return err
		}
		if rep.Status != models.ReportSubmitted {
			return apperrors.DomainState("report %d is %s, only submitted reports can be approved", id, rep.Status)
		}
		match := matching.MatchDeposit(rep, s.policy.DepositTolerance)
		if !match.Matched {
			return apperrors.Validation("deposit evidence does not match the remittance due of %d: %s", match.Expected, match.Reason())
		}

		concept := fmt.Sprintf("Monthly report %02d/%d, church %d", rep.Month, rep.Year, rep.ChurchID)
		postings, err = s.postRemittance(ctx, tx, p, rep, rep.RemittanceByFund(s.policy.NationalFundID), concept)
		if err != nil {
			return err
		}

		now := clock()
		rep.Status = models.ReportApproved
		rep.ApprovedBy = p.ID
		rep.ApprovedAt = &now
		if err := tx.Reports().Update(ctx, rep); err != nil {
			return apperrors.Internal("approve report", err)
		}
		return writeAudit(ctx, tx, models.EntityReport, id, models.AuditActionApproved, p, map[string]any{
			"deposited_amount": rep.DepositedAmount,
			"remittance_due":   rep.RemittanceDue(),
			"postings":         len(postings),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("report approved",
		zap.Int64("report_id", id),
		zap.Int64("remitted", rep.RemittanceDue()),
		zap.Int("postings", len(postings)),
		zap.String("user_id", p.ID),
	)
	return rep, nil
}

// postRemittance posts one entry per fund in ascending fund order. Positive
// amounts are inflows, negative amounts reverse earlier inflows.
func (s *ReportService) postRemittance(ctx context.Context, tx repositories.Store, p *authz.Principal, rep *models.MonthlyReport, amounts map[int64]int64, concept string) ([]*models.Transaction, error) {
	fundIDs := slices.Sorted(maps.Keys(amounts))
	if _, err := lockFunds(ctx, tx, fundIDs...); err != nil {
		return nil, err
	}

	var out []*models.Transaction
	for _, fundID := range fundIDs {
		amount := amounts[fundID]
		if amount == 0 {
			continue
		}
		posting := Posting{
			FundID:    fundID,
			Concept:   concept,
			ChurchID:  int64Ptr(rep.ChurchID),
			ReportID:  int64Ptr(rep.ID),
			CreatedBy: p.ID,
		}
		if amount > 0 {
			posting.AmountIn = amount
		} else {
			posting.AmountOut = -amount
		}
		t, err := s.ledger.Post(ctx, tx, posting)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Reject sends a submitted report back to the church with a reason. Nothing
// is posted.
func (s *ReportService) Reject(ctx context.Context, p *authz.Principal, id int64, reason string) (*models.MonthlyReport, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceReports, authz.ActionReject, authz.Target{}); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.Validation("a rejection reason is required")
	}

	var rep *models.MonthlyReport
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		var err error
		rep, err = s.loadForUpdate(ctx, tx, p, authz.ActionReject, id)
		if err != nil {
			return err
		}
		if rep.Status != models.ReportSubmitted {
			return apperrors.DomainState("report %d is %s, only submitted reports can be rejected", id, rep.Status)
		}
		rep.Status = models.ReportRejected
		rep.RejectionReason = reason
		if err := tx.Reports().Update(ctx, rep); err != nil {
			return apperrors.Internal("reject report", err)
		}
		return writeAudit(ctx, tx, models.EntityReport, id, models.AuditActionRejected, p, map[string]any{
			"reason": reason,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("report rejected", zap.Int64("report_id", id), zap.String("user_id", p.ID))
	return rep, nil
}

// Override edits the raw figures of an approved report. Derived fields are
// recomputed and the change in remitted amounts is posted per fund as
// adjustment entries.
func (s *ReportService) Override(ctx context.Context, p *authz.Principal, id int64, in ReportInput) (*models.MonthlyReport, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceReports, authz.ActionOverride, authz.Target{}); err != nil {
		return nil, err
	}
	if err := in.validateFigures(); err != nil {
		return nil, err
	}

	var rep *models.MonthlyReport
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		var err error
		rep, err = s.loadForUpdate(ctx, tx, p, authz.ActionOverride, id)
		if err != nil {
			return err
		}
		if rep.Status != models.ReportApproved {
			return apperrors.DomainState("report %d is %s, only approved reports are overridden", id, rep.Status)
		}
		if err := s.checkDesignatedFunds(ctx, tx, in.Designated); err != nil {
			return err
		}

		before := rep.RemittanceByFund(s.policy.NationalFundID)
		previousDue := rep.RemittanceDue()
		in.apply(rep)
		after := rep.RemittanceByFund(s.policy.NationalFundID)

		deltas := make(map[int64]int64, len(before)+len(after))
		for fundID, amount := range after {
			deltas[fundID] += amount
		}
		for fundID, amount := range before {
			deltas[fundID] -= amount
		}

		concept := fmt.Sprintf("Adjustment to monthly report %02d/%d, church %d", rep.Month, rep.Year, rep.ChurchID)
		adjustments, err := s.postRemittance(ctx, tx, p, rep, deltas, concept)
		if err != nil {
			return err
		}
		if err := tx.Reports().Update(ctx, rep); err != nil {
			return apperrors.Internal("override report", err)
		}
		return writeAudit(ctx, tx, models.EntityReport, id, models.AuditActionOverridden, p, map[string]any{
			"previous_remittance": previousDue,
			"remittance":          rep.RemittanceDue(),
			"adjustments":         len(adjustments),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Warn("approved report overridden", zap.Int64("report_id", id), zap.String("user_id", p.ID))
	return rep, nil
}

// Delete removes a report that has not been approved.
func (s *ReportService) Delete(ctx context.Context, p *authz.Principal, id int64) error {
	if _, err := s.resolver.Authorize(p, authz.ResourceReports, authz.ActionDelete, authz.Target{}); err != nil {
		return err
	}
	return s.store.WithinTx(ctx, func(tx repositories.Store) error {
		rep, err := s.loadForUpdate(ctx, tx, p, authz.ActionDelete, id)
		if err != nil {
			return err
		}
		if rep.Status == models.ReportApproved {
			return apperrors.DomainState("report %d is approved and cannot be deleted", id)
		}
		if err := tx.Reports().Delete(ctx, id); err != nil {
			return lookupErr("report", id, "delete report", err)
		}
		return writeAudit(ctx, tx, models.EntityReport, id, models.AuditActionDeleted, p, map[string]any{
			"church_id": rep.ChurchID,
			"month":     rep.Month,
			"year":      rep.Year,
		})
	})
}

func (s *ReportService) List(ctx context.Context, p *authz.Principal, q models.ReportQuery) (*Page[*models.MonthlyReport], error) {
	filter, err := s.resolver.Authorize(p, authz.ResourceReports, authz.ActionRead, authz.Target{})
	if err != nil {
		return nil, err
	}
	q.Limit, q.Offset, err = normalizePage(q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	if filter.Empty() {
		return emptyPage[*models.MonthlyReport](q.Limit, q.Offset), nil
	}
	items, total, err := s.store.Reports().List(ctx, q, filter)
	if err != nil {
		return nil, apperrors.Internal("list reports", err)
	}
	return &Page[*models.MonthlyReport]{Items: items, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

// ReportDetail is a report together with its contributor records.
type ReportDetail struct {
	*models.MonthlyReport
	Contributors []*models.Contributor `json:"contributors"`
}

func (s *ReportService) Get(ctx context.Context, p *authz.Principal, id int64) (*ReportDetail, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceReports, authz.ActionRead, authz.Target{}); err != nil {
		return nil, err
	}
	rep, err := s.store.Reports().GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr("report", id, "get report", err)
	}
	if _, err := s.resolver.Authorize(p, authz.ResourceReports, authz.ActionRead, reportTarget(rep)); err != nil {
		return nil, err
	}
	contributors, err := s.store.Reports().ListContributors(ctx, id)
	if err != nil {
		return nil, apperrors.Internal("list contributors", err)
	}
	return &ReportDetail{MonthlyReport: rep, Contributors: contributors}, nil
}

// LastReport is the latest report of a church and the period that follows it.
type LastReport struct {
	Report    *models.MonthlyReport `json:"report"`
	NextMonth int                   `json:"next_month"`
	NextYear  int                   `json:"next_year"`
}

// LastForChurch returns the church's most recent report and the next period
// to report. A church without reports starts at the current month.
func (s *ReportService) LastForChurch(ctx context.Context, p *authz.Principal, churchID int64) (*LastReport, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceReports, authz.ActionRead, authz.Target{ChurchID: churchID}); err != nil {
		return nil, err
	}
	rep, err := s.store.Reports().LastForChurch(ctx, churchID)
	if isNotFound(err) {
		now := clock()
		return &LastReport{NextMonth: int(now.Month()), NextYear: now.Year()}, nil
	}
	if err != nil {
		return nil, apperrors.Internal("get last report", err)
	}
	month, year := models.NextPeriod(rep.Month, rep.Year)
	return &LastReport{Report: rep, NextMonth: month, NextYear: year}, nil
}
