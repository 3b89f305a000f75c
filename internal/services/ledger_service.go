package services

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"treasury-service/internal/apperrors"
	"treasury-service/internal/authz"
	"treasury-service/internal/models"
	"treasury-service/internal/repositories"
)

const restrictedConcept = "Restricted entry"

// LedgerService is the only writer of fund balances. Workflows call Post
// inside their own transaction; everything else goes through the exported
// operations, which authorize the principal first.
type LedgerService struct {
	store    repositories.Store
	resolver *authz.Resolver
	logger   *zap.Logger
}

func NewLedgerService(store repositories.Store, resolver *authz.Resolver, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		store:    store,
		resolver: resolver,
		logger:   logger.Named("ledger"),
	}
}

// Posting is a single ledger entry to write.
type Posting struct {
	FundID         int64
	Date           time.Time
	Concept        string
	AmountIn       int64
	AmountOut      int64
	ChurchID       *int64
	ReportID       *int64
	FundEventID    *int64
	ProviderID     *int64
	DocumentNumber string
	TransferID     string
	BatchID        string
	CreatedBy      string
}

func validatePosting(p Posting) error {
	if p.FundID <= 0 {
		return apperrors.Validation("fund_id is required")
	}
	if p.AmountIn < 0 || p.AmountOut < 0 {
		return apperrors.Validation("amounts must not be negative")
	}
	if (p.AmountIn > 0) == (p.AmountOut > 0) {
		return apperrors.Validation("exactly one of amount_in and amount_out must be positive")
	}
	if strings.TrimSpace(p.Concept) == "" {
		return apperrors.Validation("concept is required")
	}
	return nil
}

// Post writes one entry against a fund inside tx. It locks the fund row,
// refuses a negative resulting balance, assigns the next sequence and
// updates the cached balance. A backdated entry re-sums the fund's
// snapshots so they stay in chronological order.
func (s *LedgerService) Post(ctx context.Context, tx repositories.Store, p Posting) (*models.Transaction, error) {
	if err := validatePosting(p); err != nil {
		return nil, err
	}

	fund, err := tx.Funds().GetForUpdate(ctx, p.FundID)
	if err != nil {
		return nil, lookupErr("fund", p.FundID, "lock fund", err)
	}
	if !fund.Active {
		return nil, apperrors.DomainState("fund %d is archived", fund.ID)
	}

	balance := fund.CurrentBalance + p.AmountIn - p.AmountOut
	if balance < 0 {
		return nil, apperrors.InsufficientFunds(fund.ID, fund.CurrentBalance, p.AmountOut)
	}

	seq, err := tx.Transactions().MaxSequence(ctx, fund.ID)
	if err != nil {
		return nil, apperrors.Internal("read fund sequence", err)
	}

	date := p.Date
	if date.IsZero() {
		date = clock()
	}
	latest, err := tx.Transactions().LatestDate(ctx, fund.ID)
	if err != nil {
		return nil, apperrors.Internal("read latest fund date", err)
	}
	backdated := latest != nil && date.Before(*latest)

	t := &models.Transaction{
		FundID:         fund.ID,
		Sequence:       seq + 1,
		Date:           date,
		Concept:        strings.TrimSpace(p.Concept),
		AmountIn:       p.AmountIn,
		AmountOut:      p.AmountOut,
		Balance:        balance,
		ChurchID:       p.ChurchID,
		ReportID:       p.ReportID,
		FundEventID:    p.FundEventID,
		ProviderID:     p.ProviderID,
		DocumentNumber: p.DocumentNumber,
		TransferID:     p.TransferID,
		BatchID:        p.BatchID,
		CreatedBy:      p.CreatedBy,
	}
	if err := tx.Transactions().Insert(ctx, t); err != nil {
		return nil, apperrors.Internal("insert transaction", err)
	}
	if err := tx.Funds().SetBalance(ctx, fund.ID, balance); err != nil {
		return nil, apperrors.Internal("update fund balance", err)
	}
	if !backdated {
		return t, nil
	}

	// Entries dated after this one now carry stale snapshots.
	if _, _, err := resum(ctx, tx, fund.ID); err != nil {
		return nil, err
	}
	t, err = tx.Transactions().GetByID(ctx, t.ID)
	if err != nil {
		return nil, apperrors.Internal("reload transaction", err)
	}
	return t, nil
}

// resum recomputes a fund's balance from scratch in (date, sequence) order,
// rewriting every running-balance snapshot that drifted. It returns the
// recomputed balance without storing it.
func resum(ctx context.Context, tx repositories.Store, fundID int64) (int64, int, error) {
	rows, err := tx.Transactions().ListByFund(ctx, fundID)
	if err != nil {
		return 0, 0, apperrors.Internal("list fund transactions", err)
	}
	sortChronologically(rows)

	var running int64
	rewritten := 0
	for _, t := range rows {
		running += t.Delta()
		if t.Balance == running {
			continue
		}
		if err := tx.Transactions().SetRunningBalance(ctx, t.ID, running); err != nil {
			return 0, 0, apperrors.Internal("rewrite running balance", err)
		}
		rewritten++
	}
	return running, rewritten, nil
}

func sortChronologically(rows []*models.Transaction) {
	slices.SortStableFunc(rows, func(a, b *models.Transaction) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.Sequence, b.Sequence)
	})
}

// Funds

type FundInput struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Description    string `json:"description"`
	OpeningBalance int64  `json:"opening_balance"`
}

func (in FundInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperrors.Validation("name is required")
	}
	if !models.ValidFundType(in.Type) {
		return apperrors.Validation("unknown fund type %q", in.Type)
	}
	if in.OpeningBalance < 0 {
		return apperrors.Validation("opening_balance must not be negative")
	}
	return nil
}

func (s *LedgerService) ListFunds(ctx context.Context, p *authz.Principal, includeInactive bool) ([]*models.Fund, error) {
	filter, err := s.resolver.Authorize(p, authz.ResourceFunds, authz.ActionRead, authz.Target{})
	if err != nil {
		return nil, err
	}
	if filter.Empty() {
		return []*models.Fund{}, nil
	}
	funds, err := s.store.Funds().List(ctx, filter, includeInactive)
	if err != nil {
		return nil, apperrors.Internal("list funds", err)
	}
	return funds, nil
}

func (s *LedgerService) GetFund(ctx context.Context, p *authz.Principal, id int64) (*models.Fund, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceFunds, authz.ActionRead, authz.Target{FundID: id}); err != nil {
		return nil, err
	}
	fund, err := s.store.Funds().GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr("fund", id, "get fund", err)
	}
	return fund, nil
}

// CreateFund creates an active fund. A positive opening balance is booked
// as the fund's first posting so the balance still equals its history.
func (s *LedgerService) CreateFund(ctx context.Context, p *authz.Principal, in FundInput) (*models.Fund, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceFunds, authz.ActionCreate, authz.Target{}); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	fund := &models.Fund{
		Name:        strings.TrimSpace(in.Name),
		Type:        in.Type,
		Description: in.Description,
		Active:      true,
		CreatedBy:   p.ID,
	}
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		if err := tx.Funds().Insert(ctx, fund); err != nil {
			return apperrors.Internal("insert fund", err)
		}
		if in.OpeningBalance > 0 {
			_, err := s.Post(ctx, tx, Posting{
				FundID:    fund.ID,
				Concept:   "Opening balance",
				AmountIn:  in.OpeningBalance,
				CreatedBy: p.ID,
			})
			if err != nil {
				return err
			}
			fund.CurrentBalance = in.OpeningBalance
		}
		return writeAudit(ctx, tx, models.EntityFund, fund.ID, models.AuditActionCreated, p, map[string]any{
			"name":            fund.Name,
			"type":            fund.Type,
			"opening_balance": in.OpeningBalance,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("fund created", zap.Int64("fund_id", fund.ID), zap.String("type", fund.Type), zap.String("user_id", p.ID))
	return fund, nil
}

// UpdateFund changes the descriptive fields of a fund. The balance and the
// active flag are not touched.
func (s *LedgerService) UpdateFund(ctx context.Context, p *authz.Principal, id int64, in FundInput) (*models.Fund, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceFunds, authz.ActionUpdate, authz.Target{FundID: id}); err != nil {
		return nil, err
	}
	in.OpeningBalance = 0
	if err := in.validate(); err != nil {
		return nil, err
	}

	var fund *models.Fund
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		var err error
		fund, err = tx.Funds().GetForUpdate(ctx, id)
		if err != nil {
			return lookupErr("fund", id, "get fund", err)
		}
		fund.Name = strings.TrimSpace(in.Name)
		fund.Type = in.Type
		fund.Description = in.Description
		if err := tx.Funds().Update(ctx, fund); err != nil {
			return apperrors.Internal("update fund", err)
		}
		return writeAudit(ctx, tx, models.EntityFund, id, models.AuditActionUpdated, p, map[string]any{
			"name": fund.Name,
			"type": fund.Type,
		})
	})
	if err != nil {
		return nil, err
	}
	return fund, nil
}

// ArchiveFund deactivates a fund. Archived funds keep their history but
// accept no further postings.
func (s *LedgerService) ArchiveFund(ctx context.Context, p *authz.Principal, id int64) (*models.Fund, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceFunds, authz.ActionArchive, authz.Target{FundID: id}); err != nil {
		return nil, err
	}

	var fund *models.Fund
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		var err error
		fund, err = tx.Funds().GetForUpdate(ctx, id)
		if err != nil {
			return lookupErr("fund", id, "get fund", err)
		}
		if !fund.Active {
			return apperrors.DomainState("fund %d is already archived", id)
		}
		fund.Active = false
		if err := tx.Funds().Update(ctx, fund); err != nil {
			return apperrors.Internal("archive fund", err)
		}
		return writeAudit(ctx, tx, models.EntityFund, id, models.AuditActionArchived, p, map[string]any{
			"balance": fund.CurrentBalance,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("fund archived", zap.Int64("fund_id", id), zap.String("user_id", p.ID))
	return fund, nil
}

// LedgerView is the balance history of a fund over a date range.
type LedgerView struct {
	Fund           *models.Fund          `json:"fund"`
	OpeningBalance int64                 `json:"opening_balance"`
	ClosingBalance int64                 `json:"closing_balance"`
	Entries        []*models.Transaction `json:"entries"`
}

// Ledger returns the fund's postings in chronological order with running
// balances recomputed from the full history. Stored snapshots are ignored.
// Entries outside the caller's transaction scope keep their amounts but lose
// every identifying field.
func (s *LedgerService) Ledger(ctx context.Context, p *authz.Principal, fundID int64, from, to *time.Time) (*LedgerView, error) {
	fund, err := s.GetFund(ctx, p, fundID)
	if err != nil {
		return nil, err
	}
	filter, err := s.resolver.Authorize(p, authz.ResourceTransactions, authz.ActionRead, authz.Target{})
	if err != nil {
		return nil, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, apperrors.Validation("date range end precedes its start")
	}

	rows, err := s.store.Transactions().ListByFund(ctx, fundID)
	if err != nil {
		return nil, apperrors.Internal("list fund transactions", err)
	}
	sortChronologically(rows)

	view := &LedgerView{Fund: fund, Entries: []*models.Transaction{}}
	var running int64
	for _, t := range rows {
		running += t.Delta()
		if from != nil && t.Date.Before(*from) {
			view.OpeningBalance = running
			continue
		}
		if to != nil && t.Date.After(*to) {
			continue
		}
		t.Balance = running
		if !filter.Covers(transactionTarget(t.ChurchID, t.FundID)) {
			t = redacted(t)
		}
		view.Entries = append(view.Entries, t)
	}
	view.ClosingBalance = view.OpeningBalance
	if n := len(view.Entries); n > 0 {
		view.ClosingBalance = view.Entries[n-1].Balance
	}
	return view, nil
}

// redacted keeps only the figures of an entry the caller may not read.
func redacted(t *models.Transaction) *models.Transaction {
	return &models.Transaction{
		FundID:    t.FundID,
		Sequence:  t.Sequence,
		Date:      t.Date,
		Concept:   restrictedConcept,
		AmountIn:  t.AmountIn,
		AmountOut: t.AmountOut,
		Balance:   t.Balance,
	}
}

type TransferInput struct {
	FromFundID int64     `json:"from_fund_id"`
	ToFundID   int64     `json:"to_fund_id"`
	Amount     int64     `json:"amount"`
	Date       time.Time `json:"date"`
	Concept    string    `json:"concept"`
}

type TransferResult struct {
	TransferID string              `json:"transfer_id"`
	Out        *models.Transaction `json:"out"`
	In         *models.Transaction `json:"in"`
}

// Transfer moves money between two funds as a pair of postings sharing a
// transfer id. Both funds are locked in ascending id order and the pair is
// written entirely or not at all.
func (s *LedgerService) Transfer(ctx context.Context, p *authz.Principal, in TransferInput) (*TransferResult, error) {
	for _, id := range []int64{in.FromFundID, in.ToFundID} {
		if _, err := s.resolver.Authorize(p, authz.ResourceFunds, authz.ActionTransfer, authz.Target{FundID: id}); err != nil {
			return nil, err
		}
	}
	if in.FromFundID <= 0 || in.ToFundID <= 0 {
		return nil, apperrors.Validation("from_fund_id and to_fund_id are required")
	}
	if in.FromFundID == in.ToFundID {
		return nil, apperrors.Validation("cannot transfer a fund to itself")
	}
	if in.Amount <= 0 {
		return nil, apperrors.Validation("amount must be positive")
	}
	concept := strings.TrimSpace(in.Concept)
	if concept == "" {
		concept = fmt.Sprintf("Transfer %d -> %d", in.FromFundID, in.ToFundID)
	}

	result := &TransferResult{TransferID: uuid.NewString()}
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		if _, err := lockFunds(ctx, tx, in.FromFundID, in.ToFundID); err != nil {
			return err
		}
		var err error
		result.Out, err = s.Post(ctx, tx, Posting{
			FundID:     in.FromFundID,
			Date:       in.Date,
			Concept:    concept,
			AmountOut:  in.Amount,
			TransferID: result.TransferID,
			CreatedBy:  p.ID,
		})
		if err != nil {
			return err
		}
		result.In, err = s.Post(ctx, tx, Posting{
			FundID:     in.ToFundID,
			Date:       in.Date,
			Concept:    concept,
			AmountIn:   in.Amount,
			TransferID: result.TransferID,
			CreatedBy:  p.ID,
		})
		if err != nil {
			return err
		}
		return writeAudit(ctx, tx, models.EntityFund, in.FromFundID, models.AuditActionTransfer, p, map[string]any{
			"transfer_id":  result.TransferID,
			"to_fund_id":   in.ToFundID,
			"amount":       in.Amount,
			"out_sequence": result.Out.Sequence,
			"in_sequence":  result.In.Sequence,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("transfer posted",
		zap.String("transfer_id", result.TransferID),
		zap.Int64("from_fund_id", in.FromFundID),
		zap.Int64("to_fund_id", in.ToFundID),
		zap.Int64("amount", in.Amount),
	)
	return result, nil
}

type ReconcileResult struct {
	FundID             int64 `json:"fund_id"`
	CachedBalance      int64 `json:"cached_balance"`
	ComputedBalance    int64 `json:"computed_balance"`
	Drift              int64 `json:"drift"`
	SnapshotsRewritten int   `json:"snapshots_rewritten"`
}

// ReconcileFund re-sums a fund's history and corrects the cached balance
// and running-balance snapshots when they drifted.
func (s *LedgerService) ReconcileFund(ctx context.Context, p *authz.Principal, id int64) (*ReconcileResult, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceFunds, authz.ActionOverride, authz.Target{FundID: id}); err != nil {
		return nil, err
	}

	result := &ReconcileResult{FundID: id}
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		fund, err := tx.Funds().GetForUpdate(ctx, id)
		if err != nil {
			return lookupErr("fund", id, "lock fund", err)
		}
		result.CachedBalance = fund.CurrentBalance
		result.ComputedBalance, result.SnapshotsRewritten, err = resum(ctx, tx, id)
		if err != nil {
			return err
		}
		result.Drift = result.CachedBalance - result.ComputedBalance
		if result.Drift == 0 && result.SnapshotsRewritten == 0 {
			return nil
		}
		if err := tx.Funds().SetBalance(ctx, id, result.ComputedBalance); err != nil {
			return apperrors.Internal("update fund balance", err)
		}
		return writeAudit(ctx, tx, models.EntityFund, id, models.AuditActionReconciled, p, map[string]any{
			"cached_balance":      result.CachedBalance,
			"computed_balance":    result.ComputedBalance,
			"snapshots_rewritten": result.SnapshotsRewritten,
		})
	})
	if err != nil {
		return nil, err
	}

	if result.Drift != 0 {
		s.logger.Warn("fund balance drift corrected",
			zap.Int64("fund_id", id),
			zap.Int64("cached", result.CachedBalance),
			zap.Int64("computed", result.ComputedBalance),
		)
	}
	return result, nil
}

// Transactions

type TransactionInput struct {
	FundID         int64     `json:"fund_id"`
	Date           time.Time `json:"date"`
	Concept        string    `json:"concept"`
	AmountIn       int64     `json:"amount_in"`
	AmountOut      int64     `json:"amount_out"`
	ChurchID       *int64    `json:"church_id,omitempty"`
	ProviderID     *int64    `json:"provider_id,omitempty"`
	DocumentNumber string    `json:"document_number,omitempty"`
}

func (in TransactionInput) posting(createdBy, batchID string) Posting {
	return Posting{
		FundID:         in.FundID,
		Date:           in.Date,
		Concept:        in.Concept,
		AmountIn:       in.AmountIn,
		AmountOut:      in.AmountOut,
		ChurchID:       in.ChurchID,
		ProviderID:     in.ProviderID,
		DocumentNumber: strings.TrimSpace(in.DocumentNumber),
		BatchID:        batchID,
		CreatedBy:      createdBy,
	}
}

func transactionTarget(churchID *int64, fundID int64) authz.Target {
	return authz.Target{ChurchID: deref(churchID), FundID: fundID}
}

func (s *LedgerService) ListTransactions(ctx context.Context, p *authz.Principal, q models.TransactionQuery) (*Page[*models.Transaction], error) {
	filter, err := s.resolver.Authorize(p, authz.ResourceTransactions, authz.ActionRead, authz.Target{})
	if err != nil {
		return nil, err
	}
	q.Limit, q.Offset, err = normalizePage(q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	if q.Month < 0 || q.Month > 12 {
		return nil, apperrors.Validation("month must be between 1 and 12")
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return nil, apperrors.Validation("date range end precedes its start")
	}
	if filter.Empty() {
		return emptyPage[*models.Transaction](q.Limit, q.Offset), nil
	}

	items, total, err := s.store.Transactions().List(ctx, q, filter)
	if err != nil {
		return nil, apperrors.Internal("list transactions", err)
	}
	return &Page[*models.Transaction]{Items: items, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

func (s *LedgerService) GetTransaction(ctx context.Context, p *authz.Principal, id int64) (*models.Transaction, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceTransactions, authz.ActionRead, authz.Target{}); err != nil {
		return nil, err
	}
	t, err := s.store.Transactions().GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr("transaction", id, "get transaction", err)
	}
	if _, err := s.resolver.Authorize(p, authz.ResourceTransactions, authz.ActionRead, transactionTarget(t.ChurchID, t.FundID)); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *LedgerService) CreateTransaction(ctx context.Context, p *authz.Principal, in TransactionInput) (*models.Transaction, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceTransactions, authz.ActionCreate, transactionTarget(in.ChurchID, in.FundID)); err != nil {
		return nil, err
	}
	posting := in.posting(p.ID, "")
	if err := validatePosting(posting); err != nil {
		return nil, err
	}

	var t *models.Transaction
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		if in.ChurchID != nil {
			if _, err := tx.Churches().GetByID(ctx, *in.ChurchID); err != nil {
				return lookupErr("church", *in.ChurchID, "get church", err)
			}
		}
		var err error
		t, err = s.Post(ctx, tx, posting)
		if err != nil {
			return err
		}
		return writeAudit(ctx, tx, models.EntityTransaction, t.ID, models.AuditActionCreated, p, map[string]any{
			"fund_id":    t.FundID,
			"amount_in":  t.AmountIn,
			"amount_out": t.AmountOut,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("transaction posted",
		zap.Int64("transaction_id", t.ID),
		zap.Int64("fund_id", t.FundID),
		zap.Int64("delta", t.Delta()),
		zap.String("user_id", p.ID),
	)
	return t, nil
}

// TransactionUpdate holds the only fields that may change after posting.
// Amounts, fund and date are fixed; correct them by deleting and reposting.
type TransactionUpdate struct {
	Concept        string `json:"concept"`
	DocumentNumber string `json:"document_number"`
	ProviderID     *int64 `json:"provider_id,omitempty"`
}

func (s *LedgerService) UpdateTransaction(ctx context.Context, p *authz.Principal, id int64, in TransactionUpdate) (*models.Transaction, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceTransactions, authz.ActionUpdate, authz.Target{}); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Concept) == "" {
		return nil, apperrors.Validation("concept is required")
	}

	var t *models.Transaction
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		var err error
		t, err = tx.Transactions().GetByID(ctx, id)
		if err != nil {
			return lookupErr("transaction", id, "get transaction", err)
		}
		if _, err := s.resolver.Authorize(p, authz.ResourceTransactions, authz.ActionUpdate, transactionTarget(t.ChurchID, t.FundID)); err != nil {
			return err
		}
		t.Concept = strings.TrimSpace(in.Concept)
		t.DocumentNumber = strings.TrimSpace(in.DocumentNumber)
		t.ProviderID = in.ProviderID
		if err := tx.Transactions().UpdateMetadata(ctx, t); err != nil {
			return apperrors.Internal("update transaction", err)
		}
		return writeAudit(ctx, tx, models.EntityTransaction, id, models.AuditActionUpdated, p, map[string]any{
			"concept":         t.Concept,
			"document_number": t.DocumentNumber,
		})
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// linkedToApproval reports whether t was produced by, or belongs to, an
// approved report or fund event.
func linkedToApproval(ctx context.Context, tx repositories.Store, t *models.Transaction) (bool, error) {
	if t.ReportID != nil {
		rep, err := tx.Reports().GetByID(ctx, *t.ReportID)
		if err == nil && rep.Status == models.ReportApproved {
			return true, nil
		}
		if err != nil && !isNotFound(err) {
			return false, apperrors.Internal("get linked report", err)
		}
	}
	if t.FundEventID != nil {
		ev, err := tx.FundEvents().GetByID(ctx, *t.FundEventID)
		if err == nil && ev.Status == models.EventApproved {
			return true, nil
		}
		if err != nil && !isNotFound(err) {
			return false, apperrors.Internal("get linked fund event", err)
		}
	}
	return false, nil
}

// DeleteTransaction removes a posting and fully re-sums every affected fund.
// Deleting either leg of a transfer removes both legs.
func (s *LedgerService) DeleteTransaction(ctx context.Context, p *authz.Principal, id int64) error {
	if _, err := s.resolver.Authorize(p, authz.ResourceTransactions, authz.ActionDelete, authz.Target{}); err != nil {
		return err
	}

	var removed []*models.Transaction
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		t, err := tx.Transactions().GetByID(ctx, id)
		if err != nil {
			return lookupErr("transaction", id, "get transaction", err)
		}

		removed = []*models.Transaction{t}
		if t.TransferID != "" {
			removed, err = tx.Transactions().ListByTransferID(ctx, t.TransferID)
			if err != nil {
				return apperrors.Internal("list transfer legs", err)
			}
		}

		fundIDs := make([]int64, 0, len(removed))
		for _, leg := range removed {
			target := transactionTarget(leg.ChurchID, leg.FundID)
			if _, err := s.resolver.Authorize(p, authz.ResourceTransactions, authz.ActionDelete, target); err != nil {
				return err
			}
			linked, err := linkedToApproval(ctx, tx, leg)
			if err != nil {
				return err
			}
			if linked {
				if _, err := s.resolver.Authorize(p, authz.ResourceTransactions, authz.ActionOverride, target); err != nil {
					return err
				}
			}
			fundIDs = append(fundIDs, leg.FundID)
		}

		funds, err := lockFunds(ctx, tx, fundIDs...)
		if err != nil {
			return err
		}
		for _, leg := range removed {
			if err := tx.Transactions().Delete(ctx, leg.ID); err != nil {
				return lookupErr("transaction", leg.ID, "delete transaction", err)
			}
		}
		for fundID, fund := range funds {
			balance, _, err := resum(ctx, tx, fundID)
			if err != nil {
				return err
			}
			if balance < 0 {
				return apperrors.InsufficientFunds(fundID, fund.CurrentBalance, fund.CurrentBalance-balance)
			}
			if err := tx.Funds().SetBalance(ctx, fundID, balance); err != nil {
				return apperrors.Internal("update fund balance", err)
			}
		}

		for _, leg := range removed {
			err := writeAudit(ctx, tx, models.EntityTransaction, leg.ID, models.AuditActionDeleted, p, map[string]any{
				"fund_id":     leg.FundID,
				"amount_in":   leg.AmountIn,
				"amount_out":  leg.AmountOut,
				"transfer_id": leg.TransferID,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("transaction deleted",
		zap.Int64("transaction_id", id),
		zap.Int("legs", len(removed)),
		zap.String("user_id", p.ID),
	)
	return nil
}
