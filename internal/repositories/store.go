package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"treasury-service/internal/authz"
	"treasury-service/internal/database"
	"treasury-service/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Store groups the repositories over one connection or one open database
// transaction. Repositories obtained from the Store passed to a WithinTx
// callback all run inside that transaction.
type Store interface {
	Churches() ChurchRepository
	Funds() FundRepository
	Transactions() TransactionRepository
	Reports() ReportRepository
	FundEvents() FundEventRepository
	Audit() AuditRepository
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

type ChurchRepository interface {
	Insert(ctx context.Context, c *models.Church) error
	GetByID(ctx context.Context, id int64) (*models.Church, error)
	List(ctx context.Context, filter authz.Filter) ([]*models.Church, error)
}

type FundRepository interface {
	Insert(ctx context.Context, f *models.Fund) error
	GetByID(ctx context.Context, id int64) (*models.Fund, error)
	// GetForUpdate reads the fund and locks its row until the transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*models.Fund, error)
	List(ctx context.Context, filter authz.Filter, includeInactive bool) ([]*models.Fund, error)
	Update(ctx context.Context, f *models.Fund) error
	SetBalance(ctx context.Context, id int64, balance int64) error
}

type TransactionRepository interface {
	Insert(ctx context.Context, t *models.Transaction) error
	GetByID(ctx context.Context, id int64) (*models.Transaction, error)
	UpdateMetadata(ctx context.Context, t *models.Transaction) error
	Delete(ctx context.Context, id int64) error
	SetRunningBalance(ctx context.Context, id int64, balance int64) error
	// ListByFund returns every transaction of the fund ordered by sequence.
	ListByFund(ctx context.Context, fundID int64) ([]*models.Transaction, error)
	ListByTransferID(ctx context.Context, transferID string) ([]*models.Transaction, error)
	MaxSequence(ctx context.Context, fundID int64) (int64, error)
	// LatestDate is nil for a fund without transactions.
	LatestDate(ctx context.Context, fundID int64) (*time.Time, error)
	List(ctx context.Context, q models.TransactionQuery, filter authz.Filter) ([]*models.Transaction, int, error)
}

type ReportRepository interface {
	// Insert returns ErrDuplicate when the (church, month, year) period exists.
	Insert(ctx context.Context, r *models.MonthlyReport) error
	GetByID(ctx context.Context, id int64) (*models.MonthlyReport, error)
	GetForUpdate(ctx context.Context, id int64) (*models.MonthlyReport, error)
	GetByPeriod(ctx context.Context, churchID int64, month, year int) (*models.MonthlyReport, error)
	Update(ctx context.Context, r *models.MonthlyReport) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, q models.ReportQuery, filter authz.Filter) ([]*models.MonthlyReport, int, error)
	LastForChurch(ctx context.Context, churchID int64) (*models.MonthlyReport, error)
	ReplaceContributors(ctx context.Context, reportID int64, contributors []*models.Contributor) error
	ListContributors(ctx context.Context, reportID int64) ([]*models.Contributor, error)
}

type FundEventRepository interface {
	Insert(ctx context.Context, e *models.FundEvent) error
	GetByID(ctx context.Context, id int64) (*models.FundEvent, error)
	GetForUpdate(ctx context.Context, id int64) (*models.FundEvent, error)
	Update(ctx context.Context, e *models.FundEvent) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, q models.FundEventQuery, filter authz.Filter) ([]*models.FundEvent, int, error)
	CountByStatus(ctx context.Context, filter authz.Filter) (map[models.FundEventStatus]int, error)
	InsertLineItem(ctx context.Context, item *models.LineItem) error
	GetLineItem(ctx context.Context, stage models.LineItemStage, id int64) (*models.LineItem, error)
	UpdateLineItem(ctx context.Context, item *models.LineItem) error
	DeleteLineItem(ctx context.Context, stage models.LineItemStage, id int64) error
	ListLineItems(ctx context.Context, eventID int64, stage models.LineItemStage) ([]*models.LineItem, error)
}

type AuditRepository interface {
	Insert(ctx context.Context, entry *models.AuditEntry) error
	ListByEntity(ctx context.Context, entityType string, entityID int64) ([]*models.AuditEntry, error)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// maxTxAttempts bounds retries of transactions aborted by a deadlock or lock timeout.
const maxTxAttempts = 3

type mysqlStore struct {
	db   *sql.DB
	q    querier
	inTx bool
}

// NewStore returns a MySQL-backed Store.
func NewStore(db *sql.DB) Store {
	return &mysqlStore{db: db, q: db}
}

func (s *mysqlStore) Churches() ChurchRepository { return &churchRepository{q: s.q} }
func (s *mysqlStore) Funds() FundRepository { return &fundRepository{q: s.q} }
func (s *mysqlStore) Transactions() TransactionRepository { return &transactionRepository{q: s.q} }
func (s *mysqlStore) Reports() ReportRepository { return &reportRepository{q: s.q} }
func (s *mysqlStore) FundEvents() FundEventRepository { return &fundEventRepository{q: s.q} }
func (s *mysqlStore) Audit() AuditRepository { return &auditRepository{q: s.q} }

// WithinTx runs fn in a database transaction, committing only if fn returns
// nil. Nested calls join the outer transaction.
func (s *mysqlStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !database.IsRetryable(err) {
			return err
		}
	}
	return err
}

func (s *mysqlStore) runTx(ctx context.Context, fn func(tx Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&mysqlStore{db: s.db, q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// scopeCondition turns an authorization filter into a SQL predicate. An
// empty column name means the table has no such column. ok is false when
// the filter can match no row of the table.
func scopeCondition(f authz.Filter, churchColumn, fundColumn string) (cond string, args []any, ok bool) {
	switch f.Scope {
	case authz.ScopeAll:
		return "", nil, true
	case authz.ScopeOwn:
		if churchColumn == "" || f.ChurchID == 0 {
			return "", nil, false
		}
		return churchColumn + " = ?", []any{f.ChurchID}, true
	case authz.ScopeAssigned:
		if fundColumn == "" || len(f.FundIDs) == 0 {
			return "", nil, false
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.FundIDs)), ",")
		for _, id := range f.FundIDs {
			args = append(args, id)
		}
		return fundColumn + " IN (" + placeholders + ")", args, true
	}
	return "", nil, false
}

// insertQuery builds an INSERT with one placeholder per column.
func insertQuery(table, columns string) string {
	n := strings.Count(columns, ",") + 1
	return "INSERT INTO " + table + " (" + columns + ") VALUES (" +
		strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

// whereBuilder accumulates AND-ed conditions.
type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *whereBuilder) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func pageClause(limit, offset int) (string, []any) {
	if limit <= 0 {
		return "", nil
	}
	return " LIMIT ? OFFSET ?", []any{limit, offset}
}

func checkAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
