package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"treasury-service/internal/authz"
	"treasury-service/internal/models"
)

type transactionRepository struct {
	q querier
}

const transactionColumns = `id, fund_id, sequence, date, concept, amount_in, amount_out,
	running_balance, church_id, report_id, fund_event_id, provider_id,
	document_number, transfer_id, batch_id, created_by, created_at`

const transactionInsertColumns = `fund_id, sequence, date, concept, amount_in, amount_out,
	running_balance, church_id, report_id, fund_event_id, provider_id,
	document_number, transfer_id, batch_id, created_by`

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	t := &models.Transaction{}
	err := row.Scan(
		&t.ID,
		&t.FundID,
		&t.Sequence,
		&t.Date,
		&t.Concept,
		&t.AmountIn,
		&t.AmountOut,
		&t.Balance,
		&t.ChurchID,
		&t.ReportID,
		&t.FundEventID,
		&t.ProviderID,
		&t.DocumentNumber,
		&t.TransferID,
		&t.BatchID,
		&t.CreatedBy,
		&t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func scanTransactions(rows *sql.Rows) ([]*models.Transaction, error) {
	defer rows.Close()

	transactions := []*models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

func (r *transactionRepository) Insert(ctx context.Context, t *models.Transaction) error {
	query := insertQuery("transactions", transactionInsertColumns)
	result, err := r.q.ExecContext(ctx, query,
		t.FundID,
		t.Sequence,
		t.Date,
		t.Concept,
		t.AmountIn,
		t.AmountOut,
		t.Balance,
		t.ChurchID,
		t.ReportID,
		t.FundEventID,
		t.ProviderID,
		t.DocumentNumber,
		t.TransferID,
		t.BatchID,
		t.CreatedBy,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = id
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return nil
}

func (r *transactionRepository) GetByID(ctx context.Context, id int64) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`
	return scanTransaction(r.q.QueryRowContext(ctx, query, id))
}

func (r *transactionRepository) UpdateMetadata(ctx context.Context, t *models.Transaction) error {
	query := `
		UPDATE transactions
		SET concept = ?,
		    document_number = ?,
		    provider_id = ?
		WHERE id = ?
	`
	_, err := r.q.ExecContext(ctx, query, t.Concept, t.DocumentNumber, t.ProviderID, t.ID)
	return err
}

func (r *transactionRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

func (r *transactionRepository) SetRunningBalance(ctx context.Context, id int64, balance int64) error {
	_, err := r.q.ExecContext(ctx, `UPDATE transactions SET running_balance = ? WHERE id = ?`, balance, id)
	return err
}

func (r *transactionRepository) ListByFund(ctx context.Context, fundID int64) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE fund_id = ? ORDER BY sequence`
	rows, err := r.q.QueryContext(ctx, query, fundID)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (r *transactionRepository) ListByTransferID(ctx context.Context, transferID string) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE transfer_id = ? ORDER BY id`
	rows, err := r.q.QueryContext(ctx, query, transferID)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (r *transactionRepository) MaxSequence(ctx context.Context, fundID int64) (int64, error) {
	var seq sql.NullInt64
	err := r.q.QueryRowContext(ctx, `SELECT MAX(sequence) FROM transactions WHERE fund_id = ?`, fundID).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

func (r *transactionRepository) LatestDate(ctx context.Context, fundID int64) (*time.Time, error) {
	var latest sql.NullTime
	err := r.q.QueryRowContext(ctx, `SELECT MAX(date) FROM transactions WHERE fund_id = ?`, fundID).Scan(&latest)
	if err != nil {
		return nil, err
	}
	if !latest.Valid {
		return nil, nil
	}
	return &latest.Time, nil
}

func (r *transactionRepository) List(ctx context.Context, q models.TransactionQuery, filter authz.Filter) ([]*models.Transaction, int, error) {
	cond, args, ok := scopeCondition(filter, "church_id", "fund_id")
	if !ok {
		return []*models.Transaction{}, 0, nil
	}

	var where whereBuilder
	if cond != "" {
		where.add(cond, args...)
	}
	if q.FundID != 0 {
		where.add("fund_id = ?", q.FundID)
	}
	if q.ChurchID != 0 {
		where.add("church_id = ?", q.ChurchID)
	}
	if q.From != nil {
		where.add("date >= ?", *q.From)
	}
	if q.To != nil {
		where.add("date <= ?", *q.To)
	}
	if q.Month != 0 {
		where.add("MONTH(date) = ?", q.Month)
	}
	if q.Year != 0 {
		where.add("YEAR(date) = ?", q.Year)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM transactions` + where.String()
	if err := r.q.QueryRowContext(ctx, countQuery, where.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, pageArgs := pageClause(q.Limit, q.Offset)
	query := `SELECT ` + transactionColumns + ` FROM transactions` + where.String() +
		` ORDER BY date DESC, fund_id, sequence DESC` + page
	rows, err := r.q.QueryContext(ctx, query, append(where.args, pageArgs...)...)
	if err != nil {
		return nil, 0, err
	}
	transactions, err := scanTransactions(rows)
	if err != nil {
		return nil, 0, err
	}
	return transactions, total, nil
}
