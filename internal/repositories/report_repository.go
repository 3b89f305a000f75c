package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"treasury-service/internal/authz"
	"treasury-service/internal/database"
	"treasury-service/internal/models"
)

type reportRepository struct {
	q querier
}

const reportColumns = `id, church_id, month, year, tithes, offerings, other_income,
	designated, expenses, deposit_receipt, deposit_date, deposited_amount, observations,
	national_fund_contribution, designated_funds_total, operating_expenses_total,
	total_income, pastoral_honorarium, total_outflows, month_balance,
	status, rejection_reason, submitted_by, submitted_at, approved_by, approved_at,
	created_by, created_at, updated_at`

const reportInsertColumns = `church_id, month, year, tithes, offerings, other_income,
	designated, expenses, deposit_receipt, deposit_date, deposited_amount, observations,
	national_fund_contribution, designated_funds_total, operating_expenses_total,
	total_income, pastoral_honorarium, total_outflows, month_balance,
	status, rejection_reason, created_by`

const contributorInsertColumns = `report_id, name, document, amount`

func scanReport(row interface{ Scan(...any) error }) (*models.MonthlyReport, error) {
	r := &models.MonthlyReport{}
	var designated, expenses []byte
	err := row.Scan(
		&r.ID,
		&r.ChurchID,
		&r.Month,
		&r.Year,
		&r.Tithes,
		&r.Offerings,
		&r.OtherIncome,
		&designated,
		&expenses,
		&r.DepositReceipt,
		&r.DepositDate,
		&r.DepositedAmount,
		&r.Observations,
		&r.NationalFundContribution,
		&r.DesignatedFundsTotal,
		&r.OperatingExpensesTotal,
		&r.TotalIncome,
		&r.PastoralHonorarium,
		&r.TotalOutflows,
		&r.MonthBalance,
		&r.Status,
		&r.RejectionReason,
		&r.SubmittedBy,
		&r.SubmittedAt,
		&r.ApprovedBy,
		&r.ApprovedAt,
		&r.CreatedBy,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(designated, &r.Designated); err != nil {
		return nil, fmt.Errorf("decode designated amounts of report %d: %w", r.ID, err)
	}
	if err := json.Unmarshal(expenses, &r.Expenses); err != nil {
		return nil, fmt.Errorf("decode expenses of report %d: %w", r.ID, err)
	}
	return r, nil
}

func encodeLines(r *models.MonthlyReport) (designated, expenses []byte, err error) {
	d := r.Designated
	if d == nil {
		d = []models.DesignatedAmount{}
	}
	e := r.Expenses
	if e == nil {
		e = []models.ExpenseAmount{}
	}
	if designated, err = json.Marshal(d); err != nil {
		return nil, nil, err
	}
	if expenses, err = json.Marshal(e); err != nil {
		return nil, nil, err
	}
	return designated, expenses, nil
}

func (r *reportRepository) Insert(ctx context.Context, rep *models.MonthlyReport) error {
	rep.Recompute()
	designated, expenses, err := encodeLines(rep)
	if err != nil {
		return err
	}

	query := insertQuery("monthly_reports", reportInsertColumns)
	result, err := r.q.ExecContext(ctx, query,
		rep.ChurchID,
		rep.Month,
		rep.Year,
		rep.Tithes,
		rep.Offerings,
		rep.OtherIncome,
		designated,
		expenses,
		rep.DepositReceipt,
		rep.DepositDate,
		rep.DepositedAmount,
		rep.Observations,
		rep.NationalFundContribution,
		rep.DesignatedFundsTotal,
		rep.OperatingExpensesTotal,
		rep.TotalIncome,
		rep.PastoralHonorarium,
		rep.TotalOutflows,
		rep.MonthBalance,
		rep.Status,
		rep.RejectionReason,
		rep.CreatedBy,
	)
	if database.IsDuplicateEntry(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	rep.ID = id
	now := time.Now().UTC()
	rep.CreatedAt, rep.UpdatedAt = now, now
	return nil
}

func (r *reportRepository) GetByID(ctx context.Context, id int64) (*models.MonthlyReport, error) {
	query := `SELECT ` + reportColumns + ` FROM monthly_reports WHERE id = ?`
	return scanReport(r.q.QueryRowContext(ctx, query, id))
}

func (r *reportRepository) GetForUpdate(ctx context.Context, id int64) (*models.MonthlyReport, error) {
	query := `SELECT ` + reportColumns + ` FROM monthly_reports WHERE id = ? FOR UPDATE`
	return scanReport(r.q.QueryRowContext(ctx, query, id))
}

func (r *reportRepository) GetByPeriod(ctx context.Context, churchID int64, month, year int) (*models.MonthlyReport, error) {
	query := `SELECT ` + reportColumns + ` FROM monthly_reports WHERE church_id = ? AND month = ? AND year = ?`
	return scanReport(r.q.QueryRowContext(ctx, query, churchID, month, year))
}

func (r *reportRepository) Update(ctx context.Context, rep *models.MonthlyReport) error {
	rep.Recompute()
	designated, expenses, err := encodeLines(rep)
	if err != nil {
		return err
	}

	query := `
		UPDATE monthly_reports
		SET tithes = ?, offerings = ?, other_income = ?,
		    designated = ?, expenses = ?,
		    deposit_receipt = ?, deposit_date = ?, deposited_amount = ?, observations = ?,
		    national_fund_contribution = ?, designated_funds_total = ?, operating_expenses_total = ?,
		    total_income = ?, pastoral_honorarium = ?, total_outflows = ?, month_balance = ?,
		    status = ?, rejection_reason = ?,
		    submitted_by = ?, submitted_at = ?, approved_by = ?, approved_at = ?
		WHERE id = ?
	`
	_, err = r.q.ExecContext(ctx, query,
		rep.Tithes,
		rep.Offerings,
		rep.OtherIncome,
		designated,
		expenses,
		rep.DepositReceipt,
		rep.DepositDate,
		rep.DepositedAmount,
		rep.Observations,
		rep.NationalFundContribution,
		rep.DesignatedFundsTotal,
		rep.OperatingExpensesTotal,
		rep.TotalIncome,
		rep.PastoralHonorarium,
		rep.TotalOutflows,
		rep.MonthBalance,
		rep.Status,
		rep.RejectionReason,
		rep.SubmittedBy,
		rep.SubmittedAt,
		rep.ApprovedBy,
		rep.ApprovedAt,
		rep.ID,
	)
	if err != nil {
		return err
	}
	rep.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *reportRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM report_contributors WHERE report_id = ?`, id); err != nil {
		return err
	}
	result, err := r.q.ExecContext(ctx, `DELETE FROM monthly_reports WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

func (r *reportRepository) List(ctx context.Context, q models.ReportQuery, filter authz.Filter) ([]*models.MonthlyReport, int, error) {
	cond, args, ok := scopeCondition(filter, "church_id", "")
	if !ok {
		return []*models.MonthlyReport{}, 0, nil
	}

	var where whereBuilder
	if cond != "" {
		where.add(cond, args...)
	}
	if q.ChurchID != 0 {
		where.add("church_id = ?", q.ChurchID)
	}
	if q.Month != 0 {
		where.add("month = ?", q.Month)
	}
	if q.Year != 0 {
		where.add("year = ?", q.Year)
	}
	if q.Status != "" {
		where.add("status = ?", q.Status)
	}

	var total int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM monthly_reports`+where.String(), where.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, pageArgs := pageClause(q.Limit, q.Offset)
	query := `SELECT ` + reportColumns + ` FROM monthly_reports` + where.String() +
		` ORDER BY year DESC, month DESC, church_id` + page
	rows, err := r.q.QueryContext(ctx, query, append(where.args, pageArgs...)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	reports := []*models.MonthlyReport{}
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		reports = append(reports, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return reports, total, nil
}

func (r *reportRepository) LastForChurch(ctx context.Context, churchID int64) (*models.MonthlyReport, error) {
	query := `SELECT ` + reportColumns + ` FROM monthly_reports
		WHERE church_id = ?
		ORDER BY year DESC, month DESC
		LIMIT 1`
	return scanReport(r.q.QueryRowContext(ctx, query, churchID))
}

func (r *reportRepository) ReplaceContributors(ctx context.Context, reportID int64, contributors []*models.Contributor) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM report_contributors WHERE report_id = ?`, reportID); err != nil {
		return err
	}

	query := insertQuery("report_contributors", contributorInsertColumns)
	for _, c := range contributors {
		result, err := r.q.ExecContext(ctx, query, reportID, c.Name, c.Document, c.Amount)
		if err != nil {
			return err
		}
		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		c.ID = id
		c.ReportID = reportID
	}
	return nil
}

func (r *reportRepository) ListContributors(ctx context.Context, reportID int64) ([]*models.Contributor, error) {
	query := `SELECT id, report_id, name, document, amount FROM report_contributors WHERE report_id = ? ORDER BY id`
	rows, err := r.q.QueryContext(ctx, query, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contributors := []*models.Contributor{}
	for rows.Next() {
		c := &models.Contributor{}
		if err := rows.Scan(&c.ID, &c.ReportID, &c.Name, &c.Document, &c.Amount); err != nil {
			return nil, err
		}
		contributors = append(contributors, c)
	}
	return contributors, rows.Err()
}
