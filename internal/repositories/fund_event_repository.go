package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"treasury-service/internal/authz"
	"treasury-service/internal/models"
)

type fundEventRepository struct {
	q querier
}

const fundEventColumns = `id, fund_id, church_id, name, description, event_date, status,
	submitted_by, submitter_level, submitted_at, approved_by, approved_at,
	rejection_reason, revision_notes, created_by, created_at, updated_at`

func scanFundEvent(row interface{ Scan(...any) error }) (*models.FundEvent, error) {
	e := &models.FundEvent{}
	err := row.Scan(
		&e.ID,
		&e.FundID,
		&e.ChurchID,
		&e.Name,
		&e.Description,
		&e.EventDate,
		&e.Status,
		&e.SubmittedBy,
		&e.SubmitterLevel,
		&e.SubmittedAt,
		&e.ApprovedBy,
		&e.ApprovedAt,
		&e.RejectionReason,
		&e.RevisionNotes,
		&e.CreatedBy,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func lineItemTable(stage models.LineItemStage) (string, error) {
	switch stage {
	case models.StageBudget:
		return "fund_event_budget_items", nil
	case models.StageActual:
		return "fund_event_actual_items", nil
	}
	return "", fmt.Errorf("unknown line item stage %q", stage)
}

const fundEventInsertColumns = `fund_id, church_id, name, description, event_date, status,
	rejection_reason, revision_notes, created_by`

const lineItemInsertColumns = `event_id, type, description, amount, notes`

func (r *fundEventRepository) Insert(ctx context.Context, e *models.FundEvent) error {
	query := insertQuery("fund_events", fundEventInsertColumns)
	result, err := r.q.ExecContext(ctx, query,
		e.FundID,
		e.ChurchID,
		e.Name,
		e.Description,
		e.EventDate,
		e.Status,
		e.RejectionReason,
		e.RevisionNotes,
		e.CreatedBy,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	return nil
}

func (r *fundEventRepository) GetByID(ctx context.Context, id int64) (*models.FundEvent, error) {
	query := `SELECT ` + fundEventColumns + ` FROM fund_events WHERE id = ?`
	return scanFundEvent(r.q.QueryRowContext(ctx, query, id))
}

func (r *fundEventRepository) GetForUpdate(ctx context.Context, id int64) (*models.FundEvent, error) {
	query := `SELECT ` + fundEventColumns + ` FROM fund_events WHERE id = ? FOR UPDATE`
	return scanFundEvent(r.q.QueryRowContext(ctx, query, id))
}

func (r *fundEventRepository) Update(ctx context.Context, e *models.FundEvent) error {
	query := `
		UPDATE fund_events
		SET name = ?, description = ?, event_date = ?, status = ?,
		    submitted_by = ?, submitter_level = ?, submitted_at = ?,
		    approved_by = ?, approved_at = ?,
		    rejection_reason = ?, revision_notes = ?
		WHERE id = ?
	`
	_, err := r.q.ExecContext(ctx, query,
		e.Name,
		e.Description,
		e.EventDate,
		e.Status,
		e.SubmittedBy,
		e.SubmitterLevel,
		e.SubmittedAt,
		e.ApprovedBy,
		e.ApprovedAt,
		e.RejectionReason,
		e.RevisionNotes,
		e.ID,
	)
	if err != nil {
		return err
	}
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fundEventRepository) Delete(ctx context.Context, id int64) error {
	for _, table := range []string{"fund_event_budget_items", "fund_event_actual_items"} {
		if _, err := r.q.ExecContext(ctx, `DELETE FROM `+table+` WHERE event_id = ?`, id); err != nil {
			return err
		}
	}
	result, err := r.q.ExecContext(ctx, `DELETE FROM fund_events WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

func (r *fundEventRepository) eventWhere(filter authz.Filter) (*whereBuilder, bool) {
	cond, args, ok := scopeCondition(filter, "church_id", "fund_id")
	if !ok {
		return nil, false
	}
	where := &whereBuilder{}
	if cond != "" {
		where.add(cond, args...)
	}
	return where, true
}

func (r *fundEventRepository) List(ctx context.Context, q models.FundEventQuery, filter authz.Filter) ([]*models.FundEvent, int, error) {
	where, ok := r.eventWhere(filter)
	if !ok {
		return []*models.FundEvent{}, 0, nil
	}
	if q.FundID != 0 {
		where.add("fund_id = ?", q.FundID)
	}
	if q.Status != "" {
		where.add("status = ?", q.Status)
	}

	var total int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM fund_events`+where.String(), where.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, pageArgs := pageClause(q.Limit, q.Offset)
	query := `SELECT ` + fundEventColumns + ` FROM fund_events` + where.String() +
		` ORDER BY event_date DESC, id DESC` + page
	rows, err := r.q.QueryContext(ctx, query, append(where.args, pageArgs...)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := []*models.FundEvent{}
	for rows.Next() {
		e, err := scanFundEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (r *fundEventRepository) CountByStatus(ctx context.Context, filter authz.Filter) (map[models.FundEventStatus]int, error) {
	counts := make(map[models.FundEventStatus]int, len(models.AllEventStatuses))
	for _, s := range models.AllEventStatuses {
		counts[s] = 0
	}

	where, ok := r.eventWhere(filter)
	if !ok {
		return counts, nil
	}

	rows, err := r.q.QueryContext(ctx, `SELECT status, COUNT(*) FROM fund_events`+where.String()+` GROUP BY status`, where.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status models.FundEventStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *fundEventRepository) InsertLineItem(ctx context.Context, item *models.LineItem) error {
	table, err := lineItemTable(item.Stage)
	if err != nil {
		return err
	}
	query := insertQuery(table, lineItemInsertColumns)
	result, err := r.q.ExecContext(ctx, query, item.EventID, item.Type, item.Description, item.Amount, item.Notes)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	item.ID = id
	item.CreatedAt = time.Now().UTC()
	return nil
}

func (r *fundEventRepository) GetLineItem(ctx context.Context, stage models.LineItemStage, id int64) (*models.LineItem, error) {
	table, err := lineItemTable(stage)
	if err != nil {
		return nil, err
	}
	item := &models.LineItem{Stage: stage}
	query := `SELECT id, event_id, type, description, amount, notes, created_at FROM ` + table + ` WHERE id = ?`
	err = r.q.QueryRowContext(ctx, query, id).Scan(
		&item.ID, &item.EventID, &item.Type, &item.Description, &item.Amount, &item.Notes, &item.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *fundEventRepository) UpdateLineItem(ctx context.Context, item *models.LineItem) error {
	table, err := lineItemTable(item.Stage)
	if err != nil {
		return err
	}
	query := `UPDATE ` + table + ` SET type = ?, description = ?, amount = ?, notes = ? WHERE id = ?`
	_, err = r.q.ExecContext(ctx, query, item.Type, item.Description, item.Amount, item.Notes, item.ID)
	return err
}

func (r *fundEventRepository) DeleteLineItem(ctx context.Context, stage models.LineItemStage, id int64) error {
	table, err := lineItemTable(stage)
	if err != nil {
		return err
	}
	result, err := r.q.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

func (r *fundEventRepository) ListLineItems(ctx context.Context, eventID int64, stage models.LineItemStage) ([]*models.LineItem, error) {
	table, err := lineItemTable(stage)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, event_id, type, description, amount, notes, created_at FROM ` + table + ` WHERE event_id = ? ORDER BY id`
	rows, err := r.q.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*models.LineItem{}
	for rows.Next() {
		item := &models.LineItem{Stage: stage}
		if err := rows.Scan(&item.ID, &item.EventID, &item.Type, &item.Description, &item.Amount, &item.Notes, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
