package repositories

import (
	"context"
	"database/sql"
	"errors"

	"treasury-service/internal/authz"
	"treasury-service/internal/models"
)

type fundRepository struct {
	q querier
}

const fundColumns = `id, name, type, description, current_balance, active, created_by, created_at, updated_at`

func scanFund(row interface{ Scan(...any) error }) (*models.Fund, error) {
	f := &models.Fund{}
	err := row.Scan(
		&f.ID,
		&f.Name,
		&f.Type,
		&f.Description,
		&f.CurrentBalance,
		&f.Active,
		&f.CreatedBy,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

const fundInsertColumns = `name, type, description, current_balance, active, created_by`

func (r *fundRepository) Insert(ctx context.Context, f *models.Fund) error {
	query := insertQuery("funds", fundInsertColumns)
	result, err := r.q.ExecContext(ctx, query,
		f.Name,
		f.Type,
		f.Description,
		f.CurrentBalance,
		f.Active,
		f.CreatedBy,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	f.ID = id
	return nil
}

func (r *fundRepository) GetByID(ctx context.Context, id int64) (*models.Fund, error) {
	query := `SELECT ` + fundColumns + ` FROM funds WHERE id = ?`
	return scanFund(r.q.QueryRowContext(ctx, query, id))
}

func (r *fundRepository) GetForUpdate(ctx context.Context, id int64) (*models.Fund, error) {
	query := `SELECT ` + fundColumns + ` FROM funds WHERE id = ? FOR UPDATE`
	return scanFund(r.q.QueryRowContext(ctx, query, id))
}

func (r *fundRepository) List(ctx context.Context, filter authz.Filter, includeInactive bool) ([]*models.Fund, error) {
	// funds belong to no church, so own scope matches nothing here
	cond, args, ok := scopeCondition(filter, "", "id")
	if !ok {
		return []*models.Fund{}, nil
	}
	var where whereBuilder
	if cond != "" {
		where.add(cond, args...)
	}
	if !includeInactive {
		where.add("active = TRUE")
	}

	query := `SELECT ` + fundColumns + ` FROM funds` + where.String() + ` ORDER BY name`
	rows, err := r.q.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	funds := []*models.Fund{}
	for rows.Next() {
		f, err := scanFund(rows)
		if err != nil {
			return nil, err
		}
		funds = append(funds, f)
	}
	return funds, rows.Err()
}

func (r *fundRepository) Update(ctx context.Context, f *models.Fund) error {
	query := `
		UPDATE funds
		SET name = ?,
		    type = ?,
		    description = ?,
		    active = ?
		WHERE id = ?
	`
	_, err := r.q.ExecContext(ctx, query, f.Name, f.Type, f.Description, f.Active, f.ID)
	return err
}

func (r *fundRepository) SetBalance(ctx context.Context, id int64, balance int64) error {
	query := `UPDATE funds SET current_balance = ? WHERE id = ?`
	_, err := r.q.ExecContext(ctx, query, balance, id)
	return err
}
