package repositories

import (
	"context"
	"database/sql"
	"errors"

	"treasury-service/internal/authz"
	"treasury-service/internal/models"
)

type churchRepository struct {
	q querier
}

const churchInsertColumns = `name, city, pastor, active`

func (r *churchRepository) Insert(ctx context.Context, c *models.Church) error {
	query := insertQuery("churches", churchInsertColumns)
	result, err := r.q.ExecContext(ctx, query, c.Name, c.City, c.Pastor, c.Active)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

func (r *churchRepository) GetByID(ctx context.Context, id int64) (*models.Church, error) {
	c := &models.Church{}
	query := `
		SELECT id, name, city, pastor, active, created_at, updated_at
		FROM churches
		WHERE id = ?
	`
	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.Name,
		&c.City,
		&c.Pastor,
		&c.Active,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *churchRepository) List(ctx context.Context, filter authz.Filter) ([]*models.Church, error) {
	cond, args, ok := scopeCondition(filter, "id", "")
	if !ok {
		return []*models.Church{}, nil
	}
	var where whereBuilder
	if cond != "" {
		where.add(cond, args...)
	}

	query := `SELECT id, name, city, pastor, active, created_at, updated_at FROM churches` +
		where.String() + ` ORDER BY name`
	rows, err := r.q.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	churches := []*models.Church{}
	for rows.Next() {
		c := &models.Church{}
		if err := rows.Scan(&c.ID, &c.Name, &c.City, &c.Pastor, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		churches = append(churches, c)
	}
	return churches, rows.Err()
}
