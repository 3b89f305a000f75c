package repositories

import (
	"context"

	"treasury-service/internal/models"
)

type auditRepository struct {
	q querier
}

const auditInsertColumns = `entity_type, entity_id, action, details, user_id`

func (r *auditRepository) Insert(ctx context.Context, audit *models.AuditEntry) error {
	query := insertQuery("audit_log", auditInsertColumns)
	details := audit.Details
	if len(details) == 0 {
		details = []byte("{}")
	}
	result, err := r.q.ExecContext(ctx, query,
		audit.EntityType,
		audit.EntityID,
		audit.Action,
		[]byte(details),
		audit.UserID,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	audit.ID = id
	return nil
}

func (r *auditRepository) ListByEntity(ctx context.Context, entityType string, entityID int64) ([]*models.AuditEntry, error) {
	query := `
		SELECT id, entity_type, entity_id, action, details, user_id, created_at
		FROM audit_log
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY id
	`
	rows, err := r.q.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*models.AuditEntry{}
	for rows.Next() {
		e := &models.AuditEntry{}
		var details []byte
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &details, &e.UserID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Details = details
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
