package repository

import (
	"context"

	"judgments-backend/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BacklogRepository reads case rows that still need their documents extracted
type BacklogRepository struct {
	db *pgxpool.Pool
}

// NewBacklogRepository creates a new backlog repository
func NewBacklogRepository(db *pgxpool.Pool) *BacklogRepository {
	return &BacklogRepository{db: db}
}

// FetchBacklog returns up to limit rows of a category that carry at least one document URL,
// newest first, starting at offset.
func (r *BacklogRepository) FetchBacklog(ctx context.Context, category string, offset, limit int) ([]models.BacklogRecord, error) {
	query := `
		SELECT id, category, raw, created_at
		FROM case_backlog
		WHERE category = $1 AND cardinality(judgment_urls) > 0
		ORDER BY created_at DESC, id
		OFFSET $2 LIMIT $3`

	rows, err := r.db.Query(ctx, query, category, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.BacklogRecord
	for rows.Next() {
		var rec models.BacklogRecord
		if err := rows.Scan(&rec.ID, &rec.Category, &rec.Raw, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if rec.Raw == nil {
			rec.Raw = map[string]any{}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
