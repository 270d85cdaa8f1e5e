package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"judgments-backend/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by single-row lookups that match nothing
var ErrNotFound = errors.New("record not found")

const caseColumns = `id, diary_number, court, bench, case_type, city, district, case_number,
			parties, advocates, judgment_by, judgment_date, judgment_type,
			judgment_url, judgment_text, file_path, serial_number, created_at`

// CaseRepository handles database operations for judgment records
type CaseRepository struct {
	db *pgxpool.Pool
}

// NewCaseRepository creates a new case repository
func NewCaseRepository(db *pgxpool.Pool) *CaseRepository {
	return &CaseRepository{db: db}
}

// FindByDiaryAndCourt matches diary number and court case-insensitively and applies the optional filters
func (r *CaseRepository) FindByDiaryAndCourt(ctx context.Context, diaryNumber, court string, filters models.CaseFilters) ([]models.CaseRecord, error) {
	query, args := buildExactQuery(diaryNumber, court, filters)
	return r.query(ctx, query, args...)
}

// FindByDiaryOnly matches the diary number alone
func (r *CaseRepository) FindByDiaryOnly(ctx context.Context, diaryNumber string) ([]models.CaseRecord, error) {
	query := `
		SELECT ` + caseColumns + `
		FROM cases
		WHERE LOWER(diary_number) = LOWER($1)
		ORDER BY created_at DESC`

	return r.query(ctx, query, diaryNumber)
}

// ExistsByKey reports whether a record shares the diary, court, bench and case type
func (r *CaseRepository) ExistsByKey(ctx context.Context, key models.CaseKey) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM cases
			WHERE LOWER(diary_number) = LOWER($1)
				AND LOWER(court) = LOWER($2)
				AND LOWER(bench) = LOWER($3)
				AND LOWER(case_type) = LOWER($4)
		)`

	var exists bool
	err := r.db.QueryRow(ctx, query, key.DiaryNumber, key.Court, key.Bench, key.CaseType).Scan(&exists)
	return exists, err
}

// InsertMany inserts records in one batch. Rows that hit a uniqueness constraint are skipped.
func (r *CaseRepository) InsertMany(ctx context.Context, records []models.CaseRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO cases (
			id, diary_number, court, bench, case_type, city, district, case_number,
			parties, advocates, judgment_by, judgment_date, judgment_type,
			judgment_url, judgment_text, file_path, serial_number
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		) ON CONFLICT DO NOTHING`

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(query,
			rec.ID,
			rec.DiaryNumber,
			rec.Court,
			rec.Bench,
			rec.CaseType,
			rec.City,
			rec.District,
			rec.CaseNumber,
			rec.Parties,
			rec.Advocates,
			rec.JudgmentBy,
			rec.JudgmentDate,
			rec.JudgmentType,
			nonNil(rec.JudgmentURL),
			nonNil(rec.JudgmentText),
			rec.FilePath,
			rec.SerialNumber,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for i := range records {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert case %s: %w", records[i].ID, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ExistsByIDOrURL returns which of the given ids and document urls are already stored
func (r *CaseRepository) ExistsByIDOrURL(ctx context.Context, ids, urls []string) (map[string]struct{}, map[string]struct{}, error) {
	foundIDs := make(map[string]struct{})
	foundURLs := make(map[string]struct{})
	if len(ids) == 0 && len(urls) == 0 {
		return foundIDs, foundURLs, nil
	}

	query := `
		SELECT id, judgment_url
		FROM cases
		WHERE id = ANY($1) OR judgment_url && $2`

	rows, err := r.db.Query(ctx, query, nonNil(ids), nonNil(urls))
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	wantIDs := toSet(ids)
	wantURLs := toSet(urls)
	for rows.Next() {
		var id string
		var stored []string
		if err := rows.Scan(&id, &stored); err != nil {
			return nil, nil, err
		}
		if _, ok := wantIDs[id]; ok {
			foundIDs[id] = struct{}{}
		}
		for _, u := range stored {
			if _, ok := wantURLs[u]; ok {
				foundURLs[u] = struct{}{}
			}
		}
	}
	return foundIDs, foundURLs, rows.Err()
}

// GetByID retrieves a record by ID
func (r *CaseRepository) GetByID(ctx context.Context, id string) (*models.CaseRecord, error) {
	query := `
		SELECT ` + caseColumns + `
		FROM cases
		WHERE id = $1`

	rec, err := scanCase(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateFilePath records where a record's document was stored
func (r *CaseRepository) UpdateFilePath(ctx context.Context, id, filePath string) error {
	tag, err := r.db.Exec(ctx, `UPDATE cases SET file_path = $2 WHERE id = $1`, id, filePath)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *CaseRepository) query(ctx context.Context, query string, args ...any) ([]models.CaseRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.CaseRecord
	for rows.Next() {
		rec, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func buildExactQuery(diaryNumber, court string, filters models.CaseFilters) (string, []any) {
	query := `
		SELECT ` + caseColumns + `
		FROM cases
		WHERE LOWER(diary_number) = LOWER($1) AND LOWER(court) = LOWER($2)`

	args := []any{diaryNumber, court}
	argIndex := 3

	if filters.City != "" {
		query += fmt.Sprintf(" AND LOWER(city) = LOWER($%d)", argIndex)
		args = append(args, filters.City)
		argIndex++
	}
	if filters.Bench != "" {
		query += fmt.Sprintf(" AND LOWER(bench) = LOWER($%d)", argIndex)
		args = append(args, filters.Bench)
		argIndex++
	}
	if filters.CaseType != "" {
		query += fmt.Sprintf(" AND case_type ILIKE $%d", argIndex)
		args = append(args, "%"+escapeLike(filters.CaseType)+"%")
		argIndex++
	}
	if types := splitTypes(filters.JudgmentType); len(types) > 0 {
		query += fmt.Sprintf(" AND LOWER(judgment_type) = ANY($%d)", argIndex)
		args = append(args, types)
	}

	query += " ORDER BY created_at DESC"
	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*models.CaseRecord, error) {
	rec := &models.CaseRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.DiaryNumber,
		&rec.Court,
		&rec.Bench,
		&rec.CaseType,
		&rec.City,
		&rec.District,
		&rec.CaseNumber,
		&rec.Parties,
		&rec.Advocates,
		&rec.JudgmentBy,
		&rec.JudgmentDate,
		&rec.JudgmentType,
		&rec.JudgmentURL,
		&rec.JudgmentText,
		&rec.FilePath,
		&rec.SerialNumber,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.JudgmentURL = nonNil(rec.JudgmentURL)
	rec.JudgmentText = nonNil(rec.JudgmentText)
	return rec, nil
}

// splitTypes lower-cases the comma-separated judgment types for an ANY match
func splitTypes(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
