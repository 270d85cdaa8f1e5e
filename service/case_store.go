package service

import (
	"context"
	"strings"

	"judgments-backend/models"
)

// CaseStore is the persistence boundary used by the resolver and the extraction job
type CaseStore interface {
	// FindByDiaryAndCourt matches diary number and court case-insensitively, plus any filters.
	FindByDiaryAndCourt(ctx context.Context, diaryNumber, court string, filters models.CaseFilters) ([]models.CaseRecord, error)

	// FindByDiaryOnly ignores every other attribute.
	FindByDiaryOnly(ctx context.Context, diaryNumber string) ([]models.CaseRecord, error)

	// ExistsByKey reports whether any record shares the (diary, court, bench, case type) key.
	ExistsByKey(ctx context.Context, key models.CaseKey) (bool, error)

	// InsertMany skips records that violate a uniqueness constraint and returns how many were inserted.
	InsertMany(ctx context.Context, records []models.CaseRecord) (int, error)

	// ExistsByIDOrURL returns the subset of ids and urls already present.
	ExistsByIDOrURL(ctx context.Context, ids, urls []string) (map[string]struct{}, map[string]struct{}, error)

	// GetByID returns ErrCaseNotFound when the record does not exist.
	GetByID(ctx context.Context, id string) (*models.CaseRecord, error)
}

// SplitJudgmentTypes splits a comma-separated judgment type filter into trimmed, non-empty values
func SplitJudgmentTypes(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
