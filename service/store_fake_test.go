package service

import (
	"context"
	"strings"
	"sync"

	"judgments-backend/models"
	"judgments-backend/scraper"
)

// memStore is an in-memory CaseStore. The first hideFinds lookups return nothing,
// which simulates a record written by a concurrent request mid-resolution.
type memStore struct {
	mu        sync.Mutex
	records   []models.CaseRecord
	hideFinds int
	insertErr error
	inserts   [][]models.CaseRecord
}

func (s *memStore) hidden() bool {
	if s.hideFinds > 0 {
		s.hideFinds--
		return true
	}
	return false
}

func (s *memStore) FindByDiaryAndCourt(_ context.Context, diaryNumber, court string, f models.CaseFilters) ([]models.CaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hidden() {
		return nil, nil
	}
	var out []models.CaseRecord
	for _, r := range s.records {
		if !strings.EqualFold(r.DiaryNumber, diaryNumber) || !strings.EqualFold(r.Court, court) {
			continue
		}
		if f.City != "" && !strings.EqualFold(r.City, f.City) {
			continue
		}
		if f.Bench != "" && !strings.EqualFold(r.Bench, f.Bench) {
			continue
		}
		if f.CaseType != "" && !strings.Contains(strings.ToLower(r.CaseType), strings.ToLower(f.CaseType)) {
			continue
		}
		if f.JudgmentType != "" && len(filterByJudgmentType([]models.CaseRecord{r}, SplitJudgmentTypes(f.JudgmentType))) == 0 {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) FindByDiaryOnly(_ context.Context, diaryNumber string) ([]models.CaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hidden() {
		return nil, nil
	}
	var out []models.CaseRecord
	for _, r := range s.records {
		if strings.EqualFold(r.DiaryNumber, diaryNumber) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) ExistsByKey(_ context.Context, key models.CaseKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		k := r.Key()
		if strings.EqualFold(k.DiaryNumber, key.DiaryNumber) &&
			strings.EqualFold(k.Court, key.Court) &&
			strings.EqualFold(k.Bench, key.Bench) &&
			strings.EqualFold(k.CaseType, key.CaseType) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) InsertMany(_ context.Context, records []models.CaseRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts = append(s.inserts, records)
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.records = append(s.records, records...)
	return len(records), nil
}

func (s *memStore) ExistsByIDOrURL(_ context.Context, ids, urls []string) (map[string]struct{}, map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	foundIDs := map[string]struct{}{}
	foundURLs := map[string]struct{}{}
	want := map[string]bool{}
	for _, u := range urls {
		want[u] = true
	}
	for _, r := range s.records {
		for _, id := range ids {
			if r.ID == id {
				foundIDs[id] = struct{}{}
			}
		}
		for _, u := range r.JudgmentURL {
			if want[u] {
				foundURLs[u] = struct{}{}
			}
		}
	}
	return foundIDs, foundURLs, nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*models.CaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			rec := r
			return &rec, nil
		}
	}
	return nil, ErrCaseNotFound
}

// fakeScraper replays scripted responses in order, repeating the last one
type fakeScraper struct {
	mu        sync.Mutex
	responses []*scraper.Response
	errs      []error
	calls     []scraper.Request
	endpoints []string
}

func (f *fakeScraper) Scrape(_ context.Context, endpoint string, req scraper.Request) (*scraper.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.calls)
	f.calls = append(f.calls, req)
	f.endpoints = append(f.endpoints, endpoint)

	var err error
	if len(f.errs) > 0 {
		err = f.errs[min(i, len(f.errs)-1)]
	}
	if err != nil {
		return nil, err
	}
	if len(f.responses) == 0 {
		return &scraper.Response{}, nil
	}
	return f.responses[min(i, len(f.responses)-1)], nil
}

func (f *fakeScraper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
