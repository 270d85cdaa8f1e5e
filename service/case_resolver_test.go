package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"judgments-backend/breaker"
	"judgments-backend/config"
	"judgments-backend/models"
	"judgments-backend/scraper"
)

const testCourts = `
cities:
  delhi:
    high_court: Delhi High Court
    endpoint: /scrape/delhi
    forced_bench: Principal Bench
    case_types:
      W.P.(C): "134"
  mumbai:
    high_court: Bombay High Court
    endpoint: /scrape/bombay
    requires_bench: true
    bench_case_types:
      Nagpur:
        WP: "101"
`

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestResolver(t *testing.T, store *memStore, sc scraper.Scraper, opts ...ResolverOption) (*CaseResolver, *sleepRecorder) {
	t.Helper()
	courts, err := config.ParseCourts([]byte(testCourts))
	if err != nil {
		t.Fatalf("ParseCourts: %v", err)
	}
	rec := &sleepRecorder{}
	base := []ResolverOption{
		ResolverWithStore(store),
		ResolverWithScraper(sc),
		ResolverWithCourts(courts),
		ResolverWithSleep(rec.sleep),
	}
	return NewCaseResolver(append(base, opts...)...), rec
}

func delhiRequest() ResolveRequest {
	return ResolveRequest{
		DiaryNumber: "4521",
		Year:        "2022",
		Court:       "High Court",
		City:        "delhi",
		CaseType:    "W.P.(C)",
	}
}

func scrapeResponse(judgments ...map[string]any) *scraper.Response {
	nested := make([]any, 0, len(judgments))
	for _, j := range judgments {
		nested = append(nested, j)
	}
	return &scraper.Response{Items: []map[string]any{{
		"Diary Number":     "4521/2022",
		"Parties":          "A vs B",
		"processedResults": nested,
	}}}
}

func TestResolveSupremeCourtNotFound(t *testing.T) {
	sc := &fakeScraper{}
	r, _ := newTestResolver(t, &memStore{}, sc)

	res, err := r.Resolve(context.Background(), ResolveRequest{DiaryNumber: "12345", Year: "2023"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != http.StatusNotFound || res.Success {
		t.Fatalf("expected 404, got %d success=%v", res.Status, res.Success)
	}
	if res.Message != "No matching casesNumber found" {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if res.ScrapingAttempted || sc.callCount() != 0 {
		t.Fatal("scraping must not be attempted for the Supreme Court")
	}
	if res.SearchedParams.DiaryNumber != "12345/2023" || res.SearchedParams.Court != "Supreme Court" {
		t.Fatalf("unexpected searched params %+v", res.SearchedParams)
	}
	if res.Data == nil || len(res.Data) != 0 {
		t.Fatalf("expected empty data list, got %v", res.Data)
	}
}

func TestResolveValidation(t *testing.T) {
	r, _ := newTestResolver(t, &memStore{}, &fakeScraper{})

	for _, req := range []ResolveRequest{
		{DiaryNumber: "", Year: "2023"},
		{DiaryNumber: "  ", Year: "2023"},
		{DiaryNumber: "1", Year: "23"},
		{DiaryNumber: "1", Year: "20x3"},
		{DiaryNumber: "1", Year: "20234"},
	} {
		_, err := r.Resolve(context.Background(), req)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%+v: expected ErrInvalidInput, got %v", req, err)
		}
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field == "" {
			t.Fatalf("%+v: expected a ValidationError naming the field", req)
		}
	}
}

func TestResolveExactHit(t *testing.T) {
	store := &memStore{records: []models.CaseRecord{
		{ID: "a", DiaryNumber: "77/2021", Court: "Supreme Court", JudgmentType: "JUDGMENT"},
	}}
	r, _ := newTestResolver(t, store, &fakeScraper{})

	res, err := r.Resolve(context.Background(), ResolveRequest{DiaryNumber: "77", Year: "2021", Court: "supreme court"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != http.StatusOK || res.Source != SourceDatabase || len(res.Data) != 1 {
		t.Fatalf("unexpected response %+v", res)
	}
	if res.Message != "Cases found in database" {
		t.Fatalf("unexpected message %q", res.Message)
	}
}

func TestResolveDiaryOnlyPrefersCourt(t *testing.T) {
	store := &memStore{records: []models.CaseRecord{
		{ID: "sc", DiaryNumber: "9/2020", Court: "Supreme Court of India"},
		{ID: "hc", DiaryNumber: "9/2020", Court: "High Court"},
	}}
	r, _ := newTestResolver(t, store, &fakeScraper{})

	res, err := r.Resolve(context.Background(), ResolveRequest{DiaryNumber: "9", Year: "2020"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Source != SourceFallback || len(res.Data) != 1 || res.Data[0].ID != "sc" {
		t.Fatalf("expected the court-matching fallback row, got %+v", res.Data)
	}
}

func TestResolveDiaryOnlyOtherCourtsWhenNotScrapeEligible(t *testing.T) {
	store := &memStore{records: []models.CaseRecord{
		{ID: "hc", DiaryNumber: "9/2020", Court: "High Court"},
	}}
	r, _ := newTestResolver(t, store, &fakeScraper{})

	res, err := r.Resolve(context.Background(), ResolveRequest{DiaryNumber: "9", Year: "2020"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != http.StatusOK || len(res.Data) != 1 || res.Data[0].ID != "hc" {
		t.Fatalf("expected unfiltered fallback rows, got %+v", res)
	}
}

func TestResolveJudgmentTypeExactness(t *testing.T) {
	store := &memStore{records: []models.CaseRecord{
		{ID: "o1", DiaryNumber: "4521/2022", Court: "High Court", City: "delhi", Bench: "Principal Bench", CaseType: "W.P.(C)", JudgmentType: "ORDER"},
	}}
	sc := &fakeScraper{}
	r, _ := newTestResolver(t, store, sc)

	req := delhiRequest()
	req.JudgmentType = "JUDGMENT"
	res, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != http.StatusNotFound || len(res.Data) != 0 {
		t.Fatalf("expected 404 without ORDER rows, got %+v", res)
	}
	if sc.callCount() != 0 {
		t.Fatal("a known diary number with a missing judgment type must not trigger a scrape")
	}

	req.JudgmentType = "judgment, order"
	res, err = r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != http.StatusOK || len(res.Data) != 1 {
		t.Fatalf("expected comma-separated types to match ORDER, got %+v", res)
	}
}

func TestResolveConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		req  ResolveRequest
	}{
		{"unknown city", ResolveRequest{DiaryNumber: "1", Year: "2020", Court: "High Court", City: "pune", CaseType: "WP"}},
		{"bench required", ResolveRequest{DiaryNumber: "1", Year: "2020", Court: "High Court", City: "mumbai", CaseType: "WP"}},
		{"unknown case type", ResolveRequest{DiaryNumber: "1", Year: "2020", Court: "High Court", City: "mumbai", Bench: "Nagpur", CaseType: "XYZ"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := &fakeScraper{}
			r, _ := newTestResolver(t, &memStore{}, sc)
			res, err := r.Resolve(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if res.Status != http.StatusBadRequest || res.Success {
				t.Fatalf("expected 400, got %d", res.Status)
			}
			if sc.callCount() != 0 {
				t.Fatal("scraper must not be called on configuration errors")
			}
		})
	}
}

func TestResolveScrapeSuccess(t *testing.T) {
	store := &memStore{}
	sc := &fakeScraper{responses: []*scraper.Response{scrapeResponse(
		map[string]any{"Judgment Date": "01-02-2022", "Judgment Type": "ORDER", "judgmentUrl": "https://court/1.pdf"},
		map[string]any{"Judgment Date": "15-06-2022", "Judgment Type": "JUDGMENT", "judgmentUrl": "https://court/2.pdf"},
	)}}
	r, sleeps := newTestResolver(t, store, sc)

	req := delhiRequest()
	req.Bench = "Some Other Bench"
	res, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != http.StatusOK || !res.ScrapingAttempted || !res.ScrapingSuccessful {
		t.Fatalf("unexpected response %+v", res)
	}
	if len(sleeps.delays) != 0 {
		t.Fatal("no retry expected for a non-empty scrape")
	}

	got := sc.calls[0]
	if got.Bench != "Principal Bench" || got.CaseTypeValue != "134" || got.DiaryNumber != "4521/2022" || got.HighCourt != "Delhi High Court" {
		t.Fatalf("unexpected scrape request %+v", got)
	}
	if sc.endpoints[0] != "/scrape/delhi" {
		t.Fatalf("unexpected endpoint %s", sc.endpoints[0])
	}

	if len(store.inserts) != 1 || len(store.inserts[0]) != 2 {
		t.Fatalf("expected one insert of 2 records, got %v", store.inserts)
	}
	for _, rec := range store.inserts[0] {
		if rec.Court != "High Court" || rec.City != "delhi" || rec.Bench != "Principal Bench" || rec.Parties != "A vs B" {
			t.Fatalf("record not stamped with request context: %+v", rec)
		}
		if rec.ID == "" || strings.HasPrefix(rec.ID, "4521/2022-") {
			t.Fatalf("expected a store-assigned id, got %q", rec.ID)
		}
	}

	if len(res.Data) != 2 || res.Data[0].JudgmentDate != "15-06-2022" {
		t.Fatalf("expected newest judgment first, got %+v", res.Data)
	}
}

func TestResolveScrapeRetriesOnceWhenEmpty(t *testing.T) {
	sc := &fakeScraper{responses: []*scraper.Response{
		{},
		scrapeResponse(map[string]any{"Judgment Date": "01-02-2022", "Judgment Type": "ORDER"}),
	}}
	r, sleeps := newTestResolver(t, &memStore{}, sc)

	res, err := r.Resolve(context.Background(), delhiRequest())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sc.callCount() != 2 {
		t.Fatalf("expected 2 scrape calls, got %d", sc.callCount())
	}
	if len(sleeps.delays) != 1 || sleeps.delays[0] != 5*time.Second {
		t.Fatalf("expected one 5s retry wait, got %v", sleeps.delays)
	}
	if res.Status != http.StatusOK || len(res.Data) != 1 {
		t.Fatalf("unexpected response %+v", res)
	}
}

func TestResolveScrapeEmptyAfterRetry(t *testing.T) {
	sc := &fakeScraper{}
	r, _ := newTestResolver(t, &memStore{}, sc)

	res, err := r.Resolve(context.Background(), delhiRequest())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sc.callCount() != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", sc.callCount())
	}
	if res.Status != http.StatusNotFound || !res.ScrapingAttempted || !res.ScrapingSuccessful {
		t.Fatalf("unexpected response %+v", res)
	}
}

func TestResolveScrapeFailure(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		timeout bool
	}{
		{"upstream", fmt.Errorf("%w: captcha failed", scraper.ErrUpstream), false},
		{"timeout", fmt.Errorf("scrape: %w", context.DeadlineExceeded), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{}
			r, _ := newTestResolver(t, store, &fakeScraper{errs: []error{tt.err}})

			res, err := r.Resolve(context.Background(), delhiRequest())
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if res.Status != http.StatusInternalServerError || res.ScrapingSuccessful || !res.ScrapingAttempted {
				t.Fatalf("unexpected response %+v", res)
			}
			if res.IsTimeout != tt.timeout {
				t.Fatalf("expected isTimeout=%v", tt.timeout)
			}
			if res.Error == "" {
				t.Fatal("expected upstream error text")
			}
			if len(store.inserts) != 0 {
				t.Fatal("nothing should be inserted on failure")
			}
		})
	}
}

func TestResolveCircuitOpen(t *testing.T) {
	b := breaker.New(breaker.Config{Name: "scraper", FailureThreshold: 1, Timeout: time.Hour})
	sc := &fakeScraper{errs: []error{scraper.ErrUpstream}}
	r, _ := newTestResolver(t, &memStore{}, sc, ResolverWithBreaker(b))

	if _, err := r.Resolve(context.Background(), delhiRequest()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	res, err := r.Resolve(context.Background(), delhiRequest())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.CircuitOpen || res.Status != http.StatusInternalServerError {
		t.Fatalf("expected an open-circuit failure, got %+v", res)
	}
	if sc.callCount() != 1 {
		t.Fatalf("open circuit must not reach the scraper, got %d calls", sc.callCount())
	}
}

func TestResolveSkipsInsertForExistingKey(t *testing.T) {
	existing := models.CaseRecord{
		ID:           "existing",
		DiaryNumber:  "4521/2022",
		Court:        "High Court",
		City:         "delhi",
		Bench:        "Principal Bench",
		CaseType:     "W.P.(C)",
		JudgmentType: "ORDER",
	}
	store := &memStore{records: []models.CaseRecord{existing}, hideFinds: 2}
	sc := &fakeScraper{responses: []*scraper.Response{scrapeResponse(
		map[string]any{"Judgment Date": "01-02-2022", "Judgment Type": "ORDER"},
	)}}
	r, _ := newTestResolver(t, store, sc)

	res, err := r.Resolve(context.Background(), delhiRequest())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sc.callCount() != 1 {
		t.Fatalf("expected the hidden record to force a scrape, got %d calls", sc.callCount())
	}
	if len(store.inserts) != 0 {
		t.Fatalf("expected no insert for an existing key, got %v", store.inserts)
	}
	if len(res.Data) != 1 || res.Data[0].ID != "existing" {
		t.Fatalf("expected the pre-existing record, got %+v", res.Data)
	}
}

func TestResolveInsertFailureStillReturnsScrapedData(t *testing.T) {
	store := &memStore{insertErr: errors.New("db down")}
	sc := &fakeScraper{responses: []*scraper.Response{scrapeResponse(
		map[string]any{"Judgment Date": "01-02-2022", "Judgment Type": "ORDER"},
	)}}
	r, _ := newTestResolver(t, store, sc)

	res, err := r.Resolve(context.Background(), delhiRequest())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != http.StatusOK || len(res.Data) != 1 || res.Source != SourceScraper {
		t.Fatalf("expected in-memory scraped data, got %+v", res)
	}
}

func TestResolveScrapeKeepsSourceIDs(t *testing.T) {
	store := &memStore{}
	sc := &fakeScraper{responses: []*scraper.Response{{Items: []map[string]any{
		{"id": "dhc-7781", "Diary Number": "4521/2022", "Judgment Type": "ORDER", "judgmentUrl": "https://court/1.pdf"},
		{"id": "dhc-7781", "Diary Number": "4521/2022", "Judgment Type": "JUDGMENT", "judgmentUrl": "https://court/2.pdf"},
		{"Diary Number": "4521/2022", "Judgment Type": "ORDER", "judgmentUrl": "https://court/3.pdf"},
	}}}}
	r, _ := newTestResolver(t, store, sc)

	res, err := r.Resolve(context.Background(), delhiRequest())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != http.StatusOK || len(store.inserts) != 1 || len(store.inserts[0]) != 3 {
		t.Fatalf("unexpected result %+v inserts=%v", res, store.inserts)
	}

	got := store.inserts[0]
	if got[0].ID != "dhc-7781" {
		t.Fatalf("scraper id should be kept, got %q", got[0].ID)
	}
	if got[1].ID == "dhc-7781" || got[1].ID == "" {
		t.Fatalf("a repeated scraper id should be replaced, got %q", got[1].ID)
	}
	if got[2].ID == "" || strings.HasPrefix(got[2].ID, "4521/2022-") {
		t.Fatalf("records without an id should get a store-assigned one, got %q", got[2].ID)
	}
}
