package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"judgments-backend/breaker"
	"judgments-backend/config"
	"judgments-backend/logger"
	"judgments-backend/metrics"
	"judgments-backend/models"
	"judgments-backend/scraper"

	"github.com/google/uuid"
)

const (
	DefaultCourt = "Supreme Court"
	HighCourt    = "High Court"

	defaultScrapeTimeout = 120 * time.Second
	defaultRetryDelay    = 5 * time.Second

	msgNotFound = "No matching casesNumber found"
)

var yearPattern = regexp.MustCompile(`^\d{4}$`)

// CaseResolver resolves judgments from the store, falling back to the scraping service
type CaseResolver struct {
	store         CaseStore
	scraper       scraper.Scraper
	breaker       *breaker.Breaker
	courts        *config.CourtsConfig
	log           logger.Logger
	metrics       *metrics.Metrics
	scrapeTimeout time.Duration
	retryDelay    time.Duration
	sleep         func(context.Context, time.Duration) error
}

// ResolverOption is a functional option for CaseResolver
type ResolverOption func(*CaseResolver)

// ResolverWithStore sets the case store
func ResolverWithStore(store CaseStore) ResolverOption {
	return func(r *CaseResolver) {
		r.store = store
	}
}

// ResolverWithScraper sets the scraping service client
func ResolverWithScraper(s scraper.Scraper) ResolverOption {
	return func(r *CaseResolver) {
		r.scraper = s
	}
}

// ResolverWithBreaker sets the breaker guarding scrape calls
func ResolverWithBreaker(b *breaker.Breaker) ResolverOption {
	return func(r *CaseResolver) {
		r.breaker = b
	}
}

// ResolverWithCourts sets the per-city scraper table
func ResolverWithCourts(c *config.CourtsConfig) ResolverOption {
	return func(r *CaseResolver) {
		r.courts = c
	}
}

// ResolverWithLogger sets the logger
func ResolverWithLogger(l logger.Logger) ResolverOption {
	return func(r *CaseResolver) {
		r.log = l
	}
}

// ResolverWithMetrics sets the metrics sink
func ResolverWithMetrics(m *metrics.Metrics) ResolverOption {
	return func(r *CaseResolver) {
		r.metrics = m
	}
}

// ResolverWithScrapeTimeout bounds each scrape call
func ResolverWithScrapeTimeout(d time.Duration) ResolverOption {
	return func(r *CaseResolver) {
		if d > 0 {
			r.scrapeTimeout = d
		}
	}
}

// ResolverWithRetryDelay sets the wait before retrying an empty scrape
func ResolverWithRetryDelay(d time.Duration) ResolverOption {
	return func(r *CaseResolver) {
		r.retryDelay = d
	}
}

// ResolverWithSleep replaces the retry wait, for tests
func ResolverWithSleep(sleep func(context.Context, time.Duration) error) ResolverOption {
	return func(r *CaseResolver) {
		r.sleep = sleep
	}
}

// NewCaseResolver creates a new case resolver
func NewCaseResolver(opts ...ResolverOption) *CaseResolver {
	r := &CaseResolver{
		scrapeTimeout: defaultScrapeTimeout,
		retryDelay:    defaultRetryDelay,
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.NewNop()
	}
	return r
}

// ResolveRequest identifies the case to resolve
type ResolveRequest struct {
	DiaryNumber  string
	Year         string
	Court        string
	JudgmentType string
	CaseType     string
	Bench        string
	City         string
	District     string
}

// SearchedParams echoes the effective search back to the caller
type SearchedParams struct {
	DiaryNumber  string `json:"diaryNumber"`
	Court        string `json:"court"`
	JudgmentType string `json:"judgmentType,omitempty"`
	CaseType     string `json:"caseType,omitempty"`
	Bench        string `json:"bench,omitempty"`
	City         string `json:"city,omitempty"`
	District     string `json:"district,omitempty"`
}

// ResolveResponse is always returned for a valid request; Status carries the HTTP mapping
type ResolveResponse struct {
	Status             int                 `json:"-"`
	Success            bool                `json:"success"`
	Message            string              `json:"message"`
	Source             string              `json:"source,omitempty"`
	Data               []models.CaseRecord `json:"data"`
	SearchedParams     *SearchedParams     `json:"searchedParams,omitempty"`
	ScrapingAttempted  bool                `json:"scrapingAttempted"`
	ScrapingSuccessful bool                `json:"scrapingSuccessful"`
	IsTimeout          bool                `json:"isTimeout,omitempty"`
	CircuitOpen        bool                `json:"circuitOpen,omitempty"`
	Error              string              `json:"error,omitempty"`
}

const (
	SourceDatabase = "database"
	SourceFallback = "database_fallback"
	SourceScraper  = "scraper"
)

// Resolve runs the lookup tiers. Only request validation errors are returned as errors;
// every other outcome, including upstream failures, is a structured response.
func (r *CaseResolver) Resolve(ctx context.Context, req ResolveRequest) (*ResolveResponse, error) {
	if r.store == nil {
		return nil, errors.New("case store not set")
	}

	req, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	fullDiaryNumber := req.DiaryNumber + "/" + req.Year
	highCourt := strings.EqualFold(req.Court, HighCourt)

	city, cityKnown := r.courts.City(req.City)
	if highCourt && cityKnown && city.ForcedBench != "" {
		req.Bench = city.ForcedBench
	}

	params := &SearchedParams{
		DiaryNumber:  fullDiaryNumber,
		Court:        req.Court,
		JudgmentType: req.JudgmentType,
		CaseType:     req.CaseType,
		Bench:        req.Bench,
		City:         req.City,
		District:     req.District,
	}
	filters := models.CaseFilters{
		City:         req.City,
		Bench:        req.Bench,
		CaseType:     req.CaseType,
		JudgmentType: req.JudgmentType,
	}
	log := r.log.With("diary_number", fullDiaryNumber, "court", req.Court)

	rows, err := r.store.FindByDiaryAndCourt(ctx, fullDiaryNumber, req.Court, filters)
	if err != nil {
		log.Error("exact lookup failed", "error", err)
		return r.finish(storeFailure(params, err), "store_error"), nil
	}
	if len(rows) > 0 {
		log.Info("cases found in store", "tier", 1, "count", len(rows))
		return r.finish(found(rows, "Cases found in database", SourceDatabase, params), "store_exact"), nil
	}

	scrapeEligible := highCourt && req.City != "" && req.CaseType != ""

	fallback, err := r.store.FindByDiaryOnly(ctx, fullDiaryNumber)
	if err != nil {
		log.Error("diary-only lookup failed", "error", err)
		return r.finish(storeFailure(params, err), "store_error"), nil
	}
	if len(fallback) > 0 {
		preferred := filterByCourt(fallback, req.Court)

		if req.JudgmentType != "" {
			matched := filterByJudgmentType(preferred, SplitJudgmentTypes(req.JudgmentType))
			if len(matched) == 0 {
				// the diary number is known, the requested variant is not
				log.Info("judgment type absent for known diary number", "judgment_type", req.JudgmentType)
				return r.finish(notFound(fmt.Sprintf("No %s found for diary number %s", req.JudgmentType, fullDiaryNumber), params, false), "not_found"), nil
			}
			return r.finish(found(matched, "Cases found in database", SourceFallback, params), "store_fallback"), nil
		}

		if len(preferred) > 0 {
			return r.finish(found(preferred, "Cases found in database", SourceFallback, params), "store_fallback"), nil
		}
		if !scrapeEligible {
			// TODO: confirm with product whether rows from other courts should be returned here
			log.Warn("returning diary-only rows from other courts", "count", len(fallback))
			return r.finish(found(fallback, "Cases found in database", SourceFallback, params), "store_fallback"), nil
		}
	}

	if !scrapeEligible {
		return r.finish(notFound(msgNotFound, params, false), "not_found"), nil
	}

	return r.scrape(ctx, log, req, fullDiaryNumber, city, cityKnown, filters, params), nil
}

func (r *CaseResolver) scrape(
	ctx context.Context,
	log logger.Logger,
	req ResolveRequest,
	fullDiaryNumber string,
	city config.CityConfig,
	cityKnown bool,
	filters models.CaseFilters,
	params *SearchedParams,
) *ResolveResponse {
	if !cityKnown {
		return r.finish(configFailure(fmt.Sprintf("Unsupported city for High Court search: %s", req.City), params), "config_error")
	}

	bench := req.Bench
	if bench == "" {
		bench = city.DefaultBench
	}
	if city.RequiresBench && bench == "" {
		return r.finish(configFailure(fmt.Sprintf("Bench is required for %s", req.City), params), "config_error")
	}
	code, ok := city.CaseTypeCode(bench, req.CaseType)
	if !ok {
		return r.finish(configFailure(fmt.Sprintf("Unsupported case type %q for %s", req.CaseType, req.City), params), "config_error")
	}
	params.Bench = bench

	sreq := scraper.Request{
		HighCourt:     city.HighCourt,
		Bench:         bench,
		DiaryNumber:   fullDiaryNumber,
		CaseType:      req.CaseType,
		CaseTypeValue: code,
		JudgmentType:  req.JudgmentType,
		City:          req.City,
	}

	resp, err := r.callScraper(ctx, city.Endpoint, sreq)
	if err == nil && resp.Count() == 0 {
		log.Info("scrape returned no results, retrying", "delay", r.retryDelay)
		if err = r.sleep(ctx, r.retryDelay); err == nil {
			resp, err = r.callScraper(ctx, city.Endpoint, sreq)
		}
	}
	if err != nil {
		log.Error("scrape failed", "error", err)
		return r.finish(scrapeFailure(fmt.Errorf("%w: %w", ErrScrapeFailed, err), params), "scrape_error")
	}
	if resp.Count() == 0 {
		res := notFound("No judgments found on the court website", params, true)
		res.ScrapingSuccessful = true
		return r.finish(res, "scrape_empty")
	}

	items := FlattenScrapeItems(resp.Items)
	records := NormalizeCases(items)
	ids := make(map[string]bool, len(records))
	for i := range records {
		rec := &records[i]
		// positional ids repeat across courts for the same diary number, and
		// flattened children can inherit their parent's id
		if !HasSourceID(items[i]) || ids[rec.ID] {
			rec.ID = uuid.NewString()
		}
		ids[rec.ID] = true
		rec.DiaryNumber = fullDiaryNumber
		rec.Court = req.Court
		rec.City = req.City
		rec.Bench = bench
		rec.CaseType = req.CaseType
		if rec.District == "" {
			rec.District = req.District
		}
		if rec.SerialNumber == "" {
			rec.SerialNumber = strconv.Itoa(i + 1)
		}
	}

	r.persist(ctx, log, records)

	data, err := r.store.FindByDiaryAndCourt(ctx, fullDiaryNumber, req.Court, filters)
	if err != nil {
		log.Error("re-query after insert failed, returning scraped results", "error", err)
	}
	if len(data) == 0 {
		data = records
		if req.JudgmentType != "" {
			data = filterByJudgmentType(records, SplitJudgmentTypes(req.JudgmentType))
		}
	}
	if len(data) == 0 {
		res := notFound(fmt.Sprintf("No %s found on the court website", req.JudgmentType), params, true)
		res.ScrapingSuccessful = true
		return r.finish(res, "scrape_empty")
	}

	SortNewestFirst(data)
	res := found(data, "Cases fetched from court website", SourceScraper, params)
	res.ScrapingAttempted = true
	res.ScrapingSuccessful = true
	return r.finish(res, "scrape_hit")
}

// persist inserts scraped records whose key is not yet stored. Errors are logged only.
func (r *CaseResolver) persist(ctx context.Context, log logger.Logger, records []models.CaseRecord) {
	queued := make([]models.CaseRecord, 0, len(records))
	for _, rec := range records {
		exists, err := r.store.ExistsByKey(ctx, rec.Key())
		if err != nil {
			log.Warn("existence check failed, relying on insert dedup", "error", err)
		}
		if exists {
			continue
		}
		queued = append(queued, rec)
	}

	if len(queued) == 0 {
		log.Info("all scraped records already stored", "count", len(records))
		return
	}

	inserted, err := r.store.InsertMany(ctx, queued)
	if err != nil {
		log.Error("failed to persist scraped records", "error", err, "queued", len(queued))
		return
	}
	if r.metrics != nil {
		r.metrics.CasesInserted.Add(float64(inserted))
	}
	log.Info("persisted scraped records", "queued", len(queued), "inserted", inserted)
}

func (r *CaseResolver) callScraper(ctx context.Context, endpoint string, req scraper.Request) (*scraper.Response, error) {
	if r.scraper == nil {
		return nil, errors.New("scraper not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, r.scrapeTimeout)
	defer cancel()

	call := func(ctx context.Context) (*scraper.Response, error) {
		return r.scraper.Scrape(ctx, endpoint, req)
	}
	if r.breaker == nil {
		return call(ctx)
	}
	return breaker.Call(ctx, r.breaker, call)
}

func (r *CaseResolver) finish(res *ResolveResponse, outcome string) *ResolveResponse {
	if r.metrics != nil {
		r.metrics.ResolutionsTotal.WithLabelValues(outcome).Inc()
	}
	return res
}

func validateRequest(req ResolveRequest) (ResolveRequest, error) {
	req.DiaryNumber = strings.TrimSpace(req.DiaryNumber)
	req.Year = strings.TrimSpace(req.Year)
	req.Court = strings.TrimSpace(req.Court)
	req.JudgmentType = strings.TrimSpace(req.JudgmentType)
	req.CaseType = strings.TrimSpace(req.CaseType)
	req.Bench = strings.TrimSpace(req.Bench)
	req.City = strings.TrimSpace(req.City)
	req.District = strings.TrimSpace(req.District)

	if req.DiaryNumber == "" {
		return req, &ValidationError{Field: "diaryNumber", Message: "diaryNumber is required"}
	}
	if !yearPattern.MatchString(req.Year) {
		return req, &ValidationError{Field: "year", Message: "year must be exactly 4 digits"}
	}
	if req.Court == "" {
		req.Court = DefaultCourt
	}
	return req, nil
}

func filterByCourt(rows []models.CaseRecord, court string) []models.CaseRecord {
	want := strings.ToLower(court)
	var out []models.CaseRecord
	for _, row := range rows {
		if strings.Contains(strings.ToLower(row.Court), want) {
			out = append(out, row)
		}
	}
	return out
}

func filterByJudgmentType(rows []models.CaseRecord, types []string) []models.CaseRecord {
	if len(types) == 0 {
		return rows
	}
	var out []models.CaseRecord
	for _, row := range rows {
		for _, t := range types {
			if strings.EqualFold(strings.TrimSpace(row.JudgmentType), t) {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

func found(rows []models.CaseRecord, message, source string, params *SearchedParams) *ResolveResponse {
	return &ResolveResponse{
		Status:         http.StatusOK,
		Success:        true,
		Message:        message,
		Source:         source,
		Data:           rows,
		SearchedParams: params,
	}
}

func notFound(message string, params *SearchedParams, attempted bool) *ResolveResponse {
	return &ResolveResponse{
		Status:            http.StatusNotFound,
		Success:           false,
		Message:           message,
		Data:              []models.CaseRecord{},
		SearchedParams:    params,
		ScrapingAttempted: attempted,
	}
}

func configFailure(message string, params *SearchedParams) *ResolveResponse {
	return &ResolveResponse{
		Status:         http.StatusBadRequest,
		Success:        false,
		Message:        message,
		Data:           []models.CaseRecord{},
		SearchedParams: params,
		Error:          ErrConfiguration.Error(),
	}
}

func storeFailure(params *SearchedParams, err error) *ResolveResponse {
	return &ResolveResponse{
		Status:         http.StatusInternalServerError,
		Success:        false,
		Message:        "Failed to query case store",
		Data:           []models.CaseRecord{},
		SearchedParams: params,
		Error:          err.Error(),
	}
}

func scrapeFailure(err error, params *SearchedParams) *ResolveResponse {
	res := &ResolveResponse{
		Status:             http.StatusInternalServerError,
		Success:            false,
		Message:            "Failed to fetch case from court website",
		Data:               []models.CaseRecord{},
		SearchedParams:     params,
		ScrapingAttempted:  true,
		ScrapingSuccessful: false,
		Error:              err.Error(),
	}
	switch {
	case errors.Is(err, breaker.ErrOpen):
		res.CircuitOpen = true
		res.Message = "Scraping service temporarily unavailable, try again later"
	case scraper.IsTimeout(err):
		res.IsTimeout = true
		res.Message = "Court website did not respond in time"
	}
	return res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
