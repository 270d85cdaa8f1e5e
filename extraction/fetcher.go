package extraction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"judgments-backend/logger"
	"judgments-backend/metrics"
)

// ErrFetch marks a document that could not be downloaded
var ErrFetch = errors.New("document fetch failed")

const maxDocumentBytes = 64 << 20

// Document is a downloaded judgment
type Document struct {
	URL         string
	ContentType string
	Data        []byte
}

// Fetcher downloads judgment documents
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Document, error)
}

// HTTPFetcher downloads documents with a per-request timeout
type HTTPFetcher struct {
	client  *http.Client
	log     logger.Logger
	metrics *metrics.Metrics
}

// NewHTTPFetcher creates a fetcher. A timeout of zero means 30 seconds.
func NewHTTPFetcher(timeout time.Duration, log logger.Logger, m *metrics.Metrics) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &HTTPFetcher{
		client:  &http.Client{Timeout: timeout},
		log:     log,
		metrics: m,
	}
}

// Fetch treats non-2xx responses, empty bodies and timeouts as ErrFetch
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Document, error) {
	start := time.Now()
	defer func() {
		if f.metrics != nil {
			f.metrics.DocumentFetchTime.Observe(time.Since(start).Seconds())
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", "judgments-backend/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			f.log.Warn("document body close error", "url", url, "error", err)
		}
	}(resp.Body)

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrFetch, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrFetch)
	}

	f.log.Debug("document fetched", "url", url, "bytes", len(data), "elapsed_ms", time.Since(start).Milliseconds())
	return &Document{
		URL:         url,
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
