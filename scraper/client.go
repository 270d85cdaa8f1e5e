package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"judgments-backend/logger"
	"judgments-backend/metrics"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrUpstream marks a scrape that reached the service but did not succeed
var ErrUpstream = errors.New("scrape service error")

// Request is the payload the scraping service expects
type Request struct {
	HighCourt     string `json:"highCourt"`
	Bench         string `json:"bench"`
	DiaryNumber   string `json:"diaryNumber"`
	CaseType      string `json:"caseType"`
	CaseTypeValue string `json:"caseTypeValue"`
	JudgmentType  string `json:"judgmentType"`
	City          string `json:"city"`
}

// Response holds the raw result items. Each item may embed a processedResults list.
type Response struct {
	Items []map[string]any
}

// Scraper is implemented by Client and by test fakes
type Scraper interface {
	Scrape(ctx context.Context, endpoint string, req Request) (*Response, error)
}

const responseSchema = `{
	"type": "object",
	"anyOf": [
		{"required": ["error"]},
		{"required": ["result"]},
		{"required": ["data"]},
		{"required": ["processedResults"]}
	],
	"properties": {
		"error": {"type": ["string", "object", "null"]},
		"result": {"type": ["array", "object", "null"]},
		"data": {"type": ["array", "object", "null"]},
		"processedResults": {"type": ["array", "null"]}
	}
}`

// Client calls the remote scraping service over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
	schema     *jsonschema.Schema
	log        logger.Logger
	metrics    *metrics.Metrics
}

// NewClient creates a scraping service client. Deadlines come from the caller's context.
func NewClient(baseURL string, log logger.Logger, m *metrics.Metrics) (*Client, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("scrape_response.json", strings.NewReader(responseSchema)); err != nil {
		return nil, fmt.Errorf("add scrape response schema: %w", err)
	}
	schema, err := compiler.Compile("scrape_response.json")
	if err != nil {
		return nil, fmt.Errorf("compile scrape response schema: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		schema:     schema,
		log:        log,
		metrics:    m,
	}, nil
}

// Scrape posts req to endpoint (relative to the base URL, or absolute)
func (c *Client) Scrape(ctx context.Context, endpoint string, req Request) (*Response, error) {
	reqID := uuid.New().String()
	start := time.Now()

	url := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		url = c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode scrape request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build scrape request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.log.Info("scrape request",
		"req_id", reqID,
		"url", url,
		"diary_number", req.DiaryNumber,
		"city", req.City,
		"bench", req.Bench,
		"case_type", req.CaseType,
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.observe("error", start)
		c.log.Error("scrape request failed", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("scrape %s: %w", url, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.log.Warn("scrape response body close error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe("error", start)
		return nil, fmt.Errorf("read scrape response: %w", err)
	}

	c.log.Info("scrape response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		c.observe("non_2xx", start)
		msg := errorMessage(raw)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, msg)
	}

	out, err := c.decode(raw)
	if err != nil {
		c.observe("invalid", start)
		return nil, err
	}
	c.observe("success", start)
	return out, nil
}

func (c *Client) decode(raw []byte) (*Response, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrUpstream, err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: unexpected response shape: %v", ErrUpstream, err)
	}

	body := doc.(map[string]any)
	if msg := errorValue(body["error"]); msg != "" {
		return nil, fmt.Errorf("%w: %s", ErrUpstream, msg)
	}

	items := objects(body["result"])
	if len(items) == 0 {
		items = objects(body["data"])
	}
	if len(items) == 0 {
		if nested, ok := body["processedResults"].([]any); ok && len(nested) > 0 {
			items = []map[string]any{{"processedResults": nested}}
		}
	}

	return &Response{Items: items}, nil
}

// Count returns the number of judgment records across all items
func (r *Response) Count() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, item := range r.Items {
		if nested, ok := item["processedResults"].([]any); ok && len(nested) > 0 {
			n += len(nested)
			continue
		}
		n++
	}
	return n
}

// IsTimeout reports whether err came from a deadline or a network timeout
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) observe(status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.ScrapeCalls.WithLabelValues(status).Inc()
	c.metrics.ScrapeDuration.Observe(time.Since(start).Seconds())
}

func objects(v any) []map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return []map[string]any{t}
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

func errorValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		if msg, ok := t["message"].(string); ok && msg != "" {
			return msg
		}
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return ""
	}
}

func errorMessage(raw []byte) string {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		s := strings.TrimSpace(string(raw))
		if len(s) > 200 {
			s = s[:200]
		}
		return s
	}
	return errorValue(body["error"])
}
