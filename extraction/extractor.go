package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"judgments-backend/logger"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/google/generative-ai-go/genai"
)

var (
	// ErrParse is a transient extraction failure worth one retry
	ErrParse = errors.New("document parse failed")

	// ErrUnsupported is returned for documents no extractor understands
	ErrUnsupported = errors.New("unsupported document type")
)

var reWhitespace = regexp.MustCompile(`[ \t\r\f\v]+`)

// TextExtractor turns a downloaded document into plain text
type TextExtractor interface {
	Extract(ctx context.Context, doc Document) (string, error)
}

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.Bytes(), errb.Bytes(), err
}

// PDFExtractor shells out to pdftotext
type PDFExtractor struct {
	bin    string
	runner Runner
	log    logger.Logger
}

// NewPDFExtractor creates a pdftotext-backed extractor. runner may be nil.
func NewPDFExtractor(bin string, runner Runner, log logger.Logger) *PDFExtractor {
	if bin == "" {
		bin = "pdftotext"
	}
	if runner == nil {
		runner = execRunner{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &PDFExtractor{bin: bin, runner: runner, log: log}
}

// Extract writes the PDF to a temp file since pdftotext needs a seekable input
func (e *PDFExtractor) Extract(ctx context.Context, doc Document) (string, error) {
	tmp, err := os.CreateTemp("", "judgment-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func(path string) {
		if err := os.Remove(path); err != nil {
			e.log.Warn("failed to remove temp file", "path", path, "error", err)
		}
	}(tmp.Name())

	if _, err := tmp.Write(doc.Data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	start := time.Now()
	out, errb, err := e.runner.Run(ctx, e.bin, "-layout", "-enc", "UTF-8", "-eol", "unix", tmp.Name(), "-")
	if err != nil {
		e.log.Warn("pdftotext failed",
			"url", doc.URL,
			"duration_ms", time.Since(start).Milliseconds(),
			"stderr", truncate(string(errb), 2048),
			"error", err,
		)
		return "", fmt.Errorf("%w: pdftotext: %v", ErrParse, err)
	}
	return cleanText(string(out)), nil
}

// HTMLExtractor pulls the main article text out of judgment pages published as HTML
type HTMLExtractor struct{}

// Extract runs readability and flattens the article with goquery
func (HTMLExtractor) Extract(ctx context.Context, doc Document) (string, error) {
	pageURL, err := url.Parse(doc.URL)
	if err != nil {
		pageURL = &url.URL{}
	}

	article, err := readability.FromReader(bytes.NewReader(doc.Data), pageURL)
	if err != nil {
		return "", fmt.Errorf("%w: readability: %v", ErrParse, err)
	}

	// keep block boundaries so words from adjacent paragraphs do not run together
	content := strings.NewReplacer("</p>", "</p>\n", "<br>", "\n", "<br/>", "\n", "</div>", "</div>\n").Replace(article.Content)
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("%w: goquery: %v", ErrParse, err)
	}
	return cleanText(parsed.Text()), nil
}

// GeminiExtractor transcribes scanned PDFs that carry no text layer
type GeminiExtractor struct {
	model *genai.GenerativeModel
}

// NewGeminiExtractor uses modelName from an existing client
func NewGeminiExtractor(client *genai.Client, modelName string) *GeminiExtractor {
	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)
	return &GeminiExtractor{model: model}
}

const ocrPrompt = "Transcribe the full text of this court judgment exactly as written. Output plain text only, no commentary."

// Extract sends the document inline and concatenates the text parts of the first candidate
func (e *GeminiExtractor) Extract(ctx context.Context, doc Document) (string, error) {
	resp, err := e.model.GenerateContent(ctx,
		genai.Blob{MIMEType: "application/pdf", Data: doc.Data},
		genai.Text(ocrPrompt),
	)
	if err != nil {
		return "", fmt.Errorf("%w: gemini: %v", ErrParse, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: gemini returned no candidates", ErrParse)
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return cleanText(b.String()), nil
}

// DispatchExtractor picks an extractor by document type. Fallback, when set, handles
// PDFs whose text layer came back empty.
type DispatchExtractor struct {
	PDF      TextExtractor
	HTML     TextExtractor
	Fallback TextExtractor
	Log      logger.Logger
}

// Extract implements TextExtractor
func (d *DispatchExtractor) Extract(ctx context.Context, doc Document) (string, error) {
	switch DetectKind(doc) {
	case KindPDF:
		if d.PDF == nil {
			return "", fmt.Errorf("%w: pdf", ErrUnsupported)
		}
		text, err := d.PDF.Extract(ctx, doc)
		if err != nil || strings.TrimSpace(text) != "" || d.Fallback == nil {
			return text, err
		}
		if d.Log != nil {
			d.Log.Info("pdf has no text layer, using fallback", "url", doc.URL)
		}
		return d.Fallback.Extract(ctx, doc)
	case KindHTML:
		if d.HTML == nil {
			return "", fmt.Errorf("%w: html", ErrUnsupported)
		}
		return d.HTML.Extract(ctx, doc)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, doc.ContentType)
	}
}

// Kind of a downloaded document
type Kind string

const (
	KindPDF     Kind = "pdf"
	KindHTML    Kind = "html"
	KindUnknown Kind = "unknown"
)

// DetectKind trusts the magic bytes first, then the declared content type
func DetectKind(doc Document) Kind {
	if bytes.HasPrefix(bytes.TrimLeft(doc.Data, "\r\n\t "), []byte("%PDF-")) {
		return KindPDF
	}

	declared, _, _ := mime.ParseMediaType(doc.ContentType)
	switch declared {
	case "application/pdf":
		return KindPDF
	case "text/html", "application/xhtml+xml":
		return KindHTML
	}

	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(doc.Data))
	switch sniffed {
	case "application/pdf":
		return KindPDF
	case "text/html":
		return KindHTML
	}
	return KindUnknown
}

func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(reWhitespace.ReplaceAllString(line, " "))
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
