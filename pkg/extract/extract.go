package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-grading-api/pkg/ai"
)

// ErrExtraction wraps every failure to turn a document into text.
var ErrExtraction = errors.New("document extraction failed")

// Mode selects the extraction capability.
type Mode string

const (
	// ModePrinted reads the document's text layer.
	ModePrinted Mode = "printed"
	// ModeHandwritten transcribes the document with a vision model.
	ModeHandwritten Mode = "handwritten"
)

// TranscriptionInstruction is sent with handwritten documents.
const TranscriptionInstruction = `Transcribe the handwritten document exactly as written.
Preserve paragraphs, numbering and line structure. Output only the transcription.`

var (
	printedExtensions = map[string]string{
		".pdf": "application/pdf",
		".txt": "text/plain",
	}
	handwrittenExtensions = map[string]string{
		".pdf":  "application/pdf",
		".png":  "image/png",
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".webp": "image/webp",
		".heic": "image/heic",
		".heif": "image/heif",
	}
)

// Config tunes document fetching.
type Config struct {
	FetchTimeout time.Duration
	MaxBytes     int64
	HTTPClient   *http.Client
}

// Extractor implements printed and handwritten text extraction for submission documents.
type Extractor struct {
	transcriber ai.Transcriber
	client      *http.Client
	timeout     time.Duration
	maxBytes    int64
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// New constructs an Extractor. A nil transcriber disables handwritten extraction.
func New(transcriber ai.Transcriber, cfg Config, logger zerolog.Logger) *Extractor {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 20 * 1024 * 1024
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &Extractor{
		transcriber: transcriber,
		client:      client,
		timeout:     cfg.FetchTimeout,
		maxBytes:    cfg.MaxBytes,
		logger:      logger.With().Str("component", "extractor").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-grading-api/pkg/extract"),
	}
}

// Extract dispatches to the capability selected by mode.
func (e *Extractor) Extract(ctx context.Context, documentRef string, mode Mode) (string, error) {
	switch mode {
	case ModePrinted:
		return e.ExtractPrinted(ctx, documentRef)
	case ModeHandwritten:
		return e.ExtractHandwritten(ctx, documentRef)
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrExtraction, mode)
	}
}

// ExtractPrinted reads every page's text layer in page order and joins them with spaces.
func (e *Extractor) ExtractPrinted(parent context.Context, documentRef string) (string, error) {
	ctx, span := e.tracer.Start(parent, "extract.printed", trace.WithAttributes(attribute.String("document.ref", documentRef)))
	defer span.End()

	data, mimeType, err := e.load(ctx, documentRef, printedExtensions)
	if err != nil {
		return "", recordFailure(span, err)
	}

	var text string
	switch mimeType {
	case "application/pdf":
		text, err = pdfText(data)
		if err != nil {
			return "", recordFailure(span, fmt.Errorf("%w: read pdf: %v", ErrExtraction, err))
		}
	default:
		text = string(data)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", recordFailure(span, fmt.Errorf("%w: document contains no text", ErrExtraction))
	}

	span.SetAttributes(attribute.Int("document.text_length", len(text)))
	return text, nil
}

// ExtractHandwritten sends the document to the vision model for transcription.
func (e *Extractor) ExtractHandwritten(parent context.Context, documentRef string) (string, error) {
	ctx, span := e.tracer.Start(parent, "extract.handwritten", trace.WithAttributes(attribute.String("document.ref", documentRef)))
	defer span.End()

	if e.transcriber == nil {
		return "", recordFailure(span, fmt.Errorf("%w: handwriting transcription is not configured", ErrExtraction))
	}

	data, mimeType, err := e.load(ctx, documentRef, handwrittenExtensions)
	if err != nil {
		return "", recordFailure(span, err)
	}

	text, err := e.transcriber.Transcribe(ctx, ai.Document{
		Name:     path.Base(documentRef),
		MIMEType: mimeType,
		Data:     data,
	}, TranscriptionInstruction)
	if err != nil {
		return "", recordFailure(span, fmt.Errorf("%w: transcription: %v", ErrExtraction, err))
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", recordFailure(span, fmt.Errorf("%w: transcription is empty", ErrExtraction))
	}

	return text, nil
}

// load fetches the document, then checks the extension and the sniffed content type against allowed.
func (e *Extractor) load(ctx context.Context, documentRef string, allowed map[string]string) ([]byte, string, error) {
	ext := strings.ToLower(path.Ext(refPath(documentRef)))
	expected, ok := allowed[ext]
	if !ok {
		return nil, "", fmt.Errorf("%w: unsupported format %q", ErrExtraction, ext)
	}

	data, err := e.fetch(ctx, documentRef)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: document is empty", ErrExtraction)
	}

	detected := mimetype.Detect(data)
	if !conforms(detected, expected) {
		return nil, "", fmt.Errorf("%w: %s content does not match %s", ErrExtraction, detected.String(), ext)
	}

	return data, expected, nil
}

// conforms reports whether detected is expected or one of its subtypes, so CSV-shaped essays
// still count as plain text.
func conforms(detected *mimetype.MIME, expected string) bool {
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(expected) {
			return true
		}
	}
	return false
}

func (e *Extractor) fetch(parent context.Context, documentRef string) ([]byte, error) {
	parsed, err := url.Parse(documentRef)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid document reference: %v", ErrExtraction, err)
	}

	var reader io.ReadCloser
	switch parsed.Scheme {
	case "http", "https":
		ctx, cancel := context.WithTimeout(parent, e.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, documentRef, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: build request: %v", ErrExtraction, err)
		}
		resp, err := e.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: document unreachable: %v", ErrExtraction, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: document unreachable: status %d", ErrExtraction, resp.StatusCode)
		}
		reader = resp.Body
	case "file", "":
		file, err := os.Open(parsed.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: document unreachable: %v", ErrExtraction, err)
		}
		reader = file
	default:
		return nil, fmt.Errorf("%w: unsupported document scheme %q", ErrExtraction, parsed.Scheme)
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, e.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read document: %v", ErrExtraction, err)
	}
	if int64(len(data)) > e.maxBytes {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", ErrExtraction, e.maxBytes)
	}

	e.logger.Debug().Str("document_ref", documentRef).Int("bytes", len(data)).Msg("document fetched")
	return data, nil
}

func refPath(documentRef string) string {
	if parsed, err := url.Parse(documentRef); err == nil {
		return parsed.Path
	}
	return documentRef
}

// pdfText joins the plain text of each page. The pdf package panics on some malformed files.
func pdfText(data []byte) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("malformed pdf: %v", recovered)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if trimmed := strings.TrimSpace(content); trimmed != "" {
			pages = append(pages, trimmed)
		}
	}

	return strings.Join(pages, " "), nil
}

func recordFailure(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
