package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grading-api/pkg/ai"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type stubTranscriber struct {
	text     string
	err      error
	received ai.Document
	calls    int
}

func (s *stubTranscriber) Transcribe(_ context.Context, doc ai.Document, _ string) (string, error) {
	s.calls++
	s.received = doc
	return s.text, s.err
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestExtractPrintedPlainTextFromURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/essays/essay.txt", r.URL.Path)
		_, _ = w.Write([]byte("\n  The mitochondria is the powerhouse of the cell.  \n"))
	}))
	defer server.Close()

	extractor := New(nil, Config{}, zerolog.Nop())
	text, err := extractor.Extract(context.Background(), server.URL+"/essays/essay.txt", ModePrinted)
	require.NoError(t, err)
	require.Equal(t, "The mitochondria is the powerhouse of the cell.", text)
}

func TestExtractPrintedLocalFile(t *testing.T) {
	path := writeFile(t, "notes.txt", []byte("local essay"))

	extractor := New(nil, Config{}, zerolog.Nop())
	text, err := extractor.ExtractPrinted(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "local essay", text)

	text, err = extractor.ExtractPrinted(context.Background(), "file://"+path)
	require.NoError(t, err)
	require.Equal(t, "local essay", text)
}

func TestExtractPrintedAcceptsTextSubtypes(t *testing.T) {
	essay := "In conclusion, policy matters.\nHowever, costs are high.\nTherefore, we act."
	path := writeFile(t, "essay.txt", []byte(essay))

	extractor := New(nil, Config{}, zerolog.Nop())
	text, err := extractor.ExtractPrinted(context.Background(), path)
	require.NoError(t, err, "comma separated lines sniff as text/csv, a kind of text/plain")
	require.Equal(t, essay, text)
}

func TestExtractPrintedMultiPagePDF(t *testing.T) {
	path := writeFile(t, "essay.pdf", buildPDF("page one", "page two"))

	extractor := New(nil, Config{}, zerolog.Nop())
	text, err := extractor.ExtractPrinted(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "page one page two", text)
}

// buildPDF renders a minimal PDF with one Helvetica text line per page.
func buildPDF(pages ...string) []byte {
	first := 4
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}
	kids := make([]string, 0, len(pages))
	for i, line := range pages {
		pageID := first + 2*i
		content := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", line)
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", pageID+1),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		)
		kids = append(kids, fmt.Sprintf("%d 0 R", pageID))
	}
	objects[1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, offset := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offset)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestExtractPrintedFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing.txt":
			http.NotFound(w, r)
		case "/blank.txt":
			_, _ = w.Write([]byte("   \n\t "))
		case "/large.txt":
			_, _ = w.Write(make([]byte, 64))
		default:
			_, _ = w.Write([]byte("content"))
		}
	}))
	defer server.Close()

	extractor := New(nil, Config{MaxBytes: 32}, zerolog.Nop())

	cases := map[string]string{
		"unsupported extension":  server.URL + "/program.exe",
		"docx not supported":     server.URL + "/essay.docx",
		"unreachable":            server.URL + "/missing.txt",
		"whitespace only":        server.URL + "/blank.txt",
		"too large":              server.URL + "/large.txt",
		"missing local file":     filepath.Join(t.TempDir(), "absent.txt"),
		"unknown scheme":         "ftp://example.com/essay.txt",
		"malformed pdf":          writeFile(t, "broken.pdf", []byte("%PDF-1.4\nthis is not really a pdf")),
		"pdf extension mismatch": writeFile(t, "fake.pdf", []byte("plain text pretending")),
	}

	for name, ref := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := extractor.ExtractPrinted(context.Background(), ref)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrExtraction), err.Error())
		})
	}
}

func TestExtractHandwrittenUsesTranscriber(t *testing.T) {
	path := writeFile(t, "page.png", pngHeader)
	transcriber := &stubTranscriber{text: "  Photosynthesis converts light into energy.  "}

	extractor := New(transcriber, Config{}, zerolog.Nop())
	text, err := extractor.Extract(context.Background(), path, ModeHandwritten)
	require.NoError(t, err)
	require.Equal(t, "Photosynthesis converts light into energy.", text)
	require.Equal(t, 1, transcriber.calls)
	require.Equal(t, "image/png", transcriber.received.MIMEType)
	require.Equal(t, "page.png", transcriber.received.Name)
	require.Equal(t, pngHeader, transcriber.received.Data)
}

func TestExtractHandwrittenFailures(t *testing.T) {
	path := writeFile(t, "page.png", pngHeader)

	t.Run("no transcriber", func(t *testing.T) {
		_, err := New(nil, Config{}, zerolog.Nop()).ExtractHandwritten(context.Background(), path)
		require.ErrorIs(t, err, ErrExtraction)
	})

	t.Run("model failure", func(t *testing.T) {
		transcriber := &stubTranscriber{err: ai.ErrModelInvocation}
		_, err := New(transcriber, Config{}, zerolog.Nop()).ExtractHandwritten(context.Background(), path)
		require.ErrorIs(t, err, ErrExtraction)
	})

	t.Run("empty transcription", func(t *testing.T) {
		transcriber := &stubTranscriber{text: "\n"}
		_, err := New(transcriber, Config{}, zerolog.Nop()).ExtractHandwritten(context.Background(), path)
		require.ErrorIs(t, err, ErrExtraction)
	})

	t.Run("text files are not handwriting", func(t *testing.T) {
		transcriber := &stubTranscriber{text: "ignored"}
		txt := writeFile(t, "essay.txt", []byte("typed"))
		_, err := New(transcriber, Config{}, zerolog.Nop()).ExtractHandwritten(context.Background(), txt)
		require.ErrorIs(t, err, ErrExtraction)
		require.Zero(t, transcriber.calls)
	})
}

func TestExtractUnknownMode(t *testing.T) {
	_, err := New(nil, Config{}, zerolog.Nop()).Extract(context.Background(), "essay.txt", Mode("scanned"))
	require.ErrorIs(t, err, ErrExtraction)
}
