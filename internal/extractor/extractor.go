package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docchat-backend/internal/logger"

	"github.com/ledongthuc/pdf"
)

// ErrExtraction marks failures to open or parse a PDF. A valid PDF with no
// extractable text is not an error; it yields zero chunks.
var ErrExtraction = errors.New("pdf extraction failed")

// Extractor turns a PDF file into overlapping text chunks using a fixed
// character-window policy.
type Extractor struct {
	maxChunkSize int
	overlap      int
}

func New(maxChunkSize, overlap int) *Extractor {
	if maxChunkSize <= 0 {
		maxChunkSize = 1000
	}
	// The window only advances while overlap < maxChunkSize, so clamp
	// relative to the actual window size.
	if overlap < 0 || overlap >= maxChunkSize {
		overlap = maxChunkSize / 10
	}
	return &Extractor{
		maxChunkSize: maxChunkSize,
		overlap:      overlap,
	}
}

// ExtractText reads every page of the PDF at path and returns the
// concatenated plain text. Pages that fail to decode are skipped.
func (e *Extractor) ExtractText(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", ErrExtraction, path, err)
	}
	defer f.Close()

	var textBuilder strings.Builder
	pages := reader.NumPage()

	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			logger.Warn("failed to extract text from page", "page", i, "path", path, "error", err)
			continue
		}

		textBuilder.WriteString(text)
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}

// Chunk splits text into windows of at most maxChunkSize runes where
// consecutive windows share overlap runes. Boundaries may split words; the
// final chunk may be shorter. Empty text yields no chunks.
func (e *Extractor) Chunk(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	step := e.maxChunkSize - e.overlap
	var chunks []string

	for i := 0; i < len(runes); i += step {
		end := i + e.maxChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}

	return chunks
}

// Process extracts the document at path and chunks it in one pass.
func (e *Extractor) Process(ctx context.Context, path string) ([]string, error) {
	text, err := e.ExtractText(ctx, path)
	if err != nil {
		return nil, err
	}
	return e.Chunk(text), nil
}
