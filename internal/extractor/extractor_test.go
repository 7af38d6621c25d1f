package extractor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestChunkWindowAndOverlap(t *testing.T) {
	e := New(10, 3)

	// 0123456789... repeated, 25 chars
	text := strings.Repeat("0123456789", 2) + "01234"
	chunks := e.Chunk(text)

	if len(chunks) == 0 {
		t.Fatal("expected chunks, got none")
	}

	for i, chunk := range chunks {
		if len([]rune(chunk)) > 10 {
			t.Errorf("chunk %d exceeds max size: %d runes", i, len([]rune(chunk)))
		}
	}

	// Consecutive chunks share exactly the overlap
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		tail := string(prev[len(prev)-3:])
		if !strings.HasPrefix(chunks[i], tail) {
			t.Errorf("chunk %d does not start with the last 3 runes of chunk %d: %q vs %q",
				i, i-1, chunks[i], chunks[i-1])
		}
	}

	// Reassembling with the overlap removed must reproduce the input
	var sb strings.Builder
	sb.WriteString(chunks[0])
	for i := 1; i < len(chunks); i++ {
		runes := []rune(chunks[i])
		sb.WriteString(string(runes[3:]))
	}
	if sb.String() != text {
		t.Errorf("reassembled text mismatch: got %q, want %q", sb.String(), text)
	}
}

func TestChunkShortText(t *testing.T) {
	e := New(1000, 100)

	chunks := e.Chunk("short document")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != "short document" {
		t.Errorf("unexpected chunk content: %q", chunks[0])
	}
}

func TestChunkEmptyText(t *testing.T) {
	e := New(1000, 100)

	for _, text := range []string{"", "   ", "\n\t\n"} {
		if chunks := e.Chunk(text); chunks != nil {
			t.Errorf("expected no chunks for %q, got %d", text, len(chunks))
		}
	}
}

func TestChunkFinalChunkMayBeShort(t *testing.T) {
	e := New(10, 2)

	text := strings.Repeat("a", 13)
	chunks := e.Chunk(text)

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if got := len([]rune(chunks[1])); got >= 10 {
		t.Errorf("final chunk should be shorter than max, got %d runes", got)
	}
}

func TestChunkMultibyteRunes(t *testing.T) {
	e := New(4, 1)

	chunks := e.Chunk("héllo wörld")
	for i, chunk := range chunks {
		if len([]rune(chunk)) > 4 {
			t.Errorf("chunk %d exceeds max rune count: %q", i, chunk)
		}
	}
}

func TestNewClampsBadParameters(t *testing.T) {
	e := New(0, -1)
	if e.maxChunkSize != 1000 || e.overlap != 100 {
		t.Errorf("expected defaults 1000/100, got %d/%d", e.maxChunkSize, e.overlap)
	}

	// Overlap >= max would make the window never advance
	for _, overlap := range []int{50, 51, 500} {
		e = New(50, overlap)
		if e.overlap >= e.maxChunkSize {
			t.Errorf("overlap %d not clamped below max %d", e.overlap, e.maxChunkSize)
		}
	}

	// Tiny windows clamp to zero overlap
	e = New(5, 5)
	if e.overlap < 0 || e.overlap >= e.maxChunkSize {
		t.Errorf("overlap %d out of range for max %d", e.overlap, e.maxChunkSize)
	}
}

func TestChunkWithClampedOverlap(t *testing.T) {
	// overlap == max forces the clamp; chunking text longer than one
	// window must still terminate and stay in bounds
	e := New(50, 50)

	chunks := e.Chunk(strings.Repeat("a", 60))
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if got := len([]rune(chunk)); got > 50 {
			t.Errorf("chunk %d exceeds max size: %d runes", i, got)
		}
	}
}

func TestExtractTextRejectsNonPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-pdf.pdf")
	if err := os.WriteFile(path, []byte("plain text pretending to be a PDF"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := New(1000, 100).ExtractText(context.Background(), path)
	if !errors.Is(err, ErrExtraction) {
		t.Errorf("expected ErrExtraction, got %v", err)
	}
}

func TestExtractTextMissingFile(t *testing.T) {
	_, err := New(1000, 100).ExtractText(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	if !errors.Is(err, ErrExtraction) {
		t.Errorf("expected ErrExtraction, got %v", err)
	}
}

func TestProcessCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(1000, 100).Process(ctx, "whatever.pdf")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
