package ai

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("What is Go?", "Go is a programming language.")

	want := "Context: Go is a programming language.\n\nQuestion: What is Go?\n\nAnswer:"
	if prompt != want {
		t.Errorf("unexpected prompt:\ngot  %q\nwant %q", prompt, want)
	}
}

func TestBuildPromptEmptyContext(t *testing.T) {
	prompt := BuildPrompt("anything in the store?", "")

	if !strings.HasPrefix(prompt, "Context: \n") {
		t.Errorf("empty context should still produce the frame, got %q", prompt)
	}
	if !strings.Contains(prompt, "Question: anything in the store?") {
		t.Errorf("prompt missing question: %q", prompt)
	}
}

func TestRetryDelayGrowsAndCaps(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 200 * time.Millisecond},
		{1, 400 * time.Millisecond},
		{2, 800 * time.Millisecond},
		{3, 1600 * time.Millisecond},
		{4, 3200 * time.Millisecond},
		{5, 5 * time.Second},
		{10, 5 * time.Second},
		{-1, 200 * time.Millisecond},
	}

	for _, tc := range cases {
		if got := retryDelay(tc.attempt); got != tc.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestValidateDimensions(t *testing.T) {
	c := &Client{dimensions: 3}

	if err := c.ValidateDimensions([]float32{1, 2, 3}); err != nil {
		t.Errorf("matching dimensions rejected: %v", err)
	}

	err := c.ValidateDimensions([]float32{1, 2})
	if !errors.Is(err, ErrEmbedding) {
		t.Errorf("expected ErrEmbedding for short vector, got %v", err)
	}

	err = c.ValidateDimensions(nil)
	if !errors.Is(err, ErrEmbedding) {
		t.Errorf("expected ErrEmbedding for nil vector, got %v", err)
	}
}

func TestGetRateLimits(t *testing.T) {
	if got := getRateLimits("free"); got.RPM != 10 {
		t.Errorf("free tier RPM = %d, want 10", got.RPM)
	}
	if got := getRateLimits("tier1"); got.RPM != 1000 {
		t.Errorf("tier1 RPM = %d, want 1000", got.RPM)
	}
	// Unknown tiers fall back to free
	if got := getRateLimits("enterprise"); got.RPM != 10 {
		t.Errorf("unknown tier RPM = %d, want 10", got.RPM)
	}
}
