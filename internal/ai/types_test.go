package ai

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"google.golang.org/genai"

	apperrors "datavault/backend/internal/errors"
)

func TestNormalizeFiltersCategories(t *testing.T) {
	t.Parallel()

	r := EnrichmentResult{
		Categories: []string{"Crypto", "made-up", "tech", "tech", " finance "},
		Sentiment:  0.5,
		Summary:    "a summary",
	}
	r.Normalize("content", DefaultCategories)

	want := []string{"crypto", "tech", "finance"}
	if len(r.Categories) != len(want) {
		t.Fatalf("Categories = %v, want %v", r.Categories, want)
	}
	for i, c := range want {
		if r.Categories[i] != c {
			t.Errorf("Categories[%d] = %q, want %q", i, r.Categories[i], c)
		}
	}
}

func TestNormalizeCustomTaxonomy(t *testing.T) {
	t.Parallel()

	r := EnrichmentResult{
		Categories: []string{"gardening", "tech"},
		Summary:    "s",
	}
	r.Normalize("content", []string{"gardening", "cooking"})

	if len(r.Categories) != 1 || r.Categories[0] != "gardening" {
		t.Errorf("Categories = %v, want [gardening]", r.Categories)
	}
}

func TestNormalizeClampsSentiment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{name: "above range", in: 3.7, want: 1},
		{name: "below range", in: -2, want: -1},
		{name: "in range", in: 0.25, want: 0.25},
		{name: "nan", in: math.NaN(), want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := EnrichmentResult{Sentiment: tc.in, Summary: "s"}
			r.Normalize("content", DefaultCategories)
			if r.Sentiment != tc.want {
				t.Errorf("Sentiment = %v, want %v", r.Sentiment, tc.want)
			}
		})
	}
}

func TestNormalizeSummaryFallback(t *testing.T) {
	t.Parallel()

	t.Run("empty summary uses content prefix", func(t *testing.T) {
		long := strings.Repeat("x", 150)
		r := EnrichmentResult{}
		r.Normalize(long, DefaultCategories)
		if len([]rune(r.Summary)) != 100 {
			t.Errorf("fallback summary length = %d runes, want 100", len([]rune(r.Summary)))
		}
	})

	t.Run("overlong summary is capped", func(t *testing.T) {
		r := EnrichmentResult{Summary: strings.Repeat("y", 500)}
		r.Normalize("content", DefaultCategories)
		if len([]rune(r.Summary)) != 400 {
			t.Errorf("summary length = %d runes, want 400", len([]rune(r.Summary)))
		}
	})

	t.Run("multibyte content is not split", func(t *testing.T) {
		r := EnrichmentResult{}
		r.Normalize(strings.Repeat("é", 150), DefaultCategories)
		if !strings.HasPrefix(strings.Repeat("é", 150), r.Summary) {
			t.Error("fallback summary corrupted multibyte content")
		}
	})
}

func TestCleanTags(t *testing.T) {
	t.Parallel()

	got := cleanTags([]string{" Bitcoin ", "bitcoin", "a,b", "", "market news"})
	want := []string{"bitcoin", "a b", "market news"}
	if len(got) != len(want) {
		t.Fatalf("cleanTags() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("cleanTags()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCleanTagsLimit(t *testing.T) {
	t.Parallel()

	var many []string
	for i := 0; i < 20; i++ {
		many = append(many, fmt.Sprintf("tag%d", i))
	}
	if got := cleanTags(many); len(got) != maxTags {
		t.Errorf("cleanTags() length = %d, want %d", len(got), maxTags)
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		err           error
		wantTransient bool
	}{
		{name: "server error", err: &genai.APIError{Code: 500}, wantTransient: true},
		{name: "unavailable", err: &genai.APIError{Code: 503}, wantTransient: true},
		{name: "rate limited", err: &genai.APIError{Code: 429}, wantTransient: true},
		{name: "bad request", err: &genai.APIError{Code: 400}, wantTransient: false},
		{name: "unauthorized", err: &genai.APIError{Code: 403}, wantTransient: false},
		{name: "transport error", err: errors.New("connection reset"), wantTransient: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyError(fmt.Errorf("wrapped: %w", tc.err))
			if apperrors.IsTransient(got) != tc.wantTransient {
				t.Errorf("classifyError(%v) transient = %v, want %v",
					tc.err, apperrors.IsTransient(got), tc.wantTransient)
			}
		})
	}
}
