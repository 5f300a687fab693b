package ai

import (
	"math"
	"strings"
)

// DefaultCategories is the taxonomy messages are classified into when
// the configuration does not override it. Model output outside the
// active taxonomy is dropped during normalization.
var DefaultCategories = []string{
	"crypto",
	"ai-tools",
	"news",
	"personal",
	"work",
	"entertainment",
	"finance",
	"tech",
	"health",
	"travel",
}

const (
	maxTags           = 10
	maxSummaryRunes   = 400
	fallbackRuneCount = 100
)

// EnrichmentResult is the structured analysis of one message.
type EnrichmentResult struct {
	Categories []string `json:"categories"`
	Tags       []string `json:"tags"`
	Sentiment  float64  `json:"sentiment"`
	Summary    string   `json:"summary"`
}

// Normalize sanitizes model output in place: categories are restricted
// to the given taxonomy, sentiment is clamped to [-1, 1], and a missing
// summary falls back to a content prefix. Model output is advisory;
// what gets persisted always passes through here.
func (r *EnrichmentResult) Normalize(content string, taxonomy []string) {
	r.Categories = filterCategories(r.Categories, taxonomy)
	r.Tags = cleanTags(r.Tags)

	if math.IsNaN(r.Sentiment) {
		r.Sentiment = 0
	}
	r.Sentiment = math.Max(-1, math.Min(1, r.Sentiment))

	r.Summary = strings.TrimSpace(r.Summary)
	if r.Summary == "" {
		r.Summary = truncateRunes(strings.TrimSpace(content), fallbackRuneCount)
	} else {
		r.Summary = truncateRunes(r.Summary, maxSummaryRunes)
	}
}

func filterCategories(cats, taxonomy []string) []string {
	valid := make(map[string]bool, len(taxonomy))
	for _, c := range taxonomy {
		valid[c] = true
	}

	seen := make(map[string]bool)
	var out []string
	for _, c := range cats {
		c = strings.ToLower(strings.TrimSpace(c))
		if valid[c] && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func cleanTags(tags []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		// Tags are stored comma-joined, so a tag must not contain commas.
		t = strings.ReplaceAll(t, ",", " ")
		t = strings.Join(strings.Fields(t), " ")
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == maxTags {
			break
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
