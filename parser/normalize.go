package parser

import (
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/aluiziolira/go-scrape-ebay/models"
)

const (
	minTitleLength       = 6
	minDescriptionLength = 20
)

// promoPhrases mark banner and advert tiles that are not real listings.
var promoPhrases = []string{
	"shop on ebay",
	"great deals",
	"daily deals",
	"visit store",
	"find deals",
}

// IsPromotional reports whether a title matches a known promotional phrase.
func IsPromotional(title string) bool {
	lower := strings.ToLower(strings.TrimSpace(title))
	for _, phrase := range promoPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// KeepTitle reports whether a candidate title survives the quality filter.
func KeepTitle(title string) bool {
	trimmed := strings.TrimSpace(title)
	return !IsPromotional(trimmed) && utf8.RuneCountInString(trimmed) >= minTitleLength
}

// FilterCandidates drops promotional and too-short candidates, preserving order.
func FilterCandidates(candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c == nil || !KeepTitle(c.Field("title")) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// NormalizeCandidate converts a filtered candidate into a product record.
func NormalizeCandidate(c Candidate) models.Product {
	title := strings.TrimSpace(strings.ReplaceAll(c.Field("title"), `"`, "'"))

	price := strings.TrimSpace(c.Field("price"))
	if price == "" {
		price = models.Sentinel
	}

	description := strings.TrimSpace(strings.ReplaceAll(c.Field("description"), `"`, "'"))

	return models.Product{
		Title:       title,
		Price:       price,
		Description: CollapseDescription(description),
	}
}

// CollapseDescription maps low-information descriptions to the sentinel.
func CollapseDescription(description string) string {
	d := strings.TrimSpace(description)
	if d == "" || d == models.Sentinel || strings.EqualFold(d, "brand new") {
		return models.Sentinel
	}
	if utf8.RuneCountInString(d) < minDescriptionLength {
		return models.Sentinel
	}
	return d
}

// ValidateProduct ensures a record satisfies the corpus invariants.
func ValidateProduct(p *models.Product) error {
	if p == nil {
		return eris.New("product is nil")
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return eris.New("product missing title")
	}
	if utf8.RuneCountInString(title) < minTitleLength {
		return eris.Errorf("product title too short: %q", title)
	}
	if strings.TrimSpace(p.Price) == "" {
		return eris.Errorf("product missing price for %s", p.Title)
	}
	if strings.TrimSpace(p.Description) == "" {
		return eris.Errorf("product missing description for %s", p.Title)
	}
	return nil
}
