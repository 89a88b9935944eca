// Package models defines data structures for the crawler.
package models

import "time"

// Sentinel marks a field whose value could not be determined.
const Sentinel = "-"

// Product is a single extracted listing record as persisted in the corpus.
type Product struct {
	Title       string `csv:"title" json:"title"`
	Price       string `csv:"price" json:"price"`
	Description string `csv:"description" json:"description"`
}

// Key returns the corpus uniqueness key.
func (p Product) Key() ProductKey {
	return ProductKey{Title: p.Title, Price: p.Price}
}

// ProductKey identifies a record in the corpus.
type ProductKey struct {
	Title string
	Price string
}

// ItemCandidate is one listing entry read from a search-results page.
type ItemCandidate struct {
	HTML string
	URL  string
}

// CrawlResult holds the overall result of a crawl run.
type CrawlResult struct {
	Keyword         string
	StartTime       time.Time
	EndTime         time.Time
	PageCount       int
	ItemCount       int
	ExtractedCount  int
	PersistedCount  int
	CorpusSize      int
	EnrichedCount   int
	RateLimitWaits  int
	SkippedByReason map[string]int
	Products        []Product
}
