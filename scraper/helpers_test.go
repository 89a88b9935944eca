package scraper

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-ebay/llm"
)

// stubCompleter answers with the reply whose marker appears in the prompt.
type stubCompleter struct {
	mu      sync.Mutex
	replies map[string]string
	errs    []error
	calls   int
}

func (s *stubCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	for marker, reply := range s.replies {
		if strings.Contains(req.Prompt, marker) {
			return &llm.Response{Text: reply}, nil
		}
	}
	return &llm.Response{Text: "[]"}, nil
}

func (s *stubCompleter) Name() string { return "stub" }

func (s *stubCompleter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeBrowser serves canned HTML by URL.
type fakeBrowser struct {
	mu     sync.Mutex
	pages  map[string]string
	opened int
	closed int
	visits map[string]int
}

func newFakeBrowser(pages map[string]string) *fakeBrowser {
	return &fakeBrowser{pages: pages, visits: make(map[string]int)}
}

func (b *fakeBrowser) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.opened++
	b.mu.Unlock()
	return &fakePage{b: b}, nil
}

func (b *fakeBrowser) Close() error { return nil }

type fakePage struct {
	b *fakeBrowser
}

func (p *fakePage) Goto(ctx context.Context, rawURL string) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.b.mu.Lock()
	p.b.visits[rawURL]++
	html, ok := p.b.pages[rawURL]
	p.b.mu.Unlock()
	if !ok {
		return nil, ErrNotFound{Err: errors.New("Not Found")}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	doc.Url, _ = url.Parse(rawURL)
	return doc, nil
}

func (p *fakePage) Close() error {
	p.b.mu.Lock()
	p.b.closed++
	p.b.mu.Unlock()
	return nil
}
