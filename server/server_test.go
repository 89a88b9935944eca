package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-ebay/models"
	"github.com/aluiziolira/go-scrape-ebay/pipeline"
	"github.com/aluiziolira/go-scrape-ebay/runlog"
)

type fakeCrawler struct {
	keywords []string
	result   *models.CrawlResult
	err      error
	started  chan struct{}
	release  chan struct{}
}

func (f *fakeCrawler) Run(ctx context.Context, keyword string) (*models.CrawlResult, error) {
	f.keywords = append(f.keywords, keyword)
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

func newCorpus(t *testing.T, content string) *pipeline.ResultStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "results.json")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return pipeline.NewResultStore(path)
}

func newRuns(t *testing.T) *runlog.Store {
	t.Helper()
	st, err := runlog.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func serve(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	srv := New(Options{})
	rr := serve(t, srv.Handler(), "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "ok", decode(t, rr)["status"])
}

func TestCorpus_NotFound(t *testing.T) {
	srv := New(Options{Corpus: newCorpus(t, "")})
	rr := serve(t, srv.Handler(), "/")

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Data file not found", decode(t, rr)["error"])
}

func TestCorpus_Malformed(t *testing.T) {
	srv := New(Options{Corpus: newCorpus(t, "{not json")})
	rr := serve(t, srv.Handler(), "/")

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Failed to read data", decode(t, rr)["error"])
}

func TestCorpus_OK(t *testing.T) {
	corpus := `[{"title":"Nike Air Max 90","price":"$89.99","description":"Condition: New"},
{"title":"Nike Dunk Low Panda","price":"$120.00","description":"N/A"}]`
	srv := New(Options{Corpus: newCorpus(t, corpus)})
	rr := serve(t, srv.Handler(), "/")

	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.EqualValues(t, 2, body["count"])
	data, ok := body["data"].([]any)
	require.True(t, ok)
	first := data[0].(map[string]any)
	assert.Equal(t, "Nike Air Max 90", first["title"])
}

func TestCorpus_UnknownPath(t *testing.T) {
	srv := New(Options{Corpus: newCorpus(t, "[]")})
	rr := serve(t, srv.Handler(), "/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestScrape_Success(t *testing.T) {
	crawler := &fakeCrawler{result: &models.CrawlResult{
		Keyword: "jordan",
		Products: []models.Product{
			{Title: "Air Jordan 1 Retro", Price: "$180.00", Description: "Size 10"},
		},
	}}
	runs := newRuns(t)
	srv := New(Options{Crawler: crawler, Runs: runs, DefaultKeyword: "nike"})

	rr := serve(t, srv.Handler(), "/scrape?keyword=jordan")

	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "jordan", body["keyword"])
	assert.EqualValues(t, 1, body["count"])
	assert.Equal(t, []string{"jordan"}, crawler.keywords)

	history, err := runs.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, runlog.StatusSucceeded, history[0].Status)
}

func TestScrape_DefaultKeyword(t *testing.T) {
	crawler := &fakeCrawler{result: &models.CrawlResult{}}
	srv := New(Options{Crawler: crawler, DefaultKeyword: "nike"})

	rr := serve(t, srv.Handler(), "/scrape")

	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "nike", body["keyword"])
	assert.EqualValues(t, 0, body["count"])
	assert.Equal(t, []any{}, body["data"])
}

func TestScrape_Failure(t *testing.T) {
	crawler := &fakeCrawler{err: errors.New("navigate page 1: timeout")}
	srv := New(Options{Crawler: crawler, DefaultKeyword: "nike"})

	rr := serve(t, srv.Handler(), "/scrape?keyword=nike")

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "Scraping failed", body["error"])
	assert.Equal(t, "navigate page 1: timeout", body["message"])
}

func TestScrape_ConflictWhileRunning(t *testing.T) {
	crawler := &fakeCrawler{
		result:  &models.CrawlResult{},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	srv := New(Options{Crawler: crawler, DefaultKeyword: "nike"})
	h := srv.Handler()

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- serve(t, h, "/scrape?keyword=nike")
	}()

	select {
	case <-crawler.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first crawl never started")
	}

	rr := serve(t, h, "/scrape?keyword=adidas")
	assert.Equal(t, http.StatusConflict, rr.Code)

	close(crawler.release)
	first := <-done
	assert.Equal(t, http.StatusOK, first.Code)
}

func TestRuns(t *testing.T) {
	runs := newRuns(t)
	ctx := context.Background()
	for _, kw := range []string{"nike", "adidas"} {
		_, err := runs.Start(ctx, kw)
		require.NoError(t, err)
	}
	srv := New(Options{Runs: runs})

	rr := serve(t, srv.Handler(), "/runs?limit=1")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, decode(t, rr)["count"])

	rr = serve(t, srv.Handler(), "/runs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRuns_Disabled(t *testing.T) {
	srv := New(Options{})
	rr := serve(t, srv.Handler(), "/runs")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawler_pages_total",
		Help: "Listing pages loaded.",
	})
	registry.MustRegister(counter)
	counter.Add(3)

	srv := New(Options{Gatherer: registry})
	rr := serve(t, srv.Handler(), "/metrics")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "crawler_pages_total 3")
}

func TestListenAndServe_Shutdown(t *testing.T) {
	srv := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx, "127.0.0.1:0")
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
