// Package server exposes the crawler and its corpus over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aluiziolira/go-scrape-ebay/models"
	"github.com/aluiziolira/go-scrape-ebay/pipeline"
	"github.com/aluiziolira/go-scrape-ebay/runlog"
)

// Crawler runs one crawl for a keyword.
type Crawler interface {
	Run(ctx context.Context, keyword string) (*models.CrawlResult, error)
}

// Options configures a Server. Runs and Gatherer are optional.
type Options struct {
	Crawler        Crawler
	Corpus         *pipeline.ResultStore
	Runs           *runlog.Store
	Gatherer       prometheus.Gatherer
	DefaultKeyword string
}

// Server serves the scrape trigger, the corpus and run history.
type Server struct {
	opts Options
	busy sync.Mutex
}

// New builds a Server.
func New(opts Options) *Server {
	return &Server{opts: opts}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /scrape", s.handleScrape)
	mux.HandleFunc("GET /runs", s.handleRuns)
	mux.HandleFunc("GET /{$}", s.handleCorpus)
	if s.opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(r.URL.Query().Get("keyword"))
	if keyword == "" {
		keyword = s.opts.DefaultKeyword
	}

	if !s.busy.TryLock() {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":   "Scraping failed",
			"message": "a crawl is already running",
		})
		return
	}
	defer s.busy.Unlock()

	zap.L().Info("scrape requested", zap.String("keyword", keyword))
	result, err := s.opts.Runs.Track(r.Context(), keyword, func(ctx context.Context) (*models.CrawlResult, error) {
		return s.opts.Crawler.Run(ctx, keyword)
	})
	if err != nil {
		zap.L().Error("scrape failed", zap.String("keyword", keyword), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Scraping failed",
			"message": err.Error(),
		})
		return
	}

	data := result.Products
	if data == nil {
		data = []models.Product{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"keyword": keyword,
		"count":   len(data),
		"data":    data,
	})
}

func (s *Server) handleCorpus(w http.ResponseWriter, r *http.Request) {
	products, err := s.opts.Corpus.Load(r.Context())
	switch {
	case errors.Is(err, pipeline.ErrCorpusNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Data file not found"})
		return
	case err != nil:
		zap.L().Error("read corpus", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Failed to read data",
			"message": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(products),
		"data":  products,
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.opts.Runs == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run history disabled"})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	runs, err := s.opts.Runs.List(r.Context(), limit)
	if err != nil {
		zap.L().Error("list runs", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(runs), "runs": runs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}
