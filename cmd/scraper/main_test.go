package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/aluiziolira/go-scrape-ebay/config"
	"github.com/aluiziolira/go-scrape-ebay/models"
	"github.com/aluiziolira/go-scrape-ebay/pipeline"
	"github.com/aluiziolira/go-scrape-ebay/runlog"
)

func TestReadKeyword(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "typed", input: "air jordan 1\n", want: "air jordan 1"},
		{name: "padded", input: "  adidas  \n", want: "adidas"},
		{name: "empty line", input: "\n", want: "nike"},
		{name: "eof", input: "", want: "nike"},
		{name: "no newline", input: "puma", want: "puma"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := readKeyword(strings.NewReader(tt.input), &out, "nike")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "[nike]")
		})
	}
}

func TestPrintSummary(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	result := &models.CrawlResult{
		Keyword:         "nike",
		StartTime:       start,
		EndTime:         start.Add(90 * time.Second),
		PageCount:       2,
		ItemCount:       96,
		ExtractedCount:  80,
		PersistedCount:  75,
		CorpusSize:      140,
		RateLimitWaits:  3,
		SkippedByReason: map[string]int{"no_records": 4},
	}

	var out bytes.Buffer
	printSummary(&out, result, "output/results.json")

	s := out.String()
	assert.Contains(t, s, `Crawl complete: "nike"`)
	assert.Contains(t, s, "Persisted:     75")
	assert.Contains(t, s, "Corpus size:   140")
	assert.Contains(t, s, "Rate waits:    3")
	assert.Contains(t, s, "no_records:4")
	assert.Contains(t, s, "1m30s")
	assert.Contains(t, s, "output/results.json")
}

func TestExportCorpus_CSV(t *testing.T) {
	dir := t.TempDir()
	store := pipeline.NewResultStore(filepath.Join(dir, "results.json"))
	_, err := store.Merge(context.Background(), []models.Product{
		{Title: "Nike Air Max 90", Price: "$89.99", Description: "Condition: New"},
		{Title: "Nike Dunk Low Panda", Price: "$120.00", Description: "N/A"},
	})
	require.NoError(t, err)

	out := filepath.Join(dir, "export", "corpus.csv")
	n, err := exportCorpus(context.Background(), store, pipeline.FormatCSV, out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"title", "price", "description"}, records[0])
	assert.Equal(t, "Nike Dunk Low Panda", records[2][0])
}

func TestExportCorpus_JSONOverwritesStaleFile(t *testing.T) {
	dir := t.TempDir()
	store := pipeline.NewResultStore(filepath.Join(dir, "results.json"))
	_, err := store.Merge(context.Background(), []models.Product{
		{Title: "Nike Air Max 90", Price: "$89.99", Description: "Condition: New"},
	})
	require.NoError(t, err)

	out := filepath.Join(dir, "export.json")
	require.NoError(t, os.WriteFile(out,
		[]byte(`[{"title":"Old Puma Suede","price":"$40.00","description":"N/A"}]`), 0o644))

	n, err := exportCorpus(context.Background(), store, pipeline.FormatJSON, out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	exported, err := pipeline.NewResultStore(out).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, exported, n)
	assert.Equal(t, "Nike Air Max 90", exported[0].Title)
}

func TestExportCorpus_Errors(t *testing.T) {
	dir := t.TempDir()

	missing := pipeline.NewResultStore(filepath.Join(dir, "absent.json"))
	_, err := exportCorpus(context.Background(), missing, pipeline.FormatCSV, filepath.Join(dir, "a.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corpus not found")

	store := pipeline.NewResultStore(filepath.Join(dir, "results.json"))
	_, err = store.Merge(context.Background(), nil)
	require.NoError(t, err)
	_, err = exportCorpus(context.Background(), store, "xml", filepath.Join(dir, "a.xml"))
	assert.Error(t, err)
}

func TestFormatRunsList(t *testing.T) {
	started := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	finished := started.Add(45 * time.Second)
	runs := []runlog.Run{
		{ID: "0123456789abcdef", Keyword: "nike", Status: runlog.StatusSucceeded, Pages: 3, Persisted: 120, StartedAt: started, FinishedAt: &finished},
		{ID: "abc", Keyword: "adidas", Status: runlog.StatusRunning, StartedAt: started},
	}

	var out bytes.Buffer
	formatRunsList(&out, runs)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "KEYWORD")
	assert.Contains(t, lines[2], "01234567")
	assert.NotContains(t, lines[2], "89abcdef")
	assert.Contains(t, lines[2], "45s")
	assert.Contains(t, lines[3], "adidas")
	assert.Contains(t, lines[3], "-")
}

func TestRenderConfig_MasksAPIKey(t *testing.T) {
	c := config.DefaultConfig()
	c.LLM.APIKey = "gsk_secret"

	data, err := renderConfig(c)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "gsk_secret")
	assert.Equal(t, "gsk_secret", c.LLM.APIKey)

	var decoded config.Config
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, "********", decoded.LLM.APIKey)
	assert.Equal(t, c.Crawl.SearchURL, decoded.Crawl.SearchURL)
	assert.Equal(t, c.Crawl.ExtractionDelay, decoded.Crawl.ExtractionDelay)
}

func TestConfigCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crawl:\n  default_keyword: jordan\n"), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", path, "config"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		configPath = ""
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "default_keyword: jordan")
	assert.Equal(t, "jordan", cfg.Crawl.DefaultKeyword)
}
