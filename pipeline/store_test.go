package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/aluiziolira/go-scrape-ebay/models"
)

func TestResultStoreMergeCreatesCorpus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output", "results.json")
	store := NewResultStore(path)
	ctx := context.Background()

	records := []models.Product{
		product("Nike Air Max 90", "$120.00"),
		product("Nike Air Max 90", "$120.00"),
		product("Nike Dunk Low", "$110.00"),
	}
	stats, err := store.Merge(ctx, records)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if stats.Added != 2 || stats.Duplicates != 1 || stats.Total != 2 || stats.Incoming != 3 {
		t.Fatalf("stats = %+v", stats)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read corpus: %v", err)
	}
	if !strings.HasPrefix(string(data), "[\n  {\n    \"title\"") {
		t.Fatalf("corpus is not pretty-printed with two-space indent:\n%s", data)
	}
}

func TestResultStoreMergeFirstOccurrenceWins(t *testing.T) {
	store := NewResultStore(filepath.Join(t.TempDir(), "results.json"))
	ctx := context.Background()

	first := models.Product{Title: "Nike Air Max 90", Price: "$120.00", Description: "original listing description text"}
	if _, err := store.Merge(ctx, []models.Product{first}); err != nil {
		t.Fatalf("first merge: %v", err)
	}

	later := models.Product{Title: "Nike Air Max 90", Price: "$120.00", Description: "-"}
	other := product("Nike Vomero 5", "$160.00")
	stats, err := store.Merge(ctx, []models.Product{later, other})
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if stats.Added != 1 || stats.Total != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	corpus, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []models.Product{first, other}
	if !reflect.DeepEqual(corpus, want) {
		t.Fatalf("corpus = %+v, want %+v", corpus, want)
	}
	if got := store.LastMerge(); got != stats {
		t.Fatalf("last merge = %+v, want %+v", got, stats)
	}
}

func TestResultStoreMergeIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	store := NewResultStore(path)
	ctx := context.Background()
	records := []models.Product{product("Nike Air Max 90", "$120.00"), product("Nike Dunk Low", "$110.00")}

	if _, err := store.Merge(ctx, records); err != nil {
		t.Fatalf("merge: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	stats, err := store.Merge(ctx, records)
	if err != nil {
		t.Fatalf("merge again: %v", err)
	}
	if stats.Added != 0 {
		t.Fatalf("added = %d, want 0", stats.Added)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(before) != string(after) {
		t.Fatalf("corpus changed on re-merge")
	}
}

func TestResultStoreMalformedCorpusUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	garbage := []byte(`[{"title": "Nike Air`)
	if err := os.WriteFile(path, garbage, 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	store := NewResultStore(path)
	_, err := store.Merge(context.Background(), []models.Product{product("Nike Dunk Low", "$110.00")})

	var ioErr *CorpusIOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("err = %v, want CorpusIOError", err)
	}
	if ioErr.Op != "decode" {
		t.Fatalf("op = %q, want decode", ioErr.Op)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != string(garbage) {
		t.Fatalf("malformed corpus was overwritten")
	}
}

func TestResultStoreLoadMissing(t *testing.T) {
	store := NewResultStore(filepath.Join(t.TempDir(), "absent.json"))
	if _, err := store.Load(context.Background()); !errors.Is(err, ErrCorpusNotFound) {
		t.Fatalf("err = %v, want ErrCorpusNotFound", err)
	}
	if err := store.Validate(); !errors.Is(err, ErrCorpusNotFound) {
		t.Fatalf("validate err = %v, want ErrCorpusNotFound", err)
	}
}

func TestResultStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewResultStore(filepath.Join(dir, "results.json"))
	if _, err := store.Merge(context.Background(), []models.Product{product("Nike Air Max 90", "$120.00")}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "results.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("dir entries = %v, want [results.json]", names)
	}
}

func TestResultStoreBehindPipeline(t *testing.T) {
	store := NewResultStore(filepath.Join(t.TempDir(), "results.json"))
	p := NewPipeline(store)
	ctx := context.Background()

	if err := p.Process(product("Nike Air Max 90", "$120.00"), product("Nike Dunk Low", "$110.00")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, err := p.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := store.LastMerge().Total; got != 2 {
		t.Fatalf("corpus size = %d, want 2", got)
	}
	if err := store.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
