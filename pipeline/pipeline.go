package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aluiziolira/go-scrape-ebay/models"
	"github.com/aluiziolira/go-scrape-ebay/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(products []models.Product) error
	Close() error
	Validate() error
}

// Pipeline validates and de-duplicates records and hands them to the writer
// in batches, one batch per Flush.
type Pipeline struct {
	writer  OutputWriter
	pending []models.Product
	seen    map[models.ProductKey]struct{}

	metrics metrics

	mu     sync.Mutex
	closed bool
	err    error

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline that writes to writer.
func NewPipeline(writer OutputWriter) *Pipeline {
	return &Pipeline{
		writer:   writer,
		seen:     make(map[models.ProductKey]struct{}),
		metrics:  newMetrics(),
		shutdown: make(chan struct{}),
	}
}

// Process buffers valid records that have not been seen during this run.
func (p *Pipeline) Process(products ...models.Product) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	if p.closed {
		return ErrPipelineClosed
	}

	for i := range products {
		if prepared, ok := p.prepareLocked(products[i]); ok {
			p.pending = append(p.pending, prepared)
		}
	}
	return nil
}

// Flush writes the buffered records and returns them.
func (p *Pipeline) Flush(ctx context.Context) ([]models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}

	batch := p.pending
	if batch == nil {
		batch = []models.Product{}
	}
	if err := p.writer.Write(batch); err != nil {
		p.err = eris.Wrap(err, "write batch")
		return nil, p.err
	}
	p.pending = nil
	p.metrics.addFlushed(len(batch))
	return batch, nil
}

// Pending returns the number of buffered records.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close flushes anything still buffered and prevents more submissions.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	pending := len(p.pending)
	p.mu.Unlock()

	if pending > 0 {
		if _, err := p.Flush(context.Background()); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() Snapshot {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs until Close.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				snap := p.GetMetrics()
				zap.L().Info("pipeline progress",
					zap.Int64("processed", snap.Processed),
					zap.Int64("flushed", snap.Flushed),
					zap.Any("validation_errors", snap.ValidationErrors),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) prepareLocked(product models.Product) (models.Product, bool) {
	if err := parser.ValidateProduct(&product); err != nil {
		p.metrics.addValidation("invalid_record")
		zap.L().Debug("pipeline: dropping invalid record", zap.Error(err))
		return models.Product{}, false
	}

	key := product.Key()
	if _, ok := p.seen[key]; ok {
		p.metrics.addValidation("duplicate_record")
		return models.Product{}, false
	}
	p.seen[key] = struct{}{}

	p.metrics.incrementProcessed()
	return product, true
}

// Snapshot is a point-in-time copy of pipeline counters.
type Snapshot struct {
	Processed        int64
	Flushed          int64
	ValidationErrors map[string]int
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	flushed    int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) addFlushed(n int) {
	m.mu.Lock()
	m.flushed += int64(n)
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return Snapshot{
		Processed:        m.processed,
		Flushed:          m.flushed,
		ValidationErrors: copyValidation,
	}
}
