package pipeline

import (
	"errors"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/aluiziolira/go-scrape-ebay/models"
)

// MultiWriter fans every batch out to several writers in order.
type MultiWriter struct {
	writers []OutputWriter
	mu      sync.Mutex
}

// NewMultiWriter combines writers. The first failing Write stops the batch.
func NewMultiWriter(writers ...OutputWriter) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write hands products to each writer.
func (mw *MultiWriter) Write(products []models.Product) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	for i, w := range mw.writers {
		if err := w.Write(products); err != nil {
			return eris.Wrapf(err, "writer %d", i)
		}
	}
	return nil
}

// Close closes every writer and joins their errors.
func (mw *MultiWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	errs := make([]error, 0, len(mw.writers))
	for _, w := range mw.writers {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}

// Validate checks every output.
func (mw *MultiWriter) Validate() error {
	errs := make([]error, 0, len(mw.writers))
	for _, w := range mw.writers {
		errs = append(errs, w.Validate())
	}
	return errors.Join(errs...)
}
