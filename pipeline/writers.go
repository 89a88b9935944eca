package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/aluiziolira/go-scrape-ebay/models"
)

// Export formats understood by NewExportWriter.
const (
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
	FormatJSON  = "json"
	FormatBoth  = "both"
)

// NewExportWriter opens a writer for format at path, replacing any file
// already there. FormatBoth writes <path>.csv and <path>.jsonl side by side.
func NewExportWriter(format, path string) (OutputWriter, error) {
	switch strings.ToLower(format) {
	case FormatCSV:
		return NewCSVWriter(path)
	case FormatJSONL:
		return NewJSONWriter(path)
	case FormatJSON:
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, eris.Wrap(err, "remove previous export")
		}
		return NewResultStore(path), nil
	case FormatBoth:
		base := strings.TrimSuffix(path, filepath.Ext(path))
		csvWriter, err := NewCSVWriter(base + ".csv")
		if err != nil {
			return nil, err
		}
		jsonWriter, err := NewJSONWriter(base + ".jsonl")
		if err != nil {
			csvWriter.Close()
			return nil, err
		}
		return NewMultiWriter(csvWriter, jsonWriter), nil
	default:
		return nil, eris.Errorf("unsupported export format %q", format)
	}
}

// CSVWriter writes records to CSV.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, eris.Wrap(err, "create csv file")
	}

	writer := csv.NewWriter(f)
	if err := writer.Write([]string{"title", "price", "description"}); err != nil {
		f.Close()
		return nil, eris.Wrap(err, "write csv header")
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, eris.Wrap(err, "flush csv header")
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends products to the CSV output.
func (cw *CSVWriter) Write(products []models.Product) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, p := range products {
		if err := cw.writer.Write([]string{p.Title, p.Price, p.Description}); err != nil {
			return eris.Wrap(err, "write csv record")
		}
	}
	cw.writer.Flush()
	return eris.Wrap(cw.writer.Error(), "flush csv records")
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return eris.Wrap(err, "flush csv writer")
	}
	return cw.file.Close()
}

// Validate ensures the file has content.
func (cw *CSVWriter) Validate() error {
	info, err := os.Stat(cw.file.Name())
	if err != nil {
		return eris.Wrap(err, "stat csv file")
	}
	if info.Size() <= 0 {
		return eris.New("csv file is empty")
	}
	return nil
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON lines writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, eris.Wrap(err, "create json file")
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends products in JSONL format.
func (jw *JSONWriter) Write(products []models.Product) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, p := range products {
		if err := jw.encoder.Encode(p); err != nil {
			return eris.Wrap(err, "encode json record")
		}
	}
	return eris.Wrap(jw.writer.Flush(), "flush json writer")
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return eris.Wrap(err, "flush json writer")
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	info, err := os.Stat(jw.file.Name())
	if err != nil {
		return eris.Wrap(err, "stat json file")
	}
	if info.Size() <= 0 {
		return eris.New("json file is empty")
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "create directory %q", dir)
	}
	return nil
}
