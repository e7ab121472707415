// Package export writes bar history to CSV, JSON or Parquet files.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Saver encodes rows in one file format.
type Saver interface {
	Write(w io.Writer, rows []Row) error
	Extension() string
}

// NewSaver creates the implementation for format (csv, json, parquet).
// Returns nil if the format is not supported.
func NewSaver(format string) Saver {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return CSVSaver{}
	case "json":
		return JSONSaver{}
	case "parquet":
		return ParquetSaver{}
	default:
		return nil
	}
}

// FileName is "{symbol}_{freq}.{ext}", with ".gz" appended when compressed.
func FileName(symbol, freq string, s Saver, compress bool) string {
	name := fmt.Sprintf("%s_%s.%s", symbol, freq, s.Extension())
	if compress && s.Extension() != "parquet" {
		name += ".gz"
	}
	return name
}

// Save writes rows to dir and returns the file path. Compression applies to
// text formats only; parquet pages are compressed by the format itself.
func Save(dir, symbol, freq string, rows []Row, s Saver, compress bool) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName(symbol, freq, s, compress))

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var w io.Writer = f
	var zw *gzip.Writer
	if compress && s.Extension() != "parquet" {
		zw = gzip.NewWriter(f)
		w = zw
	}
	if err := s.Write(w, rows); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return "", fmt.Errorf("write %s: %w", path, err)
		}
	}
	return path, f.Close()
}
