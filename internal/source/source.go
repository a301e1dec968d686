// Package source provides the adapters that produce raw index records,
// either from a JSON file or from a cluster's _cat/indices endpoint.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/infra-logging/indexaudit/internal/models"
)

// ErrNoData is returned when a source could not produce any data at all
var ErrNoData = errors.New("source produced no data")

// Source yields the raw records for one run
type Source interface {
	Fetch(ctx context.Context) ([]models.RawRecord, error)
	Name() string
}

// FileSource reads raw records from a JSON array on disk
type FileSource struct {
	Path string
}

// NewFileSource creates a file source
func NewFileSource(path string) (*FileSource, error) {
	if path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	return &FileSource{Path: path}, nil
}

// Name identifies the source in reports
func (f *FileSource) Name() string {
	return "file:" + f.Path
}

// Fetch reads and decodes the whole file. An unreadable or malformed file is
// fatal; an empty array is a valid, empty batch.
func (f *FileSource) Fetch(ctx context.Context) ([]models.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Path, err)
	}

	records, err := decodeRecords(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", f.Path, err)
	}
	if records == nil {
		return nil, fmt.Errorf("%w: %s holds no record array", ErrNoData, f.Path)
	}

	return records, nil
}

// ValueKey holds array elements that are not JSON objects, so they still
// reach the normalizer and get reported as invalid.
const ValueKey = "_value"

// decodeRecords decodes a JSON array. Numbers are kept as json.Number so
// large byte counts survive without float rounding. A JSON null decodes to a
// nil slice.
func decodeRecords(r io.Reader) ([]models.RawRecord, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var elems []any
	if err := dec.Decode(&elems); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after record array")
	}
	if elems == nil {
		return nil, nil
	}

	records := make([]models.RawRecord, 0, len(elems))
	for _, elem := range elems {
		if obj, ok := elem.(map[string]any); ok {
			records = append(records, models.RawRecord(obj))
			continue
		}
		records = append(records, models.RawRecord{ValueKey: elem})
	}
	return records, nil
}
