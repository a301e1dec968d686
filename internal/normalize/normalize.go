// Package normalize turns untrusted index entries into canonical records.
// A raw record either converts completely or is reported as invalid; the
// batch never fails because of a single bad record.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/infra-logging/indexaudit/internal/models"
)

// BytesPerGB is the decimal gigabyte used for size conversion.
const BytesPerGB = 1000 * 1000 * 1000

var (
	// ErrNoInput is returned when the batch itself is absent.
	ErrNoInput = errors.New("no input records")

	ErrMissingField = errors.New("missing field")
	ErrWrongType    = errors.New("unsupported value type")
	ErrNotNumeric   = errors.New("value is not numeric")
	ErrNotInteger   = errors.New("value is not an integer")
	ErrNegative     = errors.New("value is negative")
	ErrEmpty        = errors.New("value is empty")
)

// FieldMap names the raw keys holding each canonical field
type FieldMap struct {
	Index  string `mapstructure:"index"`
	Size   string `mapstructure:"size"`
	Shards string `mapstructure:"shards"`
}

// DefaultFieldMap returns the column names used by _cat/indices
func DefaultFieldMap() FieldMap {
	return FieldMap{
		Index:  "index",
		Size:   "pri.store.size",
		Shards: "pri",
	}
}

// FieldError describes why a raw record was rejected
type FieldError struct {
	Field string
	Value any
	Err   error
}

func (e *FieldError) Error() string {
	if errors.Is(e.Err, ErrMissingField) {
		return fmt.Sprintf("field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("field %q (%v): %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Result holds the two outputs of a normalization pass.
// len(Valid)+len(Invalid) always equals the input length.
type Result struct {
	Valid   []models.CanonicalRecord
	Invalid []models.InvalidRecord
}

// Normalizer converts raw records using a configurable field mapping
type Normalizer struct {
	fields FieldMap
}

// New creates a normalizer. Empty names in fields fall back to the defaults.
func New(fields FieldMap) *Normalizer {
	def := DefaultFieldMap()
	if fields.Index == "" {
		fields.Index = def.Index
	}
	if fields.Size == "" {
		fields.Size = def.Size
	}
	if fields.Shards == "" {
		fields.Shards = def.Shards
	}
	return &Normalizer{fields: fields}
}

// Normalize converts raw records with the default field mapping
func Normalize(raw []models.RawRecord) (*Result, error) {
	return New(DefaultFieldMap()).Normalize(raw)
}

// Normalize splits raw into valid canonical records and invalid records,
// preserving input order in both.
func (n *Normalizer) Normalize(raw []models.RawRecord) (*Result, error) {
	if raw == nil {
		return nil, ErrNoInput
	}

	result := &Result{
		Valid:   make([]models.CanonicalRecord, 0, len(raw)),
		Invalid: make([]models.InvalidRecord, 0),
	}

	for _, rec := range raw {
		canonical, err := n.convert(rec)
		if err != nil {
			invalid := models.InvalidRecord{Raw: rec, Reason: err.Error()}
			var fe *FieldError
			if errors.As(err, &fe) {
				invalid.Field = fe.Field
			}
			result.Invalid = append(result.Invalid, invalid)
			continue
		}
		result.Valid = append(result.Valid, canonical)
	}

	return result, nil
}

// Convert converts a single raw record. The returned error is a *FieldError.
func (n *Normalizer) Convert(rec models.RawRecord) (models.CanonicalRecord, error) {
	return n.convert(rec)
}

func (n *Normalizer) convert(rec models.RawRecord) (models.CanonicalRecord, error) {
	if rec == nil {
		return models.CanonicalRecord{}, &FieldError{Field: n.fields.Index, Err: ErrMissingField}
	}

	index, err := n.readIndex(rec)
	if err != nil {
		return models.CanonicalRecord{}, err
	}

	sizeBytes, err := n.readSize(rec)
	if err != nil {
		return models.CanonicalRecord{}, err
	}

	shards, err := n.readShards(rec)
	if err != nil {
		return models.CanonicalRecord{}, err
	}

	return models.CanonicalRecord{
		Index:  index,
		SizeGB: ToGB(sizeBytes),
		Shards: shards,
	}, nil
}

// ToGB converts bytes to decimal gigabytes rounded to two places
func ToGB(bytes float64) float64 {
	return math.Round(bytes/(BytesPerGB/100)) / 100
}

func (n *Normalizer) readIndex(rec models.RawRecord) (string, error) {
	field := n.fields.Index
	v, ok := rec[field]
	if !ok || v == nil {
		return "", &FieldError{Field: field, Err: ErrMissingField}
	}
	s, err := toString(v)
	if err != nil {
		return "", &FieldError{Field: field, Value: v, Err: err}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &FieldError{Field: field, Value: v, Err: ErrEmpty}
	}
	return s, nil
}

// toString coerces scalar index names; bools, objects and arrays are rejected
func toString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	default:
		return "", ErrWrongType
	}
}

func (n *Normalizer) readSize(rec models.RawRecord) (float64, error) {
	field := n.fields.Size
	v, ok := rec[field]
	if !ok || v == nil {
		return 0, &FieldError{Field: field, Err: ErrMissingField}
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, &FieldError{Field: field, Value: v, Err: err}
	}
	if f < 0 {
		return 0, &FieldError{Field: field, Value: v, Err: ErrNegative}
	}
	return f, nil
}

func (n *Normalizer) readShards(rec models.RawRecord) (int, error) {
	field := n.fields.Shards
	v, ok := rec[field]
	if !ok || v == nil {
		return 0, &FieldError{Field: field, Err: ErrMissingField}
	}
	i, err := toInt(v)
	if err != nil {
		return 0, &FieldError{Field: field, Value: v, Err: err}
	}
	if i < 0 {
		return 0, &FieldError{Field: field, Value: v, Err: ErrNegative}
	}
	return i, nil
}

func toFloat(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, ErrNotNumeric
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, ErrNotNumeric
		}
		f = parsed
	default:
		return 0, ErrWrongType
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrNotNumeric
	}
	return f, nil
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int32:
		return int(x), nil
	case int64:
		return intFromFloat(float64(x))
	case uint:
		return intFromFloat(float64(x))
	case uint32:
		return int(x), nil
	case uint64:
		return intFromFloat(float64(x))
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, ErrNotInteger
		}
		return i, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return intFromFloat(float64(i))
		}
		f, err := x.Float64()
		if err != nil {
			return 0, ErrNotInteger
		}
		return intFromFloat(f)
	case float64:
		return intFromFloat(x)
	case float32:
		return intFromFloat(float64(x))
	default:
		return 0, ErrWrongType
	}
}

// intFromFloat accepts integral values within the int32 range
func intFromFloat(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, ErrNotInteger
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, ErrNotInteger
	}
	return int(f), nil
}
