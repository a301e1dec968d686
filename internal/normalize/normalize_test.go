package normalize

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infra-logging/indexaudit/internal/models"
)

func raw(index, size, shards any) models.RawRecord {
	return models.RawRecord{
		"index":          index,
		"pri.store.size": size,
		"pri":            shards,
	}
}

func TestNormalize(t *testing.T) {
	t.Run("Textual Fields", func(t *testing.T) {
		result, err := Normalize([]models.RawRecord{
			raw("logs-2024.01.01", "1234567890", "3"),
		})
		require.NoError(t, err)
		require.Len(t, result.Valid, 1)
		assert.Empty(t, result.Invalid)

		assert.Equal(t, models.CanonicalRecord{Index: "logs-2024.01.01", SizeGB: 1.23, Shards: 3}, result.Valid[0])
	})

	t.Run("Numeric Fields", func(t *testing.T) {
		result, err := Normalize([]models.RawRecord{
			raw("metrics", float64(90_000_000_000), float64(3)),
			raw("events", json.Number("10000000000"), json.Number("5")),
			raw("audit", int64(5_555_000_000), 2),
		})
		require.NoError(t, err)

		want := []models.CanonicalRecord{
			{Index: "metrics", SizeGB: 90, Shards: 3},
			{Index: "events", SizeGB: 10, Shards: 5},
			{Index: "audit", SizeGB: 5.56, Shards: 2},
		}
		if diff := cmp.Diff(want, result.Valid); diff != "" {
			t.Errorf("valid records mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Size Rounding", func(t *testing.T) {
		tests := []struct {
			bytes string
			want  float64
		}{
			{"0", 0},
			{"4999999", 0},
			{"5000001", 0.01},
			{"15000000", 0.02},
			{"999999999", 1},
			{"1000000000", 1},
			{"123456789012", 123.46},
		}

		for _, tt := range tests {
			result, err := Normalize([]models.RawRecord{raw("idx", tt.bytes, "1")})
			require.NoError(t, err)
			require.Len(t, result.Valid, 1, tt.bytes)
			assert.Equal(t, tt.want, result.Valid[0].SizeGB, tt.bytes)
		}
	})

	t.Run("Integral Float Shards", func(t *testing.T) {
		result, err := Normalize([]models.RawRecord{
			raw("decoded", "1000000000", json.Number("3.0")),
			raw("exponent", "1000000000", json.Number("4e0")),
			raw("unsigned", "1000000000", uint64(6)),
			raw("plain", "1000000000", uint(7)),
		})
		require.NoError(t, err)
		require.Empty(t, result.Invalid)

		shards := make([]int, 0, len(result.Valid))
		for _, rec := range result.Valid {
			shards = append(shards, rec.Shards)
		}
		assert.Equal(t, []int{3, 4, 6, 7}, shards)
	})

	t.Run("Decoded File Input", func(t *testing.T) {
		dec := json.NewDecoder(strings.NewReader(
			`[{"index":"a","pri.store.size":"1000000000","pri":3.0},{"index":12345,"pri.store.size":2000000000,"pri":"1"}]`))
		dec.UseNumber()
		var batch []models.RawRecord
		require.NoError(t, dec.Decode(&batch))

		result, err := Normalize(batch)
		require.NoError(t, err)
		require.Empty(t, result.Invalid)
		assert.Equal(t, []models.CanonicalRecord{
			{Index: "a", SizeGB: 1, Shards: 3},
			{Index: "12345", SizeGB: 2, Shards: 1},
		}, result.Valid)
	})

	t.Run("Scalar Index Names Are Coerced", func(t *testing.T) {
		result, err := Normalize([]models.RawRecord{
			raw(json.Number("12345"), "0", "1"),
			raw(42, "0", "1"),
			raw(float64(7.5), "0", "1"),
		})
		require.NoError(t, err)
		require.Len(t, result.Valid, 3)
		assert.Equal(t, "12345", result.Valid[0].Index)
		assert.Equal(t, "42", result.Valid[1].Index)
		assert.Equal(t, "7.5", result.Valid[2].Index)
	})

	t.Run("Index Name Is Trimmed", func(t *testing.T) {
		result, err := Normalize([]models.RawRecord{raw("  logs  ", "0", "1")})
		require.NoError(t, err)
		require.Len(t, result.Valid, 1)
		assert.Equal(t, "logs", result.Valid[0].Index)
	})
}

func TestNormalizeInvalidRecords(t *testing.T) {
	tests := []struct {
		name  string
		rec   models.RawRecord
		field string
		err   error
	}{
		{"missing index", models.RawRecord{"pri.store.size": "1", "pri": "1"}, "index", ErrMissingField},
		{"null index", raw(nil, "1", "1"), "index", ErrMissingField},
		{"empty index", raw("   ", "1", "1"), "index", ErrEmpty},
		{"boolean index", raw(true, "1", "1"), "index", ErrWrongType},
		{"object index", raw(map[string]any{"name": "a"}, "1", "1"), "index", ErrWrongType},
		{"missing size", models.RawRecord{"index": "a", "pri": "1"}, "pri.store.size", ErrMissingField},
		{"textual size", raw("a", "lots", "1"), "pri.store.size", ErrNotNumeric},
		{"boolean size", raw("a", true, "1"), "pri.store.size", ErrWrongType},
		{"negative size", raw("a", "-10", "1"), "pri.store.size", ErrNegative},
		{"nan size", raw("a", "NaN", "1"), "pri.store.size", ErrNotNumeric},
		{"missing shards", models.RawRecord{"index": "a", "pri.store.size": "1"}, "pri", ErrMissingField},
		{"fractional shards", raw("a", "1", "1.5"), "pri", ErrNotInteger},
		{"fractional numeric shards", raw("a", "1", 2.5), "pri", ErrNotInteger},
		{"negative shards", raw("a", "1", "-2"), "pri", ErrNegative},
		{"fractional decoded shards", raw("a", "1", json.Number("2.5")), "pri", ErrNotInteger},
		{"out of range shards", raw("a", "1", json.Number("1e12")), "pri", ErrNotInteger},
		{"list shards", raw("a", "1", []any{1}), "pri", ErrWrongType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Normalize([]models.RawRecord{tt.rec})
			require.NoError(t, err)
			assert.Empty(t, result.Valid)
			require.Len(t, result.Invalid, 1)

			invalid := result.Invalid[0]
			assert.Equal(t, tt.field, invalid.Field)
			assert.Equal(t, tt.rec, invalid.Raw)
			assert.NotEmpty(t, invalid.Reason)

			_, convErr := New(DefaultFieldMap()).Convert(tt.rec)
			var fe *FieldError
			require.True(t, errors.As(convErr, &fe))
			assert.Equal(t, tt.field, fe.Field)
			assert.ErrorIs(t, convErr, tt.err)
		})
	}
}

func TestNormalizeConservationAndOrder(t *testing.T) {
	input := []models.RawRecord{
		raw("a", "1000000000", "1"),
		raw("bad-1", "x", "1"),
		raw("b", "2000000000", "2"),
		nil,
		raw("a", "1000000000", "1"),
		raw("bad-2", "1", nil),
	}

	result, err := Normalize(input)
	require.NoError(t, err)

	assert.Equal(t, len(input), len(result.Valid)+len(result.Invalid))

	var names []string
	for _, rec := range result.Valid {
		names = append(names, rec.Index)
	}
	assert.Equal(t, []string{"a", "b", "a"}, names, "duplicates are kept in input order")

	require.Len(t, result.Invalid, 3)
	assert.Equal(t, "bad-1", result.Invalid[0].Raw["index"])
	assert.Nil(t, result.Invalid[1].Raw)
	assert.Equal(t, "bad-2", result.Invalid[2].Raw["index"])
}

func TestNormalizeEmptyAndAbsentInput(t *testing.T) {
	result, err := Normalize([]models.RawRecord{})
	require.NoError(t, err)
	assert.Empty(t, result.Valid)
	assert.Empty(t, result.Invalid)

	result, err = Normalize(nil)
	assert.ErrorIs(t, err, ErrNoInput)
	assert.Nil(t, result)
}

func TestCustomFieldMap(t *testing.T) {
	n := New(FieldMap{Size: "store.size"})

	result, err := n.Normalize([]models.RawRecord{
		{"index": "custom", "store.size": "3000000000", "pri": "2"},
		{"index": "default-key", "pri.store.size": "3000000000", "pri": "2"},
	})
	require.NoError(t, err)

	require.Len(t, result.Valid, 1)
	assert.Equal(t, "custom", result.Valid[0].Index)
	assert.Equal(t, 3.0, result.Valid[0].SizeGB)

	require.Len(t, result.Invalid, 1)
	assert.Equal(t, "store.size", result.Invalid[0].Field)
}

func TestFieldErrorMessage(t *testing.T) {
	err := &FieldError{Field: "pri", Value: "x", Err: ErrNotInteger}
	assert.Equal(t, `field "pri" (x): value is not an integer`, err.Error())

	err = &FieldError{Field: "index", Err: ErrMissingField}
	assert.Equal(t, `field "index": missing field`, err.Error())
}
