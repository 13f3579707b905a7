// Package detect infers byte encoding, header rows, and per-column types
// from a bounded sample of an input file.
package detect

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSchemaInference indicates no sample rows were available to infer a
// schema from.
var ErrSchemaInference = errors.New("schema inference failed")

// FieldType is the closed set of column types the pipeline can produce.
type FieldType string

const (
	TypeBool      FieldType = "boolean"
	TypeInteger   FieldType = "integer"
	TypeDecimal   FieldType = "decimal"
	TypeFloat     FieldType = "float"
	TypeTimestamp FieldType = "timestamp"
	TypeBinary    FieldType = "binary"
	TypeText      FieldType = "text"
)

// GuessOrder is the fixed candidate order for type guessing. Ties in lenient
// mode and multiple survivors in strict mode resolve to the earliest entry,
// so the order is load-bearing for reproducibility: more specific types come
// first, text is the universal fallback and always last.
var GuessOrder = []FieldType{
	TypeBool,
	TypeInteger,
	TypeDecimal,
	TypeFloat,
	TypeTimestamp,
	TypeBinary,
	TypeText,
}

// FieldInfo is curated per-column metadata carried between loads.
type FieldInfo struct {
	Label        string    `json:"label,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	TypeOverride FieldType `json:"type_override,omitempty"`
}

// Field describes one column of a load.
type Field struct {
	ID   string     `json:"id"`
	Type FieldType  `json:"type"`
	Info *FieldInfo `json:"info,omitempty"`
}

// GuessMode selects between the two type-guessing strategies.
type GuessMode int

const (
	// Strict retains a type only if every non-empty sampled cell parses as
	// it; columns with no surviving type fall back to text.
	Strict GuessMode = iota
	// Lenient picks the type with the most successful parses per column,
	// with text given a floor count of 1.
	Lenient
)

// TimestampPolicy configures ambiguous date parsing.
type TimestampPolicy struct {
	DayFirst  bool
	YearFirst bool
}

// GuessTypes infers a type per column from a sample of data rows (header
// excluded). Empty cells are ignored when scoring. Returns one type per
// column, where the column count is the widest sampled row.
func GuessTypes(sample [][]string, mode GuessMode, policy TimestampPolicy) ([]FieldType, error) {
	if len(sample) == 0 {
		return nil, fmt.Errorf("%w: no rows sampled", ErrSchemaInference)
	}

	columns := 0
	for _, row := range sample {
		if len(row) > columns {
			columns = len(row)
		}
	}
	if columns == 0 {
		return nil, fmt.Errorf("%w: sampled rows are empty", ErrSchemaInference)
	}

	types := make([]FieldType, columns)
	for col := 0; col < columns; col++ {
		if mode == Strict {
			types[col] = guessStrict(sample, col, policy)
		} else {
			types[col] = guessLenient(sample, col, policy)
		}
	}
	return types, nil
}

func guessStrict(sample [][]string, col int, policy TimestampPolicy) FieldType {
	for _, candidate := range GuessOrder {
		if candidate == TypeText {
			break
		}
		all := true
		seen := false
		for _, row := range sample {
			if col >= len(row) || strings.TrimSpace(row[col]) == "" {
				continue
			}
			seen = true
			if !parsesAs(row[col], candidate, policy) {
				all = false
				break
			}
		}
		if seen && all {
			return candidate
		}
	}
	return TypeText
}

func guessLenient(sample [][]string, col int, policy TimestampPolicy) FieldType {
	counts := make(map[FieldType]int, len(GuessOrder))
	counts[TypeText] = 1 // floor so text wins only when nothing else ever parses

	for _, row := range sample {
		if col >= len(row) || strings.TrimSpace(row[col]) == "" {
			continue
		}
		for _, candidate := range GuessOrder {
			if parsesAs(row[col], candidate, policy) {
				counts[candidate]++
			}
		}
	}

	best := TypeText
	bestCount := 0
	for _, candidate := range GuessOrder {
		if counts[candidate] > bestCount {
			best = candidate
			bestCount = counts[candidate]
		}
	}
	return best
}

// parsesAs reports whether a single cell parses as the candidate type.
func parsesAs(cell string, t FieldType, policy TimestampPolicy) bool {
	s := strings.TrimSpace(cell)
	if s == "" {
		return false
	}
	switch t {
	case TypeBool:
		return parsesBool(s)
	case TypeInteger:
		_, err := strconv.ParseInt(s, 10, 64)
		return err == nil
	case TypeDecimal:
		return parsesDecimal(s)
	case TypeFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return false
		}
		// Reject inf/nan spellings; they never appear in real tabular data
		// on purpose.
		lower := strings.ToLower(s)
		return f == f && !strings.Contains(lower, "inf") && !strings.Contains(lower, "nan")
	case TypeTimestamp:
		_, ok := ParseTimestamp(s, policy)
		return ok
	case TypeBinary:
		return parsesBinary(s)
	case TypeText:
		return true
	}
	return false
}

func parsesBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false", "t", "f", "yes", "no":
		return true
	}
	return false
}

// parsesDecimal accepts plain fixed-point numerics: optional sign, digits,
// optional fractional part. No exponent (that's float territory).
func parsesDecimal(s string) bool {
	if s == "" {
		return false
	}
	i := 0
	if s[0] == '+' || s[0] == '-' {
		i++
	}
	digits := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		digits++
	}
	if digits == 0 {
		return false
	}
	if i == len(s) {
		return true
	}
	if s[i] != '.' {
		return false
	}
	i++
	frac := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		frac++
	}
	return i == len(s) && frac > 0
}

// parsesBinary accepts only the Postgres bytea escape form (\x prefix plus
// hex digits); anything looser would misclassify ordinary text.
func parsesBinary(s string) bool {
	if !strings.HasPrefix(s, `\x`) || len(s) <= 2 || len(s)%2 != 0 {
		return false
	}
	for _, c := range s[2:] {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
