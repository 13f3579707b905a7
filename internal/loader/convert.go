package loader

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/catalogd/tabload/internal/detect"
)

// ConvertCell turns a raw cell into the Go value for its column type. nil
// means NULL: empty strings cannot be represented by numeric or timestamp
// columns, so they convert to NULL rather than failing the row. The second
// return is false when a non-empty cell did not parse as the column type;
// the caller decides how to handle the miss.
func ConvertCell(cell string, t detect.FieldType, policy detect.TimestampPolicy) (any, bool) {
	s := strings.TrimSpace(cell)

	switch t {
	case detect.TypeText:
		return cell, true

	case detect.TypeBool:
		if s == "" {
			return nil, true
		}
		switch strings.ToLower(s) {
		case "true", "t", "yes":
			return true, true
		case "false", "f", "no":
			return false, true
		}
		return nil, false

	case detect.TypeInteger:
		if s == "" {
			return nil, true
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, false
		}
		return n, true

	case detect.TypeDecimal:
		if s == "" {
			return nil, true
		}
		// Numeric columns take the decimal as a string; the storage engine
		// parses it at full precision.
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return nil, false
		}
		return s, true

	case detect.TypeFloat:
		if s == "" {
			return nil, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false
		}
		return f, true

	case detect.TypeTimestamp:
		if s == "" {
			return nil, true
		}
		ts, ok := detect.ParseTimestamp(s, policy)
		if !ok {
			return nil, false
		}
		return ts, true

	case detect.TypeBinary:
		if s == "" {
			return nil, true
		}
		raw, err := hex.DecodeString(strings.TrimPrefix(s, `\x`))
		if err != nil {
			return nil, false
		}
		return raw, true
	}

	return cell, true
}

// ConvertRow converts one source row against the field list, padding short
// rows with NULLs and dropping surplus cells. Returns the converted values
// and the count of cells that failed their column type.
func ConvertRow(row []string, fields []detect.Field, policy detect.TimestampPolicy) ([]any, int) {
	values := make([]any, len(fields))
	missed := 0
	for i, f := range fields {
		if i >= len(row) {
			values[i] = nil
			continue
		}
		v, ok := ConvertCell(row[i], f.Type, policy)
		if !ok {
			missed++
		}
		values[i] = v
	}
	return values, missed
}
