package loader

import (
	"testing"
	"time"

	"github.com/catalogd/tabload/internal/detect"
)

func TestConvertCell(t *testing.T) {
	tests := []struct {
		name string
		cell string
		typ  detect.FieldType
		want any
		ok   bool
	}{
		{name: "integer", cell: "42", typ: detect.TypeInteger, want: int64(42), ok: true},
		{name: "integer empty to null", cell: "", typ: detect.TypeInteger, want: nil, ok: true},
		{name: "integer garbage misses", cell: "x", typ: detect.TypeInteger, want: nil, ok: false},
		{name: "bool yes", cell: "yes", typ: detect.TypeBool, want: true, ok: true},
		{name: "bool f", cell: "F", typ: detect.TypeBool, want: false, ok: true},
		{name: "float", cell: "1.5", typ: detect.TypeFloat, want: 1.5, ok: true},
		{name: "decimal kept as string", cell: "10.25", typ: detect.TypeDecimal, want: "10.25", ok: true},
		{name: "timestamp empty to null", cell: "", typ: detect.TypeTimestamp, want: nil, ok: true},
		{name: "text passes through", cell: " raw ", typ: detect.TypeText, want: " raw ", ok: true},
		{name: "text empty stays empty", cell: "", typ: detect.TypeText, want: "", ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ConvertCell(tt.cell, tt.typ, detect.TimestampPolicy{})
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("value = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestConvertCellTimestamp(t *testing.T) {
	got, ok := ConvertCell("2021-03-04", detect.TypeTimestamp, detect.TimestampPolicy{})
	if !ok {
		t.Fatal("expected parse")
	}
	ts, isTime := got.(time.Time)
	if !isTime {
		t.Fatalf("value = %T, want time.Time", got)
	}
	if ts.Year() != 2021 || ts.Month() != time.March || ts.Day() != 4 {
		t.Errorf("parsed = %v", ts)
	}
}

func TestConvertCellBinary(t *testing.T) {
	got, ok := ConvertCell(`\xdeadbeef`, detect.TypeBinary, detect.TimestampPolicy{})
	if !ok {
		t.Fatal("expected parse")
	}
	raw, isBytes := got.([]byte)
	if !isBytes || len(raw) != 4 {
		t.Fatalf("value = %v (%T), want 4 bytes", got, got)
	}
}

func TestConvertRow(t *testing.T) {
	fields := []detect.Field{
		{ID: "n", Type: detect.TypeInteger},
		{ID: "name", Type: detect.TypeText},
		{ID: "flag", Type: detect.TypeBool},
	}

	t.Run("short row padded with nulls", func(t *testing.T) {
		values, missed := ConvertRow([]string{"1"}, fields, detect.TimestampPolicy{})
		if missed != 0 {
			t.Errorf("missed = %d, want 0", missed)
		}
		if values[0] != int64(1) || values[1] != nil || values[2] != nil {
			t.Errorf("values = %v", values)
		}
	})

	t.Run("surplus cells dropped", func(t *testing.T) {
		values, _ := ConvertRow([]string{"1", "a", "yes", "extra"}, fields, detect.TimestampPolicy{})
		if len(values) != 3 {
			t.Fatalf("values = %d, want 3", len(values))
		}
	})

	t.Run("parse miss counted and nulled", func(t *testing.T) {
		values, missed := ConvertRow([]string{"oops", "a", "yes"}, fields, detect.TimestampPolicy{})
		if missed != 1 {
			t.Errorf("missed = %d, want 1", missed)
		}
		if values[0] != nil {
			t.Errorf("failed cell = %v, want nil", values[0])
		}
	})
}
