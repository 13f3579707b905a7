package loader

import (
	"io"
	"testing"
)

type sliceReader struct {
	rows [][]string
	pos  int
}

func (r *sliceReader) Read() ([]string, error) {
	if r.pos >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.pos]
	r.pos++
	return row, nil
}

func (r *sliceReader) Close() error { return nil }

func TestStreamRowsSkipsThroughHeader(t *testing.T) {
	r := &sliceReader{rows: [][]string{
		{"Report", ""},
		{"id", "name"},
		{"1", "alice"},
		{"2", "bob"},
	}}

	var got [][]string
	err := streamRows(r, 1, 0, func(row []string) error {
		got = append(got, row)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	if got[0][0] != "1" || got[1][1] != "bob" {
		t.Errorf("rows = %v", got)
	}
}

func TestStreamRowsNormalizesWidth(t *testing.T) {
	r := &sliceReader{rows: [][]string{
		{"id", "name", "age"},
		{"1", "alice"},
		{"2", "bob", "41", "extra"},
	}}

	var got [][]string
	err := streamRows(r, 0, 3, func(row []string) error {
		got = append(got, append([]string(nil), row...))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got[0]) != 3 || len(got[1]) != 3 {
		t.Fatalf("widths = %d/%d, want 3/3", len(got[0]), len(got[1]))
	}
	if got[0][2] != "" {
		t.Errorf("short row not padded: %v", got[0])
	}
	if got[1][2] != "41" {
		t.Errorf("surplus not clipped correctly: %v", got[1])
	}
}
