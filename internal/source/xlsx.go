package source

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

type xlsxReader struct {
	f    *excelize.File
	rows *excelize.Rows
}

// openXLSX streams rows from the first sheet of a workbook. Streaming keeps
// memory bounded for workbooks near the content-length cap.
func openXLSX(path string) (Reader, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	return &xlsxReader{f: f, rows: rows}, nil
}

func (r *xlsxReader) Read() ([]string, error) {
	if !r.rows.Next() {
		if err := r.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	cols, err := r.rows.Columns()
	if err != nil {
		return nil, err
	}
	return cols, nil
}

func (r *xlsxReader) Close() error {
	r.rows.Close()
	return r.f.Close()
}
