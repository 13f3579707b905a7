package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/catalogd/tabload/internal/detect"
)

type delimitedReader struct {
	f  *os.File
	cr *csv.Reader
}

// openDelimited opens a CSV or TSV file, sniffing the byte encoding and
// decoding to UTF-8 on the fly.
func openDelimited(path string, delimiter rune) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening source file: %w", err)
	}

	charset, body, err := detect.SniffEncoding(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	cr := csv.NewReader(detect.DecodingReader(body, charset))
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return &delimitedReader{f: f, cr: cr}, nil
}

func (r *delimitedReader) Read() ([]string, error) {
	row, err := r.cr.Read()
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *delimitedReader) Close() error {
	return r.f.Close()
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
