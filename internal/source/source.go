// Package source reads tabular files as row streams, hiding the format and
// byte encoding of the underlying file.
package source

import (
	"fmt"
	"mime"
	"strings"
)

// Reader yields one row per call and io.EOF when the file is exhausted.
// Rows may have uneven lengths; callers normalize widths.
type Reader interface {
	Read() ([]string, error)
	Close() error
}

// Format is a normalized source format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

var formatAliases = map[string]Format{
	"csv":                        FormatCSV,
	"text/csv":                   FormatCSV,
	"application/csv":            FormatCSV,
	"tsv":                        FormatTSV,
	"tab":                        FormatTSV,
	"text/tab-separated-values":  FormatTSV,
	"xlsx":                       FormatXLSX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": FormatXLSX,
}

// NormalizeFormat resolves the catalog's declared format, falling back to
// the response content type, into a supported Format.
func NormalizeFormat(declared, contentType string) (Format, error) {
	if f, ok := formatAliases[strings.ToLower(strings.TrimSpace(declared))]; ok {
		return f, nil
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if f, ok := formatAliases[mt]; ok {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported source format %q (content type %q)", declared, contentType)
}

// Open returns a Reader over the file at path. The file is re-openable, so
// the pipeline calls Open once to sample and again to load.
func Open(path string, format Format) (Reader, error) {
	switch format {
	case FormatCSV:
		return openDelimited(path, ',')
	case FormatTSV:
		return openDelimited(path, '\t')
	case FormatXLSX:
		return openXLSX(path)
	}
	return nil, fmt.Errorf("unsupported source format %q", format)
}

// Sample reads up to limit rows from r. Used for header and type guessing.
func Sample(r Reader, limit int) ([][]string, error) {
	rows := make([][]string, 0, limit)
	for len(rows) < limit {
		row, err := r.Read()
		if err != nil {
			if isEOF(err) {
				break
			}
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
