// Package loader populates the tabular store from a local source file,
// trying the direct bulk path first and falling back to the slower
// type-converting path.
package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/catalogd/tabload/internal/datastore"
	"github.com/catalogd/tabload/internal/detect"
	"github.com/catalogd/tabload/internal/source"
)

// ErrEmptyLoad indicates the type-converting path landed zero rows. An empty
// result table is not success.
var ErrEmptyLoad = errors.New("no rows loaded")

// Strategy names the path that produced a load.
type Strategy string

const (
	StrategyDirect   Strategy = "direct"
	StrategyTypeCast Strategy = "typecast"
)

// Outcome reports how a load finished.
type Outcome struct {
	Strategy Strategy
	Records  int64
	Fields   []detect.Field
}

// Request describes one load.
type Request struct {
	ResourceID string
	Path       string
	Format     source.Format
	Fields     []detect.Field
	// HeaderRow is the index of the header row; rows up to and including it
	// are skipped.
	HeaderRow int
	// DirectEligible is false when the file is above the type-guess size
	// ceiling or a table already exists for the resource, both of which
	// force the type-converting path.
	DirectEligible bool
	ForceTypeCast  bool
}

type Loader struct {
	engine    *datastore.Engine
	log       *slog.Logger
	batchSize int
	policy    detect.TimestampPolicy
}

func New(engine *datastore.Engine, batchSize int, policy detect.TimestampPolicy, log *slog.Logger) *Loader {
	if batchSize <= 0 {
		batchSize = 250
	}
	return &Loader{engine: engine, log: log, batchSize: batchSize, policy: policy}
}

// Load runs the direct path when eligible, falling back to the
// type-converting path on a row-level bulk failure.
func (l *Loader) Load(ctx context.Context, req Request) (*Outcome, error) {
	if req.DirectEligible && !req.ForceTypeCast {
		out, err := l.direct(ctx, req)
		var loadErr *datastore.LoadError
		if errors.As(err, &loadErr) {
			l.log.Warn("direct bulk load failed, falling back to type-converting load",
				"resource_id", req.ResourceID, "fragment", loadErr.Fragment)
			return l.typecast(ctx, req)
		}
		return out, err
	}
	return l.typecast(ctx, req)
}

// direct loads every column as text through the store's native bulk path.
// Type fidelity is traded for speed; the full-text column is populated from
// all columns afterward.
func (l *Loader) direct(ctx context.Context, req Request) (*Outcome, error) {
	textFields := make([]detect.Field, len(req.Fields))
	for i, f := range req.Fields {
		textFields[i] = detect.Field{ID: f.ID, Type: detect.TypeText, Info: f.Info}
	}

	if _, err := l.engine.Reconcile(ctx, req.ResourceID, textFields); err != nil {
		return nil, err
	}

	r, err := source.Open(req.Path, req.Format)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	columns := make([]string, len(textFields))
	for i, f := range textFields {
		columns[i] = f.ID
	}

	// Re-encode rows as normalized UTF-8 CSV into the copy stream.
	pr, pw := io.Pipe()
	go func() {
		w := csv.NewWriter(pw)
		err := streamRows(r, req.HeaderRow, len(columns), func(row []string) error {
			return w.Write(row)
		})
		if err == nil {
			w.Flush()
			err = w.Error()
		}
		pw.CloseWithError(err)
	}()

	n, err := l.engine.CopyFromCSV(ctx, req.ResourceID, columns, pr)
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	l.log.Info("direct bulk load complete", "resource_id", req.ResourceID, "rows", n)

	count, err := l.engine.EstimateCount(ctx, req.ResourceID)
	if err != nil {
		return nil, err
	}
	if err := l.engine.PopulateFullText(ctx, req.ResourceID, columns); err != nil {
		return nil, err
	}
	if err := l.engine.CreateIndexes(ctx, req.ResourceID, textFields); err != nil {
		return nil, err
	}

	return &Outcome{Strategy: StrategyDirect, Records: count, Fields: textFields}, nil
}

// typecast re-reads the file lazily, converting cells to their inferred
// types and inserting in fixed-size batches.
func (l *Loader) typecast(ctx context.Context, req Request) (*Outcome, error) {
	if _, err := l.engine.Reconcile(ctx, req.ResourceID, req.Fields); err != nil {
		return nil, err
	}

	r, err := source.Open(req.Path, req.Format)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	columns := make([]string, len(req.Fields))
	textColumns := []string{}
	for i, f := range req.Fields {
		columns[i] = f.ID
		if f.Type == detect.TypeText {
			textColumns = append(textColumns, f.ID)
		}
	}

	var total int64
	var misses int
	batch := make([][]any, 0, l.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := l.engine.InsertRows(ctx, req.ResourceID, columns, batch); err != nil {
			return err
		}
		total += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	err = streamRows(r, req.HeaderRow, 0, func(row []string) error {
		values, missed := ConvertRow(row, req.Fields, l.policy)
		misses += missed
		batch = append(batch, values)
		if len(batch) >= l.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyLoad, req.ResourceID)
	}
	if misses > 0 {
		l.log.Warn("cells failed type conversion and were stored as null",
			"resource_id", req.ResourceID, "cells", misses)
	}
	l.log.Info("type-converting load complete", "resource_id", req.ResourceID, "rows", total)

	if _, err := l.engine.EstimateCount(ctx, req.ResourceID); err != nil {
		return nil, err
	}
	if err := l.engine.PopulateFullText(ctx, req.ResourceID, textColumns); err != nil {
		return nil, err
	}
	if err := l.engine.CreateIndexes(ctx, req.ResourceID, req.Fields); err != nil {
		return nil, err
	}

	return &Outcome{Strategy: StrategyTypeCast, Records: total, Fields: req.Fields}, nil
}

// streamRows feeds data rows to fn, skipping everything up to and including
// the header row. When width is positive, rows are padded or clipped to it;
// the direct path needs fixed-width CSV for the copy stream.
func streamRows(r source.Reader, headerRow, width int, fn func(row []string) error) error {
	idx := -1
	for {
		row, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		idx++
		if idx <= headerRow {
			continue
		}
		if width > 0 {
			if len(row) > width {
				row = row[:width]
			}
			for len(row) < width {
				row = append(row, "")
			}
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}
