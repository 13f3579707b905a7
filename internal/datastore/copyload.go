package datastore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// LoadError is a row-level failure from the bulk path. Fragment carries the
// offending row context the storage engine reported, so callers can log it
// before falling back to the type-converting path.
type LoadError struct {
	Fragment string
	Err      error
}

func (e *LoadError) Error() string {
	if e.Fragment != "" {
		return fmt.Sprintf("bulk load failed at %s: %v", e.Fragment, e.Err)
	}
	return fmt.Sprintf("bulk load failed: %v", e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// CopyFromCSV streams CSV rows (no header) through the storage engine's
// native bulk path into the named columns. Empty strings land as NULL. Any
// row-level violation aborts the whole copy and surfaces as a LoadError.
func (e *Engine) CopyFromCSV(ctx context.Context, resourceID string, columns []string, r io.Reader) (int64, error) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = ident(c)
	}
	sql := fmt.Sprintf("COPY %s (%s) FROM STDIN WITH (FORMAT csv, NULL '')",
		ident(resourceID), strings.Join(quoted, ", "))

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Conn().PgConn().CopyFrom(ctx, r, sql)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return 0, &LoadError{Fragment: pgErr.Where, Err: err}
		}
		return 0, &LoadError{Err: err}
	}
	return tag.RowsAffected(), nil
}

// EstimateCount refreshes the planner statistics for the resource table and
// returns the resulting row estimate. Cheaper than COUNT(*) on large tables
// and accurate right after a load because ANALYZE just ran.
func (e *Engine) EstimateCount(ctx context.Context, resourceID string) (int64, error) {
	if _, err := e.pool.Exec(ctx, "ANALYZE "+ident(resourceID)); err != nil {
		return 0, fmt.Errorf("analyzing table %s: %w", resourceID, err)
	}
	var count int64
	err := e.pool.QueryRow(ctx, `
		SELECT reltuples::bigint FROM pg_class WHERE relname = $1
	`, resourceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("reading row estimate for %s: %w", resourceID, err)
	}
	return count, nil
}

// PopulateFullText fills the reserved search column from the given text
// columns in one bulk update.
func (e *Engine) PopulateFullText(ctx context.Context, resourceID string, textColumns []string) error {
	if len(textColumns) == 0 {
		return nil
	}
	parts := make([]string, len(textColumns))
	for i, c := range textColumns {
		parts[i] = fmt.Sprintf("coalesce(%s::text, '')", ident(c))
	}
	sql := fmt.Sprintf("UPDATE %s SET %s = to_tsvector(%s)",
		ident(resourceID), ident(ColumnFullText), strings.Join(parts, " || ' ' || "))
	if _, err := e.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("populating full text for %s: %w", resourceID, err)
	}
	return nil
}
