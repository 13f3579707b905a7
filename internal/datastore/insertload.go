package datastore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// InsertRows inserts a batch of typed rows through the general insert path.
// Values arrive already converted; nil means NULL. Used by the
// type-converting loader, which batches its own reads.
func (e *Engine) InsertRows(ctx context.Context, resourceID string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = ident(c)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ident(resourceID), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(sql, row...)
	}

	results := e.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("inserting batch into %s: %w", resourceID, err)
		}
	}
	return nil
}
