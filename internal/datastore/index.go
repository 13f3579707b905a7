package datastore

import (
	"context"
	"fmt"

	"github.com/catalogd/tabload/internal/detect"
)

// CreateIndexes builds the secondary indexes after a successful load: a GIN
// index over the full-text column and a btree per data column.
func (e *Engine) CreateIndexes(ctx context.Context, resourceID string, fields []detect.Field) error {
	sql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING gin (%s)",
		ident("idx_"+shorten(resourceID)+"_fts"), ident(resourceID), ident(ColumnFullText))
	if _, err := e.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("creating full text index on %s: %w", resourceID, err)
	}

	for i, f := range fields {
		sql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			ident(fmt.Sprintf("idx_%s_%d", shorten(resourceID), i)), ident(resourceID), ident(f.ID))
		if _, err := e.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("creating index on %s.%s: %w", resourceID, f.ID, err)
		}
	}
	return nil
}

// shorten keeps index names inside the identifier length limit while staying
// collision-free in practice for UUID resource ids.
func shorten(resourceID string) string {
	if len(resourceID) > 32 {
		return resourceID[:32]
	}
	return resourceID
}
