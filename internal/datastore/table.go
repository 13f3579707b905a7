package datastore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/catalogd/tabload/internal/detect"
)

// ident quotes an identifier for interpolation into DDL. Resource ids are
// UUIDs from the catalog, but quoting is unconditional anyway.
func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// TableExists reports whether a resource table is present.
func (e *Engine) TableExists(ctx context.Context, resourceID string) (bool, error) {
	var exists bool
	err := e.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)
	`, resourceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", resourceID, err)
	}
	return exists, nil
}

// Describe returns the columns of an existing resource table in declaration
// order, including the reserved internal columns.
func (e *Engine) Describe(ctx context.Context, resourceID string) ([]Column, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position
	`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("describing table %s: %w", resourceID, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var name, sqlType string
		if err := rows.Scan(&name, &sqlType); err != nil {
			return nil, fmt.Errorf("scanning column of %s: %w", resourceID, err)
		}
		t, ok := fieldBySQLType[strings.ToLower(sqlType)]
		if !ok {
			t = detect.TypeText
		}
		cols = append(cols, Column{Name: name, Type: t})
	}
	return cols, rows.Err()
}

// CreateTable creates a fresh resource table from the inferred fields, with
// the reserved row-id and full-text columns.
func (e *Engine) CreateTable(ctx context.Context, resourceID string, fields []detect.Field) error {
	defs := make([]string, 0, len(fields)+2)
	defs = append(defs, ident(ColumnRowID)+" bigserial PRIMARY KEY")
	for _, f := range fields {
		defs = append(defs, ident(f.ID)+" "+SQLType(f.Type))
	}
	defs = append(defs, ident(ColumnFullText)+" tsvector")

	sql := fmt.Sprintf("CREATE TABLE %s (%s)", ident(resourceID), strings.Join(defs, ", "))
	if _, err := e.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("creating table %s: %w", resourceID, err)
	}
	return nil
}

func (e *Engine) DropTable(ctx context.Context, resourceID string) error {
	if _, err := e.pool.Exec(ctx, "DROP TABLE IF EXISTS "+ident(resourceID)); err != nil {
		return fmt.Errorf("dropping table %s: %w", resourceID, err)
	}
	return nil
}

// Truncate clears all rows in place, keeping the schema and any curated
// column metadata.
func (e *Engine) Truncate(ctx context.Context, resourceID string) error {
	if _, err := e.pool.Exec(ctx, "TRUNCATE TABLE "+ident(resourceID)+" RESTART IDENTITY"); err != nil {
		return fmt.Errorf("truncating table %s: %w", resourceID, err)
	}
	return nil
}

// Reconcile makes the resource table match the inferred fields. Matching
// schemas are truncated in place; differing or missing tables are dropped
// and recreated, carrying curated column metadata forward for columns whose
// name survives. Returns true when a fresh table was created.
func (e *Engine) Reconcile(ctx context.Context, resourceID string, fields []detect.Field) (bool, error) {
	exists, err := e.TableExists(ctx, resourceID)
	if err != nil {
		return false, err
	}

	if exists {
		existing, err := e.Describe(ctx, resourceID)
		if err != nil {
			return false, err
		}
		if FieldsMatch(fields, existing) {
			e.log.Debug("schema unchanged, truncating in place", "resource_id", resourceID)
			return false, e.Truncate(ctx, resourceID)
		}
		e.log.Debug("schema changed, recreating table", "resource_id", resourceID)
		if err := e.DropTable(ctx, resourceID); err != nil {
			return false, err
		}
	}

	if err := e.CreateTable(ctx, resourceID, fields); err != nil {
		return false, err
	}
	if err := e.carryFieldInfo(ctx, resourceID, fields); err != nil {
		return false, err
	}
	return true, nil
}

// carryFieldInfo keeps curated metadata only for field ids still present
// after a recreate, then persists any overrides supplied with the new load.
func (e *Engine) carryFieldInfo(ctx context.Context, resourceID string, fields []detect.Field) error {
	keep := make([]string, 0, len(fields))
	for _, f := range fields {
		keep = append(keep, f.ID)
	}
	_, err := e.pool.Exec(ctx, `
		DELETE FROM _tabload_field_info
		WHERE resource_id = $1 AND NOT (field_id = ANY($2))
	`, resourceID, keep)
	if err != nil {
		return fmt.Errorf("pruning field info for %s: %w", resourceID, err)
	}

	for _, f := range fields {
		if f.Info == nil {
			continue
		}
		if err := e.SaveFieldInfo(ctx, resourceID, f.ID, f.Info); err != nil {
			return err
		}
	}
	return nil
}

// SaveFieldInfo upserts curated metadata for one column.
func (e *Engine) SaveFieldInfo(ctx context.Context, resourceID, fieldID string, info *detect.FieldInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding field info: %w", err)
	}
	_, err = e.pool.Exec(ctx, `
		INSERT INTO _tabload_field_info (resource_id, field_id, info)
		VALUES ($1, $2, $3)
		ON CONFLICT (resource_id, field_id) DO UPDATE SET info = EXCLUDED.info
	`, resourceID, fieldID, raw)
	if err != nil {
		return fmt.Errorf("saving field info for %s.%s: %w", resourceID, fieldID, err)
	}
	return nil
}

// FieldInfo returns the curated metadata for a resource keyed by field id.
func (e *Engine) FieldInfo(ctx context.Context, resourceID string) (map[string]*detect.FieldInfo, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT field_id, info FROM _tabload_field_info WHERE resource_id = $1
	`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("loading field info for %s: %w", resourceID, err)
	}
	defer rows.Close()

	infos := map[string]*detect.FieldInfo{}
	for rows.Next() {
		var fieldID string
		var raw []byte
		if err := rows.Scan(&fieldID, &raw); err != nil {
			return nil, fmt.Errorf("scanning field info: %w", err)
		}
		var info detect.FieldInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, fmt.Errorf("decoding field info for %s: %w", fieldID, err)
		}
		infos[fieldID] = &info
	}
	return infos, rows.Err()
}
