package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// SchemaProfile records which optional memory_entries columns exist in the
// observed database. Legacy deployments carried a "type" column, newer ones
// "memory_type", some both. The profile is probed once at startup and drives
// the schema-aware query builders; missing columns degrade reads to a
// best-effort query instead of failing.
type SchemaProfile struct {
	HasType       bool
	HasMemoryType bool
	HasCategory   bool
}

// ProbeSchema inspects the memory_entries table and reports which optional
// columns are present.
func ProbeSchema(ctx context.Context, db *sqlx.DB) (SchemaProfile, error) {
	var columns []string
	err := db.SelectContext(ctx, &columns,
		`SELECT name FROM pragma_table_info('memory_entries')`)
	if err != nil {
		return SchemaProfile{}, fmt.Errorf("failed to probe memory_entries columns: %w", err)
	}

	var profile SchemaProfile
	for _, col := range columns {
		switch strings.ToLower(col) {
		case "type":
			profile.HasType = true
		case "memory_type":
			profile.HasMemoryType = true
		case "category":
			profile.HasCategory = true
		}
	}
	return profile, nil
}

// memoryTypeExpr returns the SELECT expression that yields a non-null memory
// type regardless of which legacy columns exist.
func (p SchemaProfile) memoryTypeExpr() string {
	switch {
	case p.HasMemoryType && p.HasType:
		return "COALESCE(memory_type, type, 'unknown')"
	case p.HasMemoryType:
		return "COALESCE(memory_type, 'unknown')"
	case p.HasType:
		return "COALESCE(type, 'unknown')"
	default:
		return "'unknown'"
	}
}

// categoryExpr returns the SELECT expression for the category column.
func (p SchemaProfile) categoryExpr() string {
	if p.HasCategory {
		return "COALESCE(category, 'general')"
	}
	return "'general'"
}

// typeColumns lists the type-bearing columns to populate on insert. Writes
// keep every present column in sync.
func (p SchemaProfile) typeColumns() []string {
	var cols []string
	if p.HasType {
		cols = append(cols, "type")
	}
	if p.HasMemoryType {
		cols = append(cols, "memory_type")
	}
	return cols
}
