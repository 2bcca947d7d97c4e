package introspect

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ridoystarlord/schemabuild/errs"
	"github.com/ridoystarlord/schemabuild/schema"
)

// Catalog reads relation metadata for a single schema.
type Catalog interface {
	// SchemaExists reports whether the schema is present.
	SchemaExists(ctx context.Context, schemaName string) (bool, error)

	// Relations returns every table and view in the schema, ordered by name,
	// with columns in ordinal order. Other schemas are never visible.
	Relations(ctx context.Context, schemaName string) ([]schema.Table, error)
}

// Querier is the subset of pgxpool.Pool and pgx.Conn the catalog needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgCatalog implements Catalog for PostgreSQL using information_schema.
type PgCatalog struct {
	db Querier
}

// NewPgCatalog creates a catalog reader over db.
func NewPgCatalog(db Querier) *PgCatalog {
	return &PgCatalog{db: db}
}

func (p *PgCatalog) SchemaExists(ctx context.Context, schemaName string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_namespace WHERE nspname = $1)`

	var exists bool
	if err := p.db.QueryRow(ctx, q, schemaName).Scan(&exists); err != nil {
		return false, errs.IntrospectionFailure(schemaName, fmt.Errorf("schema exists check: %w", err))
	}
	return exists, nil
}

func (p *PgCatalog) Relations(ctx context.Context, schemaName string) ([]schema.Table, error) {
	tables, err := p.listRelations(ctx, schemaName)
	if err != nil {
		return nil, errs.IntrospectionFailure(schemaName, err)
	}
	if len(tables) == 0 {
		return nil, nil
	}

	columns, err := p.listColumns(ctx, schemaName)
	if err != nil {
		return nil, errs.IntrospectionFailure(schemaName, err)
	}

	for i := range tables {
		tables[i].Columns = columns[tables[i].Name]
	}
	return tables, nil
}

func (p *PgCatalog) listRelations(ctx context.Context, schemaName string) ([]schema.Table, error) {
	const q = `
		SELECT table_name::text, table_type::text
		FROM information_schema.tables
		WHERE table_schema = $1
		  AND table_type IN ('BASE TABLE', 'VIEW')
		ORDER BY table_name`

	rows, err := p.db.Query(ctx, q, schemaName)
	if err != nil {
		return nil, fmt.Errorf("querying tables: %w", err)
	}
	defer rows.Close()

	var tables []schema.Table
	for rows.Next() {
		var name, tableType string
		if err := rows.Scan(&name, &tableType); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		kind := schema.KindTable
		if tableType == "VIEW" {
			kind = schema.KindView
		}
		tables = append(tables, schema.Table{Schema: schemaName, Name: name, Kind: kind})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating table rows: %w", err)
	}
	return tables, nil
}

// listColumns reads every column of the schema in one query, grouped by table.
func (p *PgCatalog) listColumns(ctx context.Context, schemaName string) (map[string][]schema.Column, error) {
	const q = `
		SELECT
			c.table_name::text,
			c.column_name::text,
			c.ordinal_position::int,
			c.data_type::text,
			c.udt_name::text,
			c.is_nullable = 'YES'             AS is_nullable,
			c.column_default::text,
			c.character_maximum_length::int,
			COALESCE(pk.is_pk, false)         AS is_primary_key
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.table_name, kcu.column_name, true AS is_pk
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON tc.constraint_name = kcu.constraint_name
				AND tc.table_schema = kcu.table_schema
				AND tc.table_name = kcu.table_name
			WHERE tc.constraint_type = 'PRIMARY KEY'
			  AND tc.table_schema = $1
		) pk ON pk.table_name = c.table_name AND pk.column_name = c.column_name
		WHERE c.table_schema = $1
		ORDER BY c.table_name, c.ordinal_position`

	rows, err := p.db.Query(ctx, q, schemaName)
	if err != nil {
		return nil, fmt.Errorf("querying columns: %w", err)
	}
	defer rows.Close()

	columns := map[string][]schema.Column{}
	for rows.Next() {
		var table string
		var col schema.Column
		if err := rows.Scan(
			&table,
			&col.Name,
			&col.Ordinal,
			&col.DataType,
			&col.UDTName,
			&col.Nullable,
			&col.Default,
			&col.MaxLength,
			&col.PrimaryKey,
		); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		columns[table] = append(columns[table], col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating column rows: %w", err)
	}
	return columns, nil
}

// Read checks that schemaName exists and returns its relations.
func Read(ctx context.Context, c Catalog, schemaName string) ([]schema.Table, error) {
	exists, err := c.SchemaExists(ctx, schemaName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errs.IntrospectionFailure(schemaName, errs.ErrSchemaNotFound)
	}
	return c.Relations(ctx, schemaName)
}
