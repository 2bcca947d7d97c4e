package introspect

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/schemabuild/errs"
	"github.com/ridoystarlord/schemabuild/schema"
)

// fakeRows replays fixed values through pgx.Rows.
type fakeRows struct {
	data [][]any
	pos  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Values() ([]any, error) { return r.data[r.pos-1], nil }

func (r *fakeRows) Scan(dest ...any) error {
	return assign(r.data[r.pos-1], dest)
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

func assign(values, dest []any) error {
	if len(values) != len(dest) {
		return errors.New("column count mismatch")
	}
	for i, v := range values {
		target := reflect.ValueOf(dest[i]).Elem()
		if v == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(v))
	}
	return nil
}

type fakeQuerier struct {
	schemas  map[string]bool
	tables   [][]any
	columns  [][]any
	queryErr error
	lastArgs []any
}

func (q *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.lastArgs = args
	if q.queryErr != nil {
		return nil, q.queryErr
	}
	if strings.Contains(sql, "information_schema.columns") {
		return &fakeRows{data: q.columns}, nil
	}
	return &fakeRows{data: q.tables}, nil
}

func (q *fakeQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	name, _ := args[0].(string)
	return fakeRow{values: []any{q.schemas[name]}}
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestRelations_GroupsColumnsByTable(t *testing.T) {
	q := &fakeQuerier{
		tables: [][]any{
			{"t", "BASE TABLE"},
			{"v_t", "VIEW"},
		},
		columns: [][]any{
			{"t", "id", 1, "integer", "int4", false, strPtr("nextval('t_id_seq'::regclass)"), nil, true},
			{"t", "name", 2, "character varying", "varchar", true, nil, intPtr(255), false},
			{"v_t", "id", 1, "integer", "int4", true, nil, nil, false},
		},
	}

	tables, err := NewPgCatalog(q).Relations(context.Background(), "public")
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, []any{"public"}, q.lastArgs)

	tbl := tables[0]
	assert.Equal(t, "t", tbl.Name)
	assert.Equal(t, "public", tbl.Schema)
	assert.Equal(t, schema.KindTable, tbl.Kind)
	require.Len(t, tbl.Columns, 2)
	assert.Equal(t, "id", tbl.Columns[0].Name)
	assert.True(t, tbl.Columns[0].PrimaryKey)
	assert.False(t, tbl.Columns[0].Nullable)
	require.NotNil(t, tbl.Columns[0].Default)
	assert.Equal(t, "varchar", tbl.Columns[1].TypeName())
	assert.Equal(t, 255, *tbl.Columns[1].MaxLength)

	assert.Equal(t, schema.KindView, tables[1].Kind)
	assert.Len(t, tables[1].Columns, 1)
}

func TestRelations_EmptySchema(t *testing.T) {
	tables, err := NewPgCatalog(&fakeQuerier{}).Relations(context.Background(), "public")
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestRelations_QueryErrorIsIntrospectionFailure(t *testing.T) {
	q := &fakeQuerier{queryErr: errors.New("connection reset")}

	_, err := NewPgCatalog(q).Relations(context.Background(), "public")
	require.Error(t, err)
	assert.True(t, errs.IsIntrospectionFailure(err))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRead_SchemaNotFound(t *testing.T) {
	q := &fakeQuerier{schemas: map[string]bool{"public": true}}

	_, err := Read(context.Background(), NewPgCatalog(q), "missing")
	require.Error(t, err)
	assert.True(t, errs.IsIntrospectionFailure(err))
	assert.ErrorIs(t, err, errs.ErrSchemaNotFound)
}

func TestRead_ExistingSchema(t *testing.T) {
	q := &fakeQuerier{
		schemas: map[string]bool{"public": true},
		tables:  [][]any{{"t", "BASE TABLE"}},
		columns: [][]any{{"t", "id", 1, "integer", "int4", true, nil, nil, false}},
	}

	tables, err := Read(context.Background(), NewPgCatalog(q), "public")
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "public.t", tables[0].QualifiedName())
}
