package generator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ridoystarlord/schemabuild/config"
	"github.com/ridoystarlord/schemabuild/errs"
	"github.com/ridoystarlord/schemabuild/schema"
)

// goType is the Go representation of a column type.
type goType struct {
	Name    string
	Import  string
	Nilable bool // slices and maps already carry NULL as nil
}

var rawBytes = goType{Name: "[]byte", Nilable: true}

// builtinTypes maps PostgreSQL type names (udt names and data types) to Go.
var builtinTypes = map[string]goType{
	"int2":     {Name: "int16"},
	"smallint": {Name: "int16"},
	"int4":     {Name: "int"},
	"int":      {Name: "int"},
	"integer":  {Name: "int"},
	"serial":   {Name: "int"},
	"int8":     {Name: "int64"},
	"bigint":   {Name: "int64"},

	"float4":           {Name: "float32"},
	"real":             {Name: "float32"},
	"float8":           {Name: "float64"},
	"double precision": {Name: "float64"},
	"numeric":          {Name: "float64"},
	"decimal":          {Name: "float64"},

	"bool":    {Name: "bool"},
	"boolean": {Name: "bool"},

	"text":              {Name: "string"},
	"varchar":           {Name: "string"},
	"character varying": {Name: "string"},
	"bpchar":            {Name: "string"},
	"char":              {Name: "string"},
	"character":         {Name: "string"},
	"name":              {Name: "string"},
	"citext":            {Name: "string"},
	"uuid":              {Name: "string"},

	"bytea": rawBytes,

	"json":  {Name: "json.RawMessage", Import: "encoding/json", Nilable: true},
	"jsonb": {Name: "json.RawMessage", Import: "encoding/json", Nilable: true},

	"date":                        {Name: "time.Time", Import: "time"},
	"time":                        {Name: "time.Time", Import: "time"},
	"timetz":                      {Name: "time.Time", Import: "time"},
	"timestamp":                   {Name: "time.Time", Import: "time"},
	"timestamptz":                 {Name: "time.Time", Import: "time"},
	"timestamp without time zone": {Name: "time.Time", Import: "time"},
	"timestamp with time zone":    {Name: "time.Time", Import: "time"},
}

// lookupBuiltin resolves a type name, including arrays written as the
// catalog's "_elem" udt names.
func lookupBuiltin(typeName string) (goType, bool) {
	name := strings.ToLower(strings.TrimSpace(typeName))
	if t, ok := builtinTypes[name]; ok {
		return t, true
	}
	if elem, ok := strings.CutPrefix(name, "_"); ok {
		if t, ok := builtinTypes[elem]; ok {
			return goType{Name: "[]" + t.Name, Import: t.Import, Nilable: true}, true
		}
	}
	return goType{}, false
}

// rule is a compiled remapping rule.
type rule struct {
	name    string
	columns *regexp.Regexp
	types   *regexp.Regexp
	target  goType
}

func (r rule) matches(table string, col schema.Column) bool {
	if !r.columns.MatchString(col.Name) && !r.columns.MatchString(table+"."+col.Name) {
		return false
	}
	return r.types.MatchString(col.TypeName()) || r.types.MatchString(col.DataType)
}

// compilePattern anchors expr and makes it case-insensitive. An empty
// expression matches everything.
func compilePattern(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		expr = ".*"
	}
	return regexp.Compile(`^(?i:` + expr + `)$`)
}

func compileRules(in []config.TypeRule) ([]rule, error) {
	out := make([]rule, 0, len(in))
	for i, r := range in {
		label := r.Name
		if label == "" {
			label = fmt.Sprintf("rules[%d]", i)
		}

		columns, err := compilePattern(r.IncludeExpression)
		if err != nil {
			return nil, errs.Invalid(fmt.Sprintf("rule %s: include_expression: %v", label, err))
		}
		types, err := compilePattern(r.IncludeTypes)
		if err != nil {
			return nil, errs.Invalid(fmt.Sprintf("rule %s: include_types: %v", label, err))
		}

		var target goType
		switch {
		case r.GoType != "":
			target = goType{
				Name:    r.GoType,
				Import:  r.Import,
				Nilable: strings.HasPrefix(r.GoType, "[]") || strings.HasPrefix(r.GoType, "*") || strings.HasPrefix(r.GoType, "map["),
			}
		case r.SQLType != "":
			t, ok := lookupBuiltin(r.SQLType)
			if !ok {
				return nil, errs.Invalid(fmt.Sprintf("rule %s: sql_type %q has no Go mapping", label, r.SQLType))
			}
			target = t
		default:
			return nil, errs.Invalid(fmt.Sprintf("rule %s: one of sql_type or go_type is required", label))
		}

		out = append(out, rule{name: label, columns: columns, types: types, target: target})
	}
	return out, nil
}

// typeMapper picks the Go type of each column: first matching rule, then the
// built-in mapping, then the unknown-type policy.
type typeMapper struct {
	rules        []rule
	unknownTypes string
	nullable     string
}

func (m typeMapper) resolve(schemaName string, table string, col schema.Column) (goType, error) {
	t, err := m.base(schemaName, table, col)
	if err != nil {
		return goType{}, err
	}
	if col.Nullable && m.nullable == config.NullablePointer && !t.Nilable {
		t.Name = "*" + t.Name
		t.Nilable = true
	}
	return t, nil
}

func (m typeMapper) base(schemaName string, table string, col schema.Column) (goType, error) {
	for _, r := range m.rules {
		if r.matches(table, col) {
			return r.target, nil
		}
	}
	if t, ok := lookupBuiltin(col.TypeName()); ok {
		return t, nil
	}
	if t, ok := lookupBuiltin(col.DataType); ok {
		return t, nil
	}
	if m.unknownTypes == config.UnknownTypesRaw {
		return rawBytes, nil
	}
	return goType{}, errs.IntrospectionFailure(schemaName,
		fmt.Errorf("%w: column %s.%s has type %q", errs.ErrUnmappedType, table, col.Name, col.TypeName()))
}
