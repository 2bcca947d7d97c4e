package generator

import (
	"bytes"
	"context"
	"fmt"
	"go/format"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/ridoystarlord/schemabuild/config"
	"github.com/ridoystarlord/schemabuild/errs"
	"github.com/ridoystarlord/schemabuild/introspect"
	"github.com/ridoystarlord/schemabuild/logger"
	"github.com/ridoystarlord/schemabuild/schema"
)

// Artifacts describes one generated artifact set.
type Artifacts struct {
	Dir   string
	Files []string // base names, sorted
}

// Generator turns the relations of one schema into Go source files.
type Generator struct {
	pkg      string
	mapper   typeMapper
	excludes []*regexp.Regexp
	log      *logger.Logger
}

// New builds a Generator from the generate section of the config. Relations
// named ledgerTable are never generated.
func New(cfg config.Generate, ledgerTable string, log *logger.Logger) (*Generator, error) {
	if log == nil {
		log = logger.Nop()
	}

	rules, err := compileRules(cfg.Rules)
	if err != nil {
		return nil, err
	}

	var excludes []*regexp.Regexp
	if ledgerTable != "" {
		excludes = append(excludes, regexp.MustCompile(`^`+regexp.QuoteMeta(ledgerTable)+`$`))
	}
	for _, expr := range cfg.Excludes {
		re, err := compilePattern(expr)
		if err != nil {
			return nil, errs.Invalid(fmt.Sprintf("exclude %q: %v", expr, err))
		}
		excludes = append(excludes, re)
	}

	unknown := cfg.UnknownTypes
	if unknown == "" {
		unknown = config.UnknownTypesFail
	}
	nullable := cfg.Nullable
	if nullable == "" {
		nullable = config.NullableValue
	}

	return &Generator{
		pkg:      cfg.Package,
		mapper:   typeMapper{rules: rules, unknownTypes: unknown, nullable: nullable},
		excludes: excludes,
		log:      log,
	}, nil
}

// Generate reads schemaName from catalog and replaces outputDir with the
// generated files. Running it twice against the same schema yields
// byte-identical files.
func (g *Generator) Generate(ctx context.Context, catalog introspect.Catalog, schemaName, outputDir string) (*Artifacts, error) {
	tables, err := introspect.Read(ctx, catalog, schemaName)
	if err != nil {
		return nil, err
	}

	files, err := g.Render(schemaName, tables)
	if err != nil {
		return nil, err
	}

	if err := replaceDir(outputDir, files); err != nil {
		return nil, errs.IntrospectionFailure(schemaName, fmt.Errorf("writing %s: %w", outputDir, err))
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	g.log.With().Str("schema", schemaName).Int("files", len(names)).Str("dir", outputDir).Logger().Info("generated code")
	return &Artifacts{Dir: outputDir, Files: names}, nil
}

// Render produces the formatted source of every artifact keyed by file name.
func (g *Generator) Render(schemaName string, tables []schema.Table) (map[string][]byte, error) {
	fail := func(err error) (map[string][]byte, error) {
		return nil, errs.IntrospectionFailure(schemaName, err)
	}

	tables = g.included(tables)

	idents := identifierSet{}
	idents.reserve("SchemaName", "Tables")

	files := map[string][]byte{}
	var relations []relationData
	for _, t := range tables {
		rel, err := g.relation(schemaName, t, idents)
		if err != nil {
			return nil, err
		}

		name := fileName(t.Name)
		if _, dup := files[name]; dup {
			return fail(fmt.Errorf("relations %q map to the same file %s", t.Name, name))
		}

		src, err := render(relationTemplate, rel)
		if err != nil {
			return fail(fmt.Errorf("rendering %s: %w", t.QualifiedName(), err))
		}
		files[name] = src
		relations = append(relations, rel)
	}

	src, err := render(schemaTemplate, schemaData{Package: g.pkg, Schema: schemaName, Relations: relations})
	if err != nil {
		return fail(fmt.Errorf("rendering schema.go: %w", err))
	}
	files["schema.go"] = src
	return files, nil
}

func (g *Generator) included(tables []schema.Table) []schema.Table {
	var out []schema.Table
	for _, t := range tables {
		if g.excluded(t.Name) {
			g.log.Debugf("excluding %s", t.QualifiedName())
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (g *Generator) excluded(table string) bool {
	for _, re := range g.excludes {
		if re.MatchString(table) {
			return true
		}
	}
	return false
}

func (g *Generator) relation(schemaName string, t schema.Table, idents identifierSet) (relationData, error) {
	fail := func(err error) (relationData, error) {
		return relationData{}, errs.IntrospectionFailure(schemaName, err)
	}

	if err := checkName(t.Name); err != nil {
		return fail(fmt.Errorf("relation %q: %w", t.Name, err))
	}

	typeName := toPascalCase(t.Name)
	if typeName == "" {
		return fail(fmt.Errorf("relation %q has no usable Go identifier", t.Name))
	}

	rel := relationData{
		Package:    g.pkg,
		Schema:     schemaName,
		Table:      t.Name,
		Kind:       string(t.Kind),
		TypeName:   typeName,
		TableConst: typeName + "Table",
		ColsVar:    typeName + "Columns",
	}
	if rel.Kind == "" {
		rel.Kind = string(schema.KindTable)
	}
	for _, id := range []string{rel.TypeName, rel.TableConst, rel.ColsVar} {
		if err := idents.claim(id, t.Name); err != nil {
			return fail(err)
		}
	}

	columns := append([]schema.Column(nil), t.Columns...)
	sort.SliceStable(columns, func(i, j int) bool { return columns[i].Ordinal < columns[j].Ordinal })

	// Field names share a namespace with the generated methods.
	members := identifierSet{}
	members.reserve("ScanTargets")

	imports := map[string]bool{}
	for _, col := range columns {
		if err := checkName(col.Name); err != nil {
			return fail(fmt.Errorf("column %s.%s: %w", t.Name, col.Name, err))
		}

		field := toPascalCase(col.Name)
		if field == "" {
			return fail(fmt.Errorf("column %s.%s has no usable Go identifier", t.Name, col.Name))
		}
		owner := t.Name + "." + col.Name
		if err := members.claim(field, owner); err != nil {
			return fail(err)
		}
		if err := members.claim("With"+field, owner); err != nil {
			return fail(err)
		}

		typ, err := g.mapper.resolve(schemaName, t.Name, col)
		if err != nil {
			return relationData{}, err
		}
		if typ.Import != "" {
			imports[typ.Import] = true
		}

		f := fieldData{Name: field, Column: col.Name, Type: typ.Name, Const: typeName + field + "Column", Note: columnNote(col)}
		if err := idents.claim(f.Const, owner); err != nil {
			return fail(err)
		}
		rel.Fields = append(rel.Fields, f)
	}

	consts := make(map[string]string, len(rel.Fields))
	for _, f := range rel.Fields {
		consts[f.Column] = f.Const
	}
	t.Columns = columns
	if pk := t.PrimaryKey(); len(pk) > 0 {
		rel.PKVar = typeName + "PrimaryKey"
		if err := idents.claim(rel.PKVar, t.Name); err != nil {
			return fail(err)
		}
		for _, c := range pk {
			rel.PrimaryKey = append(rel.PrimaryKey, consts[c.Name])
		}
	}

	for imp := range imports {
		rel.Imports = append(rel.Imports, imp)
	}
	sort.Strings(rel.Imports)
	return rel, nil
}

// columnNote describes the column's length limit and default for the
// field's trailing comment.
func columnNote(col schema.Column) string {
	var parts []string
	if col.MaxLength != nil {
		parts = append(parts, fmt.Sprintf("max length %d", *col.MaxLength))
	}
	if col.Default != nil {
		parts = append(parts, "default "+strings.Join(strings.Fields(*col.Default), " "))
	}
	return strings.Join(parts, ", ")
}

// checkName rejects names that cannot be embedded in a struct tag or comment.
func checkName(name string) error {
	if strings.ContainsAny(name, "\"`\\\n\r") {
		return fmt.Errorf("unsupported character in name %q", name)
	}
	return nil
}

func render(tmpl *template.Template, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("gofmt: %w", err)
	}
	return src, nil
}

// identifierSet tracks declared Go identifiers and who declared them.
type identifierSet map[string]string

func (s identifierSet) reserve(names ...string) {
	for _, n := range names {
		s[n] = "generated code"
	}
}

func (s identifierSet) claim(name, owner string) error {
	if prev, ok := s[name]; ok {
		return fmt.Errorf("identifier %s for %s collides with %s", name, owner, prev)
	}
	s[name] = owner
	return nil
}
