package generator

import (
	"strconv"
	"text/template"
)

var funcs = template.FuncMap{"quote": strconv.Quote}

type fieldData struct {
	Name   string
	Column string
	Type   string
	Const  string
	Note   string
}

type relationData struct {
	Package    string
	Schema     string
	Table      string
	Kind       string
	TypeName   string
	TableConst string
	ColsVar    string
	PKVar      string
	PrimaryKey []string
	Imports    []string
	Fields     []fieldData
}

type schemaData struct {
	Package   string
	Schema    string
	Relations []relationData
}

var relationTemplate = template.Must(template.New("relation").Funcs(funcs).Parse(`// Code generated by schemabuild. DO NOT EDIT.

package {{.Package}}
{{if .Imports}}
import (
{{- range .Imports}}
	{{quote .}}
{{- end}}
)
{{end}}
// {{.TypeName}} is a row of the {{.Schema}}.{{.Table}} {{.Kind}}.
type {{.TypeName}} struct {
{{- range .Fields}}
	{{.Name}} {{.Type}} ` + "`db:\"{{.Column}}\" json:\"{{.Column}}\"`" + `{{if .Note}} // {{.Note}}{{end}}
{{- end}}
}

// {{.TableConst}} is the unqualified name of the {{.Kind}}.
const {{.TableConst}} = {{quote .Table}}
{{if .Fields}}
const (
{{- range .Fields}}
	{{.Const}} = {{quote .Column}}
{{- end}}
)
{{end}}
// {{.ColsVar}} lists the columns of {{.Schema}}.{{.Table}} in ordinal order.
var {{.ColsVar}} = []string{
{{- range .Fields}}
	{{.Const}},
{{- end}}
}
{{if .PKVar}}
// {{.PKVar}} lists the primary key columns of {{.Schema}}.{{.Table}}.
var {{.PKVar}} = []string{
{{- range .PrimaryKey}}
	{{.}},
{{- end}}
}
{{end}}{{range .Fields}}
// With{{.Name}} returns a copy of r with {{.Name}} set to v.
func (r {{$.TypeName}}) With{{.Name}}(v {{.Type}}) {{$.TypeName}} {
	r.{{.Name}} = v
	return r
}
{{end}}
// ScanTargets returns pointers to the fields of r in {{.ColsVar}} order.
func (r *{{.TypeName}}) ScanTargets() []any {
	return []any{
{{- range .Fields}}
		&r.{{.Name}},
{{- end}}
	}
}
`))

var schemaTemplate = template.Must(template.New("schema").Funcs(funcs).Parse(`// Code generated by schemabuild. DO NOT EDIT.

package {{.Package}}

// SchemaName is the database schema these types were generated from.
const SchemaName = {{quote .Schema}}

// Tables lists every generated relation.
var Tables = []string{
{{- range .Relations}}
	{{.TableConst}},
{{- end}}
}
`))
