package generator

import (
	"strings"
	"unicode"
)

var commonInitialisms = map[string]bool{
	"API":  true,
	"HTTP": true,
	"ID":   true,
	"IP":   true,
	"JSON": true,
	"SQL":  true,
	"URL":  true,
	"UUID": true,
}

// toPascalCase turns a database identifier into an exported Go identifier.
// Non-alphanumeric characters separate words; a leading digit gets an X prefix.
func toPascalCase(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var b strings.Builder
	for _, w := range words {
		if upper := strings.ToUpper(w); commonInitialisms[upper] {
			b.WriteString(upper)
			continue
		}
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}

	out := b.String()
	if out == "" {
		return ""
	}
	if first := []rune(out)[0]; unicode.IsDigit(first) {
		out = "X" + out
	}
	return out
}

// fileName returns the generated file name for a relation.
func fileName(table string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(table) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	name := b.String()
	// The go tool ignores _ and . prefixed files.
	if name == "" || name == "schema" || strings.HasPrefix(name, "_") {
		name = "table_" + name
	}
	// A trailing _test, _<GOOS> or _<GOARCH> would take the file out of
	// the default build.
	if i := strings.LastIndexByte(name, '_'); i >= 0 && buildSuffixes[name[i+1:]] {
		name += "_table"
	}
	return name + ".go"
}

// buildSuffixes are file name suffixes the go tool treats as constraints.
var buildSuffixes = map[string]bool{
	"test": true,

	"aix": true, "android": true, "darwin": true, "dragonfly": true, "freebsd": true,
	"hurd": true, "illumos": true, "ios": true, "js": true, "linux": true, "nacl": true,
	"netbsd": true, "openbsd": true, "plan9": true, "solaris": true, "wasip1": true,
	"windows": true, "zos": true,

	"386": true, "amd64": true, "amd64p32": true, "arm": true, "armbe": true, "arm64": true,
	"arm64be": true, "loong64": true, "mips": true, "mipsle": true, "mips64": true,
	"mips64le": true, "mips64p32": true, "mips64p32le": true, "ppc": true, "ppc64": true,
	"ppc64le": true, "riscv": true, "riscv64": true, "s390": true, "s390x": true,
	"sparc": true, "sparc64": true, "wasm": true,
}
