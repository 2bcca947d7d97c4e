package generator

import (
	"go/build"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPascalCase(t *testing.T) {
	tests := map[string]string{
		"t":             "T",
		"id":            "ID",
		"user_id":       "UserID",
		"api_url":       "APIURL",
		"created_at":    "CreatedAt",
		"json_payload":  "JSONPayload",
		"2fa_secret":    "X2faSecret",
		"order-items":   "OrderItems",
		"alreadyPascal": "AlreadyPascal",
		"__":            "",
	}
	for in, want := range tests {
		assert.Equal(t, want, toPascalCase(in), in)
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "t.go", fileName("t"))
	assert.Equal(t, "order_items.go", fileName("Order Items"))
	assert.Equal(t, "table_schema.go", fileName("schema"))
	assert.Equal(t, "table__hidden.go", fileName("_hidden"))
	assert.Equal(t, "testimonials.go", fileName("testimonials"))
	assert.Equal(t, "windows.go", fileName("windows"))
}

func TestFileName_StaysInDefaultBuild(t *testing.T) {
	tests := map[string]string{
		"audit_test":        "audit_test_table.go",
		"results_test":      "results_test_table.go",
		"event_windows":     "event_windows_table.go",
		"build_linux":       "build_linux_table.go",
		"stats_amd64":       "stats_amd64_table.go",
		"cache_linux_arm64": "cache_linux_arm64_table.go",
		"Page_JS":           "page_js_table.go",
	}
	ctx := build.Default
	ctx.GOOS, ctx.GOARCH = "linux", "amd64"
	dir := t.TempDir()

	for table, want := range tests {
		name := fileName(table)
		assert.Equal(t, want, name, table)

		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("package db\n"), 0644))
		match, err := ctx.MatchFile(dir, name)
		require.NoError(t, err)
		assert.True(t, match, "%s must build everywhere", name)
		assert.False(t, strings.HasSuffix(name, "_test.go"), name)
	}
}

func TestLookupBuiltin(t *testing.T) {
	typ, ok := lookupBuiltin("_int4")
	assert.True(t, ok)
	assert.Equal(t, "[]int", typ.Name)

	typ, ok = lookupBuiltin("TIMESTAMPTZ")
	assert.True(t, ok)
	assert.Equal(t, "time", typ.Import)

	_, ok = lookupBuiltin("tsvector")
	assert.False(t, ok)
}
