package runner

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/schemabuild/errs"
	"github.com/ridoystarlord/schemabuild/logger"
)

func writeScripts(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
	}
}

func TestParseScriptName(t *testing.T) {
	tests := []struct {
		file        string
		version     string
		description string
		ok          bool
	}{
		{"V1__create_t.sql", "1", "create t", true},
		{"V2_1__add_index.sql", "2.1", "add index", true},
		{"V2.01__tweak.sql", "2.1", "tweak", true},
		{"V3.0__same_as_three.sql", "3", "same as three", true},
		{"V010__padded.sql", "10", "padded", true},
		{"U1__undo.sql", "", "", false},
		{"V1_create.sql", "", "", false},
		{"V1__create.txt", "", "", false},
		{"README.md", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			version, description, ok := ParseScriptName(tt.file)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.version, version)
			assert.Equal(t, tt.description, description)
		})
	}
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, -1, CompareVersions("1", "2"))
	assert.Equal(t, -1, CompareVersions("2", "10"))
	assert.Equal(t, 1, CompareVersions("1.10", "1.9"))
	assert.Equal(t, 0, CompareVersions("1", "1"))
	assert.Equal(t, -1, CompareVersions("1", "1.1"))
}

func TestLoadScripts_SortedNumerically(t *testing.T) {
	dir := t.TempDir()
	writeScripts(t, dir, map[string]string{
		"V10__ten.sql":   "SELECT 10;",
		"V2__two.sql":    "SELECT 2;",
		"V1__one.sql":    "SELECT 1;",
		"V1_5__half.sql": "SELECT 1.5;",
		"notes.txt":      "ignored",
	})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "V3__dir.sql"), 0755))

	scripts, err := LoadScripts(dir, nil)
	require.NoError(t, err)

	var versions []string
	for _, s := range scripts {
		versions = append(versions, s.Version)
	}
	assert.Equal(t, []string{"1", "1.5", "2", "10"}, versions)
	assert.Equal(t, "SELECT 1;", scripts[0].SQL)
	assert.Equal(t, "V1__one.sql", scripts[0].Name())
	assert.Len(t, scripts[0].Checksum, 64)
}

func TestLoadScripts_DuplicateVersion(t *testing.T) {
	dir := t.TempDir()
	writeScripts(t, dir, map[string]string{
		"V1__one.sql":   "SELECT 1;",
		"V1_0__dup.sql": "SELECT 1;",
	})

	_, err := LoadScripts(dir, nil)
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
	assert.ErrorIs(t, err, errs.ErrDuplicateVersion)
}

func TestLoadScripts_MissingDir(t *testing.T) {
	_, err := LoadScripts(filepath.Join(t.TempDir(), "absent"), nil)
	assert.Error(t, err)
}

func TestScanScripts_ReportsMisnamedFiles(t *testing.T) {
	dir := t.TempDir()
	writeScripts(t, dir, map[string]string{
		"V1__one.sql":                    "SELECT 1;",
		"V1_init.sql":                    "SELECT 0;",
		"v2__lower.sql":                  "SELECT 2;",
		"V3__shout.SQL":                  "SELECT 3;",
		"V99999999999999999999__big.sql": "SELECT 4;",
		"seed.sql":                       "SELECT 5;",
		"notes.txt":                      "ignored",
	})

	scripts, skipped, err := ScanScripts(dir)
	require.NoError(t, err)
	require.Len(t, scripts, 1)

	reasons := map[string]string{}
	for _, s := range skipped {
		reasons[s.Name] = s.Reason
	}
	assert.Len(t, reasons, 5, "notes.txt is not a candidate")
	assert.Contains(t, reasons["V1_init.sql"], "two underscores")
	assert.Contains(t, reasons["v2__lower.sql"], "upper-case V")
	assert.Contains(t, reasons["V3__shout.SQL"], "lower-case .sql")
	assert.Contains(t, reasons["V99999999999999999999__big.sql"], "out of range")
	assert.Contains(t, reasons["seed.sql"], "V<version>__<description>.sql")
}

func TestLoadScripts_WarnsAboutMisnamedFiles(t *testing.T) {
	dir := t.TempDir()
	writeScripts(t, dir, map[string]string{
		"V1__one.sql": "SELECT 1;",
		"V2_two.sql":  "SELECT 2;",
	})
	buf := &bytes.Buffer{}
	log := logger.New(&logger.Config{Level: "warn", Format: "json", Output: buf})

	scripts, err := LoadScripts(dir, log)
	require.NoError(t, err)
	assert.Len(t, scripts, 1)
	assert.Contains(t, buf.String(), `"file":"V2_two.sql"`)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestChecksum_DependsOnContent(t *testing.T) {
	assert.Equal(t, calculateChecksum("a"), calculateChecksum("a"))
	assert.NotEqual(t, calculateChecksum("a"), calculateChecksum("b"))
}
