package runner

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ridoystarlord/schemabuild/errs"
	"github.com/ridoystarlord/schemabuild/logger"
)

// Script is one versioned migration file.
type Script struct {
	Version     string // canonical dotted form, e.g. "1.2"
	Description string
	Path        string
	SQL         string
	Checksum    string
}

// Name returns the script's file name.
func (s Script) Name() string {
	return filepath.Base(s.Path)
}

// Script files are named V<version>__<description>.sql, where version is one
// or more numbers separated by '.' or '_'.
var scriptName = regexp.MustCompile(`^V(\d+(?:[._]\d+)*)__(.+)\.sql$`)

// Skipped is a .sql file in the migrations directory whose name is not a
// valid script name. It is never applied.
type Skipped struct {
	Name   string
	Reason string
}

// LoadScripts reads every migration script in dir, sorted by ascending
// version. Each .sql file that does not follow the naming pattern is logged
// as a warning and skipped.
func LoadScripts(dir string, log *logger.Logger) ([]Script, error) {
	scripts, skipped, err := ScanScripts(dir)
	if err != nil {
		return nil, err
	}
	if log != nil {
		for _, s := range skipped {
			log.With().Str("file", s.Name).Logger().Warnf("Ignoring %s: %s", s.Name, s.Reason)
		}
	}
	return scripts, nil
}

// ScanScripts reads the migration scripts in dir like LoadScripts and also
// returns the .sql files it had to skip. Other files are ignored.
func ScanScripts(dir string) ([]Script, []Skipped, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var scripts []Script
	var skipped []Skipped
	seen := map[string]string{}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".sql") {
			continue
		}
		version, description, err := parseScriptName(e.Name())
		if err != nil {
			skipped = append(skipped, Skipped{Name: e.Name(), Reason: err.Error()})
			continue
		}
		if other, dup := seen[version]; dup {
			return nil, nil, errs.Wrap(errs.KindInvalidInput,
				fmt.Sprintf("version %s used by %s and %s", version, other, e.Name()),
				errs.ErrDuplicateVersion)
		}
		seen[version] = e.Name()

		path := filepath.Join(dir, e.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("read file %s: %w", e.Name(), err)
		}

		scripts = append(scripts, Script{
			Version:     version,
			Description: description,
			Path:        path,
			SQL:         string(content),
			Checksum:    calculateChecksum(string(content)),
		})
	}

	SortScripts(scripts)
	return scripts, skipped, nil
}

// ParseScriptName extracts the canonical version and description from a
// script file name.
func ParseScriptName(name string) (version, description string, ok bool) {
	version, description, err := parseScriptName(name)
	return version, description, err == nil
}

var looseScriptName = regexp.MustCompile(`^[Vv](\d[\d._]*?)_+(.*)\.[Ss][Qq][Ll]$`)

func parseScriptName(name string) (version, description string, err error) {
	m := scriptName.FindStringSubmatch(name)
	if m == nil {
		return "", "", fmt.Errorf("name does not match V<version>__<description>.sql%s", nameHint(name))
	}
	version, err = canonicalVersion(m[1])
	if err != nil {
		return "", "", fmt.Errorf("version %s: %w", m[1], err)
	}
	return version, strings.ReplaceAll(m[2], "_", " "), nil
}

// nameHint points at the usual mistake in a near-miss script name.
func nameHint(name string) string {
	switch {
	case strings.HasPrefix(name, "v") && scriptName.MatchString("V"+name[1:]):
		return " (prefix must be an upper-case V)"
	case strings.HasSuffix(name, ".SQL") && scriptName.MatchString(strings.TrimSuffix(name, ".SQL")+".sql"):
		return " (extension must be lower-case .sql)"
	case looseScriptName.MatchString(name) && !strings.Contains(name, "__"):
		return " (separate version and description with two underscores)"
	}
	return ""
}

// SortScripts orders scripts by ascending version.
func SortScripts(scripts []Script) {
	sort.SliceStable(scripts, func(i, j int) bool {
		return CompareVersions(scripts[i].Version, scripts[j].Version) < 0
	})
}

// CompareVersions compares two canonical versions segment by segment.
// Missing trailing segments count as zero, so "1" == "1.0".
func CompareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y int
		if i < len(as) {
			x, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			y, _ = strconv.Atoi(bs[i])
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

// canonicalVersion turns "1_01" or "1.1" into "1.1" and "2.0" into "2".
func canonicalVersion(raw string) (string, error) {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == '.' || r == '_' })
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", err
		}
		parts[i] = strconv.Itoa(n)
	}
	for len(parts) > 1 && parts[len(parts)-1] == "0" {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, "."), nil
}

func calculateChecksum(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", hash)
}
