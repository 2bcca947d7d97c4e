package generator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// replaceDir writes files into a staging directory next to dir and then swaps
// it in, so dir ends up holding exactly files. Prior contents are discarded.
func replaceDir(dir string, files map[string][]byte) (err error) {
	dir = filepath.Clean(dir)
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("create parent: %w", err)
	}

	staging, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+".staging-")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(staging)
		}
	}()
	if err := os.Chmod(staging, 0755); err != nil {
		return err
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(staging, name), files[name], 0644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	var backup string
	if _, statErr := os.Stat(dir); statErr == nil {
		backup = staging + ".old"
		if err := os.Rename(dir, backup); err != nil {
			return fmt.Errorf("move previous output aside: %w", err)
		}
	}

	if err := os.Rename(staging, dir); err != nil {
		if backup != "" {
			if restoreErr := os.Rename(backup, dir); restoreErr != nil {
				return fmt.Errorf("install output: %w (restore previous: %v)", err, restoreErr)
			}
		}
		return fmt.Errorf("install output: %w", err)
	}

	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			return fmt.Errorf("remove previous output: %w", err)
		}
	}
	return nil
}
