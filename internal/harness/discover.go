package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScenarioNotFoundError is returned when a named scenario has no file.
type ScenarioNotFoundError struct {
	Name         string
	ResolvedPath string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario %q not found (resolved to: %s)", e.Name, e.ResolvedPath)
}

// FindScenarios returns the scenario files (*.yaml, *.yml) directly in dir,
// sorted by path.
func FindScenarios(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading scenario directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// ResolveScenario maps a scenario name or path to a file. A bare name is
// looked up as <dir>/<name>.yaml.
func ResolveScenario(dir, name string) (string, error) {
	path := name
	if !strings.ContainsRune(name, filepath.Separator) && filepath.Ext(name) == "" {
		path = filepath.Join(dir, name+".yaml")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", &ScenarioNotFoundError{Name: name, ResolvedPath: path}
	}
	return path, nil
}
