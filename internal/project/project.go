// Package project tracks registered project roots and answers path-boundary
// questions for session working directories.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry holds the set of registered project roots. All session working
// directories must resolve into one of them.
type Registry struct {
	mu    sync.RWMutex
	roots []string
}

// rootsFile is the on-disk shape of the registered roots.
type rootsFile struct {
	Roots []string `yaml:"roots"`
}

// NewRegistry creates a registry with the given roots. Roots are normalized
// to absolute, cleaned paths.
func NewRegistry(roots ...string) (*Registry, error) {
	r := &Registry{}
	for _, root := range roots {
		if err := r.Register(root); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// LoadRegistry reads the registered roots from a YAML file. A missing file
// yields an empty registry.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{}, nil
		}
		return nil, fmt.Errorf("failed to read project roots: %w", err)
	}

	var file rootsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse project roots: %w", err)
	}
	return NewRegistry(file.Roots...)
}

// Save writes the registered roots to a YAML file.
func (r *Registry) Save(path string) error {
	r.mu.RLock()
	file := rootsFile{Roots: append([]string(nil), r.roots...)}
	r.mu.RUnlock()

	data, err := yaml.Marshal(&file)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Register adds a project root.
func (r *Registry) Register(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("invalid project root %q: %w", root, err)
	}
	abs = filepath.Clean(abs)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.roots {
		if existing == abs {
			return nil
		}
	}
	r.roots = append(r.roots, abs)
	sort.Strings(r.roots)
	return nil
}

// Roots returns the registered roots.
func (r *Registry) Roots() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.roots...)
}

// IsPathInProject reports whether path lies within any registered root.
func (r *Registry) IsPathInProject(path string) bool {
	return r.ResolveWorkingDirectory(path) != ""
}

// ResolveWorkingDirectory returns the registered root containing path, or ""
// if the path lies outside every registered root. The longest matching root
// wins so nested registrations resolve to the most specific project.
func (r *Registry) ResolveWorkingDirectory(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	abs = filepath.Clean(abs)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best string
	for _, root := range r.roots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			if len(root) > len(best) {
				best = root
			}
		}
	}
	return best
}

// ProvisionTaskDir creates a fresh task-scoped directory under the project
// root containing base, named after the task id.
func (r *Registry) ProvisionTaskDir(base, taskID string) (string, error) {
	root := r.ResolveWorkingDirectory(base)
	if root == "" {
		return "", fmt.Errorf("path %q is outside all registered project roots", base)
	}

	dir := filepath.Join(base, taskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to provision task dir: %w", err)
	}
	return dir, nil
}
