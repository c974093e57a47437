package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	root := t.TempDir()
	reg, err := NewRegistry(root)
	require.NoError(t, err)

	assert.True(t, reg.IsPathInProject(root))
	assert.True(t, reg.IsPathInProject(filepath.Join(root, "sub", "dir")))
	assert.False(t, reg.IsPathInProject(t.TempDir()))
}

func TestResolveWorkingDirectoryPicksLongestRoot(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "nested")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	reg, err := NewRegistry(root, nested)
	require.NoError(t, err)

	assert.Equal(t, nested, reg.ResolveWorkingDirectory(filepath.Join(nested, "deep")))
	assert.Equal(t, root, reg.ResolveWorkingDirectory(filepath.Join(root, "other")))
	assert.Equal(t, "", reg.ResolveWorkingDirectory("/somewhere/else"))
}

func TestSaveAndLoadRegistry(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(t.TempDir(), "projects.yaml")

	reg, err := NewRegistry(root)
	require.NoError(t, err)
	require.NoError(t, reg.Save(path))

	loaded, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, reg.Roots(), loaded.Roots())
}

func TestLoadRegistryMissingFileIsEmpty(t *testing.T) {
	reg, err := LoadRegistry(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, reg.Roots())
}

func TestRegisterDeduplicates(t *testing.T) {
	root := t.TempDir()
	reg, err := NewRegistry()
	require.NoError(t, err)

	require.NoError(t, reg.Register(root))
	require.NoError(t, reg.Register(root))
	assert.Len(t, reg.Roots(), 1)
}

func TestProvisionTaskDir(t *testing.T) {
	root := t.TempDir()
	reg, err := NewRegistry(root)
	require.NoError(t, err)

	dir, err := reg.ProvisionTaskDir(root, "task-1")
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.True(t, reg.IsPathInProject(dir))
}
