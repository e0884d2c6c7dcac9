package localservice

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListDirectory_HidesDotfilesAndSortsDirsBeforeFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "zdir"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "adir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bfile.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))

	entries, err := ListDirectory(dir, false)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "adir", entries[0].Name)
	require.True(t, entries[0].IsDir)
	require.Equal(t, "zdir", entries[1].Name)
	require.Equal(t, "bfile.txt", entries[2].Name)
	require.False(t, entries[2].IsDir)
}

func TestListDirectory_ShowHidden(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))

	entries, err := ListDirectory(dir, true)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, ".hidden", entries[0].Name)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	expanded, err := ExpandHome("~/projects")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "projects"), expanded)

	expanded, err = ExpandHome("/absolute/path")
	require.NoError(t, err)
	require.Equal(t, "/absolute/path", expanded)
}
