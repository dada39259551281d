package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFile(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "src.db")
	dst := filepath.Join(tmpDir, "dst.db")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))

	require.NoError(t, CopyFile(src, dst))

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))
}

func TestCopyFile_MissingSource(t *testing.T) {
	tmpDir := t.TempDir()
	err := CopyFile(filepath.Join(tmpDir, "nope"), filepath.Join(tmpDir, "dst"))
	assert.Error(t, err)
}

func TestAtomicWriteFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "out.json")

	require.NoError(t, AtomicWriteFile(path, []byte("{}"), 0644))
	assert.FileExists(t, path)

	// 目录里不能留下临时文件
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileExistsAndSize(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "f")

	assert.False(t, FileExists(path))
	assert.EqualValues(t, 0, FileSize(path))

	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))
	assert.True(t, FileExists(path))
	assert.EqualValues(t, 3, FileSize(path))
}
