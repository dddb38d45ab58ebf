package mailbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/fiscalbridge/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactName(t *testing.T) {
	ts := time.Date(2025, 1, 1, 12, 0, 0, 999, time.UTC)
	assert.Equal(t, "bon_20250101120000.txt", ArtifactName(ts))
}

func TestStore_Write_CreatesDirectory(t *testing.T) {
	s := NewStore()
	dir := filepath.Join(t.TempDir(), "nested", "inbox")

	path, err := s.Write(dir, "bon_20250101120000.txt", []byte("FISCAL\nP;0;0"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bon_20250101120000.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "FISCAL\nP;0;0", string(data))
}

func TestStore_Write_LeavesNoTempFiles(t *testing.T) {
	s := NewStore()
	dir := t.TempDir()

	_, err := s.Write(dir, "bon_1.txt", []byte("x"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bon_1.txt", entries[0].Name())
}

func TestStore_Write_FailsClosed(t *testing.T) {
	s := NewStore()
	root := t.TempDir()

	// a regular file where the inbox directory should be
	blocker := filepath.Join(root, "inbox")
	require.NoError(t, os.WriteFile(blocker, []byte("not a dir"), 0o644))

	_, err := s.Write(blocker, "bon_1.txt", []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domainErrors.ErrInboxWriteFailed)
}

func TestStore_Write_RejectsPathInName(t *testing.T) {
	s := NewStore()

	_, err := s.Write(t.TempDir(), "../escape.txt", []byte("x"))
	assert.ErrorIs(t, err, domainErrors.ErrInboxWriteFailed)

	_, err = s.Write(t.TempDir(), "", []byte("x"))
	assert.ErrorIs(t, err, domainErrors.ErrInboxWriteFailed)
}

func TestStore_Find(t *testing.T) {
	s := NewStore()

	tests := []struct {
		name     string
		onDisk   string
		probe    string
		wantFind bool
	}{
		{"exact match", "bon_20250101120000.txt", "bon_20250101120000.txt", true},
		{"upper-cased by driver", "BON_20250101120000.TXT", "bon_20250101120000.txt", true},
		{"mixed case", "Bon_20250101120000.Txt", "bon_20250101120000.txt", true},
		{"different name", "bon_20250101120001.txt", "bon_20250101120000.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, tt.onDisk), []byte("ok"), 0o644))

			path, found := s.Find(dir, tt.probe)
			assert.Equal(t, tt.wantFind, found)
			if tt.wantFind {
				assert.Equal(t, filepath.Join(dir, tt.onDisk), path)
			}
		})
	}
}

func TestStore_Find_IgnoresDirectories(t *testing.T) {
	s := NewStore()
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "BON_1.TXT"), 0o755))

	_, found := s.Find(dir, "bon_1.txt")
	assert.False(t, found)
}

func TestStore_Find_MissingDirectoryIsAbsent(t *testing.T) {
	s := NewStore()

	_, found := s.Find(filepath.Join(t.TempDir(), "does-not-exist"), "bon_1.txt")
	assert.False(t, found)
}

func TestStore_Read(t *testing.T) {
	s := NewStore()
	dir := t.TempDir()
	path := filepath.Join(dir, "bon_1.txt")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	data, ok := s.Read(path)
	require.True(t, ok)
	assert.Equal(t, "content", string(data))

	_, ok = s.Read(filepath.Join(dir, "missing.txt"))
	assert.False(t, ok)
}

func TestStore_EnsureDir_Idempotent(t *testing.T) {
	s := NewStore()
	dir := filepath.Join(t.TempDir(), "ok")

	require.NoError(t, s.EnsureDir(dir))
	require.NoError(t, s.EnsureDir(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
