// Package mailbox implements the file-system side of the driver protocol:
// command artifacts are written into an inbox directory and results are
// probed for in the success and error outboxes.
package mailbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/fiscalbridge/internal/domain/errors"
)

const (
	artifactPrefix = "bon_"
	artifactSuffix = ".txt"
	artifactLayout = "20060102150405"
)

// ArtifactName derives the command file name from t with second
// granularity. Two commands issued within the same second share a name.
func ArtifactName(t time.Time) string {
	return artifactPrefix + t.Format(artifactLayout) + artifactSuffix
}

// Store reads and writes mailbox directories. It keeps no state: every call
// goes back to the file system because the driver moves files at any time.
type Store struct {
	dirPerm  os.FileMode
	filePerm os.FileMode
}

// NewStore creates a Store with default permissions.
func NewStore() *Store {
	return &Store{dirPerm: 0o755, filePerm: 0o644}
}

// EnsureDir creates dir and its parents if missing.
func (s *Store) EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return fmt.Errorf("create mailbox dir %s: %w", dir, err)
	}
	return nil
}

// Write stores data under dir/name. The bytes land in a temporary sibling
// first and are renamed into place so the driver never reads a partial
// command. Any failure is returned wrapped in ErrInboxWriteFailed.
func (s *Store) Write(dir, name string, data []byte) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("%w: invalid artifact name %q", domainErrors.ErrInboxWriteFailed, name)
	}
	if err := s.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("%w: %v", domainErrors.ErrInboxWriteFailed, err)
	}

	path := filepath.Join(dir, name)
	if err := writeFileAtomic(path, data, s.filePerm); err != nil {
		return "", fmt.Errorf("%w: %s: %v", domainErrors.ErrInboxWriteFailed, path, err)
	}
	return path, nil
}

// Find looks for name in dir. The exact path is tried first; on a miss the
// directory is listed and compared case-insensitively, since the driver may
// change case when moving files. An unreadable dir counts as not found.
func (s *Store) Find(dir, name string) (string, bool) {
	exact := filepath.Join(dir, name)
	if info, err := os.Stat(exact); err == nil && info.Mode().IsRegular() {
		return exact, true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(e.Name(), name) {
			return filepath.Join(dir, e.Name()), true
		}
	}
	return "", false
}

// Read returns the content at path, or false if it cannot be read.
func (s *Store) Read(path string) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
