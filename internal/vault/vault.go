package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned when a requested blob does not exist.
var ErrNotFound = errors.New("blob not found")

// FileStore keeps blobs as files in a single directory. Keys are flat names;
// path separators are rejected so no key can escape the root.
type FileStore struct {
	root string
}

// NewFileStore creates the backing directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating vault directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (v *FileStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(v.root, key), nil
}

// Read returns the blob's contents.
func (v *FileStore) Read(key string) ([]byte, error) {
	p, err := v.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", key, err)
	}
	return data, nil
}

// Write stores the blob. New blobs are created exclusively first; when the
// file appeared concurrently between the existence check and the create, the
// write falls back to a plain overwrite instead of failing.
func (v *FileStore) Write(key string, data []byte) error {
	p, err := v.path(key)
	if err != nil {
		return err
	}
	if !v.Exists(key) {
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			_, werr := f.Write(data)
			cerr := f.Close()
			if werr != nil {
				return fmt.Errorf("writing blob %s: %w", key, werr)
			}
			return cerr
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("creating blob %s: %w", key, err)
		}
		// Lost the race; overwrite below.
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return fmt.Errorf("overwriting blob %s: %w", key, err)
	}
	return nil
}

// Exists reports whether the blob is present.
func (v *FileStore) Exists(key string) bool {
	p, err := v.path(key)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(p)
	return statErr == nil
}

// Remove deletes the blob. Removing a missing blob returns ErrNotFound.
func (v *FileStore) Remove(key string) error {
	p, err := v.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("removing blob %s: %w", key, err)
	}
	return nil
}

// List returns the keys with the given prefix, sorted, straight from the
// directory listing, never from a cache, so concurrently created or
// deleted blobs are reflected.
func (v *FileStore) List(prefix string) ([]string, error) {
	entries, err := os.ReadDir(v.root)
	if err != nil {
		return nil, fmt.Errorf("listing vault: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) {
			keys = append(keys, e.Name())
		}
	}
	sort.Strings(keys)
	return keys, nil
}
