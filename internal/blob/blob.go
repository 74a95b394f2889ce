// Package blob stores uploaded and received documents as flat files keyed
// by generated filename. Filenames are sanitized so a crafted attachment
// name cannot escape the documents directory.
package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store is a filename-keyed blob area on the local filesystem.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create documents directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the backing directory, for static file serving.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes data under the given filename and returns the stored name.
func (s *Store) Save(filename string, data []byte) (string, error) {
	name := Sanitize(filename)
	if name == "" {
		return "", fmt.Errorf("empty filename")
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to store document %s: %w", name, err)
	}
	return name, nil
}

// Open returns the blob bytes for a stored filename.
func (s *Store) Open(filename string) ([]byte, error) {
	name := Sanitize(filename)
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", name, err)
	}
	return data, nil
}

// Delete removes a stored blob. Missing files are not an error.
func (s *Store) Delete(filename string) error {
	err := os.Remove(filepath.Join(s.dir, Sanitize(filename)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// AttachmentName builds the stored name for a received attachment:
// {companyID}_{epochMillis}_{originalFilename}.
func AttachmentName(companyID string, at time.Time, original string) string {
	return fmt.Sprintf("%s_%d_%s", companyID, at.UnixMilli(), Sanitize(original))
}

// Sanitize strips any path components and characters that are unsafe in a
// flat filename.
func Sanitize(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_', r == ' ', r == '(', r == ')':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
