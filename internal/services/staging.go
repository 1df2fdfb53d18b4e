package services

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Staging is the local per-file staging area. Files are keyed by record
// id; only the ingestion path writes here and only its background unit
// deletes here. A file whose background unit never completed is left for
// administrative cleanup.
type Staging struct {
	dir string
}

// NewStaging creates the staging directory if needed.
func NewStaging(dir string) (*Staging, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}
	return &Staging{dir: dir}, nil
}

// Path returns the staging path for a record id.
func (s *Staging) Path(id string) string {
	return filepath.Join(s.dir, id)
}

// Write drains r into the staging file for id and returns its path and
// byte length.
func (s *Staging) Write(id string, r io.Reader) (string, int64, error) {
	path := s.Path(id)
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("creating staging file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("staging stream: %w", err)
	}
	return path, n, nil
}

// Remove deletes the staging file for id. Missing files are fine.
func (s *Staging) Remove(id string) {
	_ = os.Remove(s.Path(id))
}
