package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// LocalStore stages uploaded images in a directory on the local filesystem.
type LocalStore struct {
	fs  afero.Fs
	dir string
}

// NewLocal returns a store rooted at dir on the OS filesystem.
func NewLocal(dir string) (*LocalStore, error) {
	return NewLocalFs(afero.NewOsFs(), dir)
}

// NewLocalFs is NewLocal on an arbitrary afero filesystem.
func NewLocalFs(fs afero.Fs, dir string) (*LocalStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &LocalStore{fs: fs, dir: dir}, nil
}

// Save writes r to dir/name and returns the stored path. A partially written
// file is removed.
func (s *LocalStore) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	path := filepath.Join(s.dir, name)

	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	_, err = io.Copy(f, ctxReader{ctx: ctx, r: r})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func (s *LocalStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	return s.fs.Open(path)
}

// Remove deletes path; a missing file is not an error.
func (s *LocalStore) Remove(_ context.Context, path string) error {
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Dir returns the staging directory.
func (s *LocalStore) Dir() string { return s.dir }

// ctxReader stops a copy once the request context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
