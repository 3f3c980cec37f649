package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gazette/internal/util"
)

// LocalFileStore keeps uploaded gazettes on disk under root. Keys are
// slash-separated paths relative to root.
type LocalFileStore struct {
	root    string
	urlBase string
}

func NewLocalFileStore(root, urlBase string) (*LocalFileStore, error) {
	if err := util.EnsureDir(root); err != nil {
		return nil, err
	}
	return &LocalFileStore{root: root, urlBase: strings.TrimRight(urlBase, "/")}, nil
}

func (s *LocalFileStore) Root() string {
	return s.root
}

func (s *LocalFileStore) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("%w: empty storage key", util.ErrValidation)
	}
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// Put stores r under key and returns the public URL and byte count.
func (s *LocalFileStore) Put(ctx context.Context, key string, r io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	p, err := s.resolve(key)
	if err != nil {
		return "", 0, err
	}
	n, err := util.WriteFileAtomic(p, r)
	if err != nil {
		return "", 0, fmt.Errorf("store file %s: %w", key, err)
	}
	return s.URL(key), n, nil
}

// Delete is idempotent: a missing file is not an error.
func (s *LocalFileStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove file %s: %w", key, err)
	}
	return nil
}

func (s *LocalFileStore) URL(key string) string {
	parts := strings.Split(strings.TrimPrefix(path.Clean("/"+key), "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.urlBase + "/" + strings.Join(parts, "/")
}
