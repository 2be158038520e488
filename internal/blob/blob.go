// Package blob stores story media and thumbnails.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"

	"github.com/d60-Lab/storyline/config"
)

// Object is a stored blob. Key is what Remove expects back.
type Object struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Store is the blob storage collaborator.
type Store interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (Object, error)
	Remove(ctx context.Context, keys []string) error
}

// New builds the store selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalStore(afero.NewOsFs(), cfg.Root, cfg.BaseURL), nil
	case "gdrive":
		return NewDriveStore(ctx, cfg.GDriveCredentialsFile, cfg.GDriveFolderID)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// LocalStore writes blobs under root on an afero filesystem and serves them
// from baseURL.
type LocalStore struct {
	fs      afero.Fs
	root    string
	baseURL string
}

func NewLocalStore(fs afero.Fs, root, baseURL string) *LocalStore {
	if root == "" {
		root = "data/media"
	}
	return &LocalStore{fs: fs, root: root, baseURL: strings.TrimRight(baseURL, "/")}
}

// NewMemoryStore is a LocalStore backed by memory.
func NewMemoryStore(baseURL string) *LocalStore {
	return NewLocalStore(afero.NewMemMapFs(), "/media", baseURL)
}

func (s *LocalStore) Upload(ctx context.Context, key string, r io.Reader, _ string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	clean, err := cleanKey(key)
	if err != nil {
		return Object{}, err
	}
	full := path.Join(s.root, clean)
	if err := s.fs.MkdirAll(path.Dir(full), 0o755); err != nil {
		return Object{}, err
	}
	if err := afero.WriteReader(s.fs, full, r); err != nil {
		return Object{}, err
	}
	return Object{Key: clean, URL: s.baseURL + "/" + clean}, nil
}

// Remove deletes every key, ignoring ones already gone.
func (s *LocalStore) Remove(_ context.Context, keys []string) error {
	var errs []error
	for _, k := range keys {
		clean, err := cleanKey(k)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.fs.Remove(path.Join(s.root, clean)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Exists reports whether key is stored.
func (s *LocalStore) Exists(key string) bool {
	clean, err := cleanKey(key)
	if err != nil {
		return false
	}
	ok, _ := afero.Exists(s.fs, path.Join(s.root, clean))
	return ok
}

// Handler serves stored blobs, for mounting under baseURL's path.
func (s *LocalStore) Handler() http.Handler {
	return http.FileServer(afero.NewHttpFs(s.fs).Dir(s.root))
}

func cleanKey(key string) (string, error) {
	clean := strings.TrimPrefix(path.Clean("/"+key), "/")
	if clean == "" || clean == "." {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return clean, nil
}
