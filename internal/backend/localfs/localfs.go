// Package localfs provides a Backend over a local directory tree.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rcliao/modeldeps/internal/backend"
	"github.com/rcliao/modeldeps/internal/model"
)

// Config holds local filesystem backend settings.
type Config struct {
	RootPath string `yaml:"root_path"`
}

// LocalBackend implements backend.Backend on a directory. Object ids are
// slash-separated paths relative to the root.
type LocalBackend struct {
	rootPath string
}

// New creates a backend rooted at cfg.RootPath.
func New(cfg Config) (*LocalBackend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root_path is required")
	}
	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}
	return &LocalBackend{rootPath: cfg.RootPath}, nil
}

// cleanKey normalizes p into a root-relative slash path. Cleaning against "/"
// keeps ".." segments from climbing out of the root.
func cleanKey(p string) string {
	k := path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimPrefix(k, "/")
}

func (b *LocalBackend) fullPath(key string) string {
	return filepath.Join(b.rootPath, filepath.FromSlash(key))
}

func classify(op, target string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &backend.StatusError{Op: op, Target: target, Status: backend.StatusNotFound, Err: err}
	case errors.Is(err, fs.ErrPermission):
		return &backend.StatusError{Op: op, Target: target, Status: backend.StatusForbidden, Err: err}
	}
	return fmt.Errorf("%s %s: %w", op, target, err)
}

// FindByPath implements backend.Backend.
func (b *LocalBackend) FindByPath(_ context.Context, p string) (string, error) {
	key := cleanKey(p)
	info, err := os.Stat(b.fullPath(key))
	if err != nil {
		return "", classify("find", p, err)
	}
	if info.IsDir() {
		return "", backend.NotFound("find", p)
	}
	return key, nil
}

// ListDirectory implements backend.Backend.
func (b *LocalBackend) ListDirectory(ctx context.Context, p string, includeDescendants bool) (*model.Listing, error) {
	root := cleanKey(p)

	listing := &model.Listing{}
	queue := []string{root}
	first := true
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(b.fullPath(dir))
		if err != nil {
			if first {
				return nil, classify("list", p, err)
			}
			continue
		}
		for _, e := range entries {
			key := model.JoinPath(dir, e.Name())
			if e.IsDir() {
				if first {
					listing.Folders = append(listing.Folders, model.FolderEntry{Name: e.Name(), Path: key})
				}
				if includeDescendants {
					queue = append(queue, key)
				}
				continue
			}
			if !e.Type().IsRegular() {
				continue
			}
			listing.Files = append(listing.Files, model.FileEntry{ID: key, Name: e.Name(), Path: key})
		}
		first = false
	}
	return listing, nil
}

// FetchByID implements backend.Backend.
func (b *LocalBackend) FetchByID(_ context.Context, id string) ([]byte, string, error) {
	key := cleanKey(id)
	data, err := os.ReadFile(b.fullPath(key))
	if err != nil {
		return nil, "", classify("fetch", id, err)
	}
	mimeType := mime.TypeByExtension(path.Ext(key))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}
