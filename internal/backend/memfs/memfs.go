// Package memfs is an in-memory Backend with request counters, used to
// exercise the pipeline without a real store.
package memfs

import (
	"context"
	"fmt"
	"mime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rcliao/modeldeps/internal/backend"
	"github.com/rcliao/modeldeps/internal/model"
)

type object struct {
	id       string
	path     string
	data     []byte
	mimeType string
}

// FS implements backend.Backend over an in-memory path map.
type FS struct {
	mu      sync.RWMutex
	byPath  map[string]*object
	byID    map[string]*object
	folders map[string]bool
	failing map[string]error
	nextID  int

	FindCalls  atomic.Int64
	ListCalls  atomic.Int64
	FetchCalls atomic.Int64

	fetchedMu sync.Mutex
	fetched   map[string]int
}

// New creates an empty FS.
func New() *FS {
	return &FS{
		byPath:  make(map[string]*object),
		byID:    make(map[string]*object),
		folders: make(map[string]bool),
		failing: make(map[string]error),
		fetched: make(map[string]int),
	}
}

func clean(p string) string {
	return strings.Trim(model.JoinPath(p), "/")
}

// Add stores data at path and returns its id. The MIME type is derived
// from the extension.
func (f *FS) Add(path string, data []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	path = clean(path)
	f.nextID++
	obj := &object{
		id:       fmt.Sprintf("obj-%04d", f.nextID),
		path:     path,
		data:     data,
		mimeType: mimeFor(path),
	}
	if old, ok := f.byPath[path]; ok {
		delete(f.byID, old.id)
	}
	f.byPath[path] = obj
	f.byID[obj.id] = obj

	for dir := parentOf(path); dir != ""; dir = parentOf(dir) {
		f.folders[dir] = true
	}
	return obj.id
}

// AddFolder registers an empty folder.
func (f *FS) AddFolder(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for dir := clean(path); dir != ""; dir = parentOf(dir) {
		f.folders[dir] = true
	}
}

// FailFetch makes FetchByID return err for id.
func (f *FS) FailFetch(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[id] = err
}

// Fetched returns how many times id was fetched.
func (f *FS) Fetched(id string) int {
	f.fetchedMu.Lock()
	defer f.fetchedMu.Unlock()
	return f.fetched[id]
}

// ResetCounters zeroes every request counter.
func (f *FS) ResetCounters() {
	f.FindCalls.Store(0)
	f.ListCalls.Store(0)
	f.FetchCalls.Store(0)
	f.fetchedMu.Lock()
	f.fetched = make(map[string]int)
	f.fetchedMu.Unlock()
}

// FindByPath implements backend.Backend.
func (f *FS) FindByPath(_ context.Context, path string) (string, error) {
	f.FindCalls.Add(1)
	f.mu.RLock()
	defer f.mu.RUnlock()

	obj, ok := f.byPath[clean(path)]
	if !ok {
		return "", backend.NotFound("find", path)
	}
	return obj.id, nil
}

// ListDirectory implements backend.Backend.
func (f *FS) ListDirectory(_ context.Context, path string, includeDescendants bool) (*model.Listing, error) {
	f.ListCalls.Add(1)
	f.mu.RLock()
	defer f.mu.RUnlock()

	dir := clean(path)
	if dir != "" && !f.folders[dir] {
		return nil, backend.NotFound("list", path)
	}

	type candidate struct {
		obj   *object
		depth int
	}
	var files []candidate
	for p, obj := range f.byPath {
		rel, ok := relativeTo(dir, p)
		if !ok {
			continue
		}
		depth := strings.Count(rel, "/")
		if depth > 0 && !includeDescendants {
			continue
		}
		files = append(files, candidate{obj: obj, depth: depth})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].depth != files[j].depth {
			return files[i].depth < files[j].depth
		}
		return files[i].obj.path < files[j].obj.path
	})

	listing := &model.Listing{}
	for _, c := range files {
		listing.Files = append(listing.Files, model.FileEntry{
			ID:   c.obj.id,
			Name: model.BaseName(c.obj.path),
			Path: c.obj.path,
		})
	}

	var folders []string
	for p := range f.folders {
		if parentOf(p) == dir && p != dir {
			folders = append(folders, p)
		}
	}
	sort.Strings(folders)
	for _, p := range folders {
		listing.Folders = append(listing.Folders, model.FolderEntry{Name: model.BaseName(p), Path: p})
	}
	return listing, nil
}

// FetchByID implements backend.Backend.
func (f *FS) FetchByID(_ context.Context, id string) ([]byte, string, error) {
	f.FetchCalls.Add(1)
	f.fetchedMu.Lock()
	f.fetched[id]++
	f.fetchedMu.Unlock()

	f.mu.RLock()
	defer f.mu.RUnlock()

	if err, ok := f.failing[id]; ok {
		return nil, "", err
	}
	obj, ok := f.byID[id]
	if !ok {
		return nil, "", backend.NotFound("fetch", id)
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return data, obj.mimeType, nil
}

func parentOf(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

func relativeTo(dir, p string) (string, bool) {
	if dir == "" {
		return p, true
	}
	if !strings.HasPrefix(p, dir+"/") {
		return "", false
	}
	return p[len(dir)+1:], true
}

func mimeFor(p string) string {
	if t := mime.TypeByExtension(model.Ext(p)); t != "" {
		return t
	}
	return "application/octet-stream"
}
