// Package model defines the types shared by the dependency pipeline.
package model

import (
	"path"
	"strings"
	"time"
)

// ModelReference is a dependency name as authored inside a model file.
type ModelReference = string

// ResolvedDependency maps a declared name to a concrete backend object.
type ResolvedDependency struct {
	RemoteID     string `json:"remote_id"`
	DeclaredName string `json:"declared_name"`
	ResolvedName string `json:"resolved_name"`
}

// FetchedFile is the payload of the main model or one of its dependencies.
type FetchedFile struct {
	Name         string `json:"name"`
	ResolvedName string `json:"resolved_name,omitempty"`
	RemoteID     string `json:"remote_id,omitempty"`
	MIMEType     string `json:"mime_type"`
	Data         []byte `json:"-"`
	FromCache    bool   `json:"from_cache,omitempty"`
}

// Size returns the payload length in bytes.
func (f FetchedFile) Size() int { return len(f.Data) }

// LoadResult is the file set handed to a geometry parser.
// Every name in MissingFiles was attempted and could not be resolved or fetched.
type LoadResult struct {
	MainFile     FetchedFile   `json:"main_file"`
	Dependencies []FetchedFile `json:"dependencies"`
	MissingFiles []string      `json:"missing_files"`
}

// Complete reports whether every attempted dependency was loaded.
func (r LoadResult) Complete() bool { return len(r.MissingFiles) == 0 }

// CacheEntry is one persisted dependency payload.
type CacheEntry struct {
	CacheKey  string    `json:"cache_key"`
	FileID    string    `json:"file_id"`
	Filename  string    `json:"filename"`
	Data      []byte    `json:"-"`
	MIMEType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is no longer valid at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// FileEntry is a file returned by a directory listing.
type FileEntry struct {
	ID   string `json:"id" msgpack:"id"`
	Name string `json:"name" msgpack:"name"`
	Path string `json:"path" msgpack:"path"`
}

// FolderEntry is a child folder returned by a directory listing.
type FolderEntry struct {
	Name string `json:"name" msgpack:"name"`
	Path string `json:"path" msgpack:"path"`
}

// Listing is the result of listing one backend directory.
type Listing struct {
	Files   []FileEntry   `json:"files" msgpack:"files"`
	Folders []FolderEntry `json:"folders" msgpack:"folders"`
}

// JoinPath joins backend path segments with forward slashes.
// A leading slash on dir is preserved; backslashes in any segment are normalized.
func JoinPath(dir string, elem ...string) string {
	parts := make([]string, 0, len(elem)+1)
	dir = strings.ReplaceAll(dir, "\\", "/")
	if dir != "" {
		parts = append(parts, dir)
	}
	for _, e := range elem {
		e = strings.ReplaceAll(e, "\\", "/")
		if e != "" {
			parts = append(parts, e)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	joined := path.Join(parts...)
	if joined == "." {
		return ""
	}
	return joined
}

// BaseName returns the last path element of a declared name, accepting
// both slash and backslash separators.
func BaseName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Ext returns the lower-cased extension of name including the dot.
func Ext(name string) string {
	return strings.ToLower(path.Ext(BaseName(name)))
}
