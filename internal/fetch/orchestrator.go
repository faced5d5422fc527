// Package fetch retrieves a model's main file and its dependencies,
// consulting the dependency cache before the backend.
package fetch

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/modeldeps/internal/backend"
	"github.com/rcliao/modeldeps/internal/metrics"
	"github.com/rcliao/modeldeps/internal/model"
	"github.com/rcliao/modeldeps/internal/resolve"
	"github.com/rcliao/modeldeps/internal/store"
)

// DefaultMaxConcurrent bounds dependency fetches in flight per call.
const DefaultMaxConcurrent = 8

// Config holds orchestrator settings.
type Config struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

// Resolver resolves a declared name in a directory.
type Resolver interface {
	Resolve(ctx context.Context, dir, name string) (resolve.Resolution, bool)
}

// Orchestrator drives dependency retrieval for one backend.
type Orchestrator struct {
	backend     backend.Backend
	resolver    Resolver
	cache       store.Store
	maxItemSize int64
	limit       int
	log         *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache enables the dependency cache. Payloads above maxItemSize are
// never written.
func WithCache(s store.Store, maxItemSize int64) Option {
	return func(o *Orchestrator) {
		o.cache = s
		if maxItemSize > 0 {
			o.maxItemSize = maxItemSize
		}
	}
}

// WithMaxConcurrent bounds concurrent dependency fetches.
func WithMaxConcurrent(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.limit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// New creates an Orchestrator.
func New(b backend.Backend, r Resolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:     b,
		resolver:    r,
		maxItemSize: store.DefaultLimits().MaxItemSize,
		limit:       DefaultMaxConcurrent,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Outcome partitions attempted dependencies by result. Missing holds
// declared names.
type Outcome struct {
	Files   []model.FetchedFile
	Missing []string
}

// LocateMain finds the main file's id by path.
func (o *Orchestrator) LocateMain(ctx context.Context, p string) (string, error) {
	id, err := o.backend.FindByPath(ctx, p)
	if err != nil {
		return "", mainFileError(model.BaseName(p), "", err)
	}
	return id, nil
}

// FetchMain fetches the main model file. Known formats get their
// conventional MIME type. The main file is never cached.
func (o *Orchestrator) FetchMain(ctx context.Context, id, name string) (model.FetchedFile, error) {
	data, mimeType, err := o.backend.FetchByID(ctx, id)
	if err != nil {
		return model.FetchedFile{}, mainFileError(name, id, err)
	}
	if f := model.FormatFromName(name); f != model.FormatUnknown || mimeType == "" {
		mimeType = f.MIMEType()
	}
	return model.FetchedFile{
		Name:         name,
		ResolvedName: name,
		RemoteID:     id,
		MIMEType:     mimeType,
		Data:         data,
	}, nil
}

type job struct {
	name string
	dep  *model.ResolvedDependency // nil means resolve name in dir
}

type result struct {
	file model.FetchedFile
	ok   bool
}

// FetchDeclared resolves and fetches every name relative to dir. Names
// are de-duplicated case-insensitively. Failures land in Missing; the
// call never fails as a whole.
func (o *Orchestrator) FetchDeclared(ctx context.Context, mainID, dir string, names []string) Outcome {
	seen := make(map[string]bool, len(names))
	jobs := make([]job, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		key := strings.ToLower(n)
		if n == "" || seen[key] {
			continue
		}
		seen[key] = true
		jobs = append(jobs, job{name: n})
	}
	return o.run(ctx, mainID, dir, jobs)
}

// FetchResolved fetches dependencies that are already resolved, such as
// harvest results. Entries are deduplicated by remote id, so names that
// differ only by case still fetch distinct files.
func (o *Orchestrator) FetchResolved(ctx context.Context, mainID string, deps []model.ResolvedDependency) Outcome {
	seen := make(map[string]bool, len(deps))
	jobs := make([]job, 0, len(deps))
	for i := range deps {
		key := deps[i].RemoteID
		if key == "" {
			key = deps[i].DeclaredName
		}
		if deps[i].DeclaredName == "" || seen[key] {
			continue
		}
		seen[key] = true
		jobs = append(jobs, job{name: deps[i].DeclaredName, dep: &deps[i]})
	}
	return o.run(ctx, mainID, "", jobs)
}

// run fans jobs out under the concurrency limit and waits for every one
// to settle. Results are partitioned in input order.
func (o *Orchestrator) run(ctx context.Context, mainID, dir string, jobs []job) Outcome {
	results := make([]result, len(jobs))

	var g errgroup.Group
	g.SetLimit(o.limit)
	for i, j := range jobs {
		g.Go(func() error {
			results[i] = o.fetchOne(ctx, mainID, dir, j)
			return nil
		})
	}
	_ = g.Wait()

	out := Outcome{Files: []model.FetchedFile{}, Missing: []string{}}
	for i, r := range results {
		if r.ok {
			out.Files = append(out.Files, r.file)
			metrics.RecordDependency(r.file.FromCache, r.file.Size())
		} else {
			out.Missing = append(out.Missing, jobs[i].name)
			metrics.RecordMissing()
		}
	}
	return out
}

func (o *Orchestrator) fetchOne(ctx context.Context, mainID, dir string, j job) result {
	key := store.DependencyKey(mainID, j.name)
	log := o.log.With(zap.String("name", j.name))

	var wantID string
	if j.dep != nil {
		wantID = j.dep.RemoteID
	}
	if f, ok := o.fromCache(ctx, key, j.name, wantID, log); ok {
		return result{file: f, ok: true}
	}

	dep := j.dep
	if dep == nil {
		res, ok := o.resolver.Resolve(ctx, dir, j.name)
		if !ok {
			log.Debug("dependency unresolved", zap.String("dir", dir))
			return result{}
		}
		dep = &res.Dependency
	}

	data, mimeType, err := o.backend.FetchByID(ctx, dep.RemoteID)
	if err != nil {
		log.Warn("dependency fetch failed", zap.String("id", dep.RemoteID), zap.Error(err))
		return result{}
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	o.toCache(ctx, key, dep, data, mimeType, log)

	return result{
		file: model.FetchedFile{
			Name:         j.name,
			ResolvedName: dep.ResolvedName,
			RemoteID:     dep.RemoteID,
			MIMEType:     mimeType,
			Data:         data,
		},
		ok: true,
	}
}

// fromCache treats any cache error as a miss. A non-empty wantID also
// rejects entries cached for a different remote file, since keys fold case.
func (o *Orchestrator) fromCache(ctx context.Context, key, name, wantID string, log *zap.Logger) (model.FetchedFile, bool) {
	if o.cache == nil {
		return model.FetchedFile{}, false
	}
	e, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		log.Warn("cache read failed", zap.Error(err))
		return model.FetchedFile{}, false
	}
	if !ok {
		return model.FetchedFile{}, false
	}
	if wantID != "" && e.FileID != wantID {
		log.Debug("cached entry belongs to another file", zap.String("cached_id", e.FileID))
		return model.FetchedFile{}, false
	}
	return model.FetchedFile{
		Name:         name,
		ResolvedName: e.Filename,
		RemoteID:     e.FileID,
		MIMEType:     e.MIMEType,
		Data:         e.Data,
		FromCache:    true,
	}, true
}

func (o *Orchestrator) toCache(ctx context.Context, key string, dep *model.ResolvedDependency, data []byte, mimeType string, log *zap.Logger) {
	if o.cache == nil || int64(len(data)) > o.maxItemSize {
		return
	}
	err := o.cache.Set(ctx, key, model.CacheEntry{
		FileID:   dep.RemoteID,
		Filename: dep.ResolvedName,
		Data:     data,
		MIMEType: mimeType,
	})
	switch {
	case errors.Is(err, store.ErrTooLarge):
		log.Debug("dependency too large to cache", zap.Int("size", len(data)))
	case err != nil:
		log.Warn("cache write failed", zap.Error(err))
	}
}
