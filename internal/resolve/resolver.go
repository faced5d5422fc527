// Package resolve maps declared dependency names to backend objects using
// an ordered chain of increasingly permissive strategies.
package resolve

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rcliao/modeldeps/internal/backend"
	"github.com/rcliao/modeldeps/internal/metrics"
	"github.com/rcliao/modeldeps/internal/model"
)

// Resolution is a successful resolution and the tier that produced it.
type Resolution struct {
	Dependency model.ResolvedDependency `json:"dependency"`
	Tier       Tier                     `json:"tier"`
	Rule       Rule                     `json:"rule,omitempty"`
}

// Resolver resolves names against one backend.
type Resolver struct {
	backend    backend.Backend
	h          *Heuristics
	strategies []Strategy
	cache      ListingCache
	group      singleflight.Group
	log        *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for tier decisions.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// WithListingCache shares directory listings across resolutions.
func WithListingCache(c ListingCache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithStrategies replaces the tier chain.
func WithStrategies(s ...Strategy) Option {
	return func(r *Resolver) { r.strategies = s }
}

// New creates a Resolver. A nil h uses DefaultHeuristics.
func New(b backend.Backend, h *Heuristics, opts ...Option) (*Resolver, error) {
	if h == nil {
		h = DefaultHeuristics()
	}
	if !h.compiled() {
		if err := h.Compile(); err != nil {
			return nil, err
		}
	}
	r := &Resolver{
		backend:    b,
		h:          h,
		strategies: DefaultStrategies(),
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Heuristics returns the tuning in use.
func (r *Resolver) Heuristics() *Heuristics { return r.h }

// Backend returns the backend names are resolved against.
func (r *Resolver) Backend() backend.Backend { return r.backend }

// NewQuery prepares a query for name in dir.
func (r *Resolver) NewQuery(dir, name string) *Query {
	return &Query{
		Dir:     strings.TrimSpace(dir),
		Name:    strings.TrimSpace(name),
		backend: r.backend,
		h:       r.h,
		lister:  r.list,
		log:     r.log,
	}
}

// Resolve runs the tier chain for name in dir. The first tier to match
// wins; ok is false when every tier missed.
func (r *Resolver) Resolve(ctx context.Context, dir, name string) (Resolution, bool) {
	q := r.NewQuery(dir, name)
	if q.Name == "" {
		return Resolution{}, false
	}
	for _, s := range r.strategies {
		if ctx.Err() != nil {
			break
		}
		if res, ok := s.Resolve(ctx, q); ok {
			r.log.Debug("resolved",
				zap.String("name", q.Name),
				zap.String("dir", q.Dir),
				zap.String("tier", string(res.Tier)),
				zap.String("rule", string(res.Rule)),
				zap.String("resolved", res.Dependency.ResolvedName),
			)
			metrics.RecordResolution(string(res.Tier))
			return res, true
		}
	}
	r.log.Debug("unresolved", zap.String("name", q.Name), zap.String("dir", q.Dir))
	metrics.RecordResolution("missing")
	return Resolution{}, false
}

func listingKey(dir string, descendants bool) string {
	return fmt.Sprintf("%s|%t", strings.Trim(dir, "/"), descendants)
}

// list fetches a listing through the cache, collapsing concurrent
// requests for the same directory into one backend call.
func (r *Resolver) list(ctx context.Context, dir string, descendants bool) (*model.Listing, error) {
	key := listingKey(dir, descendants)
	if r.cache != nil {
		if l, ok := r.cache.Get(key); ok {
			return l, nil
		}
	}
	v, err, _ := r.group.Do(key, func() (any, error) {
		l, err := r.backend.ListDirectory(ctx, dir, descendants)
		if err != nil {
			return nil, err
		}
		if r.cache != nil {
			r.cache.Set(key, l)
		}
		return l, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Listing), nil
}

// Harvest collects every image-like file under dir, descending into each
// folder once. Declared names are paths relative to dir.
func (r *Resolver) Harvest(ctx context.Context, dir string) []model.ResolvedDependency {
	root := strings.Trim(model.JoinPath(dir), "/")
	visited := make(map[string]bool)
	seenFiles := make(map[string]bool)
	var out []model.ResolvedDependency

	var walk func(folder string)
	walk = func(folder string) {
		// Folders differing only by case are distinct on case-sensitive stores.
		key := strings.Trim(model.JoinPath(folder), "/")
		if visited[key] || ctx.Err() != nil {
			return
		}
		visited[key] = true

		listing, err := r.list(ctx, folder, false)
		if err != nil {
			r.log.Debug("harvest listing failed", zap.String("dir", folder), zap.Error(err))
			return
		}
		for _, f := range listing.Files {
			if !r.h.IsTexture(f.Name) || seenFiles[f.ID] {
				continue
			}
			seenFiles[f.ID] = true
			out = append(out, model.ResolvedDependency{
				RemoteID:     f.ID,
				DeclaredName: relativeTo(root, f.Path, f.Name),
				ResolvedName: f.Name,
			})
		}
		for _, sub := range listing.Folders {
			p := sub.Path
			if p == "" {
				p = model.JoinPath(folder, sub.Name)
			}
			walk(p)
		}
	}
	walk(dir)

	r.log.Debug("harvested", zap.String("dir", dir), zap.Int("files", len(out)))
	return out
}

func relativeTo(root, p, name string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return name
	}
	if root == "" {
		return p
	}
	if strings.HasPrefix(strings.ToLower(p), strings.ToLower(root)+"/") {
		return p[len(root)+1:]
	}
	return name
}
