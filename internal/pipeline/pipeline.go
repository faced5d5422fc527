// Package pipeline assembles the complete file set for one model load.
package pipeline

import (
	"context"
	"math/rand"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/rcliao/modeldeps/internal/fetch"
	"github.com/rcliao/modeldeps/internal/metrics"
	"github.com/rcliao/modeldeps/internal/model"
	"github.com/rcliao/modeldeps/internal/refs"
)

const (
	StatusLoaded            = "loaded"
	StatusLoadedWithMissing = "loaded_with_missing"
)

// Request identifies the main file of a load.
type Request struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	Dir      string `json:"dir"`
}

// Result is a LoadResult plus the request context that produced it.
type Result struct {
	model.LoadResult
	LoadID   string       `json:"load_id"`
	Filename string       `json:"filename"`
	Ext      string       `json:"ext"`
	Dir      string       `json:"dir"`
	Format   model.Format `json:"format"`
	Mode     string       `json:"mode"`
}

// Status reports whether every attempted dependency was loaded.
func (r *Result) Status() string {
	if r.Complete() {
		return StatusLoaded
	}
	return StatusLoadedWithMissing
}

// Harvester collects image files under a directory.
type Harvester interface {
	Harvest(ctx context.Context, dir string) []model.ResolvedDependency
}

// Pipeline runs loads against one orchestrator.
type Pipeline struct {
	fetcher   *fetch.Orchestrator
	harvester Harvester
	log       *zap.Logger

	mu      sync.Mutex
	entropy *rand.Rand
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// New creates a Pipeline.
func New(f *fetch.Orchestrator, h Harvester, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher:   f,
		harvester: h,
		log:       zap.NewNop(),
		entropy:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) newID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), p.entropy).String()
}

// LoadPath locates the main file by backend path and loads it.
func (p *Pipeline) LoadPath(ctx context.Context, filePath string) (*Result, error) {
	id, err := p.fetcher.LocateMain(ctx, filePath)
	if err != nil {
		return nil, err
	}
	filePath = strings.ReplaceAll(filePath, "\\", "/")
	dir := path.Dir(filePath)
	if dir == "." {
		dir = ""
	}
	return p.Load(ctx, Request{FileID: id, Filename: model.BaseName(filePath), Dir: dir})
}

// Load fetches the main file and every dependency it needs. Only a
// failure to fetch the main file is returned as an error; dependency
// failures are reported in MissingFiles.
func (p *Pipeline) Load(ctx context.Context, req Request) (*Result, error) {
	format := model.FormatFromName(req.Filename)
	res := &Result{
		LoadID:   p.newID(),
		Filename: req.Filename,
		Ext:      model.Ext(req.Filename),
		Dir:      req.Dir,
		Format:   format,
		Mode:     format.Mode().String(),
	}
	log := p.log.With(zap.String("load_id", res.LoadID), zap.String("file", req.Filename))
	start := time.Now()

	main, err := p.fetcher.FetchMain(ctx, req.FileID, req.Filename)
	if err != nil {
		log.Warn("main file fetch failed", zap.Error(err))
		metrics.RecordLoad(string(format), "failed")
		return nil, err
	}
	res.MainFile = main
	res.Dependencies = []model.FetchedFile{}
	res.MissingFiles = []string{}

	switch format.Mode() {
	case model.ModeDeclared:
		p.loadDeclared(ctx, res, req)
	case model.ModeHarvest:
		p.loadHarvested(ctx, res, req)
	}

	metrics.RecordLoad(string(format), res.Status())
	log.Info("load complete",
		zap.String("status", res.Status()),
		zap.Int("dependencies", len(res.Dependencies)),
		zap.Int("missing", len(res.MissingFiles)),
		zap.Duration("took", time.Since(start)),
	)
	return res, nil
}

// loadDeclared fetches what the main file names. OBJ models load their
// material libraries first, then the textures those libraries name.
func (p *Pipeline) loadDeclared(ctx context.Context, res *Result, req Request) {
	names := refs.Extract(res.Format, res.MainFile.Data)
	out := p.fetcher.FetchDeclared(ctx, req.FileID, req.Dir, names)
	res.add(out)

	if res.Format != model.FormatOBJ {
		return
	}

	var textures []string
	for _, lib := range out.Files {
		for _, t := range refs.TextureMaps(lib.Data) {
			if !res.attempted(t) {
				textures = append(textures, t)
			}
		}
	}
	if len(textures) == 0 {
		return
	}
	res.add(p.fetcher.FetchDeclared(ctx, req.FileID, req.Dir, textures))
}

// loadHarvested fetches every image file under the model's directory.
func (p *Pipeline) loadHarvested(ctx context.Context, res *Result, req Request) {
	if p.harvester == nil {
		return
	}
	var deps []model.ResolvedDependency
	for _, d := range p.harvester.Harvest(ctx, req.Dir) {
		if d.RemoteID != req.FileID {
			deps = append(deps, d)
		}
	}
	res.add(p.fetcher.FetchResolved(ctx, req.FileID, deps))
}

func (r *Result) add(out fetch.Outcome) {
	r.Dependencies = append(r.Dependencies, out.Files...)
	r.MissingFiles = append(r.MissingFiles, out.Missing...)
}

// attempted reports whether name was already loaded or found missing,
// compared case-insensitively.
func (r *Result) attempted(name string) bool {
	for _, f := range r.Dependencies {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	for _, m := range r.MissingFiles {
		if strings.EqualFold(m, name) {
			return true
		}
	}
	return false
}
