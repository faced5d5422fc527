package resolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/modeldeps/internal/backend"
	"github.com/rcliao/modeldeps/internal/backend/memfs"
	"github.com/rcliao/modeldeps/internal/model"
)

func newTestResolver(t *testing.T, b backend.Backend, opts ...Option) *Resolver {
	t.Helper()
	r, err := New(b, nil, opts...)
	require.NoError(t, err)
	return r
}

func TestResolve_DirectTier(t *testing.T) {
	fs := memfs.New()
	id := fs.Add("models/wolf.mtl", []byte("newmtl a"))
	r := newTestResolver(t, fs)

	res, ok := r.Resolve(context.Background(), "models", "wolf.mtl")
	require.True(t, ok)
	assert.Equal(t, TierDirect, res.Tier)
	assert.Equal(t, id, res.Dependency.RemoteID)
	assert.Equal(t, "wolf.mtl", res.Dependency.ResolvedName)
	assert.Equal(t, int64(0), fs.ListCalls.Load())
}

func TestResolve_TextureSkipsDirectLookup(t *testing.T) {
	fs := memfs.New()
	fs.Add("models/eyes.png", []byte("png"))
	r := newTestResolver(t, fs)

	res, ok := r.Resolve(context.Background(), "models", "eyes.png")
	require.True(t, ok)
	assert.Equal(t, TierExact, res.Tier)
	assert.Equal(t, int64(0), fs.FindCalls.Load())
}

func TestResolve_ExactBeatsFuzzy(t *testing.T) {
	fs := memfs.New()
	fs.Add("models/wolf_fur_a.png", []byte("fuzzy"))
	exact := fs.Add("models/skins/WOLF_FUR.PNG", []byte("exact"))
	r := newTestResolver(t, fs)

	res, ok := r.Resolve(context.Background(), "models", "wolf_fur.png")
	require.True(t, ok)
	assert.Equal(t, TierExact, res.Tier)
	assert.Equal(t, exact, res.Dependency.RemoteID)
	assert.Equal(t, "WOLF_FUR.PNG", res.Dependency.ResolvedName)
	assert.Equal(t, "wolf_fur.png", res.Dependency.DeclaredName)
}

func TestResolve_ExactCaseInsensitive(t *testing.T) {
	fs := memfs.New()
	id := fs.Add("models/Wolf.MTL", []byte("newmtl a"))
	r := newTestResolver(t, fs)

	res, ok := r.Resolve(context.Background(), "models", "wolf.mtl")
	require.True(t, ok)
	assert.Equal(t, TierExact, res.Tier)
	assert.Equal(t, id, res.Dependency.RemoteID)
}

func TestResolve_FuzzyColorBody(t *testing.T) {
	fs := memfs.New()
	fs.Add("models/wolf.obj", []byte("mtllib wolf.mtl"))
	id := fs.Add("models/Textures/Wolf_Body.jpg", []byte("jpg"))
	r := newTestResolver(t, fs)

	res, ok := r.Resolve(context.Background(), "models", "wolf_col.jpg")
	require.True(t, ok)
	assert.Equal(t, TierFuzzy, res.Tier)
	assert.Equal(t, RuleColorBody, res.Rule)
	assert.Equal(t, id, res.Dependency.RemoteID)
}

type unlistable struct {
	*memfs.FS
}

func (u unlistable) ListDirectory(context.Context, string, bool) (*model.Listing, error) {
	return nil, errors.New("listing disabled")
}

func TestResolve_SubdirProbeWhenListingFails(t *testing.T) {
	fs := memfs.New()
	id := fs.Add("models/Textures/fur.png", []byte("png"))
	r := newTestResolver(t, unlistable{fs})

	res, ok := r.Resolve(context.Background(), "models", "fur.png")
	require.True(t, ok)
	assert.Equal(t, TierSubdir, res.Tier)
	assert.Equal(t, id, res.Dependency.RemoteID)
	// "textures" misses, "Textures" hits.
	assert.Equal(t, int64(2), fs.FindCalls.Load())
}

func TestResolve_SubdirProbePrunedToKnownFolders(t *testing.T) {
	fs := memfs.New()
	id := fs.Add("models/TEXTURES/fur.png", []byte("png"))
	fs.AddFolder("models/meshes")
	r := newTestResolver(t, fs, WithStrategies(SubdirStrategy{}))

	res, ok := r.Resolve(context.Background(), "models", "fur.png")
	require.True(t, ok)
	assert.Equal(t, id, res.Dependency.RemoteID)
	assert.Equal(t, int64(1), fs.FindCalls.Load())
}

func TestResolve_MissingListsOnce(t *testing.T) {
	fs := memfs.New()
	fs.Add("models/wolf.obj", []byte("v 0 0 0"))
	fs.AddFolder("models/Textures")
	r := newTestResolver(t, fs)

	_, ok := r.Resolve(context.Background(), "models", "ghost.png")
	assert.False(t, ok)
	assert.Equal(t, int64(1), fs.ListCalls.Load())
	// Only the existing Textures folder is probed.
	assert.Equal(t, int64(1), fs.FindCalls.Load())
}

func TestResolve_EmptyName(t *testing.T) {
	r := newTestResolver(t, memfs.New())
	_, ok := r.Resolve(context.Background(), "models", "  ")
	assert.False(t, ok)
}

func TestResolve_ListingCacheSharesListings(t *testing.T) {
	fs := memfs.New()
	fs.Add("models/a.png", []byte("a"))
	fs.Add("models/b.png", []byte("b"))

	cache, err := NewMemoryListingCache(time.Minute)
	require.NoError(t, err)
	defer cache.Close()
	r := newTestResolver(t, fs, WithListingCache(cache))

	ctx := context.Background()
	_, ok := r.Resolve(ctx, "models", "a.png")
	require.True(t, ok)
	_, ok = r.Resolve(ctx, "models", "B.PNG")
	require.True(t, ok)
	assert.Equal(t, int64(1), fs.ListCalls.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestStrategies_Independent(t *testing.T) {
	fs := memfs.New()
	fs.Add("models/wolf.mtl", []byte("x"))
	r := newTestResolver(t, fs)
	ctx := context.Background()

	_, ok := DirectStrategy{}.Resolve(ctx, r.NewQuery("models", "Wolf.mtl"))
	assert.False(t, ok)
	_, ok = ExactStrategy{}.Resolve(ctx, r.NewQuery("models", "Wolf.mtl"))
	assert.True(t, ok)
	_, ok = FuzzyStrategy{}.Resolve(ctx, r.NewQuery("models", "wolf_old.mtl"))
	assert.True(t, ok)
}

func TestHarvest(t *testing.T) {
	fs := memfs.New()
	fs.Add("models/fbx/wolf.fbx", []byte("fbx"))
	fs.Add("models/fbx/a.png", []byte("a"))
	fs.Add("models/fbx/notes.txt", []byte("n"))
	fs.Add("models/fbx/Textures/b.jpg", []byte("b"))
	fs.Add("models/fbx/Textures/deep/c.tga", []byte("c"))
	fs.Add("models/other/d.png", []byte("d"))
	r := newTestResolver(t, fs)

	deps := r.Harvest(context.Background(), "models/fbx")
	var names []string
	for _, d := range deps {
		names = append(names, d.DeclaredName)
	}
	assert.Equal(t, []string{"a.png", "Textures/b.jpg", "Textures/deep/c.tga"}, names)
	assert.Equal(t, "c.tga", deps[2].ResolvedName)
	assert.Equal(t, int64(3), fs.ListCalls.Load())
}

// loopFS lists a folder that points back at itself.
type loopFS struct {
	lists int
}

func (l *loopFS) FindByPath(context.Context, string) (string, error) { return "", errors.New("no") }

func (l *loopFS) ListDirectory(context.Context, string, bool) (*model.Listing, error) {
	l.lists++
	return &model.Listing{
		Files:   []model.FileEntry{{ID: "x", Name: "x.png", Path: "a/x.png"}},
		Folders: []model.FolderEntry{{Name: "self", Path: "a/"}},
	}, nil
}

func (l *loopFS) FetchByID(context.Context, string) ([]byte, string, error) {
	return nil, "", errors.New("no")
}

func TestHarvest_VisitsEachFolderOnce(t *testing.T) {
	l := &loopFS{}
	r := newTestResolver(t, l)

	deps := r.Harvest(context.Background(), "a")
	assert.Len(t, deps, 1)
	assert.Equal(t, 1, l.lists)
}

func TestHarvest_FoldersDifferingByCase(t *testing.T) {
	fs := memfs.New()
	upper := fs.Add("m/Tex/a.png", []byte("a"))
	lower := fs.Add("m/tex/b.png", []byte("b"))
	r := newTestResolver(t, fs)

	deps := r.Harvest(context.Background(), "m")
	require.Len(t, deps, 2)
	assert.Equal(t, "Tex/a.png", deps[0].DeclaredName)
	assert.Equal(t, upper, deps[0].RemoteID)
	assert.Equal(t, "tex/b.png", deps[1].DeclaredName)
	assert.Equal(t, lower, deps[1].RemoteID)
}
