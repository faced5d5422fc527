package resolve

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/rcliao/modeldeps/internal/backend"
	"github.com/rcliao/modeldeps/internal/model"
)

// Tier identifies one strategy in the resolution chain.
type Tier string

const (
	TierDirect Tier = "direct"
	TierExact  Tier = "exact"
	TierFuzzy  Tier = "fuzzy"
	TierSubdir Tier = "subdir"
)

// Strategy is one resolution tier. Resolve returns ok=false to hand the
// query to the next tier.
type Strategy interface {
	Tier() Tier
	Resolve(ctx context.Context, q *Query) (Resolution, bool)
}

// DefaultStrategies returns the tiers in resolution order.
func DefaultStrategies() []Strategy {
	return []Strategy{DirectStrategy{}, ExactStrategy{}, FuzzyStrategy{}, SubdirStrategy{}}
}

// Query is one name being resolved in one directory. The directory
// listing is requested at most once and shared by every tier.
type Query struct {
	Dir  string
	Name string

	backend backend.Backend
	h       *Heuristics
	lister  func(ctx context.Context, dir string, descendants bool) (*model.Listing, error)
	log     *zap.Logger

	listed  bool
	listing *model.Listing
	listErr error
}

// Listing returns the directory listing with descendants, fetching it on
// first use.
func (q *Query) Listing(ctx context.Context) (*model.Listing, error) {
	if !q.listed {
		q.listing, q.listErr = q.lister(ctx, q.Dir, true)
		q.listed = true
		if q.listErr != nil {
			q.log.Debug("listing failed", zap.String("dir", q.Dir), zap.Error(q.listErr))
		}
	}
	return q.listing, q.listErr
}

// lookup probes a full path and converts the id into a Resolution.
func (q *Query) lookup(ctx context.Context, p string, tier Tier) (Resolution, bool) {
	id, err := q.backend.FindByPath(ctx, p)
	if err != nil {
		if backend.StatusOf(err) != backend.StatusNotFound {
			q.log.Debug("path lookup failed", zap.String("path", p), zap.Error(err))
		}
		return Resolution{}, false
	}
	return Resolution{
		Dependency: model.ResolvedDependency{
			RemoteID:     id,
			DeclaredName: q.Name,
			ResolvedName: model.BaseName(p),
		},
		Tier: tier,
	}, true
}

func (q *Query) fromEntry(f model.FileEntry, tier Tier, r Rule) Resolution {
	return Resolution{
		Dependency: model.ResolvedDependency{
			RemoteID:     f.ID,
			DeclaredName: q.Name,
			ResolvedName: f.Name,
		},
		Tier: tier,
		Rule: r,
	}
}

// DirectStrategy looks up dir/name as given. Textures are skipped since
// they are usually relocated and the lookup would just miss.
type DirectStrategy struct{}

func (DirectStrategy) Tier() Tier { return TierDirect }

func (s DirectStrategy) Resolve(ctx context.Context, q *Query) (Resolution, bool) {
	if q.h.IsTexture(q.Name) {
		return Resolution{}, false
	}
	return q.lookup(ctx, model.JoinPath(q.Dir, q.Name), s.Tier())
}

// ExactStrategy matches the listing case-insensitively, first by full
// path and then by base name in listing order.
type ExactStrategy struct{}

func (ExactStrategy) Tier() Tier { return TierExact }

func (s ExactStrategy) Resolve(ctx context.Context, q *Query) (Resolution, bool) {
	listing, err := q.Listing(ctx)
	if err != nil || listing == nil {
		return Resolution{}, false
	}
	want := model.JoinPath(q.Dir, q.Name)
	for _, f := range listing.Files {
		if f.Path != "" && strings.EqualFold(strings.Trim(f.Path, "/"), strings.Trim(want, "/")) {
			return q.fromEntry(f, s.Tier(), RuleNone), true
		}
	}
	base := model.BaseName(q.Name)
	for _, f := range listing.Files {
		if strings.EqualFold(f.Name, base) {
			return q.fromEntry(f, s.Tier(), RuleNone), true
		}
	}
	return Resolution{}, false
}

// FuzzyStrategy applies the fuzzy rules to a listing that succeeded.
type FuzzyStrategy struct{}

func (FuzzyStrategy) Tier() Tier { return TierFuzzy }

func (s FuzzyStrategy) Resolve(ctx context.Context, q *Query) (Resolution, bool) {
	listing, err := q.Listing(ctx)
	if err != nil || listing == nil {
		return Resolution{}, false
	}
	f, rule, ok := FindFuzzy(q.h, q.Name, listing.Files)
	if !ok {
		return Resolution{}, false
	}
	return q.fromEntry(f, s.Tier(), rule), true
}

// SubdirStrategy probes conventional texture folders under dir.
type SubdirStrategy struct{}

func (SubdirStrategy) Tier() Tier { return TierSubdir }

func (s SubdirStrategy) Resolve(ctx context.Context, q *Query) (Resolution, bool) {
	var folders []model.FolderEntry
	if listing, err := q.Listing(ctx); err == nil && listing != nil {
		folders = listing.Folders
	}
	base := model.BaseName(q.Name)
	for _, folder := range ProbeFolders(q.h, folders) {
		if ctx.Err() != nil {
			return Resolution{}, false
		}
		if res, ok := q.lookup(ctx, model.JoinPath(q.Dir, folder, base), s.Tier()); ok {
			return res, true
		}
	}
	return Resolution{}, false
}

// ProbeFolders returns the folder names to probe. When known folders are
// given, only probe names that exist are kept, spelled as they exist.
func ProbeFolders(h *Heuristics, known []model.FolderEntry) []string {
	if len(known) == 0 {
		return h.ProbeFolders
	}
	var out []string
	seen := make(map[string]bool)
	for _, probe := range h.ProbeFolders {
		key := strings.ToLower(probe)
		if seen[key] {
			continue
		}
		for _, f := range known {
			if strings.EqualFold(f.Name, probe) {
				seen[key] = true
				out = append(out, f.Name)
				break
			}
		}
	}
	return out
}
