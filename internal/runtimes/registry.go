package runtimes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Wangjien/snippetsHub/internal/model"
)

// maxParallelProbes caps how many version queries run at once.
const maxParallelProbes = 8

// snapshot is one immutable discovery result.
type snapshot struct {
	runtimes     []model.RuntimeInfo
	byName       map[string]int
	discoveredAt time.Time
}

// Registry resolves language tags against the probed catalog.
type Registry struct {
	catalog Catalog
	prober  Prober
	logger  *slog.Logger

	mu   sync.Mutex // serializes discovery passes
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a registry over catalog. Nothing is probed until the
// first call that needs runtime data.
func NewRegistry(catalog Catalog, prober Prober, logger *slog.Logger) *Registry {
	return &Registry{
		catalog: catalog,
		prober:  prober,
		logger:  logger,
	}
}

// Discover returns the cached runtime set, probing the catalog if no
// discovery has happened yet.
func (r *Registry) Discover(ctx context.Context) []model.RuntimeInfo {
	return cloneAll(r.current(ctx).runtimes)
}

// Refresh re-probes the whole catalog and atomically replaces the cache.
func (r *Registry) Refresh(ctx context.Context) []model.RuntimeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneAll(r.discover(ctx).runtimes)
}

// List returns every catalog entry with its availability, in catalog order.
func (r *Registry) List(ctx context.Context) []model.RuntimeInfo {
	return r.Discover(ctx)
}

// Available returns only the runtimes that passed their probe.
func (r *Registry) Available(ctx context.Context) []model.RuntimeInfo {
	all := r.current(ctx).runtimes
	out := make([]model.RuntimeInfo, 0, len(all))
	for _, ri := range all {
		if ri.Available {
			out = append(out, ri.Clone())
		}
	}
	return out
}

// Languages returns the set of available language tags.
func (r *Registry) Languages(ctx context.Context) mapset.Set[string] {
	set := mapset.NewSet[string]()
	for _, ri := range r.current(ctx).runtimes {
		if ri.Available {
			set.Add(ri.Language)
		}
	}
	return set
}

// DiscoveredAt reports when the current snapshot was taken, or the zero time
// if discovery has not run.
func (r *Registry) DiscoveredAt() time.Time {
	if s := r.snap.Load(); s != nil {
		return s.discoveredAt
	}
	return time.Time{}
}

// Resolve looks up language by tag or alias, case-insensitively. It fails
// with a RuntimeNotFound error when the language is unknown or its runtime
// is not installed.
func (r *Registry) Resolve(ctx context.Context, language string) (model.RuntimeInfo, error) {
	op := "resolve " + language
	key := strings.ToLower(strings.TrimSpace(language))
	if key == "" {
		return model.RuntimeInfo{}, model.NewError(model.KindInvalidRequest, "resolve", fmt.Errorf("language is required"))
	}

	s := r.current(ctx)
	i, ok := s.byName[key]
	if !ok {
		return model.RuntimeInfo{}, model.NewError(model.KindRuntimeNotFound, op, nil)
	}
	ri := s.runtimes[i]
	if !ri.Available {
		return model.RuntimeInfo{}, model.NewError(model.KindRuntimeNotFound, op,
			fmt.Errorf("%s is not installed (command %q)", ri.Name, ri.Command))
	}
	return ri.Clone(), nil
}

// current returns the active snapshot, running discovery on first use.
func (r *Registry) current(ctx context.Context) *snapshot {
	if s := r.snap.Load(); s != nil {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.snap.Load(); s != nil {
		return s
	}
	return r.discover(ctx)
}

// discover probes every entry and publishes a new snapshot. Callers hold mu.
// The snapshot is shared by every later caller, so probes ignore the
// triggering caller's cancellation.
func (r *Registry) discover(ctx context.Context) *snapshot {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	results := make([]model.RuntimeInfo, len(r.catalog))

	var g errgroup.Group
	g.SetLimit(maxParallelProbes)
	for i, e := range r.catalog {
		g.Go(func() error {
			results[i] = r.prober.Probe(ctx, e)
			return nil
		})
	}
	_ = g.Wait()

	s := &snapshot{
		runtimes:     results,
		byName:       make(map[string]int, len(results)*2),
		discoveredAt: time.Now(),
	}
	available := 0
	for i, e := range r.catalog {
		for _, n := range e.names() {
			if _, taken := s.byName[n]; !taken {
				s.byName[n] = i
			}
		}
		if results[i].Available {
			available++
		}
	}
	r.snap.Store(s)

	r.logger.Info("runtime discovery complete",
		"catalog", len(r.catalog),
		"available", available,
		"elapsed", time.Since(start),
	)
	return s
}

func cloneAll(in []model.RuntimeInfo) []model.RuntimeInfo {
	out := make([]model.RuntimeInfo, len(in))
	for i, ri := range in {
		out[i] = ri.Clone()
	}
	return out
}
