package services

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
	"github.com/custodia-labs/fanout-cli/internal/logger"
)

// RefinerService splits collision bundles: sessions merged by temporal
// proximity whose low MIBCS indicates several unrelated fan-outs.
//
// Provider isolation is preserved: the refiner only ever partitions a
// session's own members, never merges across sessions or providers.
type RefinerService struct {
	cfg domain.EngineConfig
}

// NewRefinerService creates a refiner with the given configuration.
func NewRefinerService(cfg domain.EngineConfig) *RefinerService {
	return &RefinerService{cfg: cfg}
}

// Refine applies collision detection to every candidate session and
// returns the refined set. A split replaces the parent with child
// sessions whose request ids partition the parent's; everything else
// passes through unchanged.
func (r *RefinerService) Refine(
	ctx context.Context,
	sessions []domain.Session,
	pass *embeddingPass,
	rng *rand.Rand,
) ([]domain.Session, error) {
	if !r.cfg.RefinementEnabled {
		return sessions, nil
	}

	refined := make([]domain.Session, 0, len(sessions))
	splits := 0

	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !r.candidate(s) {
			refined = append(refined, s)
			continue
		}

		children := r.split(s, pass, rng)
		if children == nil {
			if !s.HasFlag(domain.FlagLowCoherence) {
				s.Flags = append(s.Flags, domain.FlagLowCoherence)
			}
			refined = append(refined, s)
			continue
		}

		splits++
		refined = append(refined, children...)
	}

	if splits > 0 {
		logger.Debug("Refiner split %d collision bundles", splits)
	}

	return refined, nil
}

// candidate reports whether a session qualifies for split analysis:
// large enough, with a defined MIBCS below the coherence floor.
func (r *RefinerService) candidate(s domain.Session) bool {
	return s.Size() >= r.cfg.MinBundleSize &&
		s.MIBCS != nil &&
		*s.MIBCS < r.cfg.CoherenceFloor
}

// split attempts the graph-based split. It returns the child sessions,
// or nil when the split is rejected.
func (r *RefinerService) split(
	parent domain.Session,
	pass *embeddingPass,
	rng *rand.Rand,
) []domain.Session {
	indices := pass.rowIndices(parent)
	n := len(indices)
	if n < r.cfg.MinBundleSize {
		return nil
	}

	// Similarity graph over member positions. An edge exists when the
	// cosine reaches the threshold; with IP refinement on, members
	// sharing a client address are also connected.
	uf := newUnionFind(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if cosine(pass.rows[indices[i]], pass.rows[indices[j]]) >= r.cfg.SimilarityThreshold {
				uf.union(i, j)
				continue
			}
			if r.cfg.IPRefinementEnabled && sameClientIP(pass, indices[i], indices[j]) {
				uf.union(i, j)
			}
		}
	}

	components := uf.components()

	var large [][]int
	var residual []int
	for _, comp := range components {
		if len(comp) >= r.cfg.MinSubBundleSize {
			large = append(large, comp)
		} else {
			residual = append(residual, comp...)
		}
	}

	if len(large) < 2 {
		return nil
	}

	// The split must improve coherence: size-weighted mean of the
	// component MIBCS values against the parent's plus the margin.
	var weightedSum float64
	var weightTotal int
	for _, comp := range large {
		stats, ok := pairwiseStats(pass.rows, mapIndices(indices, comp), r.cfg.MaxIntraBundlePairs, rng)
		if !ok {
			return nil
		}
		weightedSum += stats.mean * float64(len(comp))
		weightTotal += len(comp)
	}
	if weightedSum/float64(weightTotal) <= *parent.MIBCS+r.cfg.MinMIBCSImprovement {
		return nil
	}

	// Attach residual members to the nearest large component.
	for _, pos := range residual {
		best := 0
		bestSim := -2.0
		for c, comp := range large {
			sim := meanCosineTo(pass.rows, indices[pos], mapIndices(indices, comp))
			if sim > bestSim {
				bestSim = sim
				best = c
			}
		}
		large[best] = append(large[best], pos)
	}

	// Deterministic child order: by earliest member position.
	for _, comp := range large {
		sort.Ints(comp)
	}
	sort.Slice(large, func(i, j int) bool { return large[i][0] < large[j][0] })

	children := make([]domain.Session, 0, len(large))
	for k, comp := range large {
		children = append(children, r.childSession(parent, pass, indices, comp, k))
	}
	pass.annotate(children, r.cfg, rng)

	return children
}

// childSession builds a child from a component's member positions.
func (r *RefinerService) childSession(
	parent domain.Session,
	pass *embeddingPass,
	indices []int,
	comp []int,
	seq int,
) domain.Session {
	ids := make([]string, len(comp))
	for i, pos := range comp {
		ids[i] = parent.RequestIDs[pos]
	}

	first := pass.requests[indices[comp[0]]]
	last := pass.requests[indices[comp[len(comp)-1]]]

	child := domain.Session{
		ID:               fmt.Sprintf("%s:s%d", parent.ID, seq),
		Provider:         parent.Provider,
		StartTS:          first.Timestamp,
		EndTS:            last.Timestamp,
		RequestIDs:       ids,
		WindowUsed:       parent.WindowUsed,
		RefinementOrigin: domain.SplitOrigin(parent.ID),
	}
	if len(comp) <= r.cfg.SingletonSize {
		child.Flags = append(child.Flags, domain.FlagSingleton)
	}
	if len(comp) > r.cfg.GiantThreshold {
		child.Flags = append(child.Flags, domain.FlagGiant)
	}

	return child
}

// meanCosineTo is the mean similarity from one row to a set of rows.
func meanCosineTo(rows [][]float64, from int, targets []int) float64 {
	var sum float64
	for _, t := range targets {
		sum += cosine(rows[from], rows[t])
	}
	return sum / float64(len(targets))
}

// mapIndices translates component member positions to row indices.
func mapIndices(indices []int, comp []int) []int {
	out := make([]int, len(comp))
	for i, pos := range comp {
		out[i] = indices[pos]
	}
	return out
}

// sameClientIP reports whether two rows share a non-empty client address.
func sameClientIP(pass *embeddingPass, i, j int) bool {
	a := pass.requests[i].ClientIP
	return a != "" && a == pass.requests[j].ClientIP
}

// unionFind is a standard disjoint-set over member positions.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		rank:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}

// components returns the member positions grouped by set, each group
// in ascending position order.
func (uf *unionFind) components() [][]int {
	groups := make(map[int][]int)
	for i := range uf.parent {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}

	roots := make([]int, 0, len(groups))
	for root := range groups {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	out := make([][]int, 0, len(groups))
	for _, root := range roots {
		out = append(out, groups[root])
	}
	return out
}
