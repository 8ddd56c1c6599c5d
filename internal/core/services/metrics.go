package services

import (
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
)

// computeMetrics scores a set of annotated sessions over the pass's
// embedding space. All sampling is driven by rng so metric output is
// reproducible for a seed.
func computeMetrics(
	sessions []domain.Session,
	pass *embeddingPass,
	cfg domain.EngineConfig,
	rng *rand.Rand,
) domain.MetricSet {
	m := domain.MetricSet{
		SessionCount:     len(sessions),
		SizeDistribution: sizeDistribution(sessions),
	}
	if len(sessions) == 0 {
		return m
	}

	var (
		mibcsSum      float64
		mibcsCount    int
		varianceSum   float64
		singletons    int
		giants        int
		pure          int
		requestsTotal int
	)

	for _, s := range sessions {
		requestsTotal += s.Size()

		if s.MIBCS != nil {
			mibcsSum += *s.MIBCS
			mibcsCount++
			varianceSum += 1 - *s.MIBCS
		}
		if s.Size() <= cfg.SingletonSize {
			singletons++
		}
		if s.Size() > cfg.GiantThreshold {
			giants++
		}
		if prefixDominated(s, pass) {
			pure++
		}
	}

	if mibcsCount > 0 {
		m.MIBCS = mibcsSum / float64(mibcsCount)
	}
	m.MIBCSSessions = mibcsCount
	m.RequestCount = requestsTotal
	m.BPS = float64(pure) / float64(len(sessions))
	m.SingletonRate = float64(singletons) / float64(len(sessions))
	m.GiantRate = float64(giants) / float64(len(sessions))
	m.ThematicVariance = varianceSum / float64(len(sessions))

	m.Silhouette, m.SilhouetteSamples = silhouette(sessions, pass, cfg.SilhouetteSampleCap, rng)

	m.MeanBundleSize, m.MedianBundleSize = sizeMoments(sessions)
	m.OptScore = optScore(m, cfg.Weights)

	return m
}

// optScore is the weighted composite of the six components.
func optScore(m domain.MetricSet, w domain.OptScoreWeights) float64 {
	return w.Alpha*m.MIBCS +
		w.Beta*m.Silhouette +
		w.Gamma*m.BPS -
		w.Delta*m.SingletonRate -
		w.Epsilon*m.GiantRate -
		w.Zeta*m.ThematicVariance
}

// prefixDominated reports whether one URL prefix (the first two path
// segments) accounts for at least the purity share of the session.
func prefixDominated(s domain.Session, pass *embeddingPass) bool {
	counts := make(map[string]int)
	total := 0
	best := 0
	for _, id := range s.RequestIDs {
		idx, ok := pass.rowOf[id]
		if !ok {
			continue
		}
		prefix := urlPrefix(pass.requests[idx].Path)
		counts[prefix]++
		total++
		if counts[prefix] > best {
			best = counts[prefix]
		}
	}
	if total == 0 {
		return false
	}
	return float64(best) >= domain.PurityShare*float64(total)
}

// urlPrefix returns the first PurityPrefixSegments path segments.
func urlPrefix(path string) string {
	segments := make([]string, 0, domain.PurityPrefixSegments)
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		segments = append(segments, seg)
		if len(segments) == domain.PurityPrefixSegments {
			break
		}
	}
	return "/" + strings.Join(segments, "/")
}

// silhouette computes the cosine-distance silhouette over the
// concatenated rows, labelled by session. Singleton members contribute
// 0. When the pass exceeds sampleCap requests, a uniform seeded sample
// is scored instead; returns the mean and the scored sample size.
func silhouette(
	sessions []domain.Session,
	pass *embeddingPass,
	sampleCap int,
	rng *rand.Rand,
) (float64, int) {
	if len(sessions) < 2 {
		return 0, 0
	}

	// Member rows per session, deterministic order.
	members := make([][]int, len(sessions))
	type element struct{ session, row int }
	var elements []element
	for si, s := range sessions {
		members[si] = pass.rowIndices(s)
		for _, row := range members[si] {
			elements = append(elements, element{session: si, row: row})
		}
	}
	if len(elements) == 0 {
		return 0, 0
	}

	sample := elements
	if len(elements) > sampleCap {
		perm := rng.Perm(len(elements))[:sampleCap]
		sort.Ints(perm)
		sample = make([]element, sampleCap)
		for i, p := range perm {
			sample[i] = elements[p]
		}
	}

	var sum float64
	for _, el := range sample {
		own := members[el.session]
		if len(own) < 2 {
			continue // singleton contributes 0
		}

		a := meanDistance(pass.rows, el.row, own, true)

		b := 2.0 // cosine distance is bounded by 2
		for si, other := range sessions {
			if si == el.session || other.Size() == 0 {
				continue
			}
			if d := meanDistance(pass.rows, el.row, members[si], false); d < b {
				b = d
			}
		}

		if max := maxOf(a, b); max > 0 {
			sum += (b - a) / max
		}
	}

	return sum / float64(len(sample)), len(sample)
}

// meanDistance is the mean cosine distance (1 - cosine) from row i to
// the given rows, optionally excluding i itself.
func meanDistance(rows [][]float64, i int, targets []int, excludeSelf bool) float64 {
	var sum float64
	count := 0
	for _, j := range targets {
		if excludeSelf && j == i {
			continue
		}
		sum += 1 - cosine(rows[i], rows[j])
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func maxOf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// sizeMoments returns the mean and median session size.
func sizeMoments(sessions []domain.Session) (mean, median float64) {
	sizes := make([]float64, len(sessions))
	var sum float64
	for i, s := range sessions {
		sizes[i] = float64(s.Size())
		sum += sizes[i]
	}
	sort.Float64s(sizes)

	mean = sum / float64(len(sizes))
	mid := len(sizes) / 2
	if len(sizes)%2 == 1 {
		median = sizes[mid]
	} else {
		median = (sizes[mid-1] + sizes[mid]) / 2
	}
	return mean, median
}

// sizeDistribution buckets session sizes: "1".."5", "6-10", ">10".
func sizeDistribution(sessions []domain.Session) map[string]int {
	dist := make(map[string]int)
	for _, s := range sessions {
		size := s.Size()
		var bucket string
		switch {
		case size <= 5:
			bucket = strconv.Itoa(size)
		case size <= 10:
			bucket = "6-10"
		default:
			bucket = ">10"
		}
		dist[bucket]++
	}
	return dist
}
