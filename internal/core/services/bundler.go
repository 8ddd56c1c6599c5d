package services

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
	"github.com/custodia-labs/fanout-cli/internal/core/ports/driving"
	"github.com/custodia-labs/fanout-cli/internal/logger"
)

// Ensure BundleService implements the interface.
var _ driving.BundleService = (*BundleService)(nil)

// BundleService groups time-sorted requests into sessions by gap
// threshold. Cross-provider merging is forbidden: each provider
// partition is bundled independently.
type BundleService struct {
	cfg domain.EngineConfig
}

// NewBundleService creates a bundler with the given configuration.
func NewBundleService(cfg domain.EngineConfig) *BundleService {
	return &BundleService{cfg: cfg}
}

// Bundle partitions the requests by provider and emits sessions where
// every consecutive member pair has a gap of at most windowMS.
// Emission order is deterministic: providers ascending, then session
// start time ascending.
func (s *BundleService) Bundle(
	ctx context.Context, requests []domain.Request, windowMS int64,
) ([]domain.Session, error) {
	partitions, providers := s.partition(requests)

	var sessions []domain.Session
	for _, provider := range providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		partition := partitions[provider]
		if err := s.orderPartition(provider, partition); err != nil {
			return nil, err
		}

		sessions = append(sessions, s.bundlePartition(provider, partition, windowMS)...)
	}

	logger.Debug("Bundled %d requests into %d sessions (window %d ms)",
		len(requests), len(sessions), windowMS)

	return sessions, nil
}

// partition splits requests by provider, keeping input order, and
// returns the providers in ascending order.
func (s *BundleService) partition(
	requests []domain.Request,
) (map[domain.Provider][]domain.Request, []domain.Provider) {
	partitions := make(map[domain.Provider][]domain.Request)
	for _, req := range requests {
		partitions[req.Provider] = append(partitions[req.Provider], req)
	}

	providers := make([]domain.Provider, 0, len(partitions))
	for provider := range partitions {
		providers = append(providers, provider)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })

	return partitions, providers
}

// orderPartition ensures a partition is in ascending timestamp order.
// With pre-sorting enabled it stable-sorts, so requests with identical
// timestamps keep their relative input order. Otherwise an out-of-order
// record is a hard error naming the provider and row.
func (s *BundleService) orderPartition(provider domain.Provider, partition []domain.Request) error {
	if s.cfg.PresortEnabled {
		sort.SliceStable(partition, func(i, j int) bool {
			return partition[i].Timestamp.Before(partition[j].Timestamp)
		})
		return nil
	}

	for i := 1; i < len(partition); i++ {
		if partition[i].Timestamp.Before(partition[i-1].Timestamp) {
			return fmt.Errorf("%w: provider %s row %d precedes row %d",
				domain.ErrInputOrder, provider, i, i-1)
		}
	}
	return nil
}

// bundlePartition runs the single-pass gap grouping over one sorted
// provider partition.
func (s *BundleService) bundlePartition(
	provider domain.Provider, partition []domain.Request, windowMS int64,
) []domain.Session {
	if len(partition) == 0 {
		return nil
	}

	var sessions []domain.Session
	seq := 0
	buffer := []domain.Request{partition[0]}

	flush := func() {
		sessions = append(sessions, s.emit(provider, buffer, windowMS, seq))
		seq++
	}

	for _, req := range partition[1:] {
		gap := req.UnixMilli() - buffer[len(buffer)-1].UnixMilli()
		if gap <= windowMS {
			buffer = append(buffer, req)
			continue
		}
		flush()
		buffer = []domain.Request{req}
	}
	flush()

	return sessions
}

// emit builds the session row for a completed buffer.
func (s *BundleService) emit(
	provider domain.Provider, buffer []domain.Request, windowMS int64, seq int,
) domain.Session {
	ids := make([]string, len(buffer))
	for i, req := range buffer {
		ids[i] = req.ID
	}

	session := domain.Session{
		ID:         domain.SessionID(provider, buffer[0].Timestamp, seq),
		Provider:   provider,
		StartTS:    buffer[0].Timestamp,
		EndTS:      buffer[len(buffer)-1].Timestamp,
		RequestIDs: ids,
		WindowUsed: windowMS,
	}
	if s.cfg.RefinementEnabled {
		session.RefinementOrigin = domain.RefinementOriginInitial
	}
	if len(buffer) <= s.cfg.SingletonSize {
		session.Flags = append(session.Flags, domain.FlagSingleton)
	}
	if len(buffer) > s.cfg.GiantThreshold {
		session.Flags = append(session.Flags, domain.FlagGiant)
	}

	return session
}

// DeltaStats computes inter-request gap statistics per provider.
// Gaps are measured between consecutive requests after sorting; the
// first request of each partition contributes none.
func (s *BundleService) DeltaStats(
	ctx context.Context, requests []domain.Request,
) (map[domain.Provider]domain.DeltaStats, error) {
	partitions, providers := s.partition(requests)

	stats := make(map[domain.Provider]domain.DeltaStats, len(providers))
	for _, provider := range providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		partition := partitions[provider]
		sort.SliceStable(partition, func(i, j int) bool {
			return partition[i].Timestamp.Before(partition[j].Timestamp)
		})
		stats[provider] = deltaStats(gapsMS(partition))
	}

	return stats, nil
}

// CandidateWindows derives candidate gap thresholds from the pooled
// gap distribution at the requested percentiles.
func (s *BundleService) CandidateWindows(
	ctx context.Context, requests []domain.Request, percentiles []float64,
) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	partitions, providers := s.partition(requests)

	var deltas []float64
	for _, provider := range providers {
		partition := partitions[provider]
		sort.SliceStable(partition, func(i, j int) bool {
			return partition[i].Timestamp.Before(partition[j].Timestamp)
		})
		deltas = append(deltas, gapsMS(partition)...)
	}

	if len(deltas) == 0 {
		return nil, nil
	}
	sort.Float64s(deltas)

	seen := make(map[int64]struct{})
	var windows []int64
	for _, p := range percentiles {
		w := int64(math.Round(percentile(deltas, p)))
		if w < 1 {
			w = 1
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		windows = append(windows, w)
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i] < windows[j] })

	return windows, nil
}

// gapsMS returns consecutive gaps in milliseconds for a sorted partition.
func gapsMS(partition []domain.Request) []float64 {
	if len(partition) < 2 {
		return nil
	}
	gaps := make([]float64, 0, len(partition)-1)
	for i := 1; i < len(partition); i++ {
		gaps = append(gaps, float64(partition[i].UnixMilli()-partition[i-1].UnixMilli()))
	}
	return gaps
}

// deltaStats summarises a gap sample.
func deltaStats(gaps []float64) domain.DeltaStats {
	if len(gaps) == 0 {
		return domain.DeltaStats{Percentiles: map[string]float64{}}
	}

	sorted := make([]float64, len(gaps))
	copy(sorted, gaps)
	sort.Float64s(sorted)

	var sum float64
	for _, g := range gaps {
		sum += g
	}
	mean := sum / float64(len(gaps))

	var sq float64
	for _, g := range gaps {
		d := g - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(gaps)))

	return domain.DeltaStats{
		Count:    len(gaps),
		MeanMS:   mean,
		MedianMS: percentile(sorted, 50),
		StdMS:    std,
		MinMS:    sorted[0],
		MaxMS:    sorted[len(sorted)-1],
		Percentiles: map[string]float64{
			"p50": percentile(sorted, 50),
			"p75": percentile(sorted, 75),
			"p90": percentile(sorted, 90),
			"p95": percentile(sorted, 95),
			"p99": percentile(sorted, 99),
		},
	}
}

// percentile computes the p-th percentile of a sorted sample with
// linear interpolation between adjacent ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo < 0 {
		lo = 0
	}
	if hi >= len(sorted) {
		hi = len(sorted) - 1
	}
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
