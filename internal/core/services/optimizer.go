package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
	"github.com/custodia-labs/fanout-cli/internal/core/ports/driven"
	"github.com/custodia-labs/fanout-cli/internal/core/ports/driving"
	"github.com/custodia-labs/fanout-cli/internal/logger"
	"github.com/custodia-labs/fanout-cli/internal/tokenize"
)

// Ensure OptimizeService implements the interface.
var _ driving.OptimizeService = (*OptimizeService)(nil)

// sourcePageSize bounds request-source pages for memory-limited runs.
const sourcePageSize = 5000

// fullPassFold marks the whole-population evaluation in task results.
const fullPassFold = -1

// OptimizeService sweeps the candidate windows, evaluates each across
// temporal folds, and assembles the confidence-rated report.
//
// Evaluations of distinct (window, fold) pairs run in parallel over the
// shared read-only request snapshot; each evaluation is sequential
// inside and owns its own seeded sampler and TF-IDF vocabulary.
type OptimizeService struct {
	source    driven.RequestSource
	sink      driven.SessionSink
	embedder  driven.Embedder
	tokenizer *tokenize.Tokenizer
}

// NewOptimizeService creates an optimizer over the given collaborators.
func NewOptimizeService(
	source driven.RequestSource,
	sink driven.SessionSink,
	embedder driven.Embedder,
) *OptimizeService {
	return &OptimizeService{
		source:    source,
		sink:      sink,
		embedder:  embedder,
		tokenizer: tokenize.New(),
	}
}

// evalTask is one (window, fold) evaluation unit.
type evalTask struct {
	windowMS int64
	fold     int // fullPassFold for the whole population
	subset   []domain.Request
}

// evalOutcome is what a finished task sends to the aggregator.
type evalOutcome struct {
	windowMS int64
	fold     int
	metrics  domain.MetricSet
	perProv  map[domain.Provider]domain.MetricSet
	sessions []domain.Session // full pass only
	skip     string           // non-empty when the evaluation was skipped
}

// Run executes the full optimization pipeline and returns the report.
// ConfigError and InputOrderError abort immediately; per-evaluation
// failures are captured as warnings on the report.
func (o *OptimizeService) Run(ctx context.Context, cfg domain.EngineConfig) (*domain.OptScoreReport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Section("Window Optimization")

	requests, total, err := o.loadSnapshot(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("Snapshot: %d records, %d after filtering", total, len(requests))

	report := &domain.OptScoreReport{
		RunID:            uuid.New().String(),
		GeneratedAt:      time.Now().UTC(),
		Seed:             cfg.Seed,
		Folds:            cfg.Folds,
		TotalRequests:    total,
		FilteredRequests: len(requests),
	}

	breakdown := o.providerBreakdownSet(requests, report)

	outcomes, err := o.runEvaluations(ctx, cfg, requests)
	if err != nil {
		return nil, err
	}

	winner := o.assemble(cfg, report, outcomes, breakdown)

	if winner != nil {
		if err := o.persist(ctx, winner, report); err != nil {
			return nil, err
		}
	}

	return report, nil
}

// loadSnapshot pages the whole source, applies category and provider
// filtering, and time-sorts the snapshot for fold partitioning.
func (o *OptimizeService) loadSnapshot(
	ctx context.Context, cfg domain.EngineConfig,
) ([]domain.Request, int, error) {
	var all []domain.Request
	offset := 0
	for {
		page, err := o.source.Fetch(ctx, offset, sourcePageSize)
		if err != nil {
			return nil, 0, fmt.Errorf("fetch requests at offset %d: %w", offset, err)
		}
		all = append(all, page...)
		offset += len(page)
		if len(page) < sourcePageSize {
			break
		}
	}

	filtered := make([]domain.Request, 0, len(all))
	for _, req := range all {
		if cfg.FilterCategory != "" && req.Category != cfg.FilterCategory {
			continue
		}
		if cfg.ProviderExcluded(req.Provider) {
			continue
		}
		filtered = append(filtered, req)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.Before(filtered[j].Timestamp)
	})

	return filtered, len(all), nil
}

// providerBreakdownSet records which providers have enough requests for
// per-provider metrics and warns about the rest.
func (o *OptimizeService) providerBreakdownSet(
	requests []domain.Request, report *domain.OptScoreReport,
) map[domain.Provider]bool {
	counts := make(map[domain.Provider]int)
	for _, req := range requests {
		counts[req.Provider]++
	}

	providers := make([]domain.Provider, 0, len(counts))
	for provider := range counts {
		providers = append(providers, provider)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })

	breakdown := make(map[domain.Provider]bool, len(counts))
	for _, provider := range providers {
		if counts[provider] >= domain.MinSupportSessions {
			breakdown[provider] = true
			continue
		}
		logger.Warn("Provider %s has only %d requests, excluded from per-provider metrics",
			provider, counts[provider])
		report.Warnings = append(report.Warnings, domain.Warning{
			Kind:     domain.WarnEmptyPartition,
			Provider: provider,
			Message: fmt.Sprintf("provider %s has %d requests, below the support floor of %d",
				provider, counts[provider], domain.MinSupportSessions),
		})
	}

	return breakdown
}

// runEvaluations executes every (window, fold) task on a bounded work
// pool. Finished results flow through a channel to the single
// aggregating reader; tasks share only the read-only snapshot.
func (o *OptimizeService) runEvaluations(
	ctx context.Context, cfg domain.EngineConfig, requests []domain.Request,
) (map[int64]map[int]evalOutcome, error) {
	windows := cfg.SortedWindows()
	folds := foldSlices(requests, cfg.Folds)

	var tasks []evalTask
	for _, w := range windows {
		tasks = append(tasks, evalTask{windowMS: w, fold: fullPassFold, subset: requests})
		for f, subset := range folds {
			tasks = append(tasks, evalTask{windowMS: w, fold: f, subset: subset})
		}
	}

	workers := runtime.NumCPU()
	if workers > len(tasks) {
		workers = len(tasks)
	}
	logger.Debug("Running %d evaluations on %d workers", len(tasks), workers)

	results := make(chan evalOutcome, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			outcome, err := o.evaluate(gctx, cfg, task)
			if err != nil {
				return err
			}
			results <- outcome
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(results)

	outcomes := make(map[int64]map[int]evalOutcome, len(windows))
	for outcome := range results {
		if outcomes[outcome.windowMS] == nil {
			outcomes[outcome.windowMS] = make(map[int]evalOutcome, cfg.Folds+1)
		}
		outcomes[outcome.windowMS][outcome.fold] = outcome
	}
	return outcomes, nil
}

// evaluate runs bundler -> embedder -> refiner -> metrics for one task.
// A degenerate vocabulary skips the evaluation with a recorded reason
// instead of failing the run.
func (o *OptimizeService) evaluate(
	ctx context.Context, cfg domain.EngineConfig, task evalTask,
) (evalOutcome, error) {
	outcome := evalOutcome{windowMS: task.windowMS, fold: task.fold}

	rng := rand.New(rand.NewSource(taskSeed(cfg.Seed, task.windowMS, task.fold)))
	bundler := NewBundleService(cfg)
	refiner := NewRefinerService(cfg)

	sessions, err := bundler.Bundle(ctx, task.subset, task.windowMS)
	if err != nil {
		return outcome, err
	}
	if len(sessions) == 0 {
		outcome.skip = "no sessions produced"
		return outcome, nil
	}

	pass, err := buildPass(ctx, task.subset, o.tokenizer, o.embedder)
	if err != nil {
		if errors.Is(err, domain.ErrEmbeddingDegenerate) {
			outcome.skip = "embedding vocabulary is empty"
			return outcome, nil
		}
		return outcome, err
	}

	pass.annotate(sessions, cfg, rng)

	refined, err := refiner.Refine(ctx, sessions, pass, rng)
	if err != nil {
		return outcome, err
	}

	outcome.metrics = computeMetrics(refined, pass, cfg, rng)

	if task.fold == fullPassFold {
		outcome.sessions = refined
		outcome.perProv = perProviderMetrics(refined, pass, cfg, rng)
	}

	return outcome, nil
}

// perProviderMetrics repeats the scoring on each provider
// sub-population of the refined sessions. Providers are scored in
// ascending order: the shared sampler is consumed in a fixed sequence,
// so results stay bit-identical for a seed.
func perProviderMetrics(
	sessions []domain.Session,
	pass *embeddingPass,
	cfg domain.EngineConfig,
	rng *rand.Rand,
) map[domain.Provider]domain.MetricSet {
	byProvider := make(map[domain.Provider][]domain.Session)
	for _, s := range sessions {
		byProvider[s.Provider] = append(byProvider[s.Provider], s)
	}

	providers := make([]domain.Provider, 0, len(byProvider))
	for provider := range byProvider {
		providers = append(providers, provider)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })

	out := make(map[domain.Provider]domain.MetricSet, len(byProvider))
	for _, provider := range providers {
		out[provider] = computeMetrics(byProvider[provider], pass, cfg, rng)
	}
	return out
}

// assemble ranks the windows, derives fold statistics and confidence,
// and attaches the recommendation. It returns the winning full-pass
// outcome, or nil when nothing is supported.
func (o *OptimizeService) assemble(
	cfg domain.EngineConfig,
	report *domain.OptScoreReport,
	outcomes map[int64]map[int]evalOutcome,
	breakdown map[domain.Provider]bool,
) *evalOutcome {
	windows := cfg.SortedWindows()

	results := make([]domain.WindowResult, 0, len(windows))
	supported := make(map[int64]bool, len(windows))
	for _, w := range windows {
		full := outcomes[w][fullPassFold]

		result := domain.WindowResult{
			WindowMS: w,
			Metrics:  full.metrics,
		}

		switch {
		case full.skip != "":
			result.SkipReason = full.skip
			kind := domain.WarnEmbeddingDegenerate
			if full.skip == "no sessions produced" {
				kind = domain.WarnLowSupport
			}
			report.Warnings = append(report.Warnings, domain.Warning{
				Kind:     kind,
				WindowMS: w,
				Message:  fmt.Sprintf("window %d ms skipped: %s", w, full.skip),
			})
		case full.metrics.SessionCount < domain.MinSupportSessions:
			result.SkipReason = fmt.Sprintf("only %d sessions, below the support floor of %d",
				full.metrics.SessionCount, domain.MinSupportSessions)
			report.Warnings = append(report.Warnings, domain.Warning{
				Kind:     domain.WarnLowSupport,
				WindowMS: w,
				Message:  fmt.Sprintf("window %d ms excluded from selection: %s", w, result.SkipReason),
			})
		default:
			result.Supported = true
			supported[w] = true
		}

		if result.Supported && len(full.perProv) > 0 {
			result.PerProvider = make(map[domain.Provider]domain.MetricSet)
			for provider, metrics := range full.perProv {
				if breakdown[provider] {
					result.PerProvider[provider] = metrics
				}
			}
		}

		result.Folds = foldStats(outcomes[w], cfg.Folds)
		results = append(results, result)
	}

	// Fold argmax counts over supported windows.
	for f := 0; f < cfg.Folds; f++ {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i := range results {
			if !results[i].Supported || f >= len(results[i].Folds.Scores) {
				continue
			}
			if score := results[i].Folds.Scores[f]; score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx >= 0 {
			results[bestIdx].Folds.ArgmaxCount++
		}
	}

	// Rank: OptScore descending, window ascending on ties.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Metrics.OptScore != results[j].Metrics.OptScore {
			return results[i].Metrics.OptScore > results[j].Metrics.OptScore
		}
		return results[i].WindowMS < results[j].WindowMS
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	report.Windows = results

	best, runnerUp := bestSupported(results)
	if best == nil {
		logger.Warn("No candidate window has sufficient support; no recommendation")
		report.Warnings = append(report.Warnings, domain.Warning{
			Kind:    domain.WarnNoRecommendation,
			Message: "no candidate window has sufficient support; no recommendation",
		})
		return nil
	}

	report.Recommendation = &domain.Recommendation{
		WindowMS:   best.WindowMS,
		OptScore:   best.Metrics.OptScore,
		Confidence: confidence(*best, runnerUp, cfg.Folds),
	}
	logger.Info("Recommended window: %d ms (%s confidence)",
		best.WindowMS, report.Recommendation.Confidence)

	full := outcomes[best.WindowMS][fullPassFold]
	return &full
}

// bestSupported returns the top-ranked supported window and, when
// present, the next supported one.
func bestSupported(results []domain.WindowResult) (best, runnerUp *domain.WindowResult) {
	for i := range results {
		if !results[i].Supported {
			continue
		}
		if best == nil {
			best = &results[i]
			continue
		}
		runnerUp = &results[i]
		break
	}
	return best, runnerUp
}

// confidence rates the winner against the fold evidence.
func confidence(best domain.WindowResult, runnerUp *domain.WindowResult, folds int) domain.Confidence {
	margin := math.Inf(1)
	if runnerUp != nil {
		margin = best.Metrics.OptScore - runnerUp.Metrics.OptScore
	}

	if best.Folds.ArgmaxCount == folds && margin > 2*best.Folds.Std {
		return domain.ConfidenceHigh
	}
	if best.Folds.ArgmaxCount >= (folds+1)/2 {
		return domain.ConfidenceMedium
	}
	return domain.ConfidenceLow
}

// foldStats collects the per-fold scores and their moments.
func foldStats(byFold map[int]evalOutcome, folds int) domain.FoldStats {
	stats := domain.FoldStats{Scores: make([]float64, 0, folds)}
	for f := 0; f < folds; f++ {
		outcome, ok := byFold[f]
		if !ok || outcome.skip != "" {
			stats.Scores = append(stats.Scores, 0)
			continue
		}
		stats.Scores = append(stats.Scores, outcome.metrics.OptScore)
	}

	var sum float64
	for _, s := range stats.Scores {
		sum += s
	}
	stats.Mean = sum / float64(len(stats.Scores))

	var sq float64
	for _, s := range stats.Scores {
		d := s - stats.Mean
		sq += d * d
	}
	stats.Std = math.Sqrt(sq / float64(len(stats.Scores)))

	return stats
}

// persist writes the winning window's sessions and the report.
// Both writes happen after every evaluation finished, so cancellation
// between evaluations leaves nothing partial in the sink.
func (o *OptimizeService) persist(
	ctx context.Context, winner *evalOutcome, report *domain.OptScoreReport,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.sink.WriteSessions(ctx, winner.sessions); err != nil {
		return fmt.Errorf("write sessions: %w", err)
	}
	if err := o.sink.WriteReport(ctx, report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	logger.Info("Persisted %d sessions for window %d ms", len(winner.sessions), winner.windowMS)
	return nil
}

// foldSlices splits the time-sorted snapshot into k contiguous
// temporal folds. Trailing folds absorb the remainder.
func foldSlices(requests []domain.Request, k int) [][]domain.Request {
	folds := make([][]domain.Request, 0, k)
	n := len(requests)
	for f := 0; f < k; f++ {
		lo := n * f / k
		hi := n * (f + 1) / k
		folds = append(folds, requests[lo:hi])
	}
	return folds
}

// taskSeed derives a per-task sampler seed so parallel evaluations stay
// independent yet reproducible for a run seed.
func taskSeed(seed, windowMS int64, fold int) int64 {
	return seed*1000003 + windowMS*31 + int64(fold) + 2
}
