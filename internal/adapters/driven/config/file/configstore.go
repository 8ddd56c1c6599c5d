// Package file provides a TOML-backed engine configuration store.
package file

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
	"github.com/custodia-labs/fanout-cli/internal/core/ports/driven"
)

// Ensure ConfigStore implements the interface.
var _ driven.ConfigStore = (*ConfigStore)(nil)

// ConfigStore is a file-based implementation of driven.ConfigStore
// using TOML. Missing keys fall back to the engine defaults, so a
// partial file overrides only what it names.
type ConfigStore struct {
	mu       sync.Mutex
	filePath string
}

// fileConfig is the TOML layout. Pointer fields distinguish
// "absent, use default" from explicit zero values.
type fileConfig struct {
	CandidateWindowsMS  []int64  `toml:"candidate_windows_ms"`
	GiantThreshold      *int     `toml:"giant_threshold"`
	SingletonSize       *int     `toml:"singleton_size"`
	CoherenceFloor      *float64 `toml:"coherence_floor"`
	SimilarityThreshold *float64 `toml:"similarity_threshold"`
	MinBundleSize       *int     `toml:"min_bundle_size"`
	MinSubBundleSize    *int     `toml:"min_sub_bundle_size"`
	MinMIBCSImprovement *float64 `toml:"min_mibcs_improvement"`
	RefinementEnabled   *bool    `toml:"refinement_enabled"`
	IPRefinementEnabled *bool    `toml:"ip_refinement_enabled"`
	EmbeddingBackend    *string  `toml:"embedding_backend"`
	MaxIntraBundlePairs *int     `toml:"max_intra_bundle_pairs"`
	Folds               *int     `toml:"folds"`
	SilhouetteSampleCap *int     `toml:"silhouette_sample_cap"`
	Seed                *int64   `toml:"seed"`
	ExcludeProviders    []string `toml:"exclude_providers"`
	FilterCategory      *string  `toml:"filter_category"`
	PresortEnabled      *bool    `toml:"presort_enabled"`

	Weights *fileWeights `toml:"opt_score_weights"`
}

// fileWeights is the TOML layout of the OptScore weights.
type fileWeights struct {
	Alpha   *float64 `toml:"alpha"`
	Beta    *float64 `toml:"beta"`
	Gamma   *float64 `toml:"gamma"`
	Delta   *float64 `toml:"delta"`
	Epsilon *float64 `toml:"epsilon"`
	Zeta    *float64 `toml:"zeta"`
}

// NewConfigStore creates a TOML config store.
// If configPath is empty, defaults to ~/.fanout/config.toml.
func NewConfigStore(configPath string) (*ConfigStore, error) {
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		configPath = filepath.Join(home, ".fanout", "config.toml")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	return &ConfigStore{filePath: configPath}, nil
}

// Path returns the backing file path.
func (s *ConfigStore) Path() string {
	return s.filePath
}

// Load reads the configuration, applying defaults for missing keys.
// A missing file yields the defaults.
func (s *ConfigStore) Load() (domain.EngineConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := domain.DefaultEngineConfig()

	data, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	apply(&cfg, fc)
	return cfg, nil
}

// Save writes the configuration.
func (s *ConfigStore) Save(cfg domain.EngineConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fc := flatten(cfg)
	data, err := toml.Marshal(fc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(s.filePath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// apply overlays the present file values onto the defaults.
func apply(cfg *domain.EngineConfig, fc fileConfig) {
	if len(fc.CandidateWindowsMS) > 0 {
		cfg.CandidateWindowsMS = fc.CandidateWindowsMS
	}
	if fc.GiantThreshold != nil {
		cfg.GiantThreshold = *fc.GiantThreshold
	}
	if fc.SingletonSize != nil {
		cfg.SingletonSize = *fc.SingletonSize
	}
	if fc.CoherenceFloor != nil {
		cfg.CoherenceFloor = *fc.CoherenceFloor
	}
	if fc.SimilarityThreshold != nil {
		cfg.SimilarityThreshold = *fc.SimilarityThreshold
	}
	if fc.MinBundleSize != nil {
		cfg.MinBundleSize = *fc.MinBundleSize
	}
	if fc.MinSubBundleSize != nil {
		cfg.MinSubBundleSize = *fc.MinSubBundleSize
	}
	if fc.MinMIBCSImprovement != nil {
		cfg.MinMIBCSImprovement = *fc.MinMIBCSImprovement
	}
	if fc.RefinementEnabled != nil {
		cfg.RefinementEnabled = *fc.RefinementEnabled
	}
	if fc.IPRefinementEnabled != nil {
		cfg.IPRefinementEnabled = *fc.IPRefinementEnabled
	}
	if fc.EmbeddingBackend != nil {
		cfg.EmbeddingBackend = domain.EmbeddingBackend(*fc.EmbeddingBackend)
	}
	if fc.MaxIntraBundlePairs != nil {
		cfg.MaxIntraBundlePairs = *fc.MaxIntraBundlePairs
	}
	if fc.Folds != nil {
		cfg.Folds = *fc.Folds
	}
	if fc.SilhouetteSampleCap != nil {
		cfg.SilhouetteSampleCap = *fc.SilhouetteSampleCap
	}
	if fc.Seed != nil {
		cfg.Seed = *fc.Seed
	}
	if fc.ExcludeProviders != nil {
		cfg.ExcludeProviders = make([]domain.Provider, len(fc.ExcludeProviders))
		for i, p := range fc.ExcludeProviders {
			cfg.ExcludeProviders[i] = domain.Provider(p)
		}
	}
	if fc.FilterCategory != nil {
		cfg.FilterCategory = domain.BotCategory(*fc.FilterCategory)
	}
	if fc.PresortEnabled != nil {
		cfg.PresortEnabled = *fc.PresortEnabled
	}
	if fc.Weights != nil {
		w := &cfg.Weights
		if fc.Weights.Alpha != nil {
			w.Alpha = *fc.Weights.Alpha
		}
		if fc.Weights.Beta != nil {
			w.Beta = *fc.Weights.Beta
		}
		if fc.Weights.Gamma != nil {
			w.Gamma = *fc.Weights.Gamma
		}
		if fc.Weights.Delta != nil {
			w.Delta = *fc.Weights.Delta
		}
		if fc.Weights.Epsilon != nil {
			w.Epsilon = *fc.Weights.Epsilon
		}
		if fc.Weights.Zeta != nil {
			w.Zeta = *fc.Weights.Zeta
		}
	}
}

// flatten converts an engine config to the TOML layout.
func flatten(cfg domain.EngineConfig) fileConfig {
	providers := make([]string, len(cfg.ExcludeProviders))
	for i, p := range cfg.ExcludeProviders {
		providers[i] = p.String()
	}
	backend := cfg.EmbeddingBackend.String()
	category := string(cfg.FilterCategory)

	return fileConfig{
		CandidateWindowsMS:  cfg.CandidateWindowsMS,
		GiantThreshold:      &cfg.GiantThreshold,
		SingletonSize:       &cfg.SingletonSize,
		CoherenceFloor:      &cfg.CoherenceFloor,
		SimilarityThreshold: &cfg.SimilarityThreshold,
		MinBundleSize:       &cfg.MinBundleSize,
		MinSubBundleSize:    &cfg.MinSubBundleSize,
		MinMIBCSImprovement: &cfg.MinMIBCSImprovement,
		RefinementEnabled:   &cfg.RefinementEnabled,
		IPRefinementEnabled: &cfg.IPRefinementEnabled,
		EmbeddingBackend:    &backend,
		MaxIntraBundlePairs: &cfg.MaxIntraBundlePairs,
		Folds:               &cfg.Folds,
		SilhouetteSampleCap: &cfg.SilhouetteSampleCap,
		Seed:                &cfg.Seed,
		ExcludeProviders:    providers,
		FilterCategory:      &category,
		PresortEnabled:      &cfg.PresortEnabled,
		Weights: &fileWeights{
			Alpha:   &cfg.Weights.Alpha,
			Beta:    &cfg.Weights.Beta,
			Gamma:   &cfg.Weights.Gamma,
			Delta:   &cfg.Weights.Delta,
			Epsilon: &cfg.Weights.Epsilon,
			Zeta:    &cfg.Weights.Zeta,
		},
	}
}
