package driven

import "github.com/custodia-labs/fanout-cli/internal/core/domain"

// ConfigStore loads and saves the engine configuration.
type ConfigStore interface {
	// Load returns the stored configuration, or the defaults when no
	// file exists yet.
	Load() (domain.EngineConfig, error)

	// Save persists the configuration.
	Save(cfg domain.EngineConfig) error

	// Path returns the backing file path.
	Path() string
}
