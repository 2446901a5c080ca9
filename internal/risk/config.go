// Package risk turns an agent's signal set into a numeric score and a band
// under a configurable weight table. Scoring is pure and total: unknown
// signals contribute an explicit fail-closed weight, never an error.
package risk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/bandwatch/internal/alert"
)

// Weights maps each signal dimension's observed values to score contributions.
// The unknown table is the fail-closed contribution applied when a dimension
// carries no value at all.
type Weights struct {
	DataClass     map[string]int `yaml:"data_class" json:"data_class"`
	OutputScope   map[string]int `yaml:"output_scope" json:"output_scope"`
	Autonomy      map[string]int `yaml:"autonomy" json:"autonomy"`
	Reach         map[string]int `yaml:"reach" json:"reach"`
	ExternalTools map[string]int `yaml:"external_tools" json:"external_tools"`
	Unknown       map[string]int `yaml:"unknown" json:"unknown"`
}

// Thresholds defines the band boundaries. Must be non-decreasing green→amber→red.
type Thresholds struct {
	Amber int `yaml:"amber" json:"amber"`
	Red   int `yaml:"red" json:"red"`
}

// Config holds all configurable scoring parameters plus alert destinations.
type Config struct {
	Weights    Weights        `yaml:"weights" json:"weights"`
	Thresholds Thresholds     `yaml:"band_thresholds" json:"band_thresholds"`
	Alerts     []alert.Config `yaml:"alerts,omitempty" json:"alerts,omitempty"`
}

// ConfigError is a write-time rejection of a malformed weight/threshold
// config. It never reaches the scorer.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid risk config: %s: %s", e.Field, e.Reason)
}

// DefaultConfig returns the built-in weight table and thresholds.
// A fully-unknown agent scores 45 under these weights and lands in amber:
// missing telemetry biases toward restriction, not toward green.
func DefaultConfig() *Config {
	return &Config{
		Weights: Weights{
			DataClass: map[string]int{
				"confidential": 40,
				"internal":     10,
			},
			OutputScope: map[string]int{
				"api_external":  30,
				"internal_only": 5,
			},
			Autonomy: map[string]int{
				"auto_action": 20,
				"readonly":    5,
			},
			Reach: map[string]int{
				"org_wide":   20,
				"department": 10,
				"team":       5,
			},
			ExternalTools: map[string]int{
				"has_tools": 10,
			},
			Unknown: map[string]int{
				"data_class":     20,
				"output_scope":   10,
				"autonomy":       10,
				"reach":          5,
				"external_tools": 0,
			},
		},
		Thresholds: Thresholds{Amber: 40, Red: 80},
	}
}

// Validate rejects configurations the scorer must never see.
func (c *Config) Validate() error {
	if c.Thresholds.Amber < 0 {
		return &ConfigError{Field: "band_thresholds.amber", Reason: "must be non-negative"}
	}
	if c.Thresholds.Red < c.Thresholds.Amber {
		return &ConfigError{
			Field:  "band_thresholds",
			Reason: fmt.Sprintf("red (%d) must be >= amber (%d)", c.Thresholds.Red, c.Thresholds.Amber),
		}
	}
	tables := map[string]map[string]int{
		"data_class":     c.Weights.DataClass,
		"output_scope":   c.Weights.OutputScope,
		"autonomy":       c.Weights.Autonomy,
		"reach":          c.Weights.Reach,
		"external_tools": c.Weights.ExternalTools,
		"unknown":        c.Weights.Unknown,
	}
	for name, table := range tables {
		for key, w := range table {
			if w < 0 {
				return &ConfigError{
					Field:  fmt.Sprintf("weights.%s.%s", name, key),
					Reason: "weights must be non-negative",
				}
			}
		}
	}
	return nil
}

// DefaultPath returns the default risk config location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "bandwatch-risk.yaml")
	}
	return filepath.Join(home, ".bandwatch", "risk.yaml")
}

// Load reads scoring configuration from a YAML file.
// Empty path falls back to the default location. Missing file returns
// defaults. Invalid YAML or invalid values return an error.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash loads scoring configuration and returns its SHA-256 hash.
// The hash is computed over the raw YAML bytes on disk, so decisions can
// record exactly which config was in force. When no file exists (defaults
// used), the hash is the SHA-256 of empty input.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			h := sha256.Sum256(nil)
			return DefaultConfig(), "sha256:" + hex.EncodeToString(h[:]), nil
		}
		return nil, "", fmt.Errorf("failed to read risk config: %w", err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse risk config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	return cfg, hash, nil
}

// DefaultConfigYAML returns a commented YAML string for riskconfig init.
func DefaultConfigYAML() string {
	return `# bandwatch risk scoring configuration
#
# Each signal dimension contributes weights[dimension][observed_value] to the
# score. A dimension with no value contributes weights.unknown[dimension] and
# is flagged in the decision reasons. Scores are clamped to 0-100.
#
# Band assignment:
#   score >= red   -> red
#   score >= amber -> amber
#   otherwise      -> green
# red must be >= amber.

weights:
  data_class:
    confidential: 40
    internal: 10
  output_scope:
    api_external: 30
    internal_only: 5
  autonomy:
    auto_action: 20
    readonly: 5
  reach:
    org_wide: 20
    department: 10
    team: 5
  external_tools:
    has_tools: 10
  unknown:
    data_class: 20
    output_scope: 10
    autonomy: 10
    reach: 5
    external_tools: 0

band_thresholds:
  amber: 40
  red: 80

# Webhook alert destinations. Events: blocked, approval_pending, band_drift.
# alerts:
#   - url: https://hooks.example.com/bandwatch
#     format: generic
#     events: [blocked, band_drift]
`
}
