package iudex

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NicholasJacob1990/iudex/gate"
)

// ModelsConfig names the models used at each pipeline role.
type ModelsConfig struct {
	Strategist string   `json:"strategist" yaml:"strategist"`
	Drafters   []string `json:"drafters" yaml:"drafters"`
	Reviewers  []string `json:"reviewers" yaml:"reviewers"`
	Merger     string   `json:"merger,omitempty" yaml:"merger,omitempty"`
}

// ThresholdsConfig tunes the quality gate, reviewer divergence detection and
// the audit rejection bar.
type ThresholdsConfig struct {
	MinCompressionRatio  float64 `json:"min_compression_ratio,omitempty" yaml:"min_compression_ratio,omitempty"`
	MaxCompressionRatio  float64 `json:"max_compression_ratio,omitempty" yaml:"max_compression_ratio,omitempty"`
	MinReferenceCoverage float64 `json:"min_reference_coverage,omitempty" yaml:"min_reference_coverage,omitempty"`
	MinOutputWords       int     `json:"min_output_words,omitempty" yaml:"min_output_words,omitempty"`
	ReviewDivergence     float64 `json:"review_divergence,omitempty" yaml:"review_divergence,omitempty"`
	AuditSeverity        string  `json:"audit_severity,omitempty" yaml:"audit_severity,omitempty"`
}

// RetryConfig tunes the backoff applied to transient provider failures.
type RetryConfig struct {
	MaxRetries  int           `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	BaseWait    time.Duration `json:"base_wait,omitempty" yaml:"base_wait,omitempty"`
	MaxWait     time.Duration `json:"max_wait,omitempty" yaml:"max_wait,omitempty"`
	BackoffRate float64       `json:"backoff_rate,omitempty" yaml:"backoff_rate,omitempty"`
}

// DrafterRule routes a section to a drafter model when its condition holds.
// Conditions are risor expressions evaluated with a "section" global carrying
// name, brief, complexity and tags. The first matching rule wins.
type DrafterRule struct {
	Condition string `json:"condition" yaml:"condition"`
	Model     string `json:"model" yaml:"model"`
}

// HILRule routes a human decision to a resume stage when its condition holds.
// Conditions are risor expressions evaluated with a "decision" global carrying
// action, edited_field and note. Field, when set, additionally requires the
// decision to have edited that field. The first matching rule wins.
type HILRule struct {
	Field     string `json:"field,omitempty" yaml:"field,omitempty"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Resume    Stage  `json:"resume" yaml:"resume"`
}

// Config is the full pipeline configuration.
type Config struct {
	Models           ModelsConfig     `json:"models" yaml:"models"`
	Thresholds       ThresholdsConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Retry            RetryConfig      `json:"retry,omitempty" yaml:"retry,omitempty"`
	CheckpointStages []Stage          `json:"checkpoint_stages,omitempty" yaml:"checkpoint_stages,omitempty"`
	DrafterRules     []DrafterRule    `json:"drafter_rules,omitempty" yaml:"drafter_rules,omitempty"`
	HILRouting       []HILRule        `json:"hil_routing,omitempty" yaml:"hil_routing,omitempty"`
	DefaultResume    Stage            `json:"default_resume,omitempty" yaml:"default_resume,omitempty"`
}

// DefaultConfig returns a configuration with every tunable at its default.
// Model names must still be filled in by the caller.
func DefaultConfig() Config {
	thresholds := gate.DefaultThresholds()
	return Config{
		Thresholds: ThresholdsConfig{
			MinCompressionRatio:  thresholds.MinCompressionRatio,
			MaxCompressionRatio:  thresholds.MaxCompressionRatio,
			MinReferenceCoverage: thresholds.MinReferenceCoverage,
			MinOutputWords:       thresholds.MinOutputWords,
			ReviewDivergence:     0.5,
			AuditSeverity:        "critical",
		},
		Retry: RetryConfig{
			MaxRetries:  3,
			BaseWait:    time.Second,
			MaxWait:     30 * time.Second,
			BackoffRate: 2.0,
		},
		CheckpointStages: []Stage{StageStructuralFix, StageQualityGate, StageAudit},
		DefaultResume:    StageReviewing,
	}
}

// applyDefaults fills zero-valued tunables from DefaultConfig.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Thresholds.MinCompressionRatio == 0 {
		c.Thresholds.MinCompressionRatio = defaults.Thresholds.MinCompressionRatio
	}
	if c.Thresholds.MaxCompressionRatio == 0 {
		c.Thresholds.MaxCompressionRatio = defaults.Thresholds.MaxCompressionRatio
	}
	if c.Thresholds.MinReferenceCoverage == 0 {
		c.Thresholds.MinReferenceCoverage = defaults.Thresholds.MinReferenceCoverage
	}
	if c.Thresholds.MinOutputWords == 0 {
		c.Thresholds.MinOutputWords = defaults.Thresholds.MinOutputWords
	}
	if c.Thresholds.ReviewDivergence == 0 {
		c.Thresholds.ReviewDivergence = defaults.Thresholds.ReviewDivergence
	}
	if c.Thresholds.AuditSeverity == "" {
		c.Thresholds.AuditSeverity = defaults.Thresholds.AuditSeverity
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = defaults.Retry.MaxRetries
	}
	if c.Retry.BaseWait == 0 {
		c.Retry.BaseWait = defaults.Retry.BaseWait
	}
	if c.Retry.MaxWait == 0 {
		c.Retry.MaxWait = defaults.Retry.MaxWait
	}
	if c.Retry.BackoffRate == 0 {
		c.Retry.BackoffRate = defaults.Retry.BackoffRate
	}
	if len(c.CheckpointStages) == 0 {
		c.CheckpointStages = defaults.CheckpointStages
	}
	if c.DefaultResume == "" {
		c.DefaultResume = defaults.DefaultResume
	}
}

// resumeTargets are the stages a paused run may resume into.
var resumeTargets = map[Stage]bool{
	StageReviewing:  true,
	StageMerging:    true,
	StageFinalizing: true,
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Models.Strategist == "" {
		return fmt.Errorf("strategist model required")
	}
	if len(c.Models.Drafters) == 0 {
		return fmt.Errorf("at least one drafter model required")
	}
	if c.Thresholds.MinCompressionRatio >= c.Thresholds.MaxCompressionRatio {
		return fmt.Errorf("min compression ratio %.2f must be below max %.2f",
			c.Thresholds.MinCompressionRatio, c.Thresholds.MaxCompressionRatio)
	}
	if c.Thresholds.MinReferenceCoverage < 0 || c.Thresholds.MinReferenceCoverage > 1 {
		return fmt.Errorf("min reference coverage must be in [0, 1]")
	}
	if !resumeTargets[c.DefaultResume] {
		return fmt.Errorf("default resume stage %q is not a valid resume target", c.DefaultResume)
	}
	for _, rule := range c.HILRouting {
		if !resumeTargets[rule.Resume] {
			return fmt.Errorf("resume stage %q is not a valid resume target", rule.Resume)
		}
	}
	for _, rule := range c.DrafterRules {
		if rule.Model == "" {
			return fmt.Errorf("drafter rule with condition %q has no model", rule.Condition)
		}
	}
	for _, stage := range c.CheckpointStages {
		if stage.Terminal() || stage == StageHILPaused {
			return fmt.Errorf("stage %q cannot be a checkpoint stage", stage)
		}
	}
	return nil
}

// GateThresholds converts the configured thresholds to the gate's form.
func (c *Config) GateThresholds() gate.Thresholds {
	return gate.Thresholds{
		MinCompressionRatio:  c.Thresholds.MinCompressionRatio,
		MaxCompressionRatio:  c.Thresholds.MaxCompressionRatio,
		MinReferenceCoverage: c.Thresholds.MinReferenceCoverage,
		MinOutputWords:       c.Thresholds.MinOutputWords,
	}
}

// LoadConfigFile loads a pipeline configuration from a YAML file
func LoadConfigFile(path string) (Config, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadConfigString(string(yamlData))
}

// LoadConfigString loads a pipeline configuration from a YAML string
func LoadConfigString(data string) (Config, error) {
	var config Config
	if err := yaml.Unmarshal([]byte(data), &config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}
