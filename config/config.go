// Package config provides unified configuration for the memflow substrate.
// Loading priority: defaults, then YAML file, then environment variables.
package config

import (
	"fmt"
	"time"
)

// Config is the complete memflow configuration.
type Config struct {
	// Log 日志配置
	Log LogConfig `yaml:"log"`

	// Database SQL 存储配置
	Database DatabaseConfig `yaml:"database"`

	// Redis 工作记忆层与检索缓存配置
	Redis RedisConfig `yaml:"redis"`

	// Isolation 隔离层配置
	Isolation IsolationConfig `yaml:"isolation"`

	// Episodic 情节记忆配置
	Episodic EpisodicConfig `yaml:"episodic"`

	// Pattern 模式发现配置
	Pattern PatternConfig `yaml:"pattern"`

	// Evolution 进化引擎配置
	Evolution EvolutionConfig `yaml:"evolution"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig configures zap logging.
type LogConfig struct {
	Level      string `yaml:"level"`       // debug / info / warn / error
	Format     string `yaml:"format"`      // json / console
	OutputPath string `yaml:"output_path"` // stdout or file path
}

// DatabaseConfig configures the SQL store backing the durable tiers.
type DatabaseConfig struct {
	// Driver selects the backend: postgres, mysql, or sqlite.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// HealthCheckInterval, zero disables the background check.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// RedisConfig configures the working-memory tier and retrieval cache.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DefaultTTL   time.Duration `yaml:"default_ttl"`
}

// IsolationConfig configures the access-control layer.
//
// The numeric thresholds are empirically chosen operating points, kept as
// configuration rather than constants so operators can tune them.
type IsolationConfig struct {
	// SessionTimeout denies access after this much idle time.
	SessionTimeout time.Duration `yaml:"session_timeout"`

	// MaxAccessRate is the sustained accesses/second ceiling.
	MaxAccessRate float64 `yaml:"max_access_rate"`

	// RateCheckMinAccesses delays rate enforcement until a context has at
	// least this many accesses, so short bursts at creation do not trip it.
	RateCheckMinAccesses int64 `yaml:"rate_check_min_accesses"`

	// ContaminationRiskThreshold denies operations whose metadata risk
	// score reaches this value.
	ContaminationRiskThreshold float64 `yaml:"contamination_risk_threshold"`

	// AuditRingSize caps the in-memory audit buffer.
	AuditRingSize int `yaml:"audit_ring_size"`

	// ScanInterval schedules the comprehensive cross-contamination scan.
	ScanInterval time.Duration `yaml:"scan_interval"`

	// ContextIdleTTL evicts isolation contexts unused for this long.
	ContextIdleTTL time.Duration `yaml:"context_idle_ttl"`
}

// EpisodicConfig configures episode classification, scoring, and promotion.
type EpisodicConfig struct {
	// PromotionThreshold is the importance floor for promotion evaluation.
	PromotionThreshold float64 `yaml:"promotion_threshold"`

	// ErrorRecencyWindow grants error episodes a recency bonus when the
	// episode occurred within this window.
	ErrorRecencyWindow time.Duration `yaml:"error_recency_window"`

	// ConsolidationInterval schedules type-weight re-learning and the
	// re-evaluation of recent unpromoted high-importance episodes.
	ConsolidationInterval time.Duration `yaml:"consolidation_interval"`

	// SimilarWindow and SimilarMinCount drive the similarity promotion
	// criterion: at least SimilarMinCount episodes of the same type with
	// importance within SimilarEpsilon in the last SimilarWindow.
	SimilarWindow   time.Duration `yaml:"similar_window"`
	SimilarMinCount int           `yaml:"similar_min_count"`
	SimilarEpsilon  float64       `yaml:"similar_epsilon"`

	// AdaptationRate smooths learned type weights toward historical
	// averages. Small values adjust slowly.
	AdaptationRate float64 `yaml:"adaptation_rate"`

	// SanitizeMaxStringLen truncates context strings before persistence.
	SanitizeMaxStringLen int `yaml:"sanitize_max_string_len"`

	// DefaultRetrieveLimit bounds retrieval when the caller sets none.
	DefaultRetrieveLimit int `yaml:"default_retrieve_limit"`
}

// PatternConfig configures the discovery engine.
type PatternConfig struct {
	// ConfidenceThreshold and MinSupport gate pattern persistence.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	MinSupport          int     `yaml:"min_support"`

	// AnalysisWindow bounds how many recent episodes feed one analysis.
	AnalysisWindow int `yaml:"analysis_window"`

	// DiscoveryInterval schedules the confidence-refresh cycle.
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`

	// MaxPatterns caps stored patterns per (agent, user) pair.
	MaxPatterns int `yaml:"max_patterns"`

	// AnalysisRatePerSecond throttles background analysis triggers.
	AnalysisRatePerSecond float64 `yaml:"analysis_rate_per_second"`
	AnalysisBurst         int     `yaml:"analysis_burst"`

	// EngineIdleTTL evicts per-pair engines unused for this long.
	EngineIdleTTL time.Duration `yaml:"engine_idle_ttl"`
}

// EvolutionConfig configures the strategy evolution engine.
type EvolutionConfig struct {
	// Interval schedules the periodic evolution cycle.
	Interval time.Duration `yaml:"interval"`

	// MutationRate is the relative size of small perturbations.
	MutationRate float64 `yaml:"mutation_rate"`

	// PerturbedCandidates and RandomCandidates set the candidate mix
	// proposed per parameter set each generation.
	PerturbedCandidates int `yaml:"perturbed_candidates"`
	RandomCandidates    int `yaml:"random_candidates"`

	// FitnessSmoothing is the exponential smoothing factor applied when a
	// strategy's fitness is re-evaluated.
	FitnessSmoothing float64 `yaml:"fitness_smoothing"`

	// LowFitnessThreshold triggers evolution when average fitness falls
	// below it. DegradationDelta triggers on drops versus the previous
	// generation.
	LowFitnessThreshold float64 `yaml:"low_fitness_threshold"`
	DegradationDelta    float64 `yaml:"degradation_delta"`

	// IdealPromotionRate anchors the consolidation fitness function.
	IdealPromotionRate float64 `yaml:"ideal_promotion_rate"`

	// Seed fixes the mutation RNG; zero seeds from the clock.
	Seed int64 `yaml:"seed"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Isolation.ContaminationRiskThreshold < 0 || c.Isolation.ContaminationRiskThreshold > 1 {
		return fmt.Errorf("isolation.contamination_risk_threshold must be in [0,1], got %v", c.Isolation.ContaminationRiskThreshold)
	}
	if c.Episodic.PromotionThreshold < 0 || c.Episodic.PromotionThreshold > 1 {
		return fmt.Errorf("episodic.promotion_threshold must be in [0,1], got %v", c.Episodic.PromotionThreshold)
	}
	if c.Pattern.ConfidenceThreshold < 0 || c.Pattern.ConfidenceThreshold > 1 {
		return fmt.Errorf("pattern.confidence_threshold must be in [0,1], got %v", c.Pattern.ConfidenceThreshold)
	}
	if c.Pattern.MinSupport < 1 {
		return fmt.Errorf("pattern.min_support must be >= 1, got %d", c.Pattern.MinSupport)
	}
	if c.Evolution.MutationRate <= 0 || c.Evolution.MutationRate >= 1 {
		return fmt.Errorf("evolution.mutation_rate must be in (0,1), got %v", c.Evolution.MutationRate)
	}
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres, mysql, or sqlite, got %q", c.Database.Driver)
	}
	return nil
}
