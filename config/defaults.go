package config

import "time"

// DefaultConfig returns the complete default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log:       DefaultLogConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		Isolation: DefaultIsolationConfig(),
		Episodic:  DefaultEpisodicConfig(),
		Pattern:   DefaultPatternConfig(),
		Evolution: DefaultEvolutionConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Format:     "json",
		OutputPath: "stdout",
	}
}

// DefaultDatabaseConfig returns the default SQL store configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:              "sqlite",
		DSN:                 "file:memflow.db",
		MaxIdleConns:        10,
		MaxOpenConns:        100,
		ConnMaxLifetime:     time.Hour,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultRedisConfig returns the default working-tier configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DefaultTTL:   30 * time.Minute,
	}
}

// DefaultIsolationConfig returns the default isolation thresholds.
func DefaultIsolationConfig() IsolationConfig {
	return IsolationConfig{
		SessionTimeout:             30 * time.Minute,
		MaxAccessRate:              10,
		RateCheckMinAccesses:       100,
		ContaminationRiskThreshold: 0.7,
		AuditRingSize:              1000,
		ScanInterval:               time.Hour,
		ContextIdleTTL:             2 * time.Hour,
	}
}

// DefaultEpisodicConfig returns the default episodic-memory configuration.
func DefaultEpisodicConfig() EpisodicConfig {
	return EpisodicConfig{
		PromotionThreshold:    0.8,
		ErrorRecencyWindow:    5 * time.Minute,
		ConsolidationInterval: time.Hour,
		SimilarWindow:         30 * 24 * time.Hour,
		SimilarMinCount:       3,
		SimilarEpsilon:        0.1,
		AdaptationRate:        0.1,
		SanitizeMaxStringLen:  500,
		DefaultRetrieveLimit:  20,
	}
}

// DefaultPatternConfig returns the default discovery configuration.
func DefaultPatternConfig() PatternConfig {
	return PatternConfig{
		ConfidenceThreshold:   0.7,
		MinSupport:            3,
		AnalysisWindow:        100,
		DiscoveryInterval:     time.Hour,
		MaxPatterns:           500,
		AnalysisRatePerSecond: 5,
		AnalysisBurst:         10,
		EngineIdleTTL:         time.Hour,
	}
}

// DefaultEvolutionConfig returns the default evolution configuration.
func DefaultEvolutionConfig() EvolutionConfig {
	return EvolutionConfig{
		Interval:            12 * time.Hour,
		MutationRate:        0.1,
		PerturbedCandidates: 3,
		RandomCandidates:    2,
		FitnessSmoothing:    0.3,
		LowFitnessThreshold: 0.4,
		DegradationDelta:    0.1,
		IdealPromotionRate:  0.1,
	}
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Addr:      ":9091",
		Namespace: "memflow",
	}
}
