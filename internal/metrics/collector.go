// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the Prometheus instruments for the memory substrate.
type Collector struct {
	// Tier operation metrics
	storeTotal       *prometheus.CounterVec
	storeDuration    *prometheus.HistogramVec
	retrieveTotal    *prometheus.CounterVec
	retrieveDuration *prometheus.HistogramVec

	// Isolation metrics
	accessChecks       *prometheus.CounterVec
	accessDenials      *prometheus.CounterVec
	crossContextPasses prometheus.Counter
	contaminationHits  *prometheus.CounterVec
	auditPersisted     prometheus.Counter

	// Episodic metrics
	episodesStored *prometheus.CounterVec
	promotions     *prometheus.CounterVec

	// Pattern metrics
	patternsDiscovered *prometheus.CounterVec
	patternUpserts     prometheus.Counter

	// Evolution metrics
	evolutionCycles *prometheus.CounterVec
	strategyFitness *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector registers the substrate metrics against reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.storeTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_total",
			Help:      "Total number of store operations",
		},
		[]string{"tier", "result"},
	)
	c.storeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_duration_seconds",
			Help:      "Store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tier"},
	)
	c.retrieveTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieve_total",
			Help:      "Total number of retrieve operations",
		},
		[]string{"tier", "result"},
	)
	c.retrieveDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieve_duration_seconds",
			Help:      "Retrieve operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tier"},
	)

	c.accessChecks = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "isolation_checks_total",
			Help:      "Total number of isolation access checks",
		},
		[]string{"check", "result"},
	)
	c.accessDenials = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "isolation_denials_total",
			Help:      "Total number of denied access attempts",
		},
		[]string{"check"},
	)
	c.crossContextPasses = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "isolation_cross_context_total",
			Help:      "Total number of allowed cross-context accesses",
		},
	)
	c.contaminationHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contamination_detected_total",
			Help:      "Total number of contamination detections",
		},
		[]string{"tier"},
	)
	c.auditPersisted = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_persisted_total",
			Help:      "Total number of audit entries persisted",
		},
	)

	c.episodesStored = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episodes_stored_total",
			Help:      "Total number of episodes stored by type",
		},
		[]string{"episode_type"},
	)
	c.promotions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_total",
			Help:      "Total number of episodes promoted to semantic memory",
		},
		[]string{"criterion"},
	)

	c.patternsDiscovered = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patterns_discovered_total",
			Help:      "Total number of patterns passing the confidence gate",
		},
		[]string{"category"},
	)
	c.patternUpserts = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pattern_upserts_total",
			Help:      "Total number of pattern rows written",
		},
	)

	c.evolutionCycles = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evolution_cycles_total",
			Help:      "Total number of evolution cycles by trigger reason",
		},
		[]string{"reason"},
	)
	c.strategyFitness = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "strategy_fitness",
			Help:      "Current fitness per strategy",
		},
		[]string{"strategy"},
	)

	return c
}

// ObserveStore records one store operation.
func (c *Collector) ObserveStore(tier, result string, seconds float64) {
	c.storeTotal.WithLabelValues(tier, result).Inc()
	c.storeDuration.WithLabelValues(tier).Observe(seconds)
}

// ObserveRetrieve records one retrieve operation.
func (c *Collector) ObserveRetrieve(tier, result string, seconds float64) {
	c.retrieveTotal.WithLabelValues(tier, result).Inc()
	c.retrieveDuration.WithLabelValues(tier).Observe(seconds)
}

// ObserveAccessCheck records one isolation check outcome.
func (c *Collector) ObserveAccessCheck(check string, allowed bool) {
	result := "allow"
	if !allowed {
		result = "deny"
		c.accessDenials.WithLabelValues(check).Inc()
	}
	c.accessChecks.WithLabelValues(check, result).Inc()
}

// ObserveCrossContextPass records an allowed cross-context access.
func (c *Collector) ObserveCrossContextPass() {
	c.crossContextPasses.Inc()
}

// ObserveContamination records a contamination detection for a tier.
func (c *Collector) ObserveContamination(tier string) {
	c.contaminationHits.WithLabelValues(tier).Inc()
}

// ObserveAuditPersisted records one persisted audit entry.
func (c *Collector) ObserveAuditPersisted() {
	c.auditPersisted.Inc()
}

// ObserveEpisodeStored records one stored episode.
func (c *Collector) ObserveEpisodeStored(episodeType string) {
	c.episodesStored.WithLabelValues(episodeType).Inc()
}

// ObservePromotion records one promotion with the matched criterion.
func (c *Collector) ObservePromotion(criterion string) {
	c.promotions.WithLabelValues(criterion).Inc()
}

// ObservePatternDiscovered records one gated pattern.
func (c *Collector) ObservePatternDiscovered(category string) {
	c.patternsDiscovered.WithLabelValues(category).Inc()
	c.patternUpserts.Inc()
}

// ObserveEvolutionCycle records one evolution cycle.
func (c *Collector) ObserveEvolutionCycle(reason string) {
	c.evolutionCycles.WithLabelValues(reason).Inc()
}

// SetStrategyFitness publishes the live fitness of a strategy.
func (c *Collector) SetStrategyFitness(strategy string, fitness float64) {
	c.strategyFitness.WithLabelValues(strategy).Set(fitness)
}
