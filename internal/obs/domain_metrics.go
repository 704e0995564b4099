package obs

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PromotionApplyTotal counts promotion application outcomes by source.
	PromotionApplyTotal *prometheus.CounterVec
	// PromotionAutoSelectTotal counts automatic selection outcomes.
	PromotionAutoSelectTotal *prometheus.CounterVec
	// PromotionCatalogFetchTotal counts catalog loads by result.
	PromotionCatalogFetchTotal *prometheus.CounterVec
	// PromotionStaleResultsTotal counts async results discarded by the freshness check.
	PromotionStaleResultsTotal *prometheus.CounterVec
	// PromotionDiscountAmount records applied discount amounts.
	PromotionDiscountAmount prometheus.Histogram
	// RedemptionTasksTotal counts redemption task processing outcomes.
	RedemptionTasksTotal *prometheus.CounterVec
	// DBQueryDuration records Postgres query latency.
	DBQueryDuration *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PromotionApplyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_apply_total",
			Help:      "Count of promotion application outcomes.",
		}, []string{"source", "result"})
		PromotionAutoSelectTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_auto_select_total",
			Help:      "Count of automatic promotion selection outcomes.",
		}, []string{"outcome"})
		PromotionCatalogFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_catalog_fetch_total",
			Help:      "Count of promotion catalog fetches by result.",
		}, []string{"result"})
		PromotionStaleResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_stale_results_total",
			Help:      "Async promotion results discarded because the checkout changed.",
		}, []string{"operation"})
		PromotionDiscountAmount = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "promotion_discount_amount",
			Help:      "Applied promotion discount amounts in store currency.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		})
		RedemptionTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_redemption_tasks_total",
			Help:      "Count of processed redemption tasks by result.",
		}, []string{"result"})

		DBQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_ms",
			Help:      "Postgres query latency in milliseconds by statement verb.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}, []string{"operation", "result"})

		PromotionApplyTotal = registerOrReuse(reg, PromotionApplyTotal)
		PromotionAutoSelectTotal = registerOrReuse(reg, PromotionAutoSelectTotal)
		PromotionCatalogFetchTotal = registerOrReuse(reg, PromotionCatalogFetchTotal)
		PromotionStaleResultsTotal = registerOrReuse(reg, PromotionStaleResultsTotal)
		PromotionDiscountAmount = registerOrReuse(reg, PromotionDiscountAmount)
		RedemptionTasksTotal = registerOrReuse(reg, RedemptionTasksTotal)
		DBQueryDuration = registerOrReuse(reg, DBQueryDuration)
	})
}

// CountPromotionApply records a promotion application outcome.
func CountPromotionApply(source, result string) {
	if PromotionApplyTotal != nil {
		PromotionApplyTotal.WithLabelValues(source, result).Inc()
	}
}

// CountAutoSelect records an automatic selection outcome.
func CountAutoSelect(outcome string) {
	if PromotionAutoSelectTotal != nil {
		PromotionAutoSelectTotal.WithLabelValues(outcome).Inc()
	}
}

// CountCatalogFetch records a catalog fetch result.
func CountCatalogFetch(result string) {
	if PromotionCatalogFetchTotal != nil {
		PromotionCatalogFetchTotal.WithLabelValues(result).Inc()
	}
}

// CountStaleResult records a discarded async result.
func CountStaleResult(operation string) {
	if PromotionStaleResultsTotal != nil {
		PromotionStaleResultsTotal.WithLabelValues(operation).Inc()
	}
}

// ObserveDiscount records the amount of an applied discount.
func ObserveDiscount(amount float64) {
	if PromotionDiscountAmount != nil {
		PromotionDiscountAmount.Observe(amount)
	}
}

// CountRedemptionTask records a redemption task result.
func CountRedemptionTask(result string) {
	if RedemptionTasksTotal != nil {
		RedemptionTasksTotal.WithLabelValues(result).Inc()
	}
}

// ObserveDBQuery records the latency of a Postgres statement.
func ObserveDBQuery(operation string, failed bool, d time.Duration) {
	if DBQueryDuration == nil {
		return
	}
	result := "ok"
	if failed {
		result = "error"
	}
	DBQueryDuration.WithLabelValues(operation, result).Observe(DurationMillis(d))
}
