package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records the order pipeline's operational signals.
type PipelineMetrics struct {
	checkoutOutcomes  *prometheus.CounterVec
	checkoutDuration  *prometheus.HistogramVec
	webhookEvents     *prometheus.CounterVec
	recalcConflicts   prometheus.Counter
	taxFallbacks      prometheus.Counter
	manualRefunds     prometheus.Counter
	statusTransitions *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	checkoutOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_outcomes_total",
		Help: "Checkout completions by outcome.",
	}, []string{"outcome"})
	checkoutDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_complete_duration_seconds",
		Help:    "Duration of checkout completion in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_webhook_events_total",
		Help: "Gateway webhook deliveries by event and result.",
	}, []string{"event", "result"})
	recalcConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cart_recalc_conflicts_total",
		Help: "Cart recalculations that lost the version race.",
	})
	taxFallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tax_fallback_total",
		Help: "Tax computations served by the fallback flat rate.",
	})
	manualRefunds := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "manual_refund_required_total",
		Help: "Refund attempts that failed and need operator action.",
	})
	statusTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Order status transitions by target status.",
	}, []string{"to_status"})
	reg.MustRegister(
		checkoutOutcomes,
		checkoutDuration,
		webhookEvents,
		recalcConflicts,
		taxFallbacks,
		manualRefunds,
		statusTransitions,
	)
	return &PipelineMetrics{
		checkoutOutcomes:  checkoutOutcomes,
		checkoutDuration:  checkoutDuration,
		webhookEvents:     webhookEvents,
		recalcConflicts:   recalcConflicts,
		taxFallbacks:      taxFallbacks,
		manualRefunds:     manualRefunds,
		statusTransitions: statusTransitions,
	}
}

// ObserveCheckout records one checkout completion attempt.
func (p *PipelineMetrics) ObserveCheckout(outcome string, duration time.Duration) {
	if p == nil || p.checkoutOutcomes == nil {
		return
	}
	label := normalizeLabel(outcome)
	p.checkoutOutcomes.WithLabelValues(label).Inc()
	p.checkoutDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// IncWebhookEvent counts a webhook delivery by event kind and handling result.
func (p *PipelineMetrics) IncWebhookEvent(event, result string) {
	if p == nil || p.webhookEvents == nil {
		return
	}
	p.webhookEvents.WithLabelValues(normalizeLabel(event), normalizeLabel(result)).Inc()
}

// IncRecalcConflict counts a lost cart version race.
func (p *PipelineMetrics) IncRecalcConflict() {
	if p == nil || p.recalcConflicts == nil {
		return
	}
	p.recalcConflicts.Inc()
}

// IncTaxFallback counts a tax computation served by the flat fallback rate.
func (p *PipelineMetrics) IncTaxFallback() {
	if p == nil || p.taxFallbacks == nil {
		return
	}
	p.taxFallbacks.Inc()
}

// IncManualRefundRequired counts a refund failure that needs an operator.
func (p *PipelineMetrics) IncManualRefundRequired() {
	if p == nil || p.manualRefunds == nil {
		return
	}
	p.manualRefunds.Inc()
}

// IncStatusTransition counts an order status transition.
func (p *PipelineMetrics) IncStatusTransition(toStatus string) {
	if p == nil || p.statusTransitions == nil {
		return
	}
	p.statusTransitions.WithLabelValues(normalizeLabel(toStatus)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
