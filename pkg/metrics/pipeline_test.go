package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPipelineMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.ObserveCheckout("completed", 150*time.Millisecond)
	m.IncWebhookEvent("payment.captured", "processed")
	m.IncRecalcConflict()
	m.IncTaxFallback()
	m.IncManualRefundRequired()
	m.IncStatusTransition("confirmed")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "checkout_outcomes_total", "outcome", "completed"); err != nil {
		t.Fatalf("fetch checkout outcomes: %v", err)
	} else if got != 1 {
		t.Fatalf("expected checkout outcomes=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "gateway_webhook_events_total", "event", "payment.captured"); err != nil {
		t.Fatalf("fetch webhook events: %v", err)
	} else if got != 1 {
		t.Fatalf("expected webhook events=1, got %f", got)
	}

	for _, name := range []string{"cart_recalc_conflicts_total", "tax_fallback_total", "manual_refund_required_total"} {
		mf := findMetricFamily(mfs, name)
		if mf == nil {
			t.Fatalf("metric %q not found", name)
		}
		if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 1 {
			t.Fatalf("expected %s=1, got %f", name, got)
		}
	}
}

func TestPipelineMetricsNilSafe(t *testing.T) {
	var m *PipelineMetrics
	m.ObserveCheckout("completed", time.Second)
	m.IncWebhookEvent("payment.captured", "processed")
	m.IncRecalcConflict()
	m.IncTaxFallback()
	m.IncManualRefundRequired()
	m.IncStatusTransition("confirmed")

	empty := NewPipelineMetrics(nil)
	empty.ObserveCheckout("failed", time.Second)
	empty.IncRecalcConflict()
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
