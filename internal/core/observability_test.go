package core

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if rec.Name() == "" {
		t.Fatal("expected generated name")
	}
	rec.Observe(context.Background(), OpBuyPack, true, 20*time.Millisecond)
	rec.Observe(context.Background(), OpBuyPack, false, 5*time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Second)

	snap := rec.Snapshot()
	if snap.Results[OpBuyPack]["success"] != 1 || snap.Results[OpBuyPack]["error"] != 1 {
		t.Fatalf("results %+v", snap.Results)
	}
	if snap.DurationsMS[OpBuyPack] != 25 {
		t.Fatalf("durations %+v", snap.DurationsMS)
	}
	if _, ok := snap.Results[""]; ok {
		t.Fatal("blank operation must be ignored")
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	registry := prometheus.NewRegistry()
	rec := NewPrometheusMetricsRecorder(registry)

	rec.Observe(context.Background(), OpFulfillOrder, true, 10*time.Millisecond)
	rec.Observe(context.Background(), OpFulfillOrder, true, 10*time.Millisecond)
	rec.Observe(context.Background(), OpFulfillOrder, false, 10*time.Millisecond)

	success := rec.results.WithLabelValues(OpFulfillOrder, "success")
	if got := promtest.ToFloat64(success); got != 2 {
		t.Fatalf("success count = %v", got)
	}
	failure := rec.results.WithLabelValues(OpFulfillOrder, "error")
	if got := promtest.ToFloat64(failure); got != 1 {
		t.Fatalf("error count = %v", got)
	}
}
