package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// value gathers reg and returns the counter or gauge value of the series
// name{labels}
func value(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsMatch(m, labels) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("series %s%v not found", name, labels)
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	if len(m.GetLabel()) != len(want) {
		return false
	}
	for _, lp := range m.GetLabel() {
		if want[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}

func TestRecordIndexOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordIndexOperation("flush", nil, time.Millisecond)
	m.RecordIndexOperation("flush", errors.New("boom"), time.Millisecond)
	m.RecordIndexOperation("flush", nil, time.Millisecond)

	ok := value(t, reg, "timeindex_index_operations_total", map[string]string{"operation": "flush", "status": "ok"})
	if ok != 2 {
		t.Errorf("ok count = %v, want 2", ok)
	}
	failed := value(t, reg, "timeindex_index_operations_total", map[string]string{"operation": "flush", "status": "error"})
	if failed != 1 {
		t.Errorf("error count = %v, want 1", failed)
	}
}

func TestGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.IndexOpened(1)
	m.IndexOpened(1)
	m.IndexOpened(-1)
	m.ViewsChanged(3)
	m.RecordRealClose()

	if got := value(t, reg, "timeindex_open_indexes", nil); got != 1 {
		t.Errorf("open indexes = %v", got)
	}
	if got := value(t, reg, "timeindex_open_views", nil); got != 3 {
		t.Errorf("open views = %v", got)
	}
	if got := value(t, reg, "timeindex_real_closes_total", nil); got != 1 {
		t.Errorf("real closes = %v", got)
	}
	if got := value(t, reg, "timeindex_uptime_seconds", nil); got < 0 {
		t.Errorf("uptime = %v", got)
	}
}

func TestIndependentRegistries(t *testing.T) {
	// registering twice on separate registries must not panic
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordAppend("memory")
	m.RecordLocate("found")
	m.RecordMemo(true)
	m.RecordGrpcRequest("Open", "ok", time.Second)
	m.IndexOpened(1)
}
