package observability

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/pagesnap/dbopen"
)

func newManager(t *testing.T) *MetricsManager {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	mm := NewMetricsManager(db, 100, time.Hour, nil)
	t.Cleanup(func() { mm.Close() })
	return mm
}

func TestRecordAndQuery(t *testing.T) {
	mm := newManager(t)
	mm.RecordSimple(MetricCaptureDurationMs, 1200, "milliseconds", "tab", "t1")
	mm.RecordSimple(MetricCaptureSegments, 4, "count")
	mm.Flush()

	ctx := context.Background()
	got, err := mm.Query(ctx, MetricCaptureDurationMs, time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Value != 1200 || got[0].Labels["tab"] != "t1" {
		t.Fatalf("metrics = %+v", got)
	}

	all, _ := mm.Query(ctx, "", time.Time{}, 0)
	if len(all) != 2 {
		t.Errorf("all = %d, want 2", len(all))
	}
}

func TestBufferFlushesWhenFull(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	mm := NewMetricsManager(db, 2, time.Hour, nil)
	defer mm.Close()

	mm.RecordSimple(MetricCaptureRetries, 1, "count")
	mm.RecordSimple(MetricCaptureRetries, 2, "count")

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM metrics_timeseries`).Scan(&n)
	if n != 2 {
		t.Errorf("rows = %d, want 2 after buffer filled", n)
	}
}

func TestCloseFlushes(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	mm := NewMetricsManager(db, 100, time.Hour, nil)
	mm.RecordSimple(MetricCaptureBytes, 2048, "bytes")
	mm.Close()
	mm.Close()

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM metrics_timeseries`).Scan(&n)
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}

func TestSummarize(t *testing.T) {
	mm := newManager(t)
	for _, v := range []float64{100, 300, 200} {
		mm.RecordSimple(MetricCaptureDurationMs, v, "milliseconds")
	}
	mm.Flush()

	stats, err := mm.Summarize(context.Background(), time.Now().Add(-time.Hour), MetricCaptureDurationMs, MetricCaptureErrors)
	if err != nil {
		t.Fatal(err)
	}
	d := stats[0]
	if d.Count != 3 || d.Sum != 600 || d.Avg != 200 || d.Max != 300 {
		t.Errorf("duration stats = %+v", d)
	}
	if stats[1].Count != 0 || stats[1].Sum != 0 {
		t.Errorf("empty stats = %+v", stats[1])
	}
}

func TestCleanup(t *testing.T) {
	mm := newManager(t)
	mm.Record(&Metric{Name: MetricCaptureSegments, Timestamp: time.Now().Add(-48 * time.Hour), Value: 1})
	mm.Record(&Metric{Name: MetricCaptureSegments, Value: 2})
	mm.Flush()

	n, err := mm.Cleanup(context.Background(), 24*time.Hour)
	if err != nil || n != 1 {
		t.Errorf("cleanup = %d, %v, want 1", n, err)
	}
}
