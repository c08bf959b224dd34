package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsInitialized(t *testing.T) {
	Init()

	collectors := map[string]any{
		"MessagesReceived":  MessagesReceived,
		"Reconnects":        Reconnects,
		"RepliesSent":       RepliesSent,
		"RepliesSuppressed": RepliesSuppressed,
		"HelixDuration":     HelixDuration,
		"DispatchDuration":  DispatchDuration,
		"ConnectedGauge":    ConnectedGauge,
	}
	for name, c := range collectors {
		if c == nil {
			t.Errorf("%s not initialized", name)
		}
	}
}

func TestCounterHelpers(t *testing.T) {
	Init()

	tests := []struct {
		name    string
		counter prometheus.Counter
		fn      func()
	}{
		{"messages", MessagesReceived, IncMessages},
		{"malformed", MalformedLines, IncMalformed},
		{"ping", PingsAnswered, IncPing},
		{"reconnect", Reconnects, IncReconnect},
		{"reminder", RemindersSent, IncReminder},
		{"chatlog_dropped", ChatLogDropped, IncChatLogDropped},
		{"reply_greeting", RepliesSent.WithLabelValues("greeting"), func() { IncReply("greeting") }},
		{"suppressed_farewell", RepliesSuppressed.WithLabelValues("farewell"), func() { IncSuppressed("farewell") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(tt.counter)
			tt.fn()
			if got := testutil.ToFloat64(tt.counter); got != before+1 {
				t.Fatalf("counter = %v, want %v", got, before+1)
			}
		})
	}
}

func TestSetConnected(t *testing.T) {
	Init()
	SetConnected(true)
	if got := testutil.ToFloat64(ConnectedGauge); got != 1 {
		t.Fatalf("gauge = %v, want 1", got)
	}
	SetConnected(false)
	if got := testutil.ToFloat64(ConnectedGauge); got != 0 {
		t.Fatalf("gauge = %v, want 0", got)
	}
}

func TestObserveHelix(t *testing.T) {
	Init()
	ObserveHelix("streams", 150*time.Millisecond)

	m := &dto.Metric{}
	if err := HelixDuration.WithLabelValues("streams").(prometheus.Histogram).Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.Histogram.GetSampleCount() == 0 {
		t.Fatal("expected at least one helix observation")
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})

	executed := false
	d := TimeFunc(h, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})
	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if d < 10*time.Millisecond {
		t.Errorf("duration %v shorter than sleep", d)
	}

	m := &dto.Metric{}
	if err := h.Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.Histogram.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", m.Histogram.GetSampleCount())
	}
}

func TestTimeFuncNilObserver(t *testing.T) {
	if d := TimeFunc(nil, func() {}); d < 0 {
		t.Errorf("negative duration %v", d)
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Fatal("expected empty correlation id")
	}
	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Fatalf("GetCorrelation = %q", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Fatal("nil logger")
	}
}
