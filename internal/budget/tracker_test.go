package budget

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

type fakeMirror struct {
	mu     sync.Mutex
	values map[string]float64
	err    error
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{values: make(map[string]float64)}
}

func (f *fakeMirror) IncrPeriodSpend(_ context.Context, period, periodKey string, amount float64, _ time.Duration) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.values[period+":"+periodKey] += amount
	return f.values[period+":"+periodKey], nil
}

func (f *fakeMirror) GetPeriodSpend(_ context.Context, period, periodKey string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.values[period+":"+periodKey], nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var wednesday = time.Date(2026, 10, 14, 15, 30, 0, 0, time.UTC)

func TestRecordSpend_StatusTransitions(t *testing.T) {
	tr := NewTracker(Config{DailyLimitUSD: 1.0, AlertThreshold: 0.8}, WithClock(fixedClock(wednesday)))

	if got := tr.Status(PeriodDaily); got != StatusGreen {
		t.Fatalf("initial status = %s, want green", got)
	}

	if err := tr.RecordSpend(0.85); err != nil {
		t.Fatalf("RecordSpend: %v", err)
	}
	if got := tr.Status(PeriodDaily); got != StatusYellow {
		t.Errorf("status at $0.85 = %s, want yellow", got)
	}
	alerts := tr.CheckAlerts()
	if len(alerts) != 1 || alerts[0].Period != PeriodDaily || alerts[0].Severity != "warning" {
		t.Fatalf("unexpected alerts at $0.85: %+v", alerts)
	}

	if err := tr.RecordSpend(0.35); err != nil {
		t.Fatalf("RecordSpend: %v", err)
	}
	if got := tr.Status(PeriodDaily); got != StatusRed {
		t.Errorf("status at $1.20 = %s, want red", got)
	}
	alerts = tr.CheckAlerts()
	if len(alerts) != 1 || alerts[0].Severity != "critical" {
		t.Fatalf("unexpected alerts at $1.20: %+v", alerts)
	}
	if math.Abs(tr.Spent(PeriodDaily)-1.20) > 1e-9 {
		t.Errorf("spend over the limit must still be recorded, got %v", tr.Spent(PeriodDaily))
	}
}

func TestRecordSpend_Invalid(t *testing.T) {
	tr := NewTracker(Config{})
	for _, v := range []float64{-0.01, math.NaN(), math.Inf(1)} {
		if err := tr.RecordSpend(v); err == nil {
			t.Errorf("RecordSpend(%v) expected error", v)
		}
	}
	if tr.Spent(PeriodDaily) != 0 {
		t.Error("invalid spend must not change counters")
	}
}

func TestUnlimitedPeriodsStayGreen(t *testing.T) {
	tr := NewTracker(Config{})
	if err := tr.RecordSpend(1000); err != nil {
		t.Fatal(err)
	}
	for _, p := range Periods {
		if tr.Status(p) != StatusGreen {
			t.Errorf("%s: unlimited period should be green", p)
		}
	}
	if len(tr.CheckAlerts()) != 0 {
		t.Error("unlimited periods should never alert")
	}
	if tr.UnderPressure() {
		t.Error("unlimited tracker should not be under pressure")
	}
}

func TestDefaultAlertThreshold(t *testing.T) {
	tr := NewTracker(Config{DailyLimitUSD: 10})
	if tr.Config().AlertThreshold != DefaultAlertThreshold {
		t.Errorf("threshold = %v, want %v", tr.Config().AlertThreshold, DefaultAlertThreshold)
	}
}

func TestConcurrentRecordSpend(t *testing.T) {
	tr := NewTracker(Config{MonthlyLimitUSD: 100})
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tr.RecordSpend(0.25); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	for _, p := range Periods {
		if got := tr.Spent(p); math.Abs(got-25) > 1e-9 {
			t.Errorf("%s spend = %v, want 25", p, got)
		}
	}
}

func TestRollover(t *testing.T) {
	now := wednesday
	tr := NewTracker(Config{DailyLimitUSD: 5}, WithClock(func() time.Time { return now }))
	if err := tr.RecordSpend(2); err != nil {
		t.Fatal(err)
	}

	if rolled := tr.Rollover(now.Add(time.Hour)); len(rolled) != 0 {
		t.Errorf("same day should not roll over, got %v", rolled)
	}

	// Thursday: only the daily period resets.
	rolled := tr.Rollover(now.Add(24 * time.Hour))
	if len(rolled) != 1 || rolled[0] != PeriodDaily {
		t.Fatalf("rolled = %v, want [daily]", rolled)
	}
	if tr.Spent(PeriodDaily) != 0 || tr.Spent(PeriodWeekly) != 2 {
		t.Errorf("after daily rollover daily=%v weekly=%v", tr.Spent(PeriodDaily), tr.Spent(PeriodWeekly))
	}

	// Next Monday resets the week as well.
	rolled = tr.Rollover(time.Date(2026, 10, 19, 0, 0, 1, 0, time.UTC))
	if len(rolled) != 2 {
		t.Fatalf("rolled = %v, want daily and weekly", rolled)
	}
	if tr.Spent(PeriodMonthly) != 2 {
		t.Errorf("monthly spend should survive a week rollover, got %v", tr.Spent(PeriodMonthly))
	}

	rolled = tr.Rollover(time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC))
	if len(rolled) != 3 {
		t.Fatalf("rolled = %v, want all periods", rolled)
	}
}

func TestRecordSpend_DoesNotRollOver(t *testing.T) {
	now := wednesday
	tr := NewTracker(Config{DailyLimitUSD: 5}, WithClock(func() time.Time { return now }))
	if err := tr.RecordSpend(3); err != nil {
		t.Fatal(err)
	}

	// Past the daily boundary, spend keeps accruing until the scheduled
	// rollover runs.
	now = now.Add(24 * time.Hour)
	if err := tr.RecordSpend(1); err != nil {
		t.Fatal(err)
	}
	if tr.Spent(PeriodDaily) != 4 {
		t.Errorf("daily = %v, want 4 before rollover", tr.Spent(PeriodDaily))
	}
	if rolled := tr.Rollover(now); len(rolled) != 1 || tr.Spent(PeriodDaily) != 0 {
		t.Errorf("rolled = %v, daily = %v after rollover", rolled, tr.Spent(PeriodDaily))
	}
}

func TestPeriodStartAndKey(t *testing.T) {
	tests := []struct {
		period    Period
		wantStart time.Time
		wantKey   string
	}{
		{PeriodDaily, time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), "2026-10-14"},
		{PeriodWeekly, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), "2026-W42"},
		{PeriodMonthly, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), "2026-10"},
	}
	for _, tt := range tests {
		start := PeriodStart(tt.period, wednesday)
		if !start.Equal(tt.wantStart) {
			t.Errorf("%s start = %v, want %v", tt.period, start, tt.wantStart)
		}
		if key := PeriodKey(tt.period, start); key != tt.wantKey {
			t.Errorf("%s key = %s, want %s", tt.period, key, tt.wantKey)
		}
	}

	sunday := time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC)
	if got := PeriodStart(PeriodWeekly, sunday); !got.Equal(time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("sunday week start = %v, want monday 12th", got)
	}
}

func TestSnapshot(t *testing.T) {
	tr := NewTracker(Config{DailyLimitUSD: 10, WeeklyLimitUSD: 50}, WithClock(fixedClock(wednesday)))
	if err := tr.RecordSpend(4); err != nil {
		t.Fatal(err)
	}
	snap := tr.Snapshot()
	daily := snap.Periods[PeriodDaily]
	if daily.SpentUSD != 4 || daily.RemainingUSD != 6 || math.Abs(daily.Utilization-0.4) > 1e-9 {
		t.Errorf("unexpected daily state %+v", daily)
	}
	if monthly := snap.Periods[PeriodMonthly]; monthly.LimitUSD != 0 || monthly.Status != StatusGreen {
		t.Errorf("unexpected monthly state %+v", monthly)
	}
}

func TestRestoreFromMirror(t *testing.T) {
	m := newFakeMirror()
	m.values["daily:2026-10-14"] = 3.5
	m.values["monthly:2026-10"] = 12

	tr := NewTracker(Config{DailyLimitUSD: 4}, WithMirror(m), WithClock(fixedClock(wednesday)))
	if err := tr.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if tr.Spent(PeriodDaily) != 3.5 || tr.Spent(PeriodMonthly) != 12 || tr.Spent(PeriodWeekly) != 0 {
		t.Errorf("restored daily=%v weekly=%v monthly=%v",
			tr.Spent(PeriodDaily), tr.Spent(PeriodWeekly), tr.Spent(PeriodMonthly))
	}
	if tr.Status(PeriodDaily) != StatusYellow {
		t.Errorf("restored status = %s, want yellow", tr.Status(PeriodDaily))
	}
}

func TestRecordSpend_MirroredBeforeFlushReturns(t *testing.T) {
	m := newFakeMirror()
	tr := NewTracker(Config{}, WithMirror(m), WithClock(fixedClock(wednesday)))

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tr.RecordSpend(0.5); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	tr.Flush()

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, want := range map[string]float64{"daily:2026-10-14": 100, "weekly:2026-W42": 100, "monthly:2026-10": 100} {
		if got := m.values[key]; got != want {
			t.Errorf("%s = %v, want %v", key, got, want)
		}
	}
}

func TestRestoreMirrorError(t *testing.T) {
	m := newFakeMirror()
	m.err = errors.New("connection refused")
	tr := NewTracker(Config{}, WithMirror(m))
	if err := tr.Restore(context.Background()); err == nil {
		t.Fatal("expected error from failing mirror")
	}
}

func TestParsePeriod(t *testing.T) {
	if p, err := ParsePeriod("weekly"); err != nil || p != PeriodWeekly {
		t.Errorf("ParsePeriod(weekly) = %v, %v", p, err)
	}
	if _, err := ParsePeriod("hourly"); err == nil {
		t.Error("expected error for hourly")
	}
}

func TestSeed(t *testing.T) {
	tr := NewTracker(Config{}, WithClock(fixedClock(wednesday)))
	tr.Seed([]Spend{
		{At: wednesday.Add(-time.Hour), CostUSD: 1},    // today
		{At: wednesday.AddDate(0, 0, -1), CostUSD: 2},  // this week
		{At: wednesday.AddDate(0, 0, -10), CostUSD: 4}, // this month
		{At: wednesday.AddDate(0, -1, 0), CostUSD: 8},  // last month
	})
	if tr.Spent(PeriodDaily) != 1 || tr.Spent(PeriodWeekly) != 3 || tr.Spent(PeriodMonthly) != 7 {
		t.Errorf("seeded daily=%v weekly=%v monthly=%v",
			tr.Spent(PeriodDaily), tr.Spent(PeriodWeekly), tr.Spent(PeriodMonthly))
	}
}
