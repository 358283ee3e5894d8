// Package budget tracks LLM spend against daily, weekly and monthly limits.
//
// The tracker is advisory: crossing a limit raises alerts and turns the
// period status red, but spend is always recorded and no request is ever
// blocked. Counters only grow within a period and are reset by the
// scheduled rollover when the period boundary passes.
package budget

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/metrics"
)

// Period is a budget window.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Periods lists every tracked period, shortest first.
var Periods = []Period{PeriodDaily, PeriodWeekly, PeriodMonthly}

// Days returns the nominal length of the period in days.
func (p Period) Days() int {
	switch p {
	case PeriodDaily:
		return 1
	case PeriodWeekly:
		return 7
	default:
		return 30
	}
}

// ParsePeriod validates a period name.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return Period(s), nil
	}
	return "", fmt.Errorf("budget: unknown period %q", s)
}

// Status is the traffic-light state of a period.
type Status string

const (
	StatusGreen  Status = "green"
	StatusYellow Status = "yellow"
	StatusRed    Status = "red"
)

// Severity returns a rank for comparing statuses.
func (s Status) Severity() int {
	switch s {
	case StatusRed:
		return 2
	case StatusYellow:
		return 1
	default:
		return 0
	}
}

// DefaultAlertThreshold is the fraction of a limit that triggers a warning.
const DefaultAlertThreshold = 0.8

// Config holds the configured limits. A zero limit means unlimited.
type Config struct {
	DailyLimitUSD   float64 `json:"daily_limit_usd"`
	WeeklyLimitUSD  float64 `json:"weekly_limit_usd"`
	MonthlyLimitUSD float64 `json:"monthly_limit_usd"`
	AlertThreshold  float64 `json:"alert_threshold"`
}

// Limit returns the configured limit for p.
func (c Config) Limit(p Period) float64 {
	switch p {
	case PeriodDaily:
		return c.DailyLimitUSD
	case PeriodWeekly:
		return c.WeeklyLimitUSD
	default:
		return c.MonthlyLimitUSD
	}
}

// SpendMirror persists period counters outside the process. It is
// implemented by pkg/cache on top of Redis.
type SpendMirror interface {
	IncrPeriodSpend(ctx context.Context, period, periodKey string, amount float64, ttl time.Duration) (float64, error)
	GetPeriodSpend(ctx context.Context, period, periodKey string) (float64, error)
}

// Alert is an active threshold crossing.
type Alert struct {
	Period      Period    `json:"period"`
	SpentUSD    float64   `json:"spent_usd"`
	LimitUSD    float64   `json:"limit_usd"`
	Utilization float64   `json:"utilization"`
	Severity    string    `json:"severity"` // warning / critical
	Message     string    `json:"message"`
	RaisedAt    time.Time `json:"raised_at"`
}

// PeriodState is the snapshot of one period.
type PeriodState struct {
	Period       Period    `json:"period"`
	PeriodStart  time.Time `json:"period_start"`
	LimitUSD     float64   `json:"limit_usd"`
	SpentUSD     float64   `json:"spent_usd"`
	RemainingUSD float64   `json:"remaining_usd"`
	Utilization  float64   `json:"utilization"`
	Status       Status    `json:"status"`
}

// Snapshot is the process-wide CostBudget at a point in time.
type Snapshot struct {
	AlertThreshold float64                `json:"alert_threshold"`
	Periods        map[Period]PeriodState `json:"periods"`
	TakenAt        time.Time              `json:"taken_at"`
}

type periodCounter struct {
	start    time.Time
	spent    float64
	warned   bool
	exceeded bool
}

// mirrorQueueSize bounds the spends waiting to be mirrored. RecordSpend
// blocks while the queue is full.
const mirrorQueueSize = 1024

type mirrorWrite struct {
	period Period
	key    string
	amount float64
}

// Tracker owns the running spend counters.
type Tracker struct {
	cfg    Config
	mirror SpendMirror
	now    func() time.Time

	mu       sync.Mutex
	counters map[Period]*periodCounter

	queue   chan []mirrorWrite
	pending sync.WaitGroup
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMirror mirrors every recorded spend to m.
func WithMirror(m SpendMirror) Option {
	return func(t *Tracker) { t.mirror = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker with zeroed counters for the current periods.
func NewTracker(cfg Config, opts ...Option) *Tracker {
	if cfg.AlertThreshold <= 0 || cfg.AlertThreshold > 1 {
		cfg.AlertThreshold = DefaultAlertThreshold
	}
	t := &Tracker{
		cfg:      cfg,
		now:      time.Now,
		counters: make(map[Period]*periodCounter, len(Periods)),
	}
	for _, opt := range opts {
		opt(t)
	}
	now := t.now()
	for _, p := range Periods {
		t.counters[p] = &periodCounter{start: PeriodStart(p, now)}
	}
	if t.mirror != nil {
		t.queue = make(chan []mirrorWrite, mirrorQueueSize)
		go t.mirrorLoop()
	}
	return t
}

// mirrorLoop applies queued spends to the mirror in order.
func (t *Tracker) mirrorLoop() {
	for writes := range t.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		for _, w := range writes {
			if _, err := t.mirror.IncrPeriodSpend(ctx, string(w.period), w.key, w.amount, mirrorTTL(w.period)); err != nil {
				log.Printf("budget: mirroring %s spend failed: %v", w.period, err)
			}
		}
		cancel()
		t.pending.Done()
	}
}

// Flush waits until every recorded spend has been mirrored.
func (t *Tracker) Flush() {
	t.pending.Wait()
}

// Config returns the configured limits.
func (t *Tracker) Config() Config {
	return t.cfg
}

// RecordSpend adds cost to every period counter. Spend over a limit is
// still recorded.
func (t *Tracker) RecordSpend(cost float64) error {
	if cost < 0 || math.IsNaN(cost) || math.IsInf(cost, 0) {
		return fmt.Errorf("budget: invalid spend %v", cost)
	}

	var writes []mirrorWrite

	t.mu.Lock()
	for _, p := range Periods {
		c := t.counters[p]
		c.spent += cost
		t.checkCrossingLocked(p, c)
		metrics.BudgetSpendUSD.WithLabelValues(string(p)).Set(c.spent)
		if limit := t.cfg.Limit(p); limit > 0 {
			metrics.BudgetUtilization.WithLabelValues(string(p)).Set(c.spent / limit)
		}
		writes = append(writes, mirrorWrite{period: p, key: PeriodKey(p, c.start), amount: cost})
	}
	t.mu.Unlock()

	if t.queue != nil && cost > 0 {
		t.pending.Add(1)
		t.queue <- writes
	}
	return nil
}

// checkCrossingLocked logs a threshold crossing once per period.
func (t *Tracker) checkCrossingLocked(p Period, c *periodCounter) {
	limit := t.cfg.Limit(p)
	if limit <= 0 {
		return
	}
	util := c.spent / limit
	if util >= t.cfg.AlertThreshold && !c.warned {
		c.warned = true
		metrics.BudgetAlertsTotal.WithLabelValues(string(p), "warning").Inc()
		log.Printf("budget: %s spend $%.4f crossed %.0f%% of $%.2f limit", p, c.spent, t.cfg.AlertThreshold*100, limit)
	}
	if util >= 1 && !c.exceeded {
		c.exceeded = true
		metrics.BudgetAlertsTotal.WithLabelValues(string(p), "critical").Inc()
		log.Printf("budget: %s spend $%.4f exceeded $%.2f limit (recording continues)", p, c.spent, limit)
	}
}

// CheckAlerts returns an alert for every period at or above the alert
// threshold.
func (t *Tracker) CheckAlerts() []Alert {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var alerts []Alert
	for _, p := range Periods {
		limit := t.cfg.Limit(p)
		if limit <= 0 {
			continue
		}
		spent := t.counters[p].spent
		util := spent / limit
		if util < t.cfg.AlertThreshold {
			continue
		}
		severity := "warning"
		msg := fmt.Sprintf("%s spend $%.2f is %.0f%% of the $%.2f limit", p, spent, util*100, limit)
		if util >= 1 {
			severity = "critical"
			msg = fmt.Sprintf("%s spend $%.2f exceeds the $%.2f limit", p, spent, limit)
		}
		alerts = append(alerts, Alert{
			Period:      p,
			SpentUSD:    spent,
			LimitUSD:    limit,
			Utilization: util,
			Severity:    severity,
			Message:     msg,
			RaisedAt:    now,
		})
	}
	return alerts
}

// Status classifies a period: green below the alert threshold, yellow up to
// the limit, red at or over it.
func (t *Tracker) Status(p Period) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked(p)
}

func (t *Tracker) statusLocked(p Period) Status {
	limit := t.cfg.Limit(p)
	if limit <= 0 {
		return StatusGreen
	}
	util := t.counters[p].spent / limit
	switch {
	case util >= 1:
		return StatusRed
	case util >= t.cfg.AlertThreshold:
		return StatusYellow
	default:
		return StatusGreen
	}
}

// UnderPressure reports whether any period is at or above its alert threshold.
func (t *Tracker) UnderPressure() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range Periods {
		if t.statusLocked(p) != StatusGreen {
			return true
		}
	}
	return false
}

// Spent returns the current spend for p.
func (t *Tracker) Spent(p Period) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters[p].spent
}

// Snapshot returns the state of every period.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		AlertThreshold: t.cfg.AlertThreshold,
		Periods:        make(map[Period]PeriodState, len(Periods)),
		TakenAt:        t.now(),
	}
	for _, p := range Periods {
		c := t.counters[p]
		limit := t.cfg.Limit(p)
		state := PeriodState{
			Period:      p,
			PeriodStart: c.start,
			LimitUSD:    limit,
			SpentUSD:    c.spent,
			Status:      t.statusLocked(p),
		}
		if limit > 0 {
			state.Utilization = c.spent / limit
			state.RemainingUSD = math.Max(0, limit-c.spent)
		}
		snap.Periods[p] = state
	}
	return snap
}

// Rollover resets every counter whose period boundary has passed at now and
// returns the periods that were reset.
func (t *Tracker) Rollover(now time.Time) []Period {
	t.mu.Lock()
	defer t.mu.Unlock()

	var rolled []Period
	for _, p := range Periods {
		c := t.counters[p]
		start := PeriodStart(p, now)
		if !start.After(c.start) {
			continue
		}
		log.Printf("budget: %s period rolled over (closing spend $%.4f)", p, c.spent)
		*c = periodCounter{start: start}
		metrics.BudgetSpendUSD.WithLabelValues(string(p)).Set(0)
		metrics.BudgetUtilization.WithLabelValues(string(p)).Set(0)
		rolled = append(rolled, p)
	}
	return rolled
}

// Run performs rollover checks every interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Rollover(t.now())
		}
	}
}

// Restore seeds the counters of the current periods from the mirror.
// Mirrored values lower than the in-process counter are ignored.
func (t *Tracker) Restore(ctx context.Context) error {
	if t.mirror == nil {
		return nil
	}
	t.mu.Lock()
	keys := make(map[Period]string, len(Periods))
	for _, p := range Periods {
		keys[p] = PeriodKey(p, t.counters[p].start)
	}
	t.mu.Unlock()

	restored := make(map[Period]float64, len(Periods))
	for _, p := range Periods {
		v, err := t.mirror.GetPeriodSpend(ctx, string(p), keys[p])
		if err != nil {
			return fmt.Errorf("budget: restoring %s spend: %w", p, err)
		}
		restored[p] = v
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range Periods {
		c := t.counters[p]
		if PeriodKey(p, c.start) != keys[p] || restored[p] <= c.spent {
			continue
		}
		c.spent = restored[p]
		t.checkCrossingLocked(p, c)
	}
	return nil
}

// PeriodStart returns the UTC start of the period containing now. Weeks
// start on Monday.
func PeriodStart(p Period, now time.Time) time.Time {
	u := now.UTC()
	day := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	switch p {
	case PeriodDaily:
		return day
	case PeriodWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	default:
		return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

// PeriodKey is the stable identifier of the period starting at start.
func PeriodKey(p Period, start time.Time) string {
	switch p {
	case PeriodDaily:
		return start.Format("2006-01-02")
	case PeriodWeekly:
		year, week := start.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	default:
		return start.Format("2006-01")
	}
}

func mirrorTTL(p Period) time.Duration {
	return time.Duration(p.Days()+2) * 24 * time.Hour
}

// Spend is a historical cost at a point in time.
type Spend struct {
	At      time.Time
	CostUSD float64
}

// Seed adds historical spend to the counters of the periods it falls in.
// It is used at start-up when no mirror is configured.
func (t *Tracker) Seed(history []Spend) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range Periods {
		c := t.counters[p]
		for _, s := range history {
			if s.CostUSD > 0 && !s.At.Before(c.start) {
				c.spent += s.CostUSD
			}
		}
		t.checkCrossingLocked(p, c)
		metrics.BudgetSpendUSD.WithLabelValues(string(p)).Set(c.spent)
	}
}
