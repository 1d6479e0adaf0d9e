package usecase

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"VaultPulse/internal/domain/models"
	"VaultPulse/pkg/logger"

	"github.com/google/uuid"
)

// AlertThresholds grade snapshot metrics. A zero threshold disables that
// level.
type AlertThresholds struct {
	VPINWarn          float64       `yaml:"vpin_warn" json:"vpin_warn" default:"0.5"`
	VPINCrit          float64       `yaml:"vpin_crit" json:"vpin_crit" default:"0.7"`
	PhantomWarn       float64       `yaml:"phantom_warn" json:"phantom_warn" default:"0.4"`
	PhantomCrit       float64       `yaml:"phantom_crit" json:"phantom_crit" default:"0.6"`
	LiquidationWarn   float64       `yaml:"liquidation_warn" json:"liquidation_warn" default:"0.7"`
	LiquidationCrit   float64       `yaml:"liquidation_crit" json:"liquidation_crit" default:"0.85"`
	DrawdownWarn      float64       `yaml:"drawdown_warn" json:"drawdown_warn" default:"0.15"`
	DrawdownCrit      float64       `yaml:"drawdown_crit" json:"drawdown_crit" default:"0.25"`
	ConcentrationWarn float64       `yaml:"concentration_warn" json:"concentration_warn" default:"0.15"`
	CancelRateWarn    float64       `yaml:"cancel_rate_warn" json:"cancel_rate_warn" default:"0.5"`
	FleetingWarn      float64       `yaml:"fleeting_warn" json:"fleeting_warn" default:"0.2"`
	Cooldown          time.Duration `yaml:"cooldown" json:"cooldown" default:"5m"`
	RingSize          int           `yaml:"ring_size" json:"ring_size" default:"1000"`
}

func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		VPINWarn: 0.5, VPINCrit: 0.7,
		PhantomWarn: 0.4, PhantomCrit: 0.6,
		LiquidationWarn: 0.7, LiquidationCrit: 0.85,
		DrawdownWarn: 0.15, DrawdownCrit: 0.25,
		ConcentrationWarn: 0.15,
		CancelRateWarn:    0.5,
		FleetingWarn:      0.2,
		Cooldown:          5 * time.Minute,
		RingSize:          1000,
	}
}

type firing struct {
	level models.AlertLevel
	at    time.Time
}

// AlertEvaluator turns snapshots into alerts and keeps the recent ones.
type AlertEvaluator struct {
	th    AlertThresholds
	log   *logger.Logger
	newID func() string

	mu     sync.RWMutex
	fired  map[string]firing
	ring   []models.Alert
	next   int
	filled bool
}

type AlertOption func(*AlertEvaluator)

func WithAlertLogger(l *logger.Logger) AlertOption {
	return func(e *AlertEvaluator) { e.log = l }
}

func WithAlertIDs(gen func() string) AlertOption {
	return func(e *AlertEvaluator) { e.newID = gen }
}

func NewAlertEvaluator(th AlertThresholds, opts ...AlertOption) *AlertEvaluator {
	if th.RingSize <= 0 {
		th.RingSize = 1000
	}
	e := &AlertEvaluator{
		th:    th,
		log:   logger.Nop(),
		newID: func() string { return uuid.NewString() },
		fired: make(map[string]firing),
	}
	for _, o := range opts {
		o(e)
	}
	e.ring = make([]models.Alert, th.RingSize)
	return e
}

// grade returns the level a value reaches, or "" below the warning mark.
func grade(v, warn, crit float64) (models.AlertLevel, float64) {
	switch {
	case crit > 0 && v >= crit:
		return models.AlertCritical, crit
	case warn > 0 && v >= warn:
		return models.AlertWarning, warn
	}
	return "", 0
}

// Evaluate checks every ready metric of the snapshot. An alert for the same
// metric and asset is suppressed during the cooldown unless it escalates.
func (e *AlertEvaluator) Evaluate(snap *models.MetricsSnapshot) []models.Alert {
	if snap == nil {
		return nil
	}
	var out []models.Alert

	e.mu.Lock()
	defer e.mu.Unlock()

	check := func(metric, asset string, v, warn, crit float64, msg string) {
		level, threshold := grade(v, warn, crit)
		if level == "" {
			return
		}
		key := metric + "|" + asset
		if f, ok := e.fired[key]; ok && snap.Timestamp.Sub(f.at) < e.th.Cooldown && level.Rank() <= f.level.Rank() {
			return
		}
		e.fired[key] = firing{level: level, at: snap.Timestamp}
		a := models.Alert{
			ID:         e.newID(),
			Level:      level,
			Metric:     metric,
			Asset:      asset,
			Message:    fmt.Sprintf(msg, v, threshold),
			Value:      v,
			Threshold:  threshold,
			Generation: snap.Generation,
			Timestamp:  snap.Timestamp,
		}
		e.push(a)
		out = append(out, a)
	}

	for _, name := range snap.AssetNames() {
		am := snap.Assets[name]
		if v, ok := am.VPIN.Get(); ok {
			check("vpin", name, v, e.th.VPINWarn, e.th.VPINCrit, "order flow toxicity %.3f above %.2f")
		}
		if v, ok := am.Phantom.Composite.Get(); ok {
			check("phantom", name, v, e.th.PhantomWarn, e.th.PhantomCrit, "phantom liquidity %.3f above %.2f")
		}
		if am.Phantom.Detail.ClosedRecords > 0 {
			check("cancel_rate", name, am.Phantom.Detail.CancelRate, e.th.CancelRateWarn, 0, "cancel rate %.3f above %.2f")
			check("fleeting", name, am.Phantom.Detail.FleetingRatio, e.th.FleetingWarn, 0, "fleeting order ratio %.3f above %.2f")
		}
	}

	if rs := snap.Risk.Snapshot; snap.Risk.Status == models.StatusReady && rs != nil && !rs.Stale {
		check("liquidation", "", rs.LiquidationRisk, e.th.LiquidationWarn, e.th.LiquidationCrit, "liquidation risk %.3f above %.2f")
		check("drawdown", "", rs.Drawdown, e.th.DrawdownWarn, e.th.DrawdownCrit, "drawdown %.3f above %.2f")
		assets := make([]string, 0, len(rs.Concentration))
		for a := range rs.Concentration {
			assets = append(assets, a)
		}
		sort.Strings(assets)
		for _, a := range assets {
			check("concentration", a, rs.Concentration[a], e.th.ConcentrationWarn, 0, "position concentration %.3f above %.2f")
		}
	}

	for _, a := range out {
		e.log.Info("alert raised",
			logger.String("id", a.ID),
			logger.String("level", string(a.Level)),
			logger.String("metric", a.Metric),
			logger.String("asset", a.Asset),
			logger.Float64("value", a.Value))
	}
	return out
}

func (e *AlertEvaluator) push(a models.Alert) {
	e.ring[e.next] = a
	e.next = (e.next + 1) % len(e.ring)
	if e.next == 0 {
		e.filled = true
	}
}

// Recent returns up to limit alerts at or above minLevel, newest first.
func (e *AlertEvaluator) Recent(minLevel models.AlertLevel, limit int) []models.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := e.next
	if e.filled {
		n = len(e.ring)
	}
	out := make([]models.Alert, 0, min(n, max(limit, 0)))
	for i := 0; i < n && len(out) < limit; i++ {
		idx := (e.next - 1 - i + len(e.ring)) % len(e.ring)
		a := e.ring[idx]
		if a.Level.Rank() >= minLevel.Rank() {
			out = append(out, a)
		}
	}
	return out
}
