package usecase

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"VaultPulse/internal/domain/models"
	drepo "VaultPulse/internal/domain/repository"
	"VaultPulse/internal/services/microstructure"
	"VaultPulse/internal/services/risk"
	"VaultPulse/pkg/logger"
	"VaultPulse/pkg/metrics"
)

// EngineConfig carries every tunable of the metrics engine.
type EngineConfig struct {
	VPIN           microstructure.VPINConfig
	Orders         microstructure.OrderTrackerConfig
	PhantomWeights models.PhantomWeights
	RiskWeights    risk.Weights
	Retention      time.Duration
	DepthBps       float64
	MinReturns     int
	HistoryPoints  int
}

func (c EngineConfig) Validate() error {
	if err := c.VPIN.Validate(); err != nil {
		return err
	}
	if err := c.Orders.Validate(); err != nil {
		return err
	}
	if err := c.PhantomWeights.Validate(); err != nil {
		return err
	}
	if err := c.RiskWeights.Validate(); err != nil {
		return err
	}
	if c.Retention <= 0 {
		return fmt.Errorf("%w: retention must be positive", models.ErrInvalidConfiguration)
	}
	if c.Retention < c.Orders.Horizon {
		return fmt.Errorf("%w: retention %s shorter than order horizon %s", models.ErrInvalidConfiguration, c.Retention, c.Orders.Horizon)
	}
	return nil
}

type assetState struct {
	vpin        *microstructure.VPINEngine
	orders      *microstructure.OrderTracker
	lastEventAt time.Time
	trades      uint64
	books       uint64
}

// StateManager owns all rolling per-asset state. Ingest is the only mutating
// path and is serialized by mu; readers get immutable snapshots through an
// atomic pointer.
type StateManager struct {
	cfg     EngineConfig
	scorer  *risk.Scorer
	history *risk.History
	metrics drepo.Metrics
	log     *logger.Logger
	now     func() time.Time

	mu         sync.Mutex
	assets     map[string]*assetState
	generation uint64
	lastTs     time.Time
	prevRisk   *models.RiskSnapshot
	account    *models.AccountState
	stats      models.IngestStats
	sealed     bool

	latest atomic.Pointer[models.MetricsSnapshot]
}

type StateOption func(*StateManager)

func WithStateClock(now func() time.Time) StateOption {
	return func(m *StateManager) { m.now = now }
}

func WithStateLogger(l *logger.Logger) StateOption {
	return func(m *StateManager) { m.log = l }
}

func WithStateMetrics(r drepo.Metrics) StateOption {
	return func(m *StateManager) { m.metrics = r }
}

// NewStateManager fails with ErrInvalidConfiguration on a bad config.
func NewStateManager(cfg EngineConfig, opts ...StateOption) (*StateManager, error) {
	if cfg.DepthBps <= 0 {
		cfg.DepthBps = 50
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &StateManager{
		cfg:     cfg,
		history: risk.NewHistory(cfg.Retention, cfg.HistoryPoints),
		assets:  make(map[string]*assetState),
		now:     time.Now,
		log:     logger.Nop(),
		metrics: metrics.Noop{},
	}
	for _, o := range opts {
		o(m)
	}
	scorer, err := risk.NewScorer(cfg.RiskWeights, risk.WithMinReturns(cfg.MinReturns), risk.WithClock(m.now))
	if err != nil {
		return nil, err
	}
	m.scorer = scorer
	return m, nil
}

// Ingest applies one event. Invalid and out-of-order events are counted and
// returned; they never change state.
func (m *StateManager) Ingest(ev models.Event) error {
	if err := ev.Validate(); err != nil {
		m.mu.Lock()
		m.stats.InvalidDropped++
		m.mu.Unlock()
		m.metrics.RecordError("invalid_event")
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sealed {
		return models.ErrClosed
	}

	asset := ev.Asset()
	st, err := m.stateFor(asset)
	if err != nil {
		return err
	}
	ts := ev.Time()
	if ts.Before(st.lastEventAt) {
		m.stats.OutOfOrder++
		m.metrics.RecordError("out_of_order")
		return fmt.Errorf("%w: %s at %s behind %s", models.ErrOutOfOrder, asset, ts.Format(time.RFC3339Nano), st.lastEventAt.Format(time.RFC3339Nano))
	}

	switch ev.Kind {
	case models.KindTrade:
		t := *ev.Trade
		_, side, err := st.vpin.IngestTrade(t)
		if err != nil {
			m.stats.InvalidDropped++
			m.metrics.RecordError("invalid_event")
			return err
		}
		st.orders.RecordTrade(side, t.Price, t.Size, t.Timestamp)
		st.trades++
	case models.KindBook:
		b := ev.Book
		if err := st.orders.IngestBookUpdate(b.Side, b.Price, b.Size, b.Timestamp); err != nil {
			m.stats.InvalidDropped++
			m.metrics.RecordError("invalid_event")
			return err
		}
		st.books++
	}

	st.lastEventAt = ts
	m.stats.EventsApplied++
	m.metrics.RecordEvent(string(ev.Kind), asset)
	return nil
}

func (m *StateManager) stateFor(asset string) (*assetState, error) {
	if st, ok := m.assets[asset]; ok {
		return st, nil
	}
	vpin, err := microstructure.NewVPINEngine(asset, m.cfg.VPIN)
	if err != nil {
		return nil, err
	}
	orders, err := microstructure.NewOrderTracker(asset, m.cfg.Orders)
	if err != nil {
		return nil, err
	}
	st := &assetState{vpin: vpin, orders: orders}
	m.assets[asset] = st
	m.log.Debug("tracking new asset", logger.String("asset", asset))
	return st, nil
}

// Tick computes and publishes a new snapshot. account may be nil when the
// poller has nothing yet; the previous risk is then kept and marked stale.
func (m *StateManager) Tick(account *models.AccountState) *models.MetricsSnapshot {
	start := time.Now()
	m.mu.Lock()

	now := m.now()
	if !now.After(m.lastTs) {
		now = m.lastTs.Add(time.Nanosecond)
	}
	m.lastTs = now
	m.generation++

	if account != nil && (m.account == nil || account.Timestamp.After(m.account.Timestamp)) {
		m.account = account.Clone()
		m.history.RecordAccount(m.account)
		at := m.account.Timestamp
		m.stats.AccountUpdateAt = &at
	}

	snap := &models.MetricsSnapshot{
		Generation: m.generation,
		Timestamp:  now,
		Assets:     make(map[string]models.AssetMetrics, len(m.assets)),
	}
	signals := make(map[string]risk.AssetSignal, len(m.assets))
	for name, st := range m.assets {
		am := m.assetMetrics(name, st, now)
		snap.Assets[name] = am
		signals[name] = risk.AssetSignal{VPIN: am.VPIN, Phantom: am.Phantom.Composite}
	}
	snap.Risk = m.riskView(account, signals)

	stats := m.stats
	stats.AssetsTracked = len(m.assets)
	if stats.AccountUpdateAt != nil {
		at := *stats.AccountUpdateAt
		stats.AccountUpdateAt = &at
	}
	snap.Stats = stats

	m.latest.Store(snap)
	m.mu.Unlock()

	m.metrics.RecordSnapshot(snap)
	m.metrics.RecordLatency("tick", time.Since(start).Seconds())
	return snap
}

func (m *StateManager) assetMetrics(name string, st *assetState, now time.Time) models.AssetMetrics {
	phantom, err := st.orders.Snapshot(now, m.cfg.PhantomWeights)
	if err != nil {
		// weights are validated at construction
		phantom = models.PhantomView{Composite: models.Unavailable()}
	}
	lastPrice, lastSide := st.vpin.LastTrade()
	return models.AssetMetrics{
		Asset:         name,
		VPIN:          st.vpin.Score(),
		BucketsClosed: st.vpin.BucketsClosed(),
		WindowLen:     st.vpin.WindowLen(),
		WindowSize:    st.vpin.WindowSize(),
		OpenBucket:    st.vpin.OpenBucket(),
		Phantom:       phantom,
		Book:          st.orders.Book(m.cfg.DepthBps),
		LastPrice:     lastPrice,
		LastSide:      lastSide,
		Trades:        st.trades,
		BookUpdates:   st.books,
		LastEventAt:   st.lastEventAt,
	}
}

func (m *StateManager) riskView(account *models.AccountState, signals map[string]risk.AssetSignal) models.RiskView {
	var rs models.RiskSnapshot
	err := models.ErrInsufficientAccountData
	if account != nil {
		rs, err = m.scorer.Score(m.account, m.history, signals)
	}
	if err == nil {
		m.prevRisk = &rs
		return models.RiskView{Status: models.StatusReady, Snapshot: rs.Clone()}
	}

	if !errors.Is(err, models.ErrInsufficientAccountData) {
		m.log.Warn("risk scoring failed", logger.Error(err))
	}
	if m.prevRisk == nil {
		return models.RiskView{Status: models.StatusUnavailable, Reason: err.Error()}
	}
	stale := m.prevRisk.Clone()
	stale.Stale = true
	return models.RiskView{Status: models.StatusReady, Snapshot: stale, Reason: err.Error()}
}

// Prune drops assets idle for longer than the retention horizon and trims
// order, trade and account history. It returns the dropped assets, sorted.
func (m *StateManager) Prune(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-m.cfg.Retention)
	var dropped []string
	for name, st := range m.assets {
		if st.lastEventAt.Before(cutoff) {
			delete(m.assets, name)
			dropped = append(dropped, name)
			continue
		}
		st.orders.Prune(now)
	}
	m.history.Prune(now)
	m.stats.AssetsPruned += uint64(len(dropped))
	sort.Strings(dropped)
	if len(dropped) > 0 {
		m.log.Info("pruned idle assets", logger.Strings("assets", dropped))
	}
	return dropped
}

// Latest returns the most recent snapshot, or nil before the first tick.
func (m *StateManager) Latest() *models.MetricsSnapshot {
	return m.latest.Load()
}

// Seal rejects any further ingest with ErrClosed.
func (m *StateManager) Seal() {
	m.mu.Lock()
	m.sealed = true
	m.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (m *StateManager) Sealed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sealed
}
