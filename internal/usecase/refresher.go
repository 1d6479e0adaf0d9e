package usecase

import (
	"context"
	"time"

	"VaultPulse/internal/domain/models"
	"VaultPulse/pkg/logger"
	"VaultPulse/pkg/util"
)

// MinRefreshInterval is the shortest accepted snapshot cadence.
const MinRefreshInterval = 50 * time.Millisecond

// AccountProvider hands out the current account, or nil when unknown.
type AccountProvider interface {
	Current() *models.AccountState
}

// AssetForgetter drops per-asset series once an asset is pruned.
type AssetForgetter interface {
	Forget(asset string)
}

// Refresher ticks the state manager on a fixed cadence, prunes idle state
// and hands every snapshot to the alert evaluator and the dispatcher.
type Refresher struct {
	state      *StateManager
	accounts   AccountProvider
	alerts     *AlertEvaluator
	dispatcher *Dispatcher
	forget     []AssetForgetter
	log        *logger.Logger
	now        func() time.Time

	interval      time.Duration
	pruneInterval time.Duration
}

type RefresherOption func(*Refresher)

func WithRefresherLogger(l *logger.Logger) RefresherOption {
	return func(r *Refresher) { r.log = l }
}

func WithRefresherClock(now func() time.Time) RefresherOption {
	return func(r *Refresher) { r.now = now }
}

// WithForgetters registers components holding per-asset series.
func WithForgetters(f ...AssetForgetter) RefresherOption {
	return func(r *Refresher) { r.forget = append(r.forget, f...) }
}

func NewRefresher(
	state *StateManager,
	accounts AccountProvider,
	alerts *AlertEvaluator,
	dispatcher *Dispatcher,
	interval, pruneInterval time.Duration,
	opts ...RefresherOption,
) *Refresher {
	interval = util.Clamp(interval, MinRefreshInterval, 0)
	if pruneInterval <= 0 {
		pruneInterval = time.Minute
	}
	r := &Refresher{
		state:         state,
		accounts:      accounts,
		alerts:        alerts,
		dispatcher:    dispatcher,
		log:           logger.Nop(),
		now:           time.Now,
		interval:      interval,
		pruneInterval: pruneInterval,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run ticks until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	tick := time.NewTicker(r.interval)
	defer tick.Stop()
	prune := time.NewTicker(r.pruneInterval)
	defer prune.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			r.Refresh()
		case <-prune.C:
			r.Prune()
		}
	}
}

// Refresh produces one snapshot and publishes it.
func (r *Refresher) Refresh() *models.MetricsSnapshot {
	var acct *models.AccountState
	if r.accounts != nil {
		acct = r.accounts.Current()
	}
	snap := r.state.Tick(acct)
	var alerts []models.Alert
	if r.alerts != nil {
		alerts = r.alerts.Evaluate(snap)
	}
	if r.dispatcher != nil {
		if err := r.dispatcher.Dispatch(snap, alerts); err != nil {
			r.log.Debug("snapshot not dispatched", logger.Uint64("generation", snap.Generation), logger.Error(err))
		}
	}
	return snap
}

// Prune drops idle assets and their exported series.
func (r *Refresher) Prune() []string {
	dropped := r.state.Prune(r.now())
	for _, asset := range dropped {
		for _, f := range r.forget {
			f.Forget(asset)
		}
	}
	return dropped
}

// Final seals the state manager and publishes one last snapshot.
func (r *Refresher) Final() *models.MetricsSnapshot {
	r.state.Seal()
	snap := r.Refresh()
	r.log.Info("final snapshot published", logger.Uint64("generation", snap.Generation))
	return snap
}
