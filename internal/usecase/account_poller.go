package usecase

import (
	"context"
	"sync"
	"time"

	"VaultPulse/internal/domain/models"
	drepo "VaultPulse/internal/domain/repository"
	"VaultPulse/pkg/logger"
	"VaultPulse/pkg/util"
)

// MinPollInterval is the shortest accepted account poll cadence.
const MinPollInterval = 100 * time.Millisecond

// AccountPoller pulls the vault account on its own cadence and hands the
// latest good copy to the refresher.
type AccountPoller struct {
	src        drepo.AccountSource
	metrics    drepo.Metrics
	log        *logger.Logger
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time

	mu        sync.RWMutex
	latest    *models.AccountState
	fetchedAt time.Time
	lastErr   error
}

type PollerOption func(*AccountPoller)

func WithPollerLogger(l *logger.Logger) PollerOption {
	return func(p *AccountPoller) { p.log = l }
}

func WithPollerClock(now func() time.Time) PollerOption {
	return func(p *AccountPoller) { p.now = now }
}

// WithStaleAfter sets how long a fetched account stays current. Defaults to
// three poll intervals.
func WithStaleAfter(d time.Duration) PollerOption {
	return func(p *AccountPoller) {
		if d > 0 {
			p.staleAfter = d
		}
	}
}

func NewAccountPoller(src drepo.AccountSource, metrics drepo.Metrics, interval time.Duration, opts ...PollerOption) *AccountPoller {
	interval = util.Clamp(interval, MinPollInterval, 0)
	p := &AccountPoller{
		src:        src,
		metrics:    metrics,
		log:        logger.Nop(),
		interval:   interval,
		staleAfter: 3 * interval,
		now:        time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run polls immediately and then on every interval until ctx is done.
func (p *AccountPoller) Run(ctx context.Context) error {
	p.Poll(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll fetches once. Failures keep the previous account.
func (p *AccountPoller) Poll(ctx context.Context) {
	start := time.Now()
	acct, err := p.src.FetchAccount(ctx)
	p.metrics.RecordLatency("account_poll", time.Since(start).Seconds())

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
	if err != nil {
		if ctx.Err() == nil {
			p.metrics.RecordError("account_poll")
			p.log.Warn("account poll failed", logger.Error(err))
		}
		return
	}
	p.latest = acct
	p.fetchedAt = p.now()
}

// Current returns the last fetched account, or nil when nothing was fetched
// within the stale window.
func (p *AccountPoller) Current() *models.AccountState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil || p.now().Sub(p.fetchedAt) > p.staleAfter {
		return nil
	}
	return p.latest
}

// LastError reports the error of the most recent poll.
func (p *AccountPoller) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}
