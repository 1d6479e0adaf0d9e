package hyperliquid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"VaultPulse/internal/domain/models"
	phttp "VaultPulse/pkg/http"
	"VaultPulse/pkg/logger"
)

// ErrBreakerOpen is returned while the info API circuit is open.
var ErrBreakerOpen = errors.New("hyperliquid info circuit open")

type marginSummary struct {
	AccountValue    string `json:"accountValue"`
	TotalMarginUsed string `json:"totalMarginUsed"`
	TotalNtlPos     string `json:"totalNtlPos"`
}

type assetPosition struct {
	Position struct {
		Coin          string `json:"coin"`
		Szi           string `json:"szi"`
		EntryPx       string `json:"entryPx"`
		PositionValue string `json:"positionValue"`
	} `json:"position"`
}

type clearinghouseState struct {
	MarginSummary  marginSummary   `json:"marginSummary"`
	AssetPositions []assetPosition `json:"assetPositions"`
	Time           int64           `json:"time"`
}

type infoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

// InfoClient reads account state from the info endpoint behind a circuit
// breaker.
type InfoClient struct {
	http    *phttp.Client
	url     string
	address string
	breaker *gobreaker.CircuitBreaker
	log     *logger.Logger
	now     func() time.Time
}

// BreakerSettings tunes the circuit around the info endpoint.
type BreakerSettings struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

type InfoOption func(*InfoClient)

func WithInfoLogger(l *logger.Logger) InfoOption {
	return func(c *InfoClient) { c.log = l }
}

func WithInfoClock(now func() time.Time) InfoOption {
	return func(c *InfoClient) { c.now = now }
}

func NewInfoClient(url, address string, client *phttp.Client, bs BreakerSettings, opts ...InfoOption) *InfoClient {
	if bs.MaxFailures == 0 {
		bs.MaxFailures = 5
	}
	if bs.OpenTimeout <= 0 {
		bs.OpenTimeout = 30 * time.Second
	}
	c := &InfoClient{
		http:    client,
		url:     url,
		address: address,
		log:     logger.Nop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "hyperliquid-info",
		MaxRequests: 1,
		Timeout:     bs.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.MaxFailures
		},
		// a rejected request or a caller timeout does not mean the API is down
		IsSuccessful: func(err error) bool {
			return err == nil || phttp.IsClientError(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("circuit state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
	return c
}

// FetchAccount returns the vault's equity, margin and positions with mark
// prices taken from allMids when available.
func (c *InfoClient) FetchAccount(ctx context.Context) (*models.AccountState, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		var st clearinghouseState
		if err := c.post(ctx, infoRequest{Type: "clearinghouseState", User: c.address}, &st); err != nil {
			return nil, err
		}
		return &st, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrBreakerOpen, err)
		}
		return nil, err
	}

	mids, err := c.AllMids(ctx)
	if err != nil {
		c.log.Debug("allMids unavailable, using position values", logger.Error(err))
		mids = nil
	}
	return c.toAccount(res.(*clearinghouseState), mids)
}

// AllMids returns the mid price of every listed coin.
func (c *InfoClient) AllMids(ctx context.Context) (map[string]float64, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		var raw map[string]string
		if err := c.post(ctx, infoRequest{Type: "allMids"}, &raw); err != nil {
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	raw := res.(map[string]string)
	out := make(map[string]float64, len(raw))
	for coin, s := range raw {
		d, err := decimal.NewFromString(s)
		if err != nil || !d.IsPositive() {
			continue
		}
		out[coin] = d.InexactFloat64()
	}
	return out, nil
}

func (c *InfoClient) post(ctx context.Context, body infoRequest, dest interface{}) error {
	start := time.Now()
	err := c.http.SendAndParse(ctx, &phttp.RequestOptions{
		Method: phttp.MethodPost,
		URL:    c.url,
		Body:   body,
	}, dest)
	if err != nil {
		return fmt.Errorf("info %s: %w", body.Type, err)
	}
	c.log.Debug("info request", logger.String("type", body.Type), logger.Duration("took", time.Since(start)))
	return nil
}

func (c *InfoClient) toAccount(st *clearinghouseState, mids map[string]float64) (*models.AccountState, error) {
	equity, err := decimal.NewFromString(st.MarginSummary.AccountValue)
	if err != nil {
		return nil, fmt.Errorf("%w: accountValue %q", models.ErrInsufficientAccountData, st.MarginSummary.AccountValue)
	}
	margin, err := decimal.NewFromString(st.MarginSummary.TotalMarginUsed)
	if err != nil {
		return nil, fmt.Errorf("%w: totalMarginUsed %q", models.ErrInsufficientAccountData, st.MarginSummary.TotalMarginUsed)
	}

	ts := c.now().UTC()
	if st.Time > 0 {
		ts = fromMillis(st.Time)
	}
	acct := &models.AccountState{
		Address:    c.address,
		Equity:     equity.InexactFloat64(),
		MarginUsed: margin.InexactFloat64(),
		Positions:  make(map[string]models.Position, len(st.AssetPositions)),
		Timestamp:  ts,
	}
	for _, ap := range st.AssetPositions {
		p := ap.Position
		szi, err := decimal.NewFromString(p.Szi)
		if err != nil || szi.IsZero() {
			continue
		}
		pos := models.Position{Size: szi.InexactFloat64()}
		if entry, err := decimal.NewFromString(p.EntryPx); err == nil {
			pos.EntryPrice = entry.InexactFloat64()
		}
		if mid, ok := mids[p.Coin]; ok {
			pos.MarkPrice = mid
		} else if val, err := decimal.NewFromString(p.PositionValue); err == nil {
			pos.MarkPrice = val.Div(szi.Abs()).InexactFloat64()
		}
		acct.Positions[p.Coin] = pos
	}
	return acct, nil
}

// BreakerState exposes the circuit state for health reporting.
func (c *InfoClient) BreakerState() string { return c.breaker.State().String() }
