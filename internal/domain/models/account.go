package models

import "time"

// Position is one open perp position of the monitored account.
type Position struct {
	Size       float64 `json:"size"`
	EntryPrice float64 `json:"entry_price"`
	MarkPrice  float64 `json:"mark_price"`
}

// Notional returns |size * mark|.
func (p Position) Notional() float64 {
	n := p.Size * p.MarkPrice
	if n < 0 {
		return -n
	}
	return n
}

// AccountState is pulled from the venue on its own cadence. The engine only
// reads it.
type AccountState struct {
	Address    string              `json:"address"`
	Equity     float64             `json:"equity"`
	MarginUsed float64             `json:"margin_used"`
	Positions  map[string]Position `json:"positions"`
	Timestamp  time.Time           `json:"ts"`
}

// Clone returns a deep copy.
func (a *AccountState) Clone() *AccountState {
	if a == nil {
		return nil
	}
	out := *a
	out.Positions = make(map[string]Position, len(a.Positions))
	for k, v := range a.Positions {
		out.Positions[k] = v
	}
	return &out
}

// RiskSnapshot is the account-level risk output.
type RiskSnapshot struct {
	LiquidationRisk      float64            `json:"liquidation_risk"`
	CascadeRisk          float64            `json:"cascade_risk"`
	Concentration        map[string]float64 `json:"concentration"`
	HHI                  float64            `json:"hhi"`
	Correlation          float64            `json:"correlation"`
	CorrelationAvailable bool               `json:"correlation_available"`
	Drawdown             float64            `json:"drawdown"`
	MarginUtilization    float64            `json:"margin_utilization"`
	FlowToxicity         float64            `json:"flow_toxicity"`
	PhantomExposure      float64            `json:"phantom_exposure"`
	Stale                bool               `json:"stale"`
	ComputedAt           time.Time          `json:"computed_at"`
}

// Clone returns a deep copy.
func (r *RiskSnapshot) Clone() *RiskSnapshot {
	if r == nil {
		return nil
	}
	out := *r
	if r.Concentration != nil {
		out.Concentration = make(map[string]float64, len(r.Concentration))
		for k, v := range r.Concentration {
			out.Concentration[k] = v
		}
	}
	return &out
}
