package models

import "encoding/json"

// ScoreStatus distinguishes "no data", "not enough data yet" and a value.
type ScoreStatus string

const (
	StatusUnavailable ScoreStatus = "unavailable"
	StatusComputing   ScoreStatus = "computing"
	StatusReady       ScoreStatus = "ready"
)

// Score is a tri-state metric value. Value is only meaningful when Status is
// StatusReady.
type Score struct {
	Status ScoreStatus
	Value  float64
}

func Unavailable() Score { return Score{Status: StatusUnavailable} }

func Computing() Score { return Score{Status: StatusComputing} }

func Ready(v float64) Score { return Score{Status: StatusReady, Value: v} }

func (s Score) IsReady() bool { return s.Status == StatusReady }

// Get returns the value and whether it is usable.
func (s Score) Get() (float64, bool) { return s.Value, s.Status == StatusReady }

type scoreJSON struct {
	Status ScoreStatus `json:"status"`
	Value  *float64    `json:"value"`
}

// MarshalJSON emits a null value unless the score is ready, so consumers can
// never mistake a missing score for zero.
func (s Score) MarshalJSON() ([]byte, error) {
	out := scoreJSON{Status: s.Status}
	if out.Status == "" {
		out.Status = StatusUnavailable
	}
	if s.Status == StatusReady {
		v := s.Value
		out.Value = &v
	}
	return json.Marshal(out)
}

func (s *Score) UnmarshalJSON(b []byte) error {
	var in scoreJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	s.Status = in.Status
	s.Value = 0
	if in.Value != nil {
		s.Value = *in.Value
	}
	return nil
}
