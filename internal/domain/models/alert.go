package models

import "time"

// AlertLevel grades an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Rank orders levels for filtering.
func (l AlertLevel) Rank() int {
	switch l {
	case AlertCritical:
		return 2
	case AlertWarning:
		return 1
	default:
		return 0
	}
}

// Alert is raised when a snapshot metric crosses a configured threshold.
type Alert struct {
	ID         string     `json:"id"`
	Level      AlertLevel `json:"level"`
	Metric     string     `json:"metric"`
	Asset      string     `json:"asset,omitempty"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	Threshold  float64    `json:"threshold"`
	Generation uint64     `json:"generation"`
	Timestamp  time.Time  `json:"ts"`
}
