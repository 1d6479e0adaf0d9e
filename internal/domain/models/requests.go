package models

// Requests for the metrics HTTP endpoints.

type AssetRequest struct {
	Asset string `param:"asset" json:"asset" validate:"required,max=32"`
}

type AlertsRequest struct {
	Level string `query:"level" json:"level" default:"info" validate:"oneof=info warning critical"`
	Limit int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type HistoryRequest struct {
	Asset string `query:"asset" json:"asset" validate:"required,max=32"`
	From  string `query:"from" json:"from"`
	To    string `query:"to" json:"to"`
	Limit int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=5000"`
}

// AssetHistoryPoint is one exported per-asset row read back for the API.
type AssetHistoryPoint struct {
	Asset         string  `json:"asset"`
	Generation    uint64  `json:"generation"`
	Timestamp     int64   `json:"ts"`
	VPINStatus    string  `json:"vpin_status"`
	VPIN          float64 `json:"vpin"`
	PhantomStatus string  `json:"phantom_status"`
	Phantom       float64 `json:"phantom"`
	SpreadBps     float64 `json:"spread_bps"`
	LastPrice     float64 `json:"last_price"`
}
