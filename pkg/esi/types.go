package esi

// RawOrder is a single market order exactly as ESI returns it. Normalization
// into the canonical trade record happens downstream; this layer only
// decodes.
type RawOrder struct {
	OrderID      int64   `json:"order_id"`
	TypeID       int64   `json:"type_id"`
	LocationID   int64   `json:"location_id"`
	SystemID     int64   `json:"system_id,omitempty"`
	Price        float64 `json:"price"`
	VolumeRemain int64   `json:"volume_remain"`
	VolumeTotal  int64   `json:"volume_total"`
	MinVolume    int64   `json:"min_volume"`
	Duration     int64   `json:"duration"`
	IsBuyOrder   bool    `json:"is_buy_order"`
	Issued       string  `json:"issued"`
	Range        string  `json:"range"`
}

// Header names ESI uses for pagination and the shared error budget.
const (
	headerPages           = "X-Pages"
	headerErrorLimit      = "X-Esi-Error-Limit-Remain"
	headerErrorLimitReset = "X-Esi-Error-Limit-Reset"
)
