package model

// Interconnect types, fastest first.
const (
	LinkNVLink = "NVLink"
	LinkUALink = "UALink"
	LinkPCIe   = "PCIe"
)

// TypeRank orders interconnect types for routing tie-breaks (lower is
// preferred). Unknown types rank last.
func TypeRank(linkType string) int {
	switch linkType {
	case LinkNVLink:
		return 0
	case LinkUALink:
		return 1
	case LinkPCIe:
		return 2
	}
	return 3
}

// LinkID derives the canonical id for an endpoint pair (undirected).
func LinkID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "-" + b
}

// Link is an undirected interconnect between two nodes. Endpoint and
// bandwidth/latency fields are static; the rest mutates per tick. Health and
// the anomaly flag are always derived from telemetry by the scorer, never set
// directly, except through the failed override.
type Link struct {
	ID            string  `json:"id"`
	A             string  `json:"a"`
	B             string  `json:"b"`
	Type          string  `json:"type"` // NVLink/UALink/PCIe
	BandwidthGbps float64 `json:"bandwidthGbps"`
	BaseLatencyUs float64 `json:"baseLatencyUs"`

	Utilization     float64         `json:"utilization"`
	LatencyUs       float64         `json:"latencyUs"`
	BER             float64         `json:"ber"`
	TempC           float64         `json:"tempC"`
	CRCPerSec       float64         `json:"crcPerSec"`
	Health          float64         `json:"health"`
	Band            string          `json:"band"`
	Anomalous       bool            `json:"anomalous"`
	Failed          bool            `json:"failed"`
	Degradation     float64         `json:"degradation"`               // chaos wear, 0..1
	CongestionBoost float64         `json:"congestionBoost,omitempty"` // chaos storm multiplier, >=1
	LastForecast    *ForecastResult `json:"lastForecast,omitempty"`
}

// Other returns the endpoint opposite to the given node id, or "".
func (l *Link) Other(nodeID string) string {
	switch nodeID {
	case l.A:
		return l.B
	case l.B:
		return l.A
	}
	return ""
}
