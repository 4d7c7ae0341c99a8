package api

// jobCreateRequest admits a traffic demand between two nodes.
type jobCreateRequest struct {
	Source        string  `json:"source"`
	Dest          string  `json:"dest"`
	BandwidthGbps float64 `json:"bandwidthGbps"`
}

// statusMarker stands in for data that does not exist yet, so clients can
// distinguish "no forecast yet" from an error.
type statusMarker struct {
	Status string `json:"status"`
}
