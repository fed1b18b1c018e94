package domain

import "time"

// PriceSample is one source's answer for one city during a cycle.
type PriceSample struct {
	Source     string  `json:"source"`
	Price      uint64  `json:"price"` // scaled by PriceScale
	Weight     uint64  `json:"weight"`
	Confidence float64 `json:"confidence"`
}

// CityPrice is the reduced per-city result of one cycle.
type CityPrice struct {
	CityID     uint64        `json:"cityId"`
	Name       string        `json:"name"`
	Price      uint64        `json:"price"` // scaled by PriceScale
	Confidence float64       `json:"confidence"`
	Samples    []PriceSample `json:"samples"`
}

// PriceSnapshot is the full output of one aggregation cycle. It
// atomically replaces the previous latest snapshot.
type PriceSnapshot struct {
	Timestamp   time.Time   `json:"timestamp"`
	GlobalIndex uint64      `json:"globalIndex"` // scaled by PriceScale
	Cities      []CityPrice `json:"cities"`
	Checksum    string      `json:"checksum,omitempty"`
}

// HistoryEntry is the compact per-cycle summary appended to the
// bounded history log. CityPrices carries just enough detail to
// answer per-city history queries without retaining full snapshots.
type HistoryEntry struct {
	Timestamp   time.Time         `json:"timestamp"`
	GlobalIndex uint64            `json:"globalIndex"`
	CityCount   int               `json:"cityCount"`
	CityPrices  map[uint64]uint64 `json:"cityPrices,omitempty"`
}

// CycleResult summarizes an on-demand or scheduled cycle for callers.
type CycleResult struct {
	CitiesUpdated int           `json:"citiesUpdated"`
	Errors        []string      `json:"errors,omitempty"`
	Duration      time.Duration `json:"-"`
	DurationMs    int64         `json:"durationMs"`
	GlobalIndex   uint64        `json:"globalIndex"`
}

// OracleStats holds operational counters served by the stats endpoint.
type OracleStats struct {
	UptimeSeconds  int64     `json:"uptimeSeconds"`
	UpdateCount    int64     `json:"updateCount"`
	ErrorCount     int64     `json:"errorCount"`
	LastDurationMs int64     `json:"lastDurationMs"`
	LastSuccess    time.Time `json:"lastSuccess,omitempty"`
}

// SnapshotEvent is published on the signal channel after each
// successful cycle; the realtime stream forwards it to subscribers.
type SnapshotEvent struct {
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	GlobalIndex uint64    `json:"globalIndex"`
	CityCount   int       `json:"cityCount"`
}
