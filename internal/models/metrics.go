package models

import "time"

// SystemMetrics is the JSON view of process instrumentation served on
// /metrics/snapshot. Counters are cumulative since start.
type SystemMetrics struct {
	HTTP        HTTPMetrics       `json:"http"`
	Cache       CacheMetrics      `json:"cache"`
	Scheduling  SchedulingMetrics `json:"scheduling"`
	Jobs        JobMetrics        `json:"jobs"`
	Runtime     RuntimeMetrics    `json:"runtime"`
	GeneratedAt time.Time         `json:"generated_at"`
}

type HTTPMetrics struct {
	Requests      uint64  `json:"requests"`
	InFlight      int64   `json:"in_flight"`
	Errors        uint64  `json:"errors"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

type CacheMetrics struct {
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	HitRatio float64 `json:"hit_ratio"`
}

// SchedulingMetrics covers booking transactions and attendance changes.
type SchedulingMetrics struct {
	Transactions    uint64  `json:"transactions"`
	AvgTxDurationMs float64 `json:"avg_tx_duration_ms"`
	TxRetries       uint64  `json:"tx_retries"`
	Conflicts       uint64  `json:"conflicts"`
	Transitions     uint64  `json:"transitions"`
}

type JobMetrics struct {
	Succeeded uint64 `json:"succeeded"`
	Retried   uint64 `json:"retried"`
	Dropped   uint64 `json:"dropped"`
}

type RuntimeMetrics struct {
	Goroutines     int     `json:"goroutines"`
	HeapAllocBytes uint64  `json:"heap_alloc_bytes"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}
