// Package model defines the sample records passed between collectors,
// the telemetry store, and the daemon loop.
package model

import "time"

// DefaultMaxANEPowerMW is the assumed peak ANE package power draw in
// milliwatts when no calibrated value is configured. Apple does not
// publish per-chip figures; 8 W tracks observed M-series peaks.
const DefaultMaxANEPowerMW = 8000.0

// PowerSample is one ANE power reading derived from a powermetrics
// record. EstimatedUtilization is power relative to the configured
// peak, clamped to 100.
type PowerSample struct {
	PowerMW              float64
	EnergyMJ             float64
	EstimatedUtilization float64
	Timestamp            time.Time
}

// ClusterSample aggregates per-cluster CPU readings from the same
// powermetrics record. Active percentages and frequencies are the
// maximum across clusters of the same type.
type ClusterSample struct {
	EClusterActive  float64
	PClusterActive  float64
	EClusterFreqMHz int
	PClusterFreqMHz int
	CPUPowerMW      float64
	Timestamp       time.Time
}

// MemorySample is a point-in-time view of system memory, in bytes.
type MemorySample struct {
	Total     uint64
	Used      uint64
	Available uint64
	SwapTotal uint64
	SwapUsed  uint64
	Timestamp time.Time
}

// UsagePercent returns used memory as a percentage of total, or 0 when
// totals are unknown.
func (m MemorySample) UsagePercent() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Used) / float64(m.Total) * 100
}

// SwapUsagePercent returns used swap as a percentage of total, or 0
// when no swap is configured.
func (m MemorySample) SwapUsagePercent() float64 {
	if m.SwapTotal == 0 {
		return 0
	}
	return float64(m.SwapUsed) / float64(m.SwapTotal) * 100
}

// DefaultANECores is the neural engine core count on M1 through M3
// series chips. No sysctl reports it.
const DefaultANECores = 16

// SystemInfo describes the host hardware as detected at startup.
// Fields are best effort; zero values mean detection failed.
type SystemInfo struct {
	ChipName      string
	CPUCores      int
	ECores        int
	PCores        int
	ANECores      int
	MemoryTotal   uint64
	MaxANEPowerMW float64
}

// Snapshot combines the most recent samples from each collector for
// logging and persistence. Nil fields mean no sample was available.
type Snapshot struct {
	ANE       *PowerSample
	CPU       *ClusterSample
	Memory    *MemorySample
	Timestamp time.Time
}
