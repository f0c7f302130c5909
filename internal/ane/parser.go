package ane

import (
	"math"
	"strings"
	"time"

	"codeberg.org/halvard/anemeter/internal/model"
)

const (
	msPerSecond = 1000
	hzPerMHz    = 1e6
)

// record mirrors the subset of a powermetrics JSON record that the
// collector reads. powermetrics emits many more fields; encoding/json
// ignores the rest.
type record struct {
	Processor processorRecord `json:"processor"`
}

type processorRecord struct {
	ANEEnergy float64         `json:"ane_energy"`
	CPUEnergy float64         `json:"cpu_energy"`
	Clusters  []clusterRecord `json:"clusters"`
}

type clusterRecord struct {
	Name      string   `json:"name"`
	IdleRatio *float64 `json:"idle_ratio"`
	FreqHz    float64  `json:"freq_hz"`
}

// idle treats a missing idle_ratio as fully idle
func (c clusterRecord) idle() float64 {
	if c.IdleRatio == nil {
		return 1
	}

	return *c.IdleRatio
}

// freqMHz truncates a frequency in Hz to whole MHz. Converting an
// out-of-range float to int is undefined, so values no real clock can
// reach are treated like a missing frequency and yield zero.
func freqMHz(hz float64) int {
	mhz := hz / hzPerMHz
	if mhz < 0 || mhz > math.MaxInt32 {
		return 0
	}

	return int(mhz)
}

// parseRecord derives one cluster sample and, when the record reports
// ANE energy, one power sample. A nil power sample means the ANE was
// idle for the window.
//
// Energy fields are in millijoules over the sampling window, so
// average power in milliwatts is energy divided by the window length
// in seconds. Utilization is power relative to the configured peak,
// clamped to 100.
func parseRecord(rec record, interval time.Duration, maxPowerMW float64, now time.Time) (*model.PowerSample, *model.ClusterSample) {
	intervalMS := float64(interval.Milliseconds())

	cluster := &model.ClusterSample{Timestamp: now}
	for _, cl := range rec.Processor.Clusters {
		active := (1 - cl.idle()) * 100
		freq := freqMHz(cl.FreqHz)

		switch {
		case strings.HasPrefix(cl.Name, "E"):
			if active > cluster.EClusterActive {
				cluster.EClusterActive = active
			}
			if freq > cluster.EClusterFreqMHz {
				cluster.EClusterFreqMHz = freq
			}
		case strings.HasPrefix(cl.Name, "P"):
			if active > cluster.PClusterActive {
				cluster.PClusterActive = active
			}
			if freq > cluster.PClusterFreqMHz {
				cluster.PClusterFreqMHz = freq
			}
		}
	}

	if intervalMS > 0 {
		cluster.CPUPowerMW = rec.Processor.CPUEnergy / intervalMS * msPerSecond
	}

	if rec.Processor.ANEEnergy <= 0 {
		return nil, cluster
	}

	powerMW := rec.Processor.ANEEnergy / intervalMS * msPerSecond
	utilization := powerMW / maxPowerMW * 100
	if utilization > 100 {
		utilization = 100
	}

	return &model.PowerSample{
		PowerMW:              powerMW,
		EnergyMJ:             rec.Processor.ANEEnergy,
		EstimatedUtilization: utilization,
		Timestamp:            now,
	}, cluster
}
