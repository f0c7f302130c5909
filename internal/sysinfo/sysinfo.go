// Package sysinfo detects host hardware details relevant to ANE
// monitoring: the chip name, core topology, and memory size.
package sysinfo

import "codeberg.org/halvard/anemeter/internal/model"

// Detect gathers best-effort hardware information. Fields that cannot
// be read stay zero; callers treat them as unknown. MaxANEPowerMW is
// always populated since the utilization estimate needs a denominator.
func Detect() model.SystemInfo {
	info := detect()
	if info.MaxANEPowerMW == 0 {
		info.MaxANEPowerMW = model.DefaultMaxANEPowerMW
	}

	return info
}
