//go:build darwin

package sysinfo

import (
	"golang.org/x/sys/unix"

	"codeberg.org/halvard/anemeter/internal/model"
)

func detect() model.SystemInfo {
	var info model.SystemInfo

	if name, err := unix.Sysctl("machdep.cpu.brand_string"); err == nil {
		info.ChipName = name
	}
	if memsize, err := unix.SysctlUint64("hw.memsize"); err == nil {
		info.MemoryTotal = memsize
	}
	if cores, err := unix.SysctlUint32("hw.physicalcpu"); err == nil {
		info.CPUCores = int(cores)
	}

	// perflevel0 is the performance cluster, perflevel1 the efficiency
	// cluster. Intel Macs lack these sysctls, which leaves the counts
	// zero, matching their lack of an ANE.
	if p, err := unix.SysctlUint32("hw.perflevel0.physicalcpu"); err == nil {
		info.PCores = int(p)
	}
	if e, err := unix.SysctlUint32("hw.perflevel1.physicalcpu"); err == nil {
		info.ECores = int(e)
	}

	if info.PCores > 0 {
		info.ANECores = model.DefaultANECores
	}

	return info
}
