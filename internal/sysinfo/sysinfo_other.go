//go:build !darwin

package sysinfo

import "codeberg.org/halvard/anemeter/internal/model"

// powermetrics is Darwin-only, so there is no hardware to describe on
// other platforms.
func detect() model.SystemInfo {
	return model.SystemInfo{}
}
