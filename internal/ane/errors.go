package ane

import "codeberg.org/halvard/anemeter/internal/errors"

const (
	// Privilege and lifecycle errors
	ErrNotPrivileged = errors.ErrorCode("ane_not_privileged")
	ErrSpawnFailed   = errors.ErrorCode("ane_spawn_failed")

	// Configuration errors
	ErrInvalidInterval = errors.ErrInvalidInterval
	ErrInvalidMaxPower = errors.ErrInvalidMaxPower

	// Stream errors
	ErrDecodeFailed = errors.ErrorCode("ane_decode_failed")
)

var errFactory = errors.New()
