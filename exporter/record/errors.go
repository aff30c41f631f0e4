package record

import "errors"

// Session-fatal conditions.
var (
	// ErrConfigurationMissing: a mandatory selector role is absent. The
	// session never starts.
	ErrConfigurationMissing = errors.New("configuration missing")

	// ErrContextLost: the page, frame or scroll container disappeared
	// mid-run. Partial results are kept and flagged incomplete.
	ErrContextLost = errors.New("context lost")
)

// Per-item conditions. They degrade the export, never abort it.
var (
	ErrAssetResolutionFailed = errors.New("asset resolution failed")
	ErrRecordIncomplete      = errors.New("record incomplete")
)
