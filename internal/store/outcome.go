package store

import "github.com/favored-labs/predictmm/pkg/mmtypes"

// parseOutcome is the inverse of mmtypes.Outcome.String() — Outcome is an
// int enum so it can't round-trip through a plain conversion the way
// Side (a string type) does.
func parseOutcome(s string) mmtypes.Outcome {
	if s == "NO" {
		return mmtypes.No
	}
	return mmtypes.Yes
}
