package quote

import (
	"math"
	"sync"
	"time"

	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

// ToxicityMetrics contains calculated adverse-selection indicators for one
// side (outcome) of a market.
type ToxicityMetrics struct {
	DirectionalImbalance float64 // [0, 1]: % of fills in the dominant direction
	FillVelocity         float64 // fills per minute
	ToxicityScore        float64 // [0, 1]: composite toxicity score
	IsAverse             bool    // true if likely getting adversely selected
}

// FlowTracker tracks recent fills for one outcome in a rolling time window
// to detect toxic flow: fills that consistently go in one direction,
// suggesting an informed trader is picking off stale quotes right before
// the price moves. GetSpreadMultiplier feeds Inputs.TargetSpread before a
// Compute call to widen quotes under detected toxicity.
type FlowTracker struct {
	mu sync.RWMutex

	windowDuration time.Duration
	fills          []mmtypes.Fill

	toxicityThreshold float64
	cooldownPeriod    time.Duration
	maxSpreadMultiple float64

	lastToxicTime time.Time
}

// NewFlowTracker creates a flow tracker with the given configuration.
func NewFlowTracker(windowDuration time.Duration, toxicityThreshold float64, cooldownPeriod time.Duration, maxSpreadMultiple float64) *FlowTracker {
	return &FlowTracker{
		windowDuration:    windowDuration,
		fills:             make([]mmtypes.Fill, 0, 100),
		toxicityThreshold: toxicityThreshold,
		cooldownPeriod:    cooldownPeriod,
		maxSpreadMultiple: maxSpreadMultiple,
	}
}

// AddFill records a new fill and evicts entries outside the window.
func (ft *FlowTracker) AddFill(fill mmtypes.Fill) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	ft.fills = append(ft.fills, fill)
	ft.evictStaleLocked()
}

// evictStaleLocked removes fills older than the window duration. Must be
// called with the lock held.
func (ft *FlowTracker) evictStaleLocked() {
	if len(ft.fills) == 0 {
		return
	}

	cutoff := time.Now().Add(-ft.windowDuration)
	validIdx := -1
	for i, fill := range ft.fills {
		if fill.FilledAt.After(cutoff) {
			validIdx = i
			break
		}
	}

	if validIdx == -1 {
		ft.fills = ft.fills[:0]
		return
	}
	if validIdx > 0 {
		ft.fills = ft.fills[validIdx:]
	}
}

// CalculateToxicity computes adverse-selection metrics from recent fills.
func (ft *FlowTracker) CalculateToxicity() ToxicityMetrics {
	ft.mu.Lock()
	ft.evictStaleLocked()
	ft.mu.Unlock()

	ft.mu.RLock()
	defer ft.mu.RUnlock()

	if len(ft.fills) == 0 {
		return ToxicityMetrics{}
	}

	var buyCount, sellCount int
	for _, fill := range ft.fills {
		if fill.Side == mmtypes.Buy {
			buyCount++
		} else {
			sellCount++
		}
	}

	totalFills := len(ft.fills)

	dominant := math.Max(float64(buyCount), float64(sellCount))
	directionalImbalance := dominant / float64(totalFills)

	if len(ft.fills) < 2 {
		return ToxicityMetrics{
			DirectionalImbalance: directionalImbalance,
			FillVelocity:         0,
			ToxicityScore:        directionalImbalance * 0.6,
			IsAverse:             directionalImbalance > ft.toxicityThreshold,
		}
	}

	windowDurationMinutes := ft.windowDuration.Minutes()
	fillVelocity := float64(totalFills) / windowDurationMinutes

	// >3 fills/min is treated as very high for prediction markets.
	velocityFactor := math.Min(fillVelocity/3.0, 1.0)

	toxicityScore := 0.6*directionalImbalance + 0.4*velocityFactor

	return ToxicityMetrics{
		DirectionalImbalance: directionalImbalance,
		FillVelocity:         fillVelocity,
		ToxicityScore:        toxicityScore,
		IsAverse:             toxicityScore > ft.toxicityThreshold,
	}
}

// GetSpreadMultiplier returns the spread multiplier to apply given current
// toxicity: 1.0 under normal conditions, up to maxSpreadMultiple while
// toxic, decaying back to 1.0 over the cooldown period once toxicity clears.
func (ft *FlowTracker) GetSpreadMultiplier() float64 {
	metrics := ft.CalculateToxicity()

	if metrics.IsAverse {
		ft.mu.Lock()
		ft.lastToxicTime = time.Now()
		ft.mu.Unlock()
	}

	ft.mu.RLock()
	inCooldown := time.Since(ft.lastToxicTime) < ft.cooldownPeriod
	ft.mu.RUnlock()

	if !metrics.IsAverse && !inCooldown {
		return 1.0
	}

	if metrics.ToxicityScore < ft.toxicityThreshold {
		timeSinceToxic := time.Since(ft.lastToxicTime).Seconds()
		cooldownSeconds := ft.cooldownPeriod.Seconds()
		cooldownProgress := math.Min(timeSinceToxic/cooldownSeconds, 1.0)
		return 1.0 + (ft.maxSpreadMultiple-1.0)*(1.0-cooldownProgress)
	}

	// Score at threshold -> 1.0x, rising linearly to maxSpreadMultiple at
	// the midpoint between threshold and 1.0, and capped there above it.
	normalizedScore := (metrics.ToxicityScore - ft.toxicityThreshold) / (1.0 - ft.toxicityThreshold)
	return 1.0 + (ft.maxSpreadMultiple-1.0)*math.Min(normalizedScore*2.0, 1.0)
}

// IsFlowToxic reports whether current flow shows adverse selection.
func (ft *FlowTracker) IsFlowToxic() bool {
	return ft.CalculateToxicity().IsAverse
}

// GetFillCount returns the number of fills in the current window.
func (ft *FlowTracker) GetFillCount() int {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	return len(ft.fills)
}
