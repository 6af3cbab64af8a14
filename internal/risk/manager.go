// Package risk enforces portfolio-level risk limits across all active markets.
//
// The risk manager runs as a standalone goroutine that receives PositionReports
// from the engine's quote loop (one report per MarketMaker per cycle) and
// checks them against configured limits:
//
//   - Per-market exposure:  caps USD exposure in any single market
//   - Global exposure:      caps total USD exposure across all markets
//   - Daily loss:           triggers kill switch if realized+unrealized PnL exceeds threshold
//   - Rapid price movement: triggers kill switch if mid-price moves more than
//     KillSwitchDropPct within KillSwitchWindowSec seconds
//
// A report's money fields mirror the shape of the Inventory FSM's
// mmtypes.MMState snapshot (decimal.Decimal inventory, avg cost, realized
// PnL) rather than the float64 position struct the quote loop used to
// build by hand — the engine derives ExposureUSD/UnrealizedPnL straight
// from a market's YesInventory/NoInventory/AvgYesCost/AvgNoCost/
// RealizedPnL fields and the current mids, with no float64 round-trip.
//
// When a limit is breached, the manager emits a KillSignal on KillCh(). The
// engine reads this signal and cancels all orders (globally or per-market,
// via dispatch.Batch against the venue adapter). After a kill, the kill
// switch stays active for CooldownAfterKill duration, during which the
// quote loop skips that market (or all markets, for a global kill).
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/internal/config"
)

// PositionReport is sent by the engine for each MarketMaker every quote
// cycle. Its fields are decimal.Decimal to match the Inventory FSM's
// mmtypes.MMState the values are derived from.
type PositionReport struct {
	MarketID      string
	YesQty        decimal.Decimal // YES tokens held
	NoQty         decimal.Decimal // NO tokens held
	MidPrice      decimal.Decimal // current mid price (used for price-movement detection)
	ExposureUSD   decimal.Decimal // total position value in USD
	UnrealizedPnL decimal.Decimal // mark-to-market PnL
	RealizedPnL   decimal.Decimal // locked-in PnL from closed trades
	Timestamp     time.Time
}

// KillSignal tells the engine to cancel all orders. If MarketID is empty,
// it means cancel across ALL markets (global kill).
type KillSignal struct {
	MarketID string // empty = kill ALL markets
	Reason   string
}

// priceAnchor stores a reference price at a point in time for detecting
// rapid price movements within a rolling window.
type priceAnchor struct {
	price     decimal.Decimal
	timestamp time.Time
}

// Manager enforces risk limits across all active markets. It aggregates
// position reports, checks limits, and emits kill signals when breached.
type Manager struct {
	cfg    config.RiskConfig
	logger *slog.Logger

	mu               sync.RWMutex
	positions        map[string]PositionReport // latest report per market
	totalExposure    decimal.Decimal           // sum of all ExposureUSD
	totalRealizedPnL decimal.Decimal           // sum of all RealizedPnL
	killSwitchActive bool                      // true while in cooldown
	killSwitchUntil  time.Time                 // when cooldown expires
	priceAnchors     map[string]priceAnchor    // reference prices for movement detection

	reportCh chan PositionReport // strategy goroutines write here
	killCh   chan KillSignal     // engine reads kill signals from here
}

// NewManager creates a risk manager.
func NewManager(cfg config.RiskConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		logger:       logger.With("component", "risk"),
		positions:    make(map[string]PositionReport),
		priceAnchors: make(map[string]priceAnchor),
		reportCh:     make(chan PositionReport, 100),
		killCh:       make(chan KillSignal, 10),
	}
}

// Run starts the risk monitoring loop.
func (rm *Manager) Run(ctx context.Context) {
	// Periodic check clears kill switch even when no reports arrive
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case report := <-rm.reportCh:
			rm.processReport(report)
		case <-ticker.C:
			rm.clearExpiredKillSwitch()
		}
	}
}

// Report submits a position report (non-blocking).
func (rm *Manager) Report(report PositionReport) {
	select {
	case rm.reportCh <- report:
	default:
		rm.logger.Warn("risk report channel full, dropping report",
			"market", report.MarketID)
	}
}

// KillCh returns the channel for reading kill signals.
func (rm *Manager) KillCh() <-chan KillSignal {
	return rm.killCh
}

// RemoveMarket cleans up state for a stopped market.
func (rm *Manager) RemoveMarket(marketID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	delete(rm.positions, marketID)
	delete(rm.priceAnchors, marketID)
	rm.recalculateTotals()
}

// IsKillSwitchActive returns whether the kill switch is engaged.
func (rm *Manager) IsKillSwitchActive() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.killSwitchActive {
		return false
	}
	if time.Now().After(rm.killSwitchUntil) {
		rm.killSwitchActive = false
		rm.logger.Info("kill switch cooldown expired")
		return false
	}
	return true
}

// RemainingBudget returns how much additional USD exposure is allowed for
// the given market. It takes the minimum of:
//   - per-market headroom: MaxPositionPerMarket − current market exposure
//   - global headroom:     MaxGlobalExposure − total exposure across all markets
//
// Returns 0 if either limit is already exceeded (the strategy will skip quoting).
func (rm *Manager) RemainingBudget(marketID string) decimal.Decimal {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	currentExposure := decimal.Zero
	if pos, ok := rm.positions[marketID]; ok {
		currentExposure = pos.ExposureUSD
	}

	perMarket := decimal.NewFromFloat(rm.cfg.MaxPositionPerMarket).Sub(currentExposure)
	global := decimal.NewFromFloat(rm.cfg.MaxGlobalExposure).Sub(rm.totalExposure)

	remaining := perMarket
	if global.LessThan(remaining) {
		remaining = global
	}
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// GetRiskSnapshot returns current aggregate risk metrics for dashboard.
func (rm *Manager) GetRiskSnapshot() RiskSnapshot {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	totalUnrealizedPnL := decimal.Zero
	for _, pos := range rm.positions {
		totalUnrealizedPnL = totalUnrealizedPnL.Add(pos.UnrealizedPnL)
	}

	maxGlobal := decimal.NewFromFloat(rm.cfg.MaxGlobalExposure)
	exposurePct := decimal.Zero
	if maxGlobal.IsPositive() {
		exposurePct = rm.totalExposure.Div(maxGlobal).Mul(decimal.NewFromInt(100))
	}

	var killReason string
	if rm.killSwitchActive {
		killReason = "cooldown"
	}

	return RiskSnapshot{
		GlobalExposure:       rm.totalExposure,
		MaxGlobalExposure:    maxGlobal,
		ExposurePct:          exposurePct,
		KillSwitchActive:     rm.killSwitchActive,
		KillSwitchUntil:      rm.killSwitchUntil,
		KillSwitchReason:     killReason,
		TotalRealizedPnL:     rm.totalRealizedPnL,
		TotalUnrealizedPnL:   totalUnrealizedPnL,
		MaxPositionPerMarket: decimal.NewFromFloat(rm.cfg.MaxPositionPerMarket),
		MaxDailyLoss:         decimal.NewFromFloat(rm.cfg.MaxDailyLoss),
		MaxMarketsActive:     rm.cfg.MaxMarketsActive,
		CurrentMarketsActive: len(rm.positions),
	}
}

// RiskSnapshot represents aggregate risk metrics for dashboard
type RiskSnapshot struct {
	GlobalExposure       decimal.Decimal
	MaxGlobalExposure    decimal.Decimal
	ExposurePct          decimal.Decimal
	KillSwitchActive     bool
	KillSwitchUntil      time.Time
	KillSwitchReason     string
	TotalRealizedPnL     decimal.Decimal
	TotalUnrealizedPnL   decimal.Decimal
	MaxPositionPerMarket decimal.Decimal
	MaxDailyLoss         decimal.Decimal
	MaxMarketsActive     int
	CurrentMarketsActive int
}

func (rm *Manager) processReport(report PositionReport) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.positions[report.MarketID] = report
	rm.recalculateTotals()

	totalUnrealizedPnL := decimal.Zero
	for _, pos := range rm.positions {
		totalUnrealizedPnL = totalUnrealizedPnL.Add(pos.UnrealizedPnL)
	}

	// Check per-market limit
	if report.ExposureUSD.GreaterThan(decimal.NewFromFloat(rm.cfg.MaxPositionPerMarket)) {
		rm.emitKill(report.MarketID, "per-market position limit breached")
	}

	// Check global limit
	if rm.totalExposure.GreaterThan(decimal.NewFromFloat(rm.cfg.MaxGlobalExposure)) {
		rm.emitKill("", "global exposure limit breached")
	}

	// Check daily loss
	totalPnL := rm.totalRealizedPnL.Add(totalUnrealizedPnL)
	if totalPnL.LessThan(decimal.NewFromFloat(rm.cfg.MaxDailyLoss).Neg()) {
		rm.emitKill("", "max daily loss breached")
	}

	// Check rapid price movement (kill switch)
	rm.checkPriceMovement(report)
}

// recalculateTotals re-sums totalExposure/totalRealizedPnL from the
// current position set. Callers must hold rm.mu.
func (rm *Manager) recalculateTotals() {
	rm.totalExposure = decimal.Zero
	rm.totalRealizedPnL = decimal.Zero
	for _, pos := range rm.positions {
		rm.totalExposure = rm.totalExposure.Add(pos.ExposureUSD)
		rm.totalRealizedPnL = rm.totalRealizedPnL.Add(pos.RealizedPnL)
	}
}

// checkPriceMovement detects rapid price swings using a rolling anchor.
// On each report, it compares mid-price to the anchor set at the start of
// the window. If the anchor is older than KillSwitchWindowSec, it resets.
// If price moved more than KillSwitchDropPct from anchor, kill switch fires.
func (rm *Manager) checkPriceMovement(report PositionReport) {
	window := time.Duration(rm.cfg.KillSwitchWindowSec) * time.Second

	anchor, ok := rm.priceAnchors[report.MarketID]
	if !ok || report.Timestamp.Sub(anchor.timestamp) > window {
		// No anchor or anchor expired — reset to current price
		rm.priceAnchors[report.MarketID] = priceAnchor{
			price:     report.MidPrice,
			timestamp: report.Timestamp,
		}
		return
	}

	if anchor.price.IsZero() {
		return
	}

	pctChange := report.MidPrice.Sub(anchor.price).Div(anchor.price).Abs()

	if pctChange.GreaterThan(decimal.NewFromFloat(rm.cfg.KillSwitchDropPct)) {
		pct, _ := pctChange.Mul(decimal.NewFromInt(100)).Float64()
		rm.emitKill(report.MarketID, fmt.Sprintf(
			"rapid price movement: %.1f%% in %ds",
			pct, rm.cfg.KillSwitchWindowSec,
		))
	}
}

func (rm *Manager) clearExpiredKillSwitch() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.killSwitchActive && time.Now().After(rm.killSwitchUntil) {
		rm.killSwitchActive = false
		rm.logger.Info("kill switch cooldown expired")
	}
}

// emitKill activates the kill switch, starts the cooldown timer, and sends
// a KillSignal to the engine. If the kill channel is full, it drains the
// stale signal first to ensure the latest kill reason is always delivered.
func (rm *Manager) emitKill(marketID, reason string) {
	rm.killSwitchActive = true
	rm.killSwitchUntil = time.Now().Add(rm.cfg.CooldownAfterKill)

	rm.logger.Error("KILL SWITCH",
		"market", marketID,
		"reason", reason,
		"cooldown_until", rm.killSwitchUntil,
	)

	// Drain stale signal if channel full, then send
	sig := KillSignal{MarketID: marketID, Reason: reason}
	select {
	case rm.killCh <- sig:
	default:
		select {
		case <-rm.killCh:
		default:
		}
		rm.killCh <- sig
	}
}
