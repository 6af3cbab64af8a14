// Package controlapi serves the operator-facing HTTP/WebSocket surface
// described in §6: a read-only status snapshot, a manual full-sync
// trigger, a confirmation-token-guarded reset-to-chain, and per-market
// pause/resume. It also pushes the append-only quote/fill/pause event
// stream (mmtypes.QuoteHistoryEntry) to connected WebSocket clients for
// the (out-of-scope) operator dashboard to consume.
//
// Grounded on the teacher's internal/api package: same Hub/Client
// WebSocket plumbing and origin-allowlist check, generalized from a
// CLOB-specific read-only dashboard feed into this domain's control
// operations.
package controlapi

import (
	"context"
	"time"

	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

// MarketStatus is the JSON view of one MarketMaker record exposed by
// GET /api/status.
type MarketStatus struct {
	MMID                 string    `json:"mm_id"`
	MarketID             string    `json:"market_id"`
	Venue                string    `json:"venue"`
	Active               bool      `json:"active"`
	Paused               bool      `json:"paused"`
	PauseReason          string    `json:"pause_reason,omitempty"`
	QuotingPolicy        string    `json:"quoting_policy"`
	YesInventory         string    `json:"yes_inventory"`
	NoInventory          string    `json:"no_inventory"`
	AvgYesCost           string    `json:"avg_yes_cost"`
	AvgNoCost            string    `json:"avg_no_cost"`
	RealizedPnL          string    `json:"realized_pnl"`
	LastQuoteAt          time.Time `json:"last_quote_at,omitempty"`
	VolatilityPauseUntil time.Time `json:"volatility_pause_until,omitempty"`
}

// NewMarketStatus projects a mmtypes.MarketMaker record into its API view.
func NewMarketStatus(venue string, mm mmtypes.MarketMaker) MarketStatus {
	return MarketStatus{
		MMID:                 mm.MMID,
		MarketID:              mm.Market,
		Venue:                venue,
		Active:               mm.State.Active,
		Paused:               mm.State.Paused,
		PauseReason:          mm.State.PauseReason,
		QuotingPolicy:        string(mm.Config.QuotingPolicy),
		YesInventory:         mm.State.YesInventory.String(),
		NoInventory:          mm.State.NoInventory.String(),
		AvgYesCost:           mm.State.AvgYesCost.String(),
		AvgNoCost:            mm.State.AvgNoCost.String(),
		RealizedPnL:          mm.State.RealizedPnL.String(),
		LastQuoteAt:          mm.State.LastQuoteAt,
		VolatilityPauseUntil: mm.State.VolatilityPauseUntil,
	}
}

// StatusSnapshot is the full body of GET /api/status.
type StatusSnapshot struct {
	MMEnabled        bool           `json:"mm_enabled"`
	KillSwitchActive bool           `json:"kill_switch_active"`
	LastFullSyncAt   time.Time      `json:"last_full_sync_at,omitempty"`
	Markets          []MarketStatus `json:"markets"`
}

// Event is one broadcast item on the /ws stream: an audit-trail entry
// plus enough context for the dashboard to route it.
type Event struct {
	Type      mmtypes.QuoteEventKind `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	MMID      string                 `json:"mm_id"`
	Data      any                    `json:"data,omitempty"`
}

// NewEvent wraps an audit-trail entry for broadcast.
func NewEvent(e mmtypes.QuoteHistoryEntry) Event {
	return Event{
		Type:      e.Kind,
		Timestamp: time.Now(),
		MMID:      e.MMID,
		Data:      e,
	}
}

// ResetRequest is the body of POST /api/reset.
type ResetRequest struct {
	ConfirmationToken string `json:"confirmation_token"`
}

// PauseRequest is the body of POST /api/markets/{mm_id}/pause.
type PauseRequest struct {
	Reason string `json:"reason"`
}

// Provider is implemented by the engine. It is the only coupling point
// between this package and the rest of the system.
type Provider interface {
	// Status returns a point-in-time snapshot of every enrolled market.
	Status() StatusSnapshot
	// TriggerFullSync runs an out-of-band reconciliation full sync
	// (orders pass + positions pass) outside its cron schedule.
	TriggerFullSync(ctx context.Context) error
	// ResetToChain overwrites local inventory from authoritative
	// on-chain/venue positions. providedToken must match the
	// configured confirmation token or the call is refused.
	ResetToChain(ctx context.Context, providedToken string) error
	// PauseMarket halts quoting for one market and cancels its resting orders.
	PauseMarket(ctx context.Context, mmID, reason string) error
	// ResumeMarket re-enables quoting for a paused market.
	ResumeMarket(ctx context.Context, mmID string) error
	// Events returns the channel of audit-trail entries to broadcast.
	// A nil channel disables event broadcast.
	Events() <-chan Event
}
