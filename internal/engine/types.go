package engine

import (
	"sync"
	"time"

	"github.com/favored-labs/predictmm/internal/pricegrid"
	"github.com/favored-labs/predictmm/internal/quote"
	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

// Flow-tracker tuning, one instance per (market, outcome). Not exposed in
// the configuration table since toxicity detection is a quote-cycle
// internal, not an operator-facing knob.
const (
	flowWindow             = 15 * time.Minute
	flowToxicityThreshold  = 0.65
	flowCooldown           = 5 * time.Minute
	flowMaxSpreadMultiple  = 3.0
)

// mmRuntime is the live, in-memory half of one enrolled market maker; the
// durable half (mmtypes.MarketMaker) lives in the store and is reloaded
// into this shape at startup.
type mmRuntime struct {
	mu sync.Mutex // serializes this market's quote cycle, per Design Notes §9

	mm      mmtypes.MarketMaker
	market  mmtypes.Market
	venueID string
	grid    pricegrid.Grid

	yesFlow *quote.FlowTracker
	noFlow  *quote.FlowTracker
}

func newMMRuntime(mm mmtypes.MarketMaker, market mmtypes.Market, venueID string) *mmRuntime {
	return &mmRuntime{
		mm:      mm,
		market:  market,
		venueID: venueID,
		grid:    pricegrid.New(market.Ranges),
		yesFlow: quote.NewFlowTracker(flowWindow, flowToxicityThreshold, flowCooldown, flowMaxSpreadMultiple),
		noFlow:  quote.NewFlowTracker(flowWindow, flowToxicityThreshold, flowCooldown, flowMaxSpreadMultiple),
	}
}

func (r *mmRuntime) tokenFor(outcome mmtypes.Outcome) string {
	if outcome == mmtypes.No {
		return r.market.NoTokenID
	}
	return r.market.YesTokenID
}

func (r *mmRuntime) flowFor(outcome mmtypes.Outcome) *quote.FlowTracker {
	if outcome == mmtypes.No {
		return r.noFlow
	}
	return r.yesFlow
}
