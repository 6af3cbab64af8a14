// Package screen implements Screening (C3, §4.3): scores a market's book
// for market-making viability and produces an eligibility verdict with
// reason codes. Grounded on the external scanner's rankMarkets composite
// heuristic (internal/market/scanner.go: spread × √volume × liquidity
// factor), generalized from one blended score into the spec's six named,
// independently weighted sub-scores plus hard disqualifications.
package screen

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/internal/pricegrid"
	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

// Thresholds bundles the configurable gate constants (§4.3 step 7); all
// come from the process-wide config (§6: min_prob, max_prob, max_spread,
// min_liquidity) plus the screening-specific fields the spec's candidate
// scanner needs beyond the basket-scanner thresholds it shares a name with.
type Thresholds struct {
	MinTimeToEndHours float64
	MaxSpreadTicks    int
	MinTopDepth       decimal.Decimal
	MinDepth3c        decimal.Decimal
	MinSideDepth      decimal.Decimal
	MinQueueSpeed     float64
	MinVolume24h      float64
	ExcludeMidLt      decimal.Decimal
	ExcludeMidGt      decimal.Decimal
	RequireNOBook     bool
	AmbiguousKeywords []string
	DepthRangesCents  []int // defaults to [1, 3, 5] when empty
}

// DefaultThresholds mirrors the spec's illustrative defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinTimeToEndHours: 2,
		MaxSpreadTicks:    50,
		MinTopDepth:       decimal.NewFromInt(50),
		MinDepth3c:        decimal.NewFromInt(100),
		MinSideDepth:      decimal.NewFromInt(25),
		MinQueueSpeed:     0.1,
		MinVolume24h:      500,
		ExcludeMidLt:      decimal.NewFromFloat(0.02),
		ExcludeMidGt:      decimal.NewFromFloat(0.98),
		RequireNOBook:     false,
		AmbiguousKeywords: []string{"will either", "or both", "multiple outcomes", "ambiguous resolution"},
		DepthRangesCents:  []int{1, 3, 5},
	}
}

// Input bundles one market's book(s) and metadata for scoring.
type Input struct {
	MarketID         string
	Question         string
	MultiOutcome     bool
	HoursToEnd       float64
	Volume24h        float64
	AssumedOrderSize decimal.Decimal
	Grid             pricegrid.Grid

	YesBook mmtypes.OrderbookSnapshot
	NoBook  *mmtypes.OrderbookSnapshot // nil if unavailable

	// Authoritative overrides (§4.3 step 1-2): prefer these over the
	// raw book's own mid/spread when present.
	AuthoritativeMid    *decimal.Decimal
	AuthoritativeSpread *decimal.Decimal
}

// Score runs the full §4.3 pipeline for one market and returns the cached
// Candidate record shape.
func Score(in Input, th Thresholds) mmtypes.Candidate {
	now := time.Now()
	var reasons []string
	var flags []string

	bestBid, bestAsk, haveBook := in.YesBook.BestBidAsk()

	// Step 1: mid price.
	var mid decimal.Decimal
	switch {
	case in.AuthoritativeMid != nil:
		mid = *in.AuthoritativeMid
	case haveBook:
		mid = bestBid.Add(bestAsk).Div(decimal.NewFromInt(2))
	default:
		mid = decimal.Zero
		reasons = append(reasons, "no book available to derive midpoint")
	}

	tick := in.Grid.TickSize(mid)

	// Step 2: spread in ticks.
	var spreadTicks int
	var rawSpread decimal.Decimal
	switch {
	case in.AuthoritativeSpread != nil:
		rawSpread = *in.AuthoritativeSpread
	case haveBook:
		rawSpread = bestAsk.Sub(bestBid)
	}
	if !tick.IsZero() {
		spreadTicks = int(rawSpread.Div(tick).Round(0).IntPart())
	}

	// Step 3: top-of-book depth notional.
	var topDepthNotional decimal.Decimal
	var topDepthShares decimal.Decimal
	if haveBook {
		topDepthNotional = bestBid.Mul(in.YesBook.Bids[0].Size).Add(bestAsk.Mul(in.YesBook.Asks[0].Size))
		topDepthShares = in.YesBook.Bids[0].Size.Add(in.YesBook.Asks[0].Size)
	}

	// Step 4: depth within configurable cent bands.
	ranges := th.DepthRangesCents
	if len(ranges) == 0 {
		ranges = []int{1, 3, 5}
	}
	depths := make(map[int]decimal.Decimal, len(ranges))
	for _, c := range ranges {
		depths[c] = depthWithin(in.YesBook, in.NoBook, mid, c)
	}
	depth1c, depth3c, depth5c := depths[1], depths[3], depths[5]

	// Step 5: book slope.
	bookSlope := 0.0
	if depth5c.IsPositive() {
		bookSlope, _ = depth1c.Div(depth5c).Float64()
	}

	// Step 6: queue speed, queue-depth ratio.
	queueSpeed := 0.0
	if depth3c.IsPositive() {
		d3, _ := depth3c.Float64()
		queueSpeed = in.Volume24h / d3
	}
	queueDepthRatio := 0.0
	if in.AssumedOrderSize.IsPositive() {
		shares, _ := topDepthShares.Float64()
		sz, _ := in.AssumedOrderSize.Float64()
		queueDepthRatio = shares / sz
	}

	metrics := mmtypes.CandidateMetrics{
		MidPrice:         mid,
		SpreadTicks:      spreadTicks,
		TopDepthNotional: topDepthNotional,
		Depth1c:          depth1c,
		Depth3c:          depth3c,
		Depth5c:          depth5c,
		BookSlope:        bookSlope,
		QueueSpeed:       queueSpeed,
		QueueDepthRatio:  queueDepthRatio,
		HoursToEnd:       in.HoursToEnd,
		Volume24h:        in.Volume24h,
	}

	// Step 7: hard disqualifications. Every check runs; none short-circuit.
	if in.HoursToEnd < th.MinTimeToEndHours {
		reasons = append(reasons, "hours to end below minimum")
	}
	if spreadTicks > th.MaxSpreadTicks {
		reasons = append(reasons, "spread exceeds max ticks")
	}
	if topDepthNotional.LessThan(th.MinTopDepth) {
		reasons = append(reasons, "top depth below minimum")
	}
	if depth3c.LessThan(th.MinDepth3c) {
		reasons = append(reasons, "3c depth below minimum")
	}
	if haveBook {
		bidNotional := bestBid.Mul(in.YesBook.Bids[0].Size)
		askNotional := bestAsk.Mul(in.YesBook.Asks[0].Size)
		if bidNotional.LessThan(th.MinSideDepth) || askNotional.LessThan(th.MinSideDepth) {
			reasons = append(reasons, "per-side depth below minimum")
		}
	}
	if queueSpeed < th.MinQueueSpeed {
		reasons = append(reasons, "queue speed below minimum")
	}
	if in.Volume24h < th.MinVolume24h {
		reasons = append(reasons, "24h volume below minimum")
	}
	if mid.LessThan(th.ExcludeMidLt) || mid.GreaterThan(th.ExcludeMidGt) {
		reasons = append(reasons, "midpoint outside eligible price zone")
	}
	if in.MultiOutcome {
		reasons = append(reasons, "multi-outcome market")
	}
	if isAmbiguous(in.Question, th.AmbiguousKeywords) {
		reasons = append(reasons, "ambiguous resolution language")
	}
	if th.RequireNOBook && in.NoBook == nil {
		reasons = append(reasons, "NO book required but unavailable")
	}
	if !haveBook {
		flags = append(flags, "yes_book_empty")
	}

	// Step 8: six sub-scores, 0-100 each.
	scores := mmtypes.CandidateScores{
		Liquidity:  liquidityScore(topDepthNotional, depth3c),
		Flow:       flowScore(in.Volume24h),
		Time:       timeScore(in.HoursToEnd),
		PriceZone:  priceZoneScore(mid),
		QueueSpeed: queueSpeedScore(queueSpeed),
		QueueDepth: queueDepthScore(queueDepthRatio),
	}
	scores.Total = 0.35*scores.QueueSpeed + 0.25*scores.Liquidity + 0.15*scores.Flow +
		0.10*scores.Time + 0.10*scores.PriceZone + 0.05*scores.QueueDepth

	return mmtypes.Candidate{
		MarketID:          in.MarketID,
		Metrics:           metrics,
		Scores:            scores,
		Eligible:          len(reasons) == 0,
		DisqualifyReasons: reasons,
		Flags:             flags,
		ScoredAt:          now,
	}
}

// depthWithin sums price*size on both sides of both books within
// ±rangeCents/100 of mid (§4.3 step 4).
func depthWithin(yes mmtypes.OrderbookSnapshot, no *mmtypes.OrderbookSnapshot, mid decimal.Decimal, rangeCents int) decimal.Decimal {
	band := decimal.NewFromInt(int64(rangeCents)).Div(decimal.NewFromInt(100))
	lo, hi := mid.Sub(band), mid.Add(band)

	total := sumLevelsWithin(yes.Bids, lo, hi).Add(sumLevelsWithin(yes.Asks, lo, hi))
	if no != nil {
		total = total.Add(sumLevelsWithin(no.Bids, lo, hi)).Add(sumLevelsWithin(no.Asks, lo, hi))
	}
	return total
}

func sumLevelsWithin(levels []mmtypes.PriceLevel, lo, hi decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		if l.Price.GreaterThanOrEqual(lo) && l.Price.LessThanOrEqual(hi) {
			total = total.Add(l.Price.Mul(l.Size))
		}
	}
	return total
}

func isAmbiguous(question string, keywords []string) bool {
	q := strings.ToLower(question)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(q, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// liquidityScore log-scales combined top-of-book + 3c depth, saturating at
// $10,000 (same saturation point the external scanner's composite uses).
func liquidityScore(topDepthNotional, depth3c decimal.Decimal) float64 {
	combined, _ := topDepthNotional.Add(depth3c).Float64()
	return logScale(combined, 10000)
}

// flowScore log-scales 24h volume, saturating at $50,000.
func flowScore(volume24h float64) float64 {
	return logScale(volume24h, 50000)
}

// timeScore rewards markets with more runway, saturating at 30 days
// (720 hours) and zero at or below 0 hours.
func timeScore(hoursToEnd float64) float64 {
	if hoursToEnd <= 0 {
		return 0
	}
	return clamp(hoursToEnd/720*100, 0, 100)
}

// priceZoneScore peaks at mid=0.50 (maximum two-sided liquidity demand)
// and falls off linearly toward the tails.
func priceZoneScore(mid decimal.Decimal) float64 {
	m, _ := mid.Float64()
	distanceFromCenter := math.Abs(m - 0.5)
	return clamp((0.5-distanceFromCenter)/0.5*100, 0, 100)
}

// queueSpeedScore log-scales the raw queue-speed ratio, saturating at 5.0
// (book turns over five times daily relative to near-touch depth).
func queueSpeedScore(queueSpeed float64) float64 {
	return logScale(queueSpeed, 5.0)
}

// queueDepthScore rewards a queue-depth ratio near 1 (top depth roughly
// matches the assumed order size — neither starved nor overcrowded) and
// decays for ratios far from it.
func queueDepthScore(ratio float64) float64 {
	if ratio <= 0 {
		return 0
	}
	logRatio := math.Abs(math.Log10(ratio))
	return clamp((1-logRatio)*100, 0, 100)
}

// logScale maps [0, saturationPoint] onto [0, 100] via log1p, so early
// dollars of depth/volume matter far more than marginal ones near the cap.
func logScale(value, saturationPoint float64) float64 {
	if value <= 0 || saturationPoint <= 0 {
		return 0
	}
	scaled := math.Log1p(value) / math.Log1p(saturationPoint) * 100
	return clamp(scaled, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
