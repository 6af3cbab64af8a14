package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

// UpsertMarket records (or updates) one market discovered by screening.
func (s *Store) UpsertMarket(m mmtypes.Market) error {
	_, err := s.db.Exec(`
		INSERT INTO markets (id, venue_id, yes_token_id, no_token_id, end_time, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			end_time = excluded.end_time,
			active = excluded.active
	`, m.MarketID, m.Venue, m.YesTokenID, m.NoTokenID, m.EndTime, m.Active)
	if err != nil {
		return fmt.Errorf("store: upsert market %s: %w", m.MarketID, err)
	}
	return nil
}

// GetMarket reloads one market's identity row, used on startup to
// reconstruct the venue/token ids a persisted MarketMaker quotes against.
func (s *Store) GetMarket(marketID string) (mmtypes.Market, bool, error) {
	var m mmtypes.Market
	var endTime sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, venue_id, yes_token_id, no_token_id, end_time, active
		FROM markets WHERE id = ?
	`, marketID).Scan(&m.MarketID, &m.Venue, &m.YesTokenID, &m.NoTokenID, &endTime, &m.Active)
	if err == sql.ErrNoRows {
		return mmtypes.Market{}, false, nil
	}
	if err != nil {
		return mmtypes.Market{}, false, fmt.Errorf("store: get market %s: %w", marketID, err)
	}
	if endTime.Valid {
		m.EndTime = endTime.Time
	}
	return m, true, nil
}

// UpsertMarketMaker persists the live state of one market maker (§6's
// status view reads this back). Called after every ApplyFill/config
// change; the Inventory FSM's Snapshot is the source of truth for the
// inventory/cost/pnl columns.
func (s *Store) UpsertMarketMaker(mm mmtypes.MarketMaker) error {
	var lastQuoteAt any
	if !mm.State.LastQuoteAt.IsZero() {
		lastQuoteAt = mm.State.LastQuoteAt
	}
	_, err := s.db.Exec(`
		INSERT INTO market_makers
			(id, market_id, quoting_policy, spread, order_size, max_inventory, skew_factor,
			 active, paused, pause_reason, yes_inventory, no_inventory, avg_yes_cost, avg_no_cost,
			 realized_pnl, last_quote_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			quoting_policy = excluded.quoting_policy,
			spread = excluded.spread,
			order_size = excluded.order_size,
			max_inventory = excluded.max_inventory,
			skew_factor = excluded.skew_factor,
			active = excluded.active,
			paused = excluded.paused,
			pause_reason = excluded.pause_reason,
			yes_inventory = excluded.yes_inventory,
			no_inventory = excluded.no_inventory,
			avg_yes_cost = excluded.avg_yes_cost,
			avg_no_cost = excluded.avg_no_cost,
			realized_pnl = excluded.realized_pnl,
			last_quote_at = excluded.last_quote_at
	`,
		mm.MMID, mm.Market, string(mm.Config.QuotingPolicy), mm.Config.TargetSpread.String(),
		mm.Config.OrderSize.String(), mm.Config.MaxInventory.String(), mm.Config.SkewFactor.String(),
		mm.State.Active, mm.State.Paused, mm.State.PauseReason,
		mm.State.YesInventory.String(), mm.State.NoInventory.String(),
		mm.State.AvgYesCost.String(), mm.State.AvgNoCost.String(), mm.State.RealizedPnL.String(),
		lastQuoteAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert market maker %s: %w", mm.MMID, err)
	}
	return nil
}

// GetMarketMaker reloads one market maker's persisted state, used on
// startup to seed the Inventory FSM before the fast-sync catches up.
func (s *Store) GetMarketMaker(mmID string) (mmtypes.MarketMaker, bool, error) {
	var mm mmtypes.MarketMaker
	var policy, spread, orderSize, maxInv, skew string
	var yesInv, noInv, avgYes, avgNo, pnl string
	var lastQuoteAt sql.NullTime

	err := s.db.QueryRow(`
		SELECT id, market_id, quoting_policy, spread, order_size, max_inventory, skew_factor,
		       active, paused, pause_reason, yes_inventory, no_inventory, avg_yes_cost, avg_no_cost,
		       realized_pnl, last_quote_at
		FROM market_makers WHERE id = ?
	`, mmID).Scan(
		&mm.MMID, &mm.Market, &policy, &spread, &orderSize, &maxInv, &skew,
		&mm.State.Active, &mm.State.Paused, &mm.State.PauseReason,
		&yesInv, &noInv, &avgYes, &avgNo, &pnl, &lastQuoteAt,
	)
	if err == sql.ErrNoRows {
		return mmtypes.MarketMaker{}, false, nil
	}
	if err != nil {
		return mmtypes.MarketMaker{}, false, fmt.Errorf("store: get market maker %s: %w", mmID, err)
	}

	mm.Config.QuotingPolicy = mmtypes.QuotingPolicy(policy)
	mm.Config.TargetSpread = decimal.RequireFromString(spread)
	mm.Config.OrderSize = decimal.RequireFromString(orderSize)
	mm.Config.MaxInventory = decimal.RequireFromString(maxInv)
	mm.Config.SkewFactor = decimal.RequireFromString(skew)
	mm.State.YesInventory = decimal.RequireFromString(yesInv)
	mm.State.NoInventory = decimal.RequireFromString(noInv)
	mm.State.AvgYesCost = decimal.RequireFromString(avgYes)
	mm.State.AvgNoCost = decimal.RequireFromString(avgNo)
	mm.State.RealizedPnL = decimal.RequireFromString(pnl)
	if lastQuoteAt.Valid {
		mm.State.LastQuoteAt = lastQuoteAt.Time
	}
	return mm, true, nil
}

// ListActiveMarketMakers returns every mm flagged active, the engine's
// main-loop work list.
func (s *Store) ListActiveMarketMakers() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM market_makers WHERE active = 1`)
	if err != nil {
		return nil, fmt.Errorf("store: list active market makers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertCandidate records one screening pass's scored outcome for a
// market (§4.3).
func (s *Store) UpsertCandidate(c mmtypes.Candidate) error {
	reason := ""
	if len(c.DisqualifyReasons) > 0 {
		reason = c.DisqualifyReasons[0]
	}
	_, err := s.db.Exec(`
		INSERT INTO candidates
			(market_id, total_score, queue_speed_score, liquidity_score, flow_score,
			 time_score, price_zone_score, queue_depth_score, disqualified, disqualify_reason, scanned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id) DO UPDATE SET
			total_score = excluded.total_score,
			queue_speed_score = excluded.queue_speed_score,
			liquidity_score = excluded.liquidity_score,
			flow_score = excluded.flow_score,
			time_score = excluded.time_score,
			price_zone_score = excluded.price_zone_score,
			queue_depth_score = excluded.queue_depth_score,
			disqualified = excluded.disqualified,
			disqualify_reason = excluded.disqualify_reason,
			scanned_at = excluded.scanned_at
	`,
		c.MarketID, c.Scores.Total, c.Scores.QueueSpeed, c.Scores.Liquidity, c.Scores.Flow,
		c.Scores.Time, c.Scores.PriceZone, c.Scores.QueueDepth, !c.Eligible, reason, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("store: upsert candidate %s: %w", c.MarketID, err)
	}
	return nil
}
