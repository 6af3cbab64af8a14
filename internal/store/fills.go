package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

// RecordFill appends a confirmed fill to the ledger, idempotency having
// already been enforced by internal/inventory's Actor.
func (s *Store) RecordFill(mmID string, f mmtypes.Fill) error {
	id := f.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.Exec(`
		INSERT INTO fills (id, mm_id, outcome, side, price, size, value, realized_pnl_delta, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, mmID, f.Outcome.String(), string(f.Side), f.Price.String(), f.Size.String(),
		f.Value.String(), f.RealizedPnLDelta.String(), f.FilledAt)
	if err != nil {
		return fmt.Errorf("store: record fill %s: %w", id, err)
	}
	return nil
}

// InsertPendingFillEvent records a not-yet-confirmed fill observation
// (§4.7's PENDING state). The (order_id, matched_total) uniqueness
// constraint gives idempotency for free: a duplicate push notification
// for the same cumulative match is a no-op insert conflict, not an error.
func (s *Store) InsertPendingFillEvent(ev mmtypes.PendingFillEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO pending_fill_events
			(order_id, matched_total, mm_id, outcome, side, delta, price, status, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', ?)
		ON CONFLICT(order_id, matched_total) DO NOTHING
	`,
		ev.OrderID, ev.MatchedTotal.String(), ev.MMID, ev.Outcome.String(), string(ev.Side),
		ev.Delta.String(), ev.Price.String(), string(ev.Status), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("store: insert pending fill event for order %s: %w", ev.OrderID, err)
	}
	return nil
}

// ResolvePendingFillEvent transitions a pending event to CONFIRMED or
// REJECTED (§4.7's promotion step).
func (s *Store) ResolvePendingFillEvent(orderID string, matchedTotal decimal.Decimal, status mmtypes.PendingFillStatus) error {
	_, err := s.db.Exec(`
		UPDATE pending_fill_events SET status = ?, resolved_at = ?
		WHERE order_id = ? AND matched_total = ?
	`, string(status), time.Now(), orderID, matchedTotal.String())
	if err != nil {
		return fmt.Errorf("store: resolve pending fill event for order %s: %w", orderID, err)
	}
	return nil
}

// HasLivePending matches reconcile.PendingLookup's signature: true if an
// unconfirmed (PENDING) fill event exists for the given mm/outcome,
// which gates fast-sync's overwrite per Open Question 2.
func (s *Store) HasLivePending(mmID string, outcome mmtypes.Outcome) bool {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM pending_fill_events
		WHERE mm_id = ? AND outcome = ? AND status = ?
	`, mmID, outcome.String(), string(mmtypes.PendingStatusPending)).Scan(&n)
	return err == nil && n > 0
}

// PendingFillRow is one PENDING pending_fill_events row together with its
// created_at, since mmtypes.PendingFillEvent.ExpiresAt is computed by the
// caller (the table has no stored expiry column — the TTL is a policy
// constant, not persisted state).
type PendingFillRow struct {
	mmtypes.PendingFillEvent
	CreatedAt time.Time
}

// ListPendingFillEvents returns every still-PENDING event, oldest first,
// for §4.7's promotion step (fullSync walks these and confirms or rejects
// each against the now-current authoritative position).
func (s *Store) ListPendingFillEvents() ([]PendingFillRow, error) {
	rows, err := s.db.Query(`
		SELECT order_id, matched_total, mm_id, outcome, side, delta, price, status, created_at
		FROM pending_fill_events
		WHERE status = ?
		ORDER BY created_at ASC
	`, string(mmtypes.PendingStatusPending))
	if err != nil {
		return nil, fmt.Errorf("store: list pending fill events: %w", err)
	}
	defer rows.Close()

	var out []PendingFillRow
	for rows.Next() {
		var r PendingFillRow
		var matchedTotal, outcome, side, delta, price, status string
		if err := rows.Scan(&r.OrderID, &matchedTotal, &r.MMID, &outcome, &side, &delta, &price, &status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan pending fill event: %w", err)
		}
		r.MatchedTotal = decimal.RequireFromString(matchedTotal)
		r.Outcome = parseOutcome(outcome)
		r.Side = mmtypes.Side(side)
		r.Delta = decimal.RequireFromString(delta)
		r.Price = decimal.RequireFromString(price)
		r.Status = mmtypes.PendingFillStatus(status)
		r.ObservedAt = r.CreatedAt
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordQuoteEvent appends one quote-history entry (§4.4/§6) for
// observability on the Control API's status view.
func (s *Store) RecordQuoteEvent(mmID string, kind mmtypes.QuoteEventKind, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO quote_history (mm_id, kind, detail) VALUES (?, ?, ?)`,
		mmID, string(kind), detail,
	)
	if err != nil {
		return fmt.Errorf("store: record quote event for %s: %w", mmID, err)
	}
	return nil
}
