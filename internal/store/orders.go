package store

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

// UpsertTrackedOrder inserts or replaces a tracked order keyed by its
// venue order id (the dispatch layer's unit of placement).
func (s *Store) UpsertTrackedOrder(mmID string, o mmtypes.TrackedOrder) error {
	_, err := s.db.Exec(`
		INSERT INTO tracked_orders
			(order_id, client_order_id, order_group_id, mm_id, outcome, side, tier,
			 token_id, price, size, last_matched_size, has_matched, placed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			price = excluded.price,
			size = excluded.size,
			last_matched_size = excluded.last_matched_size,
			has_matched = excluded.has_matched
	`,
		o.OrderID, o.ClientOrderID, o.OrderGroupID, mmID, o.Key.Outcome.String(), string(o.Key.Side), o.Key.Tier,
		o.TokenID, o.Price.String(), o.Size.String(), o.LastMatchedSize.String(), o.HasMatched, o.PlacedAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert tracked order %s: %w", o.OrderID, err)
	}
	return nil
}

func scanTrackedOrder(row interface {
	Scan(dest ...any) error
}) (mmtypes.TrackedOrder, error) {
	var o mmtypes.TrackedOrder
	var mmID, outcome, side, price, size, matched string
	err := row.Scan(
		&o.OrderID, &o.ClientOrderID, &o.OrderGroupID, &mmID, &outcome, &side, &o.Key.Tier,
		&o.TokenID, &price, &size, &matched, &o.HasMatched, &o.PlacedAt,
	)
	if err != nil {
		return mmtypes.TrackedOrder{}, err
	}
	o.Key.MMID = mmID
	o.Key.Outcome = parseOutcome(outcome)
	o.Key.Side = mmtypes.Side(side)
	o.Price = decimal.RequireFromString(price)
	o.Size = decimal.RequireFromString(size)
	o.LastMatchedSize = decimal.RequireFromString(matched)
	return o, nil
}

const trackedOrderColumns = `order_id, client_order_id, order_group_id, mm_id, outcome, side, tier,
	token_id, price, size, last_matched_size, has_matched, placed_at`

// GetTrackedOrder satisfies pushfeed.TrackedOrderStore's Get.
func (s *Store) GetTrackedOrder(orderID string) (mmtypes.TrackedOrder, bool) {
	row := s.db.QueryRow(`SELECT `+trackedOrderColumns+` FROM tracked_orders WHERE order_id = ?`, orderID)
	o, err := scanTrackedOrder(row)
	if err != nil {
		return mmtypes.TrackedOrder{}, false
	}
	return o, true
}

// UpdateMatched satisfies pushfeed.TrackedOrderStore's UpdateMatched.
// Errors are swallowed to preserve the interface's fire-and-forget
// signature; callers needing the error should use UpsertTrackedOrder.
func (s *Store) UpdateMatched(orderID string, matched decimal.Decimal) {
	_, _ = s.db.Exec(
		`UPDATE tracked_orders SET last_matched_size = ?, has_matched = 1 WHERE order_id = ?`,
		matched.String(), orderID,
	)
}

// DeleteTrackedOrder satisfies pushfeed.TrackedOrderStore's Delete.
func (s *Store) DeleteTrackedOrder(orderID string) {
	_, _ = s.db.Exec(`DELETE FROM tracked_orders WHERE order_id = ?`, orderID)
}

// ListTrackedOrders returns every order tracked for one mm, used by the
// reconciliation passes and the Control API's status view.
func (s *Store) ListTrackedOrders(mmID string) ([]mmtypes.TrackedOrder, error) {
	rows, err := s.db.Query(`SELECT `+trackedOrderColumns+` FROM tracked_orders WHERE mm_id = ?`, mmID)
	if err != nil {
		return nil, fmt.Errorf("store: list tracked orders for %s: %w", mmID, err)
	}
	defer rows.Close()

	var out []mmtypes.TrackedOrder
	for rows.Next() {
		o, err := scanTrackedOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ClearTrackedOrders deletes every tracked order for one mm — used by
// reconcile.ResetToChain after the confirmation-token check passes.
func (s *Store) ClearTrackedOrders(mmID string) error {
	_, err := s.db.Exec(`DELETE FROM tracked_orders WHERE mm_id = ?`, mmID)
	if err != nil {
		return fmt.Errorf("store: clear tracked orders for %s: %w", mmID, err)
	}
	return nil
}
