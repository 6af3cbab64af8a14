package engine

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/internal/store"
	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

// mmTokenEntry is one enrolled market's identity, the minimal shape the
// resolver needs to answer Resolve/tokenFor and to feed the push
// listener's Dialer the current market id list.
type mmTokenEntry struct {
	MMID        string
	ConditionID string
	YesToken    string
	NoToken     string
}

type tokenMapping struct {
	mmID    string
	outcome mmtypes.Outcome
}

// tokenResolver implements pushfeed.TokenMMResolver, refreshed on a timer
// by the listener and on demand whenever a market is enrolled or retired.
type tokenResolver struct {
	listFn func() []mmTokenEntry

	mu           sync.RWMutex
	byToken      map[string]tokenMapping
	byMMOutcome  map[string]string // mmID|outcome -> tokenID
	conditionIDs []string
}

func newTokenResolver(listFn func() []mmTokenEntry) *tokenResolver {
	r := &tokenResolver{
		listFn:      listFn,
		byToken:     make(map[string]tokenMapping),
		byMMOutcome: make(map[string]string),
	}
	_ = r.Refresh(context.Background())
	return r
}

func (r *tokenResolver) Resolve(tokenID string) (mmID string, outcome mmtypes.Outcome, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byToken[tokenID]
	return m.mmID, m.outcome, ok
}

func (r *tokenResolver) Refresh(_ context.Context) error {
	entries := r.listFn()

	byToken := make(map[string]tokenMapping, len(entries)*2)
	byMMOutcome := make(map[string]string, len(entries)*2)
	conditionIDs := make([]string, 0, len(entries))

	for _, e := range entries {
		byToken[e.YesToken] = tokenMapping{mmID: e.MMID, outcome: mmtypes.Yes}
		byToken[e.NoToken] = tokenMapping{mmID: e.MMID, outcome: mmtypes.No}
		byMMOutcome[mmOutcomeKey(e.MMID, mmtypes.Yes)] = e.YesToken
		byMMOutcome[mmOutcomeKey(e.MMID, mmtypes.No)] = e.NoToken
		conditionIDs = append(conditionIDs, e.ConditionID)
	}

	r.mu.Lock()
	r.byToken = byToken
	r.byMMOutcome = byMMOutcome
	r.conditionIDs = conditionIDs
	r.mu.Unlock()
	return nil
}

func (r *tokenResolver) tokenFor(mmID string, outcome mmtypes.Outcome) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tokenID, ok := r.byMMOutcome[mmOutcomeKey(mmID, outcome)]
	return tokenID, ok
}

func (r *tokenResolver) markets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.conditionIDs))
	copy(out, r.conditionIDs)
	return out
}

func mmOutcomeKey(mmID string, outcome mmtypes.Outcome) string {
	return mmID + "|" + outcome.String()
}

// trackedOrderAdapter renames store.Store's tracked-order methods to the
// names pushfeed.TrackedOrderStore requires (Get/Delete vs the store's
// GetTrackedOrder/DeleteTrackedOrder).
type trackedOrderAdapter struct {
	store *store.Store
}

func (a *trackedOrderAdapter) Get(orderID string) (mmtypes.TrackedOrder, bool) {
	return a.store.GetTrackedOrder(orderID)
}

func (a *trackedOrderAdapter) UpdateMatched(orderID string, matched decimal.Decimal) {
	a.store.UpdateMatched(orderID, matched)
}

func (a *trackedOrderAdapter) Delete(orderID string) {
	a.store.DeleteTrackedOrder(orderID)
}
