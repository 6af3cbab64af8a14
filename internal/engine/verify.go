package engine

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/internal/inventory"
	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

// cacheStaleAfter bounds the age of the positions cache (twelve fast-sync
// intervals at the default 10 s cadence): a cache older than this is
// treated as unavailable rather than trusted, per §4.7's
// degraded-acceptance rule.
const cacheStaleAfter = 2 * time.Minute

// positionCache holds the most recently fetched authoritative positions,
// keyed by venue token id, refreshed by the fast-sync job.
type positionCache struct {
	mu        sync.RWMutex
	byToken   map[string]mmtypes.AuthoritativePosition
	updatedAt time.Time
}

func newPositionCache() *positionCache {
	return &positionCache{byToken: make(map[string]mmtypes.AuthoritativePosition)}
}

func (c *positionCache) update(positions map[string]mmtypes.AuthoritativePosition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for tokenID, pos := range positions {
		c.byToken[tokenID] = pos
	}
	c.updatedAt = time.Now()
}

func (c *positionCache) get(tokenID string) (mmtypes.AuthoritativePosition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if time.Since(c.updatedAt) > cacheStaleAfter {
		return mmtypes.AuthoritativePosition{}, false
	}
	pos, ok := c.byToken[tokenID]
	return pos, ok
}

// positionVerifier implements inventory.PositionVerifier by checking a
// claimed fill delta against the gap between the cached authoritative
// position and the inventory actor's current tracked size: the fill is
// matched only when that gap equals the claimed delta within
// inventory.FillTolerance. inv is set after
// construction since the Actor depends on this verifier at New time.
type positionVerifier struct {
	inv          *inventory.Actor
	cache        *positionCache
	resolveToken func(mmID string, outcome mmtypes.Outcome) (tokenID string, ok bool)
}

func (v *positionVerifier) Verify(mmID string, outcome mmtypes.Outcome, claimedDelta decimal.Decimal) (matched, degraded bool) {
	tokenID, ok := v.resolveToken(mmID, outcome)
	if !ok {
		return false, true
	}
	authPos, fresh := v.cache.get(tokenID)
	if !fresh {
		return false, true
	}
	if v.inv == nil {
		return true, false
	}
	st, ok := v.inv.Snapshot(mmID)
	if !ok {
		return true, false
	}

	current := st.YesInventory
	if outcome == mmtypes.No {
		current = st.NoInventory
	}

	drift := authPos.Size.Sub(current).Abs()
	if drift.Sub(claimedDelta).Abs().GreaterThan(inventory.FillTolerance) {
		return false, false
	}
	return true, false
}
