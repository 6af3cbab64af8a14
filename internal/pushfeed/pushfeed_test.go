package pushfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/internal/inventory"
	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

func nopLogger() *slog.Logger { return slog.New(slog.NewTextHandler(discard{}, nil)) }

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func startInventory(t *testing.T) *inventory.Actor {
	t.Helper()
	a := inventory.New(nopLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.Run(ctx)
	return a
}

type memStore struct {
	mu     sync.Mutex
	orders map[string]mmtypes.TrackedOrder
}

func newMemStore() *memStore { return &memStore{orders: make(map[string]mmtypes.TrackedOrder)} }

func (m *memStore) Get(orderID string) (mmtypes.TrackedOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	return o, ok
}
func (m *memStore) UpdateMatched(orderID string, matched decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok {
		o.LastMatchedSize = matched
		m.orders[orderID] = o
	}
}
func (m *memStore) Delete(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, orderID)
}

type fakeResolver struct{}

func (fakeResolver) Resolve(tokenID string) (string, mmtypes.Outcome, bool) { return "mm1", mmtypes.Yes, true }
func (fakeResolver) Refresh(context.Context) error                          { return nil }

func TestHandleOrderAppliesFillAndDeletesOnTerminal(t *testing.T) {
	t.Parallel()

	inv := startInventory(t)
	inv.Register("mm1", mmtypes.MMState{})
	store := newMemStore()
	store.orders["o1"] = mmtypes.TrackedOrder{
		Key:     mmtypes.OrderKey{MMID: "mm1", Outcome: mmtypes.Yes, Side: mmtypes.Buy},
		OrderID: "o1", Price: decimal.NewFromFloat(0.4), Size: decimal.NewFromInt(10),
	}

	l := New(nopLogger(), nil, inv, nil, store, fakeResolver{})
	l.handleOrder(context.Background(), orderMsg{
		ID: "o1", Status: "MATCHED", Price: decimal.NewFromFloat(0.4),
		OriginalSize: decimal.NewFromInt(10), SizeMatched: decimal.NewFromInt(10),
	})

	time.Sleep(10 * time.Millisecond)

	if _, ok := store.Get("o1"); ok {
		t.Error("expected terminal order to be deleted from the store")
	}
	st, _ := inv.Snapshot("mm1")
	if !st.YesInventory.Equal(decimal.NewFromInt(10)) {
		t.Errorf("yes_inventory = %s, want 10", st.YesInventory)
	}
}

func TestEnqueueOrdersPerOrderID(t *testing.T) {
	t.Parallel()

	l := New(nopLogger(), nil, nil, nil, nil, fakeResolver{})

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		i := i
		l.enqueue("same-order", func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order for same order_id, got %v", order)
		}
	}
}

func TestBackoffDelayRespectsCapAndBase(t *testing.T) {
	t.Parallel()

	l := New(nopLogger(), nil, nil, nil, nil, fakeResolver{})

	d0 := l.backoffDelay(0)
	if d0 < BackoffBase || d0 > BackoffBase+BackoffJitter {
		t.Errorf("attempt 0 delay = %v, want within [%v, %v]", d0, BackoffBase, BackoffBase+BackoffJitter)
	}

	dHigh := l.backoffDelay(20) // would overflow without capping
	if dHigh > BackoffCap+BackoffJitter {
		t.Errorf("high-attempt delay = %v, want capped near %v", dHigh, BackoffCap)
	}
}

func TestDispatchIgnoresMalformedMessage(t *testing.T) {
	t.Parallel()

	l := New(nopLogger(), nil, nil, nil, newMemStore(), fakeResolver{})
	l.dispatch(context.Background(), []byte("not json"))
	l.dispatch(context.Background(), mustJSON(envelope{Type: "unknown"}))
	// no panic means success
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
