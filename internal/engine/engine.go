// Package engine is the orchestration root: it wires the Venue Adapter,
// Scheduler, Push Listener, Reconciliation, and the single Fill/Inventory
// FSM actor together, and exposes the Control API's Provider interface.
//
// Lifecycle: New() -> Start() -> [runs until shutdown] -> Stop().
package engine

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/internal/config"
	"github.com/favored-labs/predictmm/internal/controlapi"
	"github.com/favored-labs/predictmm/internal/exchange"
	"github.com/favored-labs/predictmm/internal/inventory"
	"github.com/favored-labs/predictmm/internal/market"
	"github.com/favored-labs/predictmm/internal/pushfeed"
	"github.com/favored-labs/predictmm/internal/reconcile"
	"github.com/favored-labs/predictmm/internal/risk"
	"github.com/favored-labs/predictmm/internal/scheduler"
	"github.com/favored-labs/predictmm/internal/store"
	"github.com/favored-labs/predictmm/internal/venue"
	"github.com/favored-labs/predictmm/internal/venue/kalshi"
	"github.com/favored-labs/predictmm/internal/venue/polyclob"
	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

const (
	jobQuoteLoop  = "quote_loop"
	jobFastSync   = "fast_sync"
	jobFullSync   = "full_sync"
	jobCandidates = "candidates"

	inventoryGroup = "inventory" // serializes fast_sync against full_sync
)

// Engine owns the lifecycle of every background goroutine and is the sole
// coupling point between the domain packages and the Control API.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	store *store.Store

	auth        *exchange.Auth
	client      *exchange.Client
	registry    *venue.Registry
	polyAdapter *polyclob.Adapter

	inv        *inventory.Actor
	verifier   *positionVerifier
	posCache   *positionCache
	resolver   *tokenResolver
	fastSyncer *reconcile.FastSyncer

	riskMgr *risk.Manager
	sched   *scheduler.Scheduler
	scanner *market.Scanner
	push    *pushfeed.Listener

	mmsMu sync.RWMutex
	mms   map[string]*mmRuntime

	booksMu sync.Mutex
	books   map[string]*market.Book

	scanMu   sync.Mutex
	lastScan market.ScanResult

	fillSyncMu sync.Mutex
	fillSyncAt map[string]int64 // venue id -> last Fills() poll unix

	syncMu         sync.Mutex
	lastFullSyncAt time.Time

	events chan controlapi.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires every subsystem but starts no goroutines.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		return nil, fmt.Errorf("engine: auth: %w", err)
	}
	client := exchange.NewClient(cfg, auth, logger)

	if !auth.HasL2Credentials() {
		logger.Info("no L2 credentials, deriving API key via L1")
		creds, err := client.DeriveAPIKey(context.Background())
		if err != nil {
			return nil, fmt.Errorf("engine: derive api key: %w", err)
		}
		auth.SetCredentials(*creds)
	}

	st, err := store.New(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("engine: store: %w", err)
	}

	polyAdapter := polyclob.New(client)
	registry := venue.NewRegistry()
	registry.Register(polyAdapter)

	if cfg.MM.Kalshi.Enabled {
		signer, err := newKalshiSigner(cfg.MM.Kalshi)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("engine: kalshi signer: %w", err)
		}
		registry.Register(kalshi.New(cfg.MM.Kalshi.BaseURL, signer))
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:         cfg,
		logger:      logger.With("component", "engine"),
		store:       st,
		auth:        auth,
		client:      client,
		registry:    registry,
		polyAdapter: polyAdapter,
		posCache:    newPositionCache(),
		riskMgr:     risk.NewManager(cfg.Risk, logger),
		scanner:     market.NewScanner(cfg, logger),
		mms:         make(map[string]*mmRuntime),
		books:       make(map[string]*market.Book),
		fillSyncAt:  make(map[string]int64),
		events:      make(chan controlapi.Event, 256),
		ctx:         ctx,
		cancel:      cancel,
	}

	e.resolver = newTokenResolver(e.listTokenEntries)

	e.verifier = &positionVerifier{cache: e.posCache, resolveToken: e.resolver.tokenFor}
	e.inv = inventory.New(logger, e.verifier)
	e.verifier.inv = e.inv

	e.fastSyncer = reconcile.NewFastSyncer(logger, e.inv)
	e.sched = scheduler.New(logger, st)

	trackedAdapter := &trackedOrderAdapter{store: st}
	dialer := pushfeed.NewWSDialer(cfg.API.WSUserURL, auth.WSAuthPayload(), e.resolver.markets)
	e.push = pushfeed.New(logger, dialer, e.inv, e.verifier, trackedAdapter, e.resolver)

	if err := e.loadPersistedMarkets(); err != nil {
		st.Close()
		return nil, fmt.Errorf("engine: load markets: %w", err)
	}

	return e, nil
}

// loadPersistedMarkets re-hydrates every active market maker from the
// store into runtime state, so a restart resumes quoting without
// rediscovering markets through the scanner/screening pipeline.
func (e *Engine) loadPersistedMarkets() error {
	ids, err := e.store.ListActiveMarketMakers()
	if err != nil {
		return err
	}
	for _, id := range ids {
		mm, ok, err := e.store.GetMarketMaker(id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		mkt, ok, err := e.store.GetMarket(mm.Market)
		if err != nil {
			return err
		}
		if !ok {
			e.logger.Warn("market maker references unknown market, skipping", "mm_id", id, "market_id", mm.Market)
			continue
		}
		e.inv.Register(mm.MMID, mm.State)
		e.registerRuntime(mm, mkt, mkt.Venue)
	}
	e.resolver.Refresh(context.Background())
	return nil
}

// registerRuntime builds an mmRuntime and, for the polyclob venue, a live
// Book mirror registered with the adapter.
func (e *Engine) registerRuntime(mm mmtypes.MarketMaker, mkt mmtypes.Market, venueID string) *mmRuntime {
	rt := newMMRuntime(mm, mkt, venueID)

	if venueID == polyclob.VenueID {
		book := market.NewBook(mkt.MarketID, mkt.YesTokenID, mkt.NoTokenID)
		e.booksMu.Lock()
		e.books[mkt.MarketID] = book
		e.booksMu.Unlock()
		e.polyAdapter.RegisterBook(mkt.MarketID, mkt.YesTokenID, mkt.NoTokenID, book)
		tokens := []string{mkt.YesTokenID}
		if mkt.NoTokenID != "" {
			tokens = append(tokens, mkt.NoTokenID)
		}
		if err := e.polyAdapter.SubscribeTokens(e.ctx, tokens); err != nil {
			e.logger.Debug("market feed not yet running, tokens pending initial subscribe", "market_id", mkt.MarketID)
		}
	}

	e.mmsMu.Lock()
	e.mms[mm.MMID] = rt
	e.mmsMu.Unlock()
	return rt
}

func (e *Engine) listTokenEntries() []mmTokenEntry {
	e.mmsMu.RLock()
	defer e.mmsMu.RUnlock()
	out := make([]mmTokenEntry, 0, len(e.mms))
	for _, rt := range e.mms {
		out = append(out, mmTokenEntry{
			MMID:        rt.mm.MMID,
			ConditionID: rt.market.MarketID,
			YesToken:    rt.market.YesTokenID,
			NoToken:     rt.market.NoTokenID,
		})
	}
	return out
}

func newKalshiSigner(cfg config.KalshiConfig) (kalshi.Signer, error) {
	block, _ := pem.Decode([]byte(cfg.PrivateKey))
	if block == nil {
		return kalshi.Signer{}, fmt.Errorf("kalshi: no PEM block found in private_key_pem")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		pkcs8, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return kalshi.Signer{}, fmt.Errorf("kalshi: parse private key: %w", err)
		}
		rsaKey, ok := pkcs8.(*rsa.PrivateKey)
		if !ok {
			return kalshi.Signer{}, fmt.Errorf("kalshi: private key is not RSA")
		}
		key = rsaKey
	}
	return kalshi.Signer{KeyID: cfg.KeyID, PrivateKey: key}, nil
}

// Start arms the scheduler, runs the §4.9 startup sequence, and launches
// every background goroutine.
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.inv.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.riskMgr.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.scanner.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.consumeScanResults()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.consumeKillSignals()
	}()

	if err := e.registerJobs(); err != nil {
		return fmt.Errorf("engine: register jobs: %w", err)
	}

	// Startup sequence (spec §4.9): one full sync, one candidate refresh,
	// then arm cron, then start the push listener.
	e.sched.RunOnceNow(jobFullSync)
	if e.cfg.MM.Enabled {
		e.sched.RunOnceNow(jobCandidates)
	}
	e.sched.Start()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.push.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("push listener stopped", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.polyAdapter.RunFeed(e.ctx, e.cfg.API.WSMarketURL, e.logger); err != nil && e.ctx.Err() == nil {
			e.logger.Error("market feed stopped", "error", err)
		}
	}()

	return nil
}

func (e *Engine) registerJobs() error {
	jobs := []scheduler.Job{
		{Name: jobQuoteLoop, Cron: e.cfg.Schedule.MMInterval, Fn: e.quoteCycle},
		{Name: jobFastSync, Cron: e.cfg.Schedule.InventorySyncInterval, Fn: e.fastSync, GlobalGroup: inventoryGroup},
		{Name: jobFullSync, Cron: e.cfg.Schedule.SyncInterval, Fn: e.fullSync, GlobalGroup: inventoryGroup},
		{Name: jobCandidates, Cron: e.cfg.Schedule.MMCandidatesInterval, Fn: e.candidatesRefresh},
	}
	for _, j := range jobs {
		if err := e.sched.Register(j); err != nil {
			return fmt.Errorf("register %s: %w", j.Name, err)
		}
	}
	return nil
}

func (e *Engine) consumeScanResults() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case result := <-e.scanner.Results():
			e.scanMu.Lock()
			e.lastScan = result
			e.scanMu.Unlock()
		}
	}
}

func (e *Engine) consumeKillSignals() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case kill := <-e.riskMgr.KillCh():
			e.handleKillSignal(kill)
		}
	}
}

func (e *Engine) handleKillSignal(kill risk.KillSignal) {
	e.logger.Error("kill signal received", "market", kill.MarketID, "reason", kill.Reason)

	e.mmsMu.RLock()
	targets := make([]*mmRuntime, 0, len(e.mms))
	for id, rt := range e.mms {
		if kill.MarketID == "" || id == kill.MarketID || rt.market.MarketID == kill.MarketID {
			targets = append(targets, rt)
		}
	}
	e.mmsMu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, rt := range targets {
		e.inv.Pause(rt.mm.MMID, "kill switch: "+kill.Reason)
		e.cancelMarketOrders(ctx, rt)
		e.emitEvent(mmtypes.EventPause, rt.mm.MMID, "kill switch: "+kill.Reason, nil)
	}
}

func (e *Engine) cancelMarketOrders(ctx context.Context, rt *mmRuntime) {
	adapter, err := e.registry.Get(rt.venueID)
	if err != nil {
		e.logger.Error("cancel orders: unknown venue", "venue", rt.venueID, "error", err)
		return
	}
	if err := adapter.CancelAll(ctx, venue.OpenOrdersFilter{MarketID: rt.market.MarketID}); err != nil {
		e.logger.Error("cancel all failed", "mm_id", rt.mm.MMID, "error", err)
	}
}

// Stop cancels every goroutine, cancels resting orders as a safety net,
// drains the scheduler, and closes the store.
func (e *Engine) Stop() {
	e.logger.Info("shutting down")
	e.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	e.mmsMu.RLock()
	for _, rt := range e.mms {
		e.cancelMarketOrders(ctx, rt)
	}
	e.mmsMu.RUnlock()
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	e.sched.Stop(stopCtx)
	stopCancel()

	e.wg.Wait()
	close(e.events)

	if err := e.store.Close(); err != nil {
		e.logger.Error("store close failed", "error", err)
	}
	e.logger.Info("shutdown complete")
}

func (e *Engine) emitEvent(kind mmtypes.QuoteEventKind, mmID, detail string, data any) {
	if err := e.store.RecordQuoteEvent(mmID, kind, detail); err != nil {
		e.logger.Error("record quote event failed", "mm_id", mmID, "error", err)
	}
	if data == nil {
		data = detail
	}
	evt := controlapi.Event{Type: kind, Timestamp: time.Now(), MMID: mmID, Data: data}
	select {
	case e.events <- evt:
	default:
		e.logger.Warn("event channel full, dropping event", "kind", kind, "mm_id", mmID)
	}
}

// --- controlapi.Provider ---

var _ controlapi.Provider = (*Engine)(nil)

func (e *Engine) Status() controlapi.StatusSnapshot {
	e.mmsMu.RLock()
	defer e.mmsMu.RUnlock()

	markets := make([]controlapi.MarketStatus, 0, len(e.mms))
	for _, rt := range e.mms {
		mm := rt.mm
		if st, ok := e.inv.Snapshot(mm.MMID); ok {
			mm.State = st
		}
		markets = append(markets, controlapi.NewMarketStatus(rt.venueID, mm))
	}

	e.syncMu.Lock()
	lastSync := e.lastFullSyncAt
	e.syncMu.Unlock()

	return controlapi.StatusSnapshot{
		MMEnabled:        e.cfg.MM.Enabled,
		KillSwitchActive: e.riskMgr.IsKillSwitchActive(),
		LastFullSyncAt:   lastSync,
		Markets:          markets,
	}
}

func (e *Engine) TriggerFullSync(ctx context.Context) error {
	if !e.sched.RunOnceNow(jobFullSync) {
		return fmt.Errorf("engine: full sync job not registered")
	}
	return nil
}

func (e *Engine) ResetToChain(ctx context.Context, providedToken string) error {
	e.mmsMu.RLock()
	runtimes := make([]*mmRuntime, 0, len(e.mms))
	for _, rt := range e.mms {
		runtimes = append(runtimes, rt)
	}
	e.mmsMu.RUnlock()

	positions := e.collectPositions(ctx, runtimes)

	clearTrackedOrders := func(ctx context.Context) error {
		for _, rt := range runtimes {
			e.cancelMarketOrders(ctx, rt)
			if err := e.store.ClearTrackedOrders(rt.mm.MMID); err != nil {
				return err
			}
		}
		return nil
	}

	err := reconcile.ResetToChain(ctx, e.cfg.ControlAPI.ConfirmationToken, providedToken, e.inv, positions, clearTrackedOrders, e.logger)
	if err == nil {
		e.emitEvent(mmtypes.EventQuoteCancelled, "", "reset to chain", nil)
	}
	return err
}

func (e *Engine) PauseMarket(ctx context.Context, mmID, reason string) error {
	e.mmsMu.RLock()
	rt, ok := e.mms[mmID]
	e.mmsMu.RUnlock()
	if !ok {
		return fmt.Errorf("engine: unknown market maker %q", mmID)
	}
	e.inv.Pause(mmID, reason)
	e.cancelMarketOrders(ctx, rt)
	e.emitEvent(mmtypes.EventPause, mmID, reason, nil)
	return nil
}

func (e *Engine) ResumeMarket(ctx context.Context, mmID string) error {
	e.mmsMu.RLock()
	_, ok := e.mms[mmID]
	e.mmsMu.RUnlock()
	if !ok {
		return fmt.Errorf("engine: unknown market maker %q", mmID)
	}
	e.inv.Resume(mmID)
	e.emitEvent(mmtypes.EventQuotePlaced, mmID, "resumed", nil)
	return nil
}

func (e *Engine) Events() <-chan controlapi.Event {
	return e.events
}

// collectPositions fans out Positions() per distinct venue among runtimes
// and shapes the result into reconcile's per-mm outcome-position map.
func (e *Engine) collectPositions(ctx context.Context, runtimes []*mmRuntime) map[string][]reconcile.OutcomePosition {
	venues := make(map[string]bool)
	for _, rt := range runtimes {
		venues[rt.venueID] = true
	}

	byToken := make(map[string]mmtypes.AuthoritativePosition)
	for venueID := range venues {
		adapter, err := e.registry.Get(venueID)
		if err != nil {
			continue
		}
		positions, err := adapter.Positions(ctx)
		if err != nil {
			e.logger.Error("positions fetch failed", "venue", venueID, "error", err)
			continue
		}
		if positions == nil {
			e.logger.Warn("positions feed degraded", "venue", venueID)
			continue
		}
		for tokenID, pos := range positions {
			byToken[tokenID] = pos
		}
	}
	e.posCache.update(byToken)

	out := make(map[string][]reconcile.OutcomePosition, len(runtimes))
	for _, rt := range runtimes {
		var entries []reconcile.OutcomePosition
		if pos, ok := byToken[rt.market.YesTokenID]; ok {
			entries = append(entries, reconcile.OutcomePosition{Outcome: mmtypes.Yes, AuthoritativePosition: pos})
		}
		if pos, ok := byToken[rt.market.NoTokenID]; ok {
			entries = append(entries, reconcile.OutcomePosition{Outcome: mmtypes.No, AuthoritativePosition: pos})
		}
		out[rt.mm.MMID] = entries
	}
	return out
}

// defaultMMConfig builds a new market maker's starting configuration from
// the process-wide defaults (§6's mm_default_* table).
func defaultMMConfig(cfg config.MMDefaultsConfig) (mmtypes.MMConfig, error) {
	spread, err := decimal.NewFromString(cfg.DefaultSpread)
	if err != nil {
		return mmtypes.MMConfig{}, fmt.Errorf("mm_default_spread: %w", err)
	}
	orderSize, err := decimal.NewFromString(cfg.DefaultOrderSize)
	if err != nil {
		return mmtypes.MMConfig{}, fmt.Errorf("mm_default_order_size: %w", err)
	}
	maxInventory, err := decimal.NewFromString(cfg.DefaultMaxInventory)
	if err != nil {
		return mmtypes.MMConfig{}, fmt.Errorf("mm_default_max_inventory: %w", err)
	}
	return mmtypes.MMConfig{
		TargetSpread:             spread,
		SkewFactor:               decimal.NewFromFloat(cfg.DefaultSkewFactor),
		OrderSize:                orderSize,
		MaxInventory:             maxInventory,
		QuotingPolicy:            cfg.QuotingPolicy(),
		MinTimeToResolutionHours: cfg.MinTimeToResolution,
	}, nil
}
