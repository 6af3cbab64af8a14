package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/internal/config"
	"github.com/favored-labs/predictmm/internal/pricegrid"
	"github.com/favored-labs/predictmm/internal/screen"
	"github.com/favored-labs/predictmm/internal/venue/polyclob"
	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

// buildThresholds maps the screening config onto screen.Thresholds,
// keeping screen.DefaultThresholds()'s illustrative depth-band defaults
// for anything the config leaves at its zero value.
func buildThresholds(cfg config.ScreeningConfig) screen.Thresholds {
	th := screen.DefaultThresholds()
	if cfg.MinProb > 0 {
		th.ExcludeMidLt = decimal.NewFromFloat(cfg.MinProb)
	}
	if cfg.MaxProb > 0 {
		th.ExcludeMidGt = decimal.NewFromFloat(cfg.MaxProb)
	}
	if cfg.MaxSpread > 0 {
		th.MaxSpreadTicks = int(decimal.NewFromFloat(cfg.MaxSpread).Div(pricegrid.DefaultStep).IntPart())
	}
	if cfg.MinLiquidity > 0 {
		th.MinTopDepth = decimal.NewFromFloat(cfg.MinLiquidity)
	}
	if cfg.MinVolume24h > 0 {
		th.MinVolume24h = cfg.MinVolume24h
	}
	if cfg.MinQueueSpeed > 0 {
		th.MinQueueSpeed = cfg.MinQueueSpeed
	}
	th.RequireNOBook = cfg.RequireNOBook
	return th
}

// candidatesRefresh is the candidates job (§4.1/§4.9): scores the
// scanner's latest allocation list and enrolls newly eligible markets as
// market makers, up to the risk manager's active-market ceiling.
func (e *Engine) candidatesRefresh(ctx context.Context) error {
	e.scanMu.Lock()
	scan := e.lastScan
	e.scanMu.Unlock()

	if len(scan.Markets) == 0 {
		return nil
	}

	th := buildThresholds(e.cfg.Screening)

	assumedOrderSize, err := decimal.NewFromString(e.cfg.MM.DefaultOrderSize)
	if err != nil {
		assumedOrderSize = decimal.NewFromInt(100)
	}

	e.mmsMu.RLock()
	activeCount := len(e.mms)
	enrolled := make(map[string]bool, len(e.mms))
	for _, rt := range e.mms {
		enrolled[rt.market.MarketID] = true
	}
	e.mmsMu.RUnlock()

	for _, alloc := range scan.Markets {
		mkt := alloc.Market

		yesBook, err := e.polyAdapter.OrderbookSnapshot(ctx, mkt.YesTokenID)
		if err != nil {
			e.logger.Warn("candidates: yes book fetch failed", "market_id", mkt.MarketID, "error", err)
			continue
		}

		var noBookPtr *mmtypes.OrderbookSnapshot
		if mkt.NoTokenID != "" {
			if noBook, err := e.polyAdapter.OrderbookSnapshot(ctx, mkt.NoTokenID); err == nil {
				noBookPtr = &noBook
			}
		}

		in := screen.Input{
			MarketID:         mkt.MarketID,
			Question:         mkt.Question,
			HoursToEnd:       time.Until(mkt.EndDate).Hours(),
			Volume24h:        mkt.Volume24h,
			AssumedOrderSize: assumedOrderSize,
			Grid:             pricegrid.New(nil),
			YesBook:          yesBook,
			NoBook:           noBookPtr,
		}

		candidate := screen.Score(in, th)
		if err := e.store.UpsertCandidate(candidate); err != nil {
			e.logger.Error("persist candidate failed", "market_id", mkt.MarketID, "error", err)
		}

		newMarket := mmtypes.Market{
			MarketID:   mkt.MarketID,
			Venue:      polyclob.VenueID,
			YesTokenID: mkt.YesTokenID,
			NoTokenID:  mkt.NoTokenID,
			Ranges:     []mmtypes.PriceRange{{Start: decimal.Zero, End: decimal.NewFromInt(1), Step: mkt.TickStep}},
			UpdatedAt:  time.Now(),
			EndTime:    mkt.EndDate,
			Active:     mkt.Active,
		}
		if err := e.store.UpsertMarket(newMarket); err != nil {
			e.logger.Error("persist market failed", "market_id", mkt.MarketID, "error", err)
			continue
		}

		if enrolled[mkt.MarketID] || !candidate.Eligible || !e.cfg.MM.Enabled {
			continue
		}
		if e.cfg.Risk.MaxMarketsActive > 0 && activeCount >= e.cfg.Risk.MaxMarketsActive {
			continue
		}

		mmCfg, err := defaultMMConfig(e.cfg.MM)
		if err != nil {
			e.logger.Error("default mm config failed", "market_id", mkt.MarketID, "error", err)
			continue
		}

		mm := mmtypes.MarketMaker{
			MMID:   uuid.NewString(),
			Market: newMarket.MarketID,
			Config: mmCfg,
			State:  mmtypes.MMState{Active: true},
		}
		if err := e.store.UpsertMarketMaker(mm); err != nil {
			e.logger.Error("persist new market maker failed", "mm_id", mm.MMID, "error", err)
			continue
		}

		e.inv.Register(mm.MMID, mm.State)
		e.registerRuntime(mm, newMarket, polyclob.VenueID)
		activeCount++
		enrolled[mkt.MarketID] = true

		e.logger.Info("enrolled new market maker", "mm_id", mm.MMID, "market_id", mkt.MarketID, "score", candidate.Scores.Total)
	}

	if err := e.resolver.Refresh(ctx); err != nil {
		e.logger.Error("resolver refresh after candidates pass failed", "error", err)
	}

	return nil
}
