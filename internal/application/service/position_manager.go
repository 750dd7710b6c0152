package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
	domain "fundarb/internal/domain/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// PositionManagerConfig bounds the saga timeouts and the delta tolerance.
type PositionManagerConfig struct {
	EntryTimeout   time.Duration
	ExitTimeout    time.Duration
	DeltaTolerance float64 // fraction of target notional
	MinLiqBuffer   float64 // liquidation safety threshold, fraction of equity
}

// AccountSource supplies the current equity picture for buffer checks and
// receives realized results when positions reach a terminal state.
type AccountSource interface {
	Account() model.AccountState
	ApplyRealized(pnl float64)
	SetMarginInUse(margin float64)
}

// PositionManager owns the lifecycle state machine of every position it
// opens. Two-leg entry and exit are sagas: the intent (PENDING_ENTRY /
// PENDING_EXIT) is recorded first, the compensating unwind is defined up
// front, and the state transition is the synchronization point after both
// legs are awaited jointly. Operations on the same position are serialized
// through a per-position mutex; different positions never block each other.
type PositionManager struct {
	cfg     PositionManagerConfig
	gateway port.ExecutionGateway
	store   port.PersistenceStore
	alerts  port.AlertSink
	risk    *domain.RiskManager
	exits   *domain.ExitPolicy
	account AccountSource

	mu        sync.RWMutex
	positions map[string]*managedPosition
}

// managedPosition binds a position to its risk reservation and its
// single-writer lock.
type managedPosition struct {
	mu    sync.Mutex
	pos   *model.Position
	resID string
}

func NewPositionManager(
	cfg PositionManagerConfig,
	gateway port.ExecutionGateway,
	store port.PersistenceStore,
	alerts port.AlertSink,
	risk *domain.RiskManager,
	exits *domain.ExitPolicy,
	account AccountSource,
) *PositionManager {
	if cfg.EntryTimeout <= 0 {
		cfg.EntryTimeout = 10 * time.Second
	}
	if cfg.ExitTimeout <= 0 {
		cfg.ExitTimeout = cfg.EntryTimeout
	}
	return &PositionManager{
		cfg:       cfg,
		gateway:   gateway,
		store:     store,
		alerts:    alerts,
		risk:      risk,
		exits:     exits,
		account:   account,
		positions: make(map[string]*managedPosition),
	}
}

// Open executes the two-leg entry saga for a sized order. Both legs are
// dispatched concurrently and awaited jointly within the entry timeout.
// Outcomes:
//   - both filled            -> OPEN
//   - exactly one filled     -> unwind the filled leg, FAILED_PARTIAL
//   - neither filled         -> cancel, CLOSED (no exposure)
//
// The risk reservation resID is released on every outcome except OPEN.
func (pm *PositionManager) Open(ctx context.Context, sized model.SizedOrder, resID string) (*model.Position, error) {
	cand := sized.Candidate
	pos := &model.Position{
		ID:               uuid.NewString(),
		Symbol:           cand.Symbol,
		BaseAsset:        cand.BaseAsset,
		State:            model.StatePendingEntry,
		TargetNotional:   sized.Notional,
		EntryFundingRate: cand.FundingRate,
		StopLoss:         sized.StopLoss,
		OpenedAt:         time.Now().UnixMilli(),
		LegA: model.Leg{
			Venue: cand.LegA.Venue, Symbol: cand.Symbol, Side: cand.LegA.Side,
			Notional: sized.Notional, Status: model.LegUnfilled,
		},
		LegB: model.Leg{
			Venue: cand.LegB.Venue, Symbol: cand.Symbol, Side: cand.LegB.Side,
			Notional: sized.Notional, Status: model.LegUnfilled,
		},
	}

	// record the intent before any order leaves the process
	if err := pm.store.SavePosition(ctx, pos); err != nil {
		pm.risk.Release(resID)
		return nil, fmt.Errorf("persist entry intent: %w", err)
	}

	mp := &managedPosition{pos: pos, resID: resID}
	pm.mu.Lock()
	pm.positions[pos.ID] = mp
	pm.mu.Unlock()

	mp.mu.Lock()
	defer mp.mu.Unlock()

	entryCtx, cancel := context.WithTimeout(ctx, pm.cfg.EntryTimeout)
	defer cancel()

	var resA, resB model.OrderResult
	g, gctx := errgroup.WithContext(entryCtx)
	g.Go(func() error {
		var err error
		resA, err = pm.submitLeg(gctx, &pos.LegA, sized.Notional, false)
		return err
	})
	g.Go(func() error {
		var err error
		resB, err = pm.submitLeg(gctx, &pos.LegB, sized.Notional, false)
		return err
	})
	// joint await is the synchronization point; individual leg errors are
	// resolved by looking at the leg statuses, not by the first error
	_ = g.Wait()

	filledA := pos.LegA.Status == model.LegFilled
	filledB := pos.LegB.Status == model.LegFilled

	switch {
	case filledA && filledB:
		pm.applyFill(&pos.LegA, resA)
		pm.applyFill(&pos.LegB, resB)
		pos.RealizedCost = (resA.FeePaid + resB.FeePaid) * sized.Notional
		pos.State = model.StateOpen
		pm.persist(ctx, pos)
		log.Info().Str("position", pos.ID).Str("symbol", pos.Symbol).
			Float64("notional", sized.Notional).
			Str("leg_a", pos.LegA.Venue).Str("leg_b", pos.LegB.Venue).
			Msg("position opened")
		pm.alerts.Publish(ctx, model.Event{
			Type: model.EventPositionOpened, Symbol: pos.Symbol, PositionID: pos.ID,
			Value: sized.Notional, Timestamp: time.Now().UnixMilli(),
		})
		return pos, nil

	case filledA != filledB:
		// naked exposure: unwind the filled leg now, even under shutdown
		filled := &pos.LegA
		res := resA
		if filledB {
			filled = &pos.LegB
			res = resB
		}
		pm.applyFill(filled, res)
		pm.failPartial(context.WithoutCancel(ctx), mp, filled, res)
		return pos, fmt.Errorf("entry for %s: %w", pos.Symbol, model.ErrPartialFill)

	default:
		pm.cancelPending(context.WithoutCancel(ctx), pos)
		pos.State = model.StateClosed
		pos.CloseReason = "entry cancelled"
		pos.ClosedAt = time.Now().UnixMilli()
		pm.finish(ctx, mp)
		log.Warn().Str("position", pos.ID).Str("symbol", pos.Symbol).Msg("entry cancelled, no fills")
		pm.alerts.Publish(ctx, model.Event{
			Type: model.EventEntryCancelled, Symbol: pos.Symbol, PositionID: pos.ID,
			Timestamp: time.Now().UnixMilli(),
		})
		return pos, nil
	}
}

// submitLeg sends one leg order and updates the leg status in place. The
// idempotency key is generated once per attempt; the gateway wrapper reuses
// it across its internal retries, so a duplicate submit cannot double-fill.
func (pm *PositionManager) submitLeg(ctx context.Context, leg *model.Leg, notional float64, reduceOnly bool) (model.OrderResult, error) {
	leg.Status = model.LegPending
	res, err := pm.gateway.SubmitOrder(ctx, model.OrderRequest{
		IdempotencyKey: uuid.NewString(),
		Venue:          leg.Venue,
		Symbol:         leg.Symbol,
		Side:           leg.Side,
		Notional:       notional,
		ReduceOnly:     reduceOnly,
	})
	if err != nil {
		leg.Status = model.LegRejected
		return res, err
	}
	switch res.State {
	case model.OrderFilled:
		leg.Status = model.LegFilled
		leg.OrderID = res.OrderID
	case model.OrderRejected:
		leg.Status = model.LegRejected
	default:
		// still pending at timeout: treated as unfilled, cancelled later
		leg.OrderID = res.OrderID
	}
	return res, nil
}

func (pm *PositionManager) applyFill(leg *model.Leg, res model.OrderResult) {
	if res.FilledNotional > 0 {
		leg.Notional = res.FilledNotional
	}
	leg.EntryPrice = res.FillPrice
}

// failPartial runs the compensating action of the entry saga: the filled
// leg is unwound immediately and the attempt is recorded as FAILED_PARTIAL
// with its realized cost, never silently discarded. When the unwind itself
// fails the position stays live in PENDING_EXIT with its capacity held, and
// every subsequent tick retries until the leg is flat.
func (pm *PositionManager) failPartial(ctx context.Context, mp *managedPosition, filled *model.Leg, fillRes model.OrderResult) {
	pos := mp.pos
	pos.EntryFailed = true
	pos.CloseReason = "partial fill on entry"
	pos.RealizedCost = fillRes.FeePaid * filled.Notional

	unwindRes, err := pm.unwindLeg(ctx, filled)
	if err != nil {
		pos.State = model.StatePendingExit
		pm.persist(ctx, pos)
		log.Error().Err(err).Str("position", pos.ID).Str("venue", filled.Venue).
			Msg("unwind of filled leg failed, retrying on next tick")
		return
	}

	pos.State = model.StateFailedPartial
	pos.ClosedAt = time.Now().UnixMilli()
	pos.RealizedCost += unwindRes.FeePaid * filled.Notional
	if filled.EntryPrice > 0 && unwindRes.FillPrice > 0 {
		move := (unwindRes.FillPrice - filled.EntryPrice) / filled.EntryPrice
		if filled.Side == model.SideShort {
			move = -move
		}
		// adverse move while exposed is part of the attempt's cost
		pos.RealizedCost -= move * filled.Notional
	}

	pm.account.ApplyRealized(-pos.RealizedCost)
	pm.finish(ctx, mp)
	log.Error().Str("position", pos.ID).Str("symbol", pos.Symbol).
		Float64("realized_cost", pos.RealizedCost).
		Msg("partial fill: filled leg unwound, position failed")
	pm.alerts.Publish(ctx, model.Event{
		Type: model.EventFailedPartial, Symbol: pos.Symbol, PositionID: pos.ID,
		Value: pos.RealizedCost, Detail: "one leg filled, other leg missed entry timeout",
		Timestamp: time.Now().UnixMilli(),
	})
}

// unwindLeg closes a single leg with a reduce-only order on the opposite
// side. Used by the partial-fill path and the urgent exit escalation.
func (pm *PositionManager) unwindLeg(ctx context.Context, leg *model.Leg) (model.OrderResult, error) {
	unwind := model.Leg{
		Venue: leg.Venue, Symbol: leg.Symbol, Side: leg.Side.Opposite(),
		Notional: leg.Notional,
	}
	res, err := pm.submitLeg(ctx, &unwind, leg.Notional, true)
	if err != nil {
		return res, err
	}
	if unwind.Status != model.LegFilled {
		return res, fmt.Errorf("unwind order not filled on %s: %w", leg.Venue, model.ErrGatewayTimeout)
	}
	leg.Status = model.LegUnwound
	leg.ExitPrice = res.FillPrice
	return res, nil
}

func (pm *PositionManager) cancelPending(ctx context.Context, pos *model.Position) {
	for _, leg := range []*model.Leg{&pos.LegA, &pos.LegB} {
		if leg.OrderID != "" && leg.Status == model.LegPending {
			if err := pm.gateway.CancelOrder(ctx, leg.Venue, leg.Symbol, leg.OrderID); err != nil {
				log.Warn().Err(err).Str("venue", leg.Venue).Str("order", leg.OrderID).Msg("cancel failed")
			}
			leg.Status = model.LegUnfilled
		}
	}
}

// finish persists the terminal state and releases the risk reservation.
// Capacity is never freed before this point.
func (pm *PositionManager) finish(ctx context.Context, mp *managedPosition) {
	pm.persist(ctx, mp.pos)
	pm.risk.Release(mp.resID)
	pm.mu.Lock()
	delete(pm.positions, mp.pos.ID)
	pm.mu.Unlock()
}

func (pm *PositionManager) persist(ctx context.Context, pos *model.Position) {
	if err := pm.store.UpdatePosition(ctx, pos); err != nil {
		log.Error().Err(err).Str("position", pos.ID).Msg("persist position failed")
	}
}

// Tick runs one monitoring pass over all live positions. Work for different
// positions proceeds concurrently; a timeout or error on one position never
// blocks or halts monitoring of the others.
func (pm *PositionManager) Tick(ctx context.Context, feed port.MarketDataFeed, now time.Time) {
	pm.mu.RLock()
	live := make([]*managedPosition, 0, len(pm.positions))
	for _, mp := range pm.positions {
		live = append(live, mp)
	}
	pm.mu.RUnlock()

	var wg sync.WaitGroup
	for _, mp := range live {
		wg.Add(1)
		go func(mp *managedPosition) {
			defer wg.Done()
			mp.mu.Lock()
			defer mp.mu.Unlock()
			if mp.pos.State.Terminal() {
				return
			}
			if err := pm.tickOne(ctx, mp, feed, now); err != nil {
				log.Error().Err(err).Str("position", mp.pos.ID).Msg("monitor tick failed")
			}
		}(mp)
	}
	wg.Wait()
}

func (pm *PositionManager) tickOne(ctx context.Context, mp *managedPosition, feed port.MarketDataFeed, now time.Time) error {
	pos := mp.pos

	pm.refreshMarks(ctx, pos)

	// a stale feed must not suspend the exposure checks below: only the
	// funding accrual and flip tracking need a fresh observation
	funding, ferr := feed.LatestFunding(ctx, pos.LegA.Venue, pos.Symbol)
	if ferr != nil {
		funding = model.FundingSnapshot{}
		log.Warn().Err(ferr).Str("position", pos.ID).Str("venue", pos.LegA.Venue).
			Msg("funding unavailable, running exposure checks only")
	} else {
		pm.accrueFunding(pos, funding, now)

		// track the funding regime so a flip only counts after a full period
		if pm.exits.FundingFlipped(funding.Rate) {
			if pos.FundingFlipAt == 0 {
				pos.FundingFlipAt = now.UnixMilli()
			}
		} else {
			pos.FundingFlipAt = 0
		}
	}

	account := pm.account.Account()
	buffer := 1.0
	if account.Equity > 0 {
		buffer = (account.Equity - account.MarginInUse) / account.Equity
	}

	if reason, fire := pm.exits.Evaluate(pos, funding, buffer, pm.cfg.MinLiqBuffer, now); fire {
		return pm.exit(ctx, mp, reason)
	}

	switch pos.State {
	case model.StateOpen:
		if pos.NotionalImbalance() > pm.cfg.DeltaTolerance*pos.TargetNotional {
			pos.State = model.StateRebalancing
			pm.persist(ctx, pos)
			return pm.rebalance(ctx, mp)
		}
	case model.StateRebalancing:
		return pm.rebalance(ctx, mp)
	case model.StatePendingExit:
		// an earlier exit attempt left a leg behind; keep escalating
		return pm.resolveExit(ctx, mp)
	}

	pm.persist(ctx, pos)
	return nil
}

// refreshMarks recomputes the unrealized spread pnl from current marks.
func (pm *PositionManager) refreshMarks(ctx context.Context, pos *model.Position) {
	delta := 0.0
	for _, leg := range []*model.Leg{&pos.LegA, &pos.LegB} {
		if leg.Status != model.LegFilled || leg.EntryPrice <= 0 {
			continue
		}
		mark, err := pm.gateway.MarkPrice(ctx, leg.Venue, leg.Symbol)
		if err != nil || mark <= 0 {
			continue
		}
		move := (mark - leg.EntryPrice) / leg.EntryPrice
		if leg.Side == model.SideShort {
			move = -move
		}
		delta += move * leg.Notional
	}
	pos.UnrealizedDelta = delta
}

// accrueFunding credits one period of funding pnl for every full period
// elapsed since open, at the currently observed rate. Only a fully hedged
// position accrues; a half-entered one is exposure, not carry.
func (pm *PositionManager) accrueFunding(pos *model.Position, funding model.FundingSnapshot, now time.Time) {
	if pos.LegA.Status != model.LegFilled || pos.LegB.Status != model.LegFilled {
		return
	}
	period := time.Duration(funding.PeriodHours * float64(time.Hour))
	if period <= 0 {
		period = 8 * time.Hour
	}
	elapsed := int(now.Sub(time.UnixMilli(pos.OpenedAt)) / period)
	for pos.PeriodsHeld < elapsed {
		pos.PeriodsHeld++
		// long leg collects -rate when funding is negative
		pos.RealizedFundingPnL += -funding.Rate * pos.LegA.Notional
	}
}

// rebalance grows the lagging leg back to target. REBALANCING -> OPEN only
// after the corrective order is confirmed and delta is back in tolerance.
func (pm *PositionManager) rebalance(ctx context.Context, mp *managedPosition) error {
	pos := mp.pos
	lagging := pos.LaggingLeg()
	gap := pos.NotionalImbalance()
	if gap <= pm.cfg.DeltaTolerance*pos.TargetNotional {
		pos.State = model.StateOpen
		pm.persist(ctx, pos)
		return nil
	}

	corrective := model.Leg{Venue: lagging.Venue, Symbol: lagging.Symbol, Side: lagging.Side}
	res, err := pm.submitLeg(ctx, &corrective, gap, false)
	if err != nil {
		return fmt.Errorf("corrective order on %s: %w", lagging.Venue, err)
	}
	if corrective.Status != model.LegFilled {
		return fmt.Errorf("corrective order pending on %s: %w", lagging.Venue, model.ErrGatewayTimeout)
	}

	lagging.Notional += res.FilledNotional
	lagging.Status = model.LegFilled
	pos.RealizedCost += res.FeePaid * res.FilledNotional
	pos.State = model.StateOpen
	pm.persist(ctx, pos)
	log.Info().Str("position", pos.ID).Str("venue", lagging.Venue).
		Float64("corrected", res.FilledNotional).Msg("position rebalanced")
	pm.alerts.Publish(ctx, model.Event{
		Type: model.EventRebalance, Symbol: pos.Symbol, PositionID: pos.ID,
		Value: res.FilledNotional, Timestamp: time.Now().UnixMilli(),
	})
	return nil
}

// exit starts the two-leg exit saga for a triggered reason.
func (pm *PositionManager) exit(ctx context.Context, mp *managedPosition, reason domain.ExitReason) error {
	pos := mp.pos
	pos.State = model.StatePendingExit
	pos.CloseReason = string(reason)
	pm.persist(ctx, pos)
	log.Info().Str("position", pos.ID).Str("symbol", pos.Symbol).
		Str("reason", string(reason)).Msg("exit triggered")
	return pm.resolveExit(ctx, mp)
}

// resolveExit unwinds whatever is still filled, both legs concurrently,
// awaited jointly within the exit timeout. If one leg unwinds and the other
// does not, the remaining leg goes down the urgent path instead of waiting:
// bounded exposure time is the invariant, not execution price.
func (pm *PositionManager) resolveExit(ctx context.Context, mp *managedPosition) error {
	pos := mp.pos
	exitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pm.cfg.ExitTimeout)
	defer cancel()

	// each goroutine touches only its own leg and fee slot; shared position
	// state is folded in after the joint wait
	legs := []*model.Leg{&pos.LegA, &pos.LegB}
	fees := make([]float64, len(legs))
	g := new(errgroup.Group)
	for i, leg := range legs {
		if leg.Status != model.LegFilled {
			continue
		}
		i, leg := i, leg
		g.Go(func() error {
			res, err := pm.unwindLeg(exitCtx, leg)
			if err != nil {
				return err
			}
			fees[i] = res.FeePaid * leg.Notional
			return nil
		})
	}
	err := g.Wait()
	for _, fee := range fees {
		pos.RealizedCost += fee
	}

	remainingA := pos.LegA.Status == model.LegFilled
	remainingB := pos.LegB.Status == model.LegFilled
	if remainingA || remainingB {
		// urgent-unwind escalation for the leg that missed the window
		urgentCtx, urgentCancel := context.WithTimeout(context.WithoutCancel(ctx), pm.cfg.ExitTimeout)
		defer urgentCancel()
		for _, leg := range []*model.Leg{&pos.LegA, &pos.LegB} {
			if leg.Status != model.LegFilled {
				continue
			}
			log.Warn().Str("position", pos.ID).Str("venue", leg.Venue).Msg("escalating urgent unwind")
			res, uerr := pm.unwindLeg(urgentCtx, leg)
			if uerr != nil {
				// stay in PENDING_EXIT; the next tick retries immediately
				pm.persist(ctx, pos)
				return fmt.Errorf("urgent unwind on %s: %w", leg.Venue, uerr)
			}
			pos.RealizedCost += res.FeePaid * leg.Notional
		}
	} else if err != nil {
		log.Warn().Err(err).Str("position", pos.ID).Msg("exit leg error after unwind completed")
	}

	// an attempt that never got fully hedged closes as FAILED_PARTIAL, not
	// as a regular exit
	pos.State = model.StateClosed
	eventType := model.EventPositionClosed
	if pos.EntryFailed {
		pos.State = model.StateFailedPartial
		eventType = model.EventFailedPartial
	}
	pos.ClosedAt = time.Now().UnixMilli()
	pm.account.ApplyRealized(pos.RealizedFundingPnL + pos.UnrealizedDelta - pos.RealizedCost)
	pm.finish(ctx, mp)
	log.Info().Str("position", pos.ID).Str("symbol", pos.Symbol).
		Str("state", string(pos.State)).
		Str("reason", pos.CloseReason).
		Float64("funding_pnl", pos.RealizedFundingPnL).
		Float64("delta_pnl", pos.UnrealizedDelta).
		Float64("costs", pos.RealizedCost).
		Msg("position closed")
	pm.alerts.Publish(ctx, model.Event{
		Type: eventType, Symbol: pos.Symbol, PositionID: pos.ID,
		Detail: pos.CloseReason, Value: pos.RealizedFundingPnL - pos.RealizedCost,
		Timestamp: time.Now().UnixMilli(),
	})
	return nil
}

// Shutdown resolves in-flight exposure before returning: every non-terminal
// position with filled legs is unwound through the urgent path. Risk
// capacity stays held until each position reaches a terminal state.
func (pm *PositionManager) Shutdown(ctx context.Context) {
	pm.mu.RLock()
	live := make([]*managedPosition, 0, len(pm.positions))
	for _, mp := range pm.positions {
		live = append(live, mp)
	}
	pm.mu.RUnlock()

	for _, mp := range live {
		mp.mu.Lock()
		if !mp.pos.State.Terminal() {
			if mp.pos.CloseReason == "" {
				mp.pos.CloseReason = "shutdown"
			}
			mp.pos.State = model.StatePendingExit
			if err := pm.resolveExit(ctx, mp); err != nil {
				log.Error().Err(err).Str("position", mp.pos.ID).Msg("shutdown unwind incomplete")
			}
		}
		mp.mu.Unlock()
	}
}

// Live returns snapshots of all non-terminal positions.
func (pm *PositionManager) Live() []*model.Position {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	out := make([]*model.Position, 0, len(pm.positions))
	for _, mp := range pm.positions {
		out = append(out, mp.pos)
	}
	return out
}
