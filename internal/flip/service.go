// Package flip implements the wagering settlement engine: the bet lifecycle
// state machine, per-user rate limiting, resolution scheduling, and
// exactly-once settlement against the house bankroll.
//
// All monetary values use shopspring/decimal, never float64.
package flip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/moonflip/flip-engine/internal/bankroll"
	"github.com/moonflip/flip-engine/internal/metrics"
	"github.com/moonflip/flip-engine/internal/model"
	"github.com/moonflip/flip-engine/internal/payment"
	"github.com/moonflip/flip-engine/internal/ratelimit"
	"github.com/moonflip/flip-engine/internal/store"
	"github.com/moonflip/flip-engine/internal/token"
)

var (
	// ErrValidation covers malformed create requests (bad stake, direction,
	// wallet, token). Never retried by the engine.
	ErrValidation = errors.New("flip: invalid bet request")

	// ErrBankrollPaused is returned when the house reserve gate is closed.
	ErrBankrollPaused = errors.New("flip: betting paused")

	// ErrNotFound is returned when a bet id is unknown to both the active
	// index and the archive.
	ErrNotFound = errors.New("flip: bet not found")

	// ErrAlreadyResolving means another resolution for this bet is in
	// flight. Non-fatal; the bet is being handled.
	ErrAlreadyResolving = errors.New("flip: bet already being resolved")

	// ErrAlreadyResolved means the bet reached a terminal state earlier.
	// Non-fatal.
	ErrAlreadyResolved = errors.New("flip: bet already resolved")
)

// minResolveDelay guards against clock skew producing a negative delay.
const minResolveDelay = time.Second

// PriceSource is the oracle contract the engine depends on.
type PriceSource interface {
	GetPrice(ctx context.Context, tokenAddress string, forceRefresh bool) (model.PriceSample, error)
}

// Options configure a Service.
type Options struct {
	MinBet           decimal.Decimal
	MaxBet           decimal.Decimal
	GameDuration     time.Duration
	PayoutMultiplier decimal.Decimal
	HouseWallet      string
	Whitelist        token.Whitelist
}

// Service owns the bet lifecycle. Construct with NewService; a Service is
// safe for concurrent use.
//
// The active index, archive, and user index live in memory under one
// mutex; oracle calls never happen while it is held (compute outside,
// commit inside). The store is the durability hook that survives restarts.
type Service struct {
	store    store.Store
	oracle   PriceSource
	bankroll *bankroll.Bankroll
	limiter  *ratelimit.Limiter
	rail     payment.Rail
	hub      *WSHub // optional; nil disables broadcasting
	opts     Options

	mu        sync.Mutex
	active    map[string]*model.Bet
	archive   map[string]*model.Bet
	userBets  map[string][]string // wallet -> bet ids, active and archived
	resolving map[string]bool     // in-flight settlement guard
	timers    map[string]*time.Timer
	closed    bool
}

// NewService creates a settlement engine.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, src PriceSource, bank *bankroll.Bankroll, limiter *ratelimit.Limiter, rail payment.Rail, hub *WSHub, opts Options) *Service {
	if rail == nil {
		rail = payment.LogRail{}
	}
	return &Service{
		store:     st,
		oracle:    src,
		bankroll:  bank,
		limiter:   limiter,
		rail:      rail,
		hub:       hub,
		opts:      opts,
		active:    make(map[string]*model.Bet),
		archive:   make(map[string]*model.Bet),
		userBets:  make(map[string][]string),
		resolving: make(map[string]bool),
		timers:    make(map[string]*time.Timer),
	}
}

// CreateBetRequest carries everything needed to place a wager.
type CreateBetRequest struct {
	UserWallet     string
	TokenAddress   string
	TokenSymbol    string
	Stake          decimal.Decimal
	Direction      model.Direction
	ReferralWallet string
}

// CreateBet places a new wager: gate checks, start price fetch, stake
// deposit, persistence, and resolution scheduling.
//
// Rate limits are checked before any oracle I/O so a throttled caller
// never costs an external call.
func (s *Service) CreateBet(ctx context.Context, req CreateBetRequest) (*model.Bet, error) {
	if status := s.bankroll.Status(); status.Paused {
		return nil, fmt.Errorf("%w: %s", ErrBankrollPaused, status.Reason)
	}

	if err := s.validate(req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	snapshot := s.userBetsLocked(req.UserWallet)
	s.mu.Unlock()
	if err := s.limiter.Check(snapshot, time.Now()); err != nil {
		metrics.RateLimitRejections.Inc()
		return nil, err
	}

	// A cached sample is acceptable for the start price.
	sample, err := s.oracle.GetPrice(ctx, req.TokenAddress, false)
	if err != nil {
		return nil, err
	}

	bet := &model.Bet{
		ID:             uuid.New().String(),
		UserWallet:     req.UserWallet,
		TokenAddress:   req.TokenAddress,
		TokenSymbol:    req.TokenSymbol,
		Stake:          req.Stake,
		Direction:      req.Direction,
		StartPrice:     sample.Price,
		StartTime:      time.Now().UTC(),
		Status:         model.StatusPending,
		ReferralWallet: req.ReferralWallet,
	}

	if err := s.store.CreateBet(ctx, bet); err != nil {
		return nil, fmt.Errorf("flip: persisting bet: %w", err)
	}
	s.bankroll.AddStake(bet.Stake, bet.ID, bet.UserWallet)

	s.mu.Lock()
	cp := *bet
	s.active[bet.ID] = &cp
	s.userBets[bet.UserWallet] = append(s.userBets[bet.UserWallet], bet.ID)
	s.scheduleLocked(&cp)
	activeCount := len(s.active)
	s.mu.Unlock()

	metrics.BetsTotal.WithLabelValues(string(bet.Direction)).Inc()
	metrics.ActiveBets.Set(float64(activeCount))

	slog.Info("bet placed",
		"bet_id", bet.ID,
		"wallet", bet.UserWallet,
		"token", bet.TokenSymbol,
		"stake", bet.Stake.String(),
		"direction", string(bet.Direction),
		"start_price", bet.StartPrice.String(),
	)

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:      "bet_placed",
			BetID:     bet.ID,
			Wallet:    bet.UserWallet,
			Token:     bet.TokenSymbol,
			Direction: string(bet.Direction),
			Stake:     bet.Stake.String(),
		})
	}

	return bet, nil
}

func (s *Service) validate(req CreateBetRequest) error {
	if req.UserWallet == "" {
		return fmt.Errorf("%w: user wallet is required", ErrValidation)
	}
	if !req.Direction.Valid() {
		return fmt.Errorf("%w: direction must be UP or DOWN", ErrValidation)
	}
	if req.Stake.LessThan(s.opts.MinBet) || req.Stake.GreaterThan(s.opts.MaxBet) {
		return fmt.Errorf("%w: stake must be between %s and %s",
			ErrValidation, s.opts.MinBet, s.opts.MaxBet)
	}
	if err := s.opts.Whitelist.Check(req.TokenAddress); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// scheduleLocked arms the resolution timer for a pending bet. Caller holds
// the mutex.
func (s *Service) scheduleLocked(bet *model.Bet) {
	if s.closed {
		return
	}
	delay := time.Until(bet.StartTime.Add(s.opts.GameDuration))
	if delay < minResolveDelay {
		delay = minResolveDelay
	}
	id := bet.ID
	s.timers[id] = time.AfterFunc(delay, func() {
		s.autoResolve(id)
	})
}

// autoResolve is the timer path. It converges on the same guarded Resolve
// as manual triggers; the race loser's signal is not an error.
func (s *Service) autoResolve(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.Resolve(ctx, id); err != nil {
		if errors.Is(err, ErrAlreadyResolving) || errors.Is(err, ErrAlreadyResolved) {
			slog.Debug("auto-resolution skipped, bet already handled", "bet_id", id)
			return
		}
		slog.Error("auto-resolution failed", "bet_id", id, "err", err)
	}
}

// Resolve settles a bet: fetches the live end price, decides the outcome,
// moves funds, persists, and archives. At most one call per bet id
// proceeds past the in-flight guard; losers get ErrAlreadyResolving or
// ErrAlreadyResolved.
func (s *Service) Resolve(ctx context.Context, betID string) (*model.GameResult, error) {
	s.mu.Lock()
	if s.resolving[betID] {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyResolving, betID)
	}
	bet, ok := s.active[betID]
	if !ok {
		_, archived := s.archive[betID]
		s.mu.Unlock()
		if archived {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, betID)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, betID)
	}
	s.resolving[betID] = true
	snapshot := *bet
	s.mu.Unlock()

	result, err := s.settle(ctx, snapshot)
	if err != nil {
		s.mu.Lock()
		delete(s.resolving, betID)
		s.mu.Unlock()
		return nil, err
	}
	return result, nil
}

// settle runs the settlement for one bet. The caller holds the in-flight
// guard; on success the guard is released after archiving, on error the
// caller releases it and the bet stays PENDING and resolvable. The
// insufficient-bankroll path is the exception: it terminates the bet as
// FAILED.
func (s *Service) settle(ctx context.Context, bet model.Bet) (*model.GameResult, error) {
	// Live read, never cached: the end price decides the outcome.
	sample, err := s.oracle.GetPrice(ctx, bet.TokenAddress, true)
	if err != nil {
		return nil, fmt.Errorf("flip: fetching end price for %s: %w", bet.ID, err)
	}

	bet.EndPrice = sample.Price
	bet.EndTime = time.Now().UTC()

	change := bet.EndPrice.Sub(bet.StartPrice).Div(bet.StartPrice)
	// Zero change loses for both directions: the tie favors the house.
	won := (bet.Direction == model.DirectionUp && change.IsPositive()) ||
		(bet.Direction == model.DirectionDown && change.IsNegative())

	result := &model.GameResult{
		Won:         won,
		PriceChange: change,
		Payout:      decimal.Zero,
		OwnerFee:    decimal.Zero,
		ReferralFee: decimal.Zero,
	}

	if won {
		gross := bet.Stake.Mul(s.opts.PayoutMultiplier)
		payoutRes, payErr := s.bankroll.ProcessPayout(
			bet.ID, bet.UserWallet, bet.Stake, gross, bet.ReferralWallet != "")
		if payErr != nil {
			// A won bet the house cannot pay must not linger PENDING:
			// terminate as FAILED and surface the error for operators.
			bet.Status = model.StatusFailed
			result.Bet = bet
			s.finalize(ctx, bet, result)
			return nil, fmt.Errorf("flip: payout for won bet %s: %w", bet.ID, payErr)
		}

		bet.Status = model.StatusWon
		bet.Payout = payoutRes.NetPayout
		bet.OwnerFee = payoutRes.OwnerFee
		bet.ReferralFee = payoutRes.ReferralFee
		result.Payout = payoutRes.NetPayout
		result.OwnerFee = payoutRes.OwnerFee
		result.ReferralFee = payoutRes.ReferralFee
		result.Profit = payoutRes.NetPayout.Sub(bet.Stake)

		if _, railErr := s.rail.Settle(ctx, payment.Instruction{
			BetID:          bet.ID,
			ToWallet:       bet.UserWallet,
			NetAmount:      payoutRes.NetPayout,
			OwnerFee:       payoutRes.OwnerFee,
			OwnerWallet:    s.opts.HouseWallet,
			ReferralFee:    payoutRes.ReferralFee,
			ReferralWallet: bet.ReferralWallet,
		}); railErr != nil {
			// Fund movement is the rail's responsibility; settlement stands.
			slog.Error("payment rail settle failed", "bet_id", bet.ID, "err", railErr)
		}
	} else {
		bet.Status = model.StatusLost
		result.Profit = bet.Stake.Neg()
	}

	result.Bet = bet
	s.finalize(ctx, bet, result)

	slog.Info("bet settled",
		"bet_id", bet.ID,
		"status", string(bet.Status),
		"start_price", bet.StartPrice.String(),
		"end_price", bet.EndPrice.String(),
		"change", result.PriceChange.String(),
		"payout", result.Payout.String(),
	)

	return result, nil
}

// finalize persists the terminal state, moves the bet from the active index
// to the archive, and releases the in-flight guard.
func (s *Service) finalize(ctx context.Context, bet model.Bet, result *model.GameResult) {
	if err := s.store.ResolveBet(ctx, result); err != nil {
		// Settlement already happened in the ledger; a store failure is an
		// observability problem, not grounds to unwind funds.
		slog.Error("persisting settlement failed", "bet_id", bet.ID, "err", err)
	}

	s.mu.Lock()
	delete(s.active, bet.ID)
	cp := bet
	s.archive[bet.ID] = &cp
	delete(s.resolving, bet.ID)
	if t, ok := s.timers[bet.ID]; ok {
		t.Stop()
		delete(s.timers, bet.ID)
	}
	activeCount := len(s.active)
	s.mu.Unlock()

	metrics.ActiveBets.Set(float64(activeCount))
	metrics.SettlementsTotal.WithLabelValues(string(bet.Status)).Inc()
	metrics.SettlementLatency.Observe(bet.EndTime.Sub(bet.StartTime).Seconds())

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:      "bet_settled",
			BetID:     bet.ID,
			Wallet:    bet.UserWallet,
			Token:     bet.TokenSymbol,
			Direction: string(bet.Direction),
			Status:    string(bet.Status),
			Payout:    result.Payout.String(),
		})
	}
}

// RecoverPending reloads PENDING bets from the store after a restart,
// rebuilds the in-memory indexes, and reschedules each resolution at
// max(1s, startTime+duration-now). Returns the number recovered.
func (s *Service) RecoverPending(ctx context.Context) (int, error) {
	pending, err := s.store.ListPendingBets(ctx)
	if err != nil {
		return 0, fmt.Errorf("flip: loading pending bets: %w", err)
	}

	s.mu.Lock()
	for i := range pending {
		bet := pending[i]
		if _, exists := s.active[bet.ID]; exists {
			continue
		}
		cp := bet
		s.active[bet.ID] = &cp
		s.userBets[bet.UserWallet] = append(s.userBets[bet.UserWallet], bet.ID)
		s.scheduleLocked(&cp)
	}
	count := len(s.active)
	s.mu.Unlock()

	metrics.ActiveBets.Set(float64(count))
	if len(pending) > 0 {
		slog.Info("recovered pending bets", "count", len(pending))
	}
	return len(pending), nil
}

// ActiveBets returns pending bets, optionally filtered by wallet, newest
// first.
func (s *Service) ActiveBets(wallet string) []model.Bet {
	s.mu.Lock()
	defer s.mu.Unlock()

	bets := make([]model.Bet, 0, len(s.active))
	for _, b := range s.active {
		if wallet == "" || b.UserWallet == wallet {
			bets = append(bets, *b)
		}
	}
	sort.Slice(bets, func(i, j int) bool {
		return bets[i].StartTime.After(bets[j].StartTime)
	})
	return bets
}

// UserBetHistory returns the wallet's settled bets from the store.
func (s *Service) UserBetHistory(ctx context.Context, wallet string, limit int) ([]model.Bet, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.BetHistory(ctx, wallet, limit)
}

// UserStats returns the wallet's aggregate stats from the store.
func (s *Service) UserStats(ctx context.Context, wallet string) (*model.UserStats, error) {
	return s.store.GetOrCreateUserStats(ctx, wallet)
}

// Leaderboard returns the top wallets by winnings.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.Leaderboard(ctx, limit)
}

// ActiveCount returns the number of pending bets.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// TotalVolume sums stakes across every bet this process has seen.
func (s *Service) TotalVolume() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	for _, b := range s.active {
		total = total.Add(b.Stake)
	}
	for _, b := range s.archive {
		total = total.Add(b.Stake)
	}
	return total
}

// Close stops all outstanding resolution timers. Pending bets remain in
// the store and are picked up by RecoverPending on the next start.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// userBetsLocked snapshots all known bets for a wallet. Caller holds the
// mutex.
func (s *Service) userBetsLocked(wallet string) []model.Bet {
	ids := s.userBets[wallet]
	bets := make([]model.Bet, 0, len(ids))
	for _, id := range ids {
		if b, ok := s.active[id]; ok {
			bets = append(bets, *b)
		} else if b, ok := s.archive[id]; ok {
			bets = append(bets, *b)
		}
	}
	return bets
}
