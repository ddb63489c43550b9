package flip

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/moonflip/flip-engine/internal/bankroll"
	"github.com/moonflip/flip-engine/internal/model"
	"github.com/moonflip/flip-engine/internal/oracle"
	"github.com/moonflip/flip-engine/internal/ratelimit"
)

// PlaceBetRequest is the JSON body for POST /api/v1/bets.
type PlaceBetRequest struct {
	UserWallet     string          `json:"user_wallet"`
	TokenAddress   string          `json:"token_address"`
	TokenSymbol    string          `json:"token_symbol"`
	Stake          decimal.Decimal `json:"stake"`
	Direction      string          `json:"direction"` // "UP" or "DOWN"
	ReferralWallet string          `json:"referral_wallet,omitempty"`
}

// PlaceBet handles POST /api/v1/bets
func (s *Service) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	bet, err := s.CreateBet(r.Context(), CreateBetRequest{
		UserWallet:     req.UserWallet,
		TokenAddress:   req.TokenAddress,
		TokenSymbol:    req.TokenSymbol,
		Stake:          req.Stake,
		Direction:      model.Direction(req.Direction),
		ReferralWallet: req.ReferralWallet,
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusCreated, bet)
}

// ResolveBet handles POST /api/v1/bets/{betID}/resolve, the external
// manual trigger racing the internal timer.
func (s *Service) ResolveBet(w http.ResponseWriter, r *http.Request) {
	betID := chi.URLParam(r, "betID")

	result, err := s.Resolve(r.Context(), betID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetBet handles GET /api/v1/bets/{betID}
func (s *Service) GetBet(w http.ResponseWriter, r *http.Request) {
	betID := chi.URLParam(r, "betID")

	s.mu.Lock()
	b, ok := s.active[betID]
	if !ok {
		b, ok = s.archive[betID]
	}
	var bet model.Bet
	if ok {
		bet = *b
	}
	s.mu.Unlock()

	if !ok {
		// Not in memory: the store may still know it (pre-restart bets).
		stored, err := s.store.GetBet(r.Context(), betID)
		if err != nil {
			writeError(w, "bet not found", http.StatusNotFound)
			return
		}
		bet = *stored
	}

	writeJSON(w, http.StatusOK, bet)
}

// ListActiveBets handles GET /api/v1/bets/active?wallet=<wallet>
func (s *Service) ListActiveBets(w http.ResponseWriter, r *http.Request) {
	bets := s.ActiveBets(r.URL.Query().Get("wallet"))
	writeJSON(w, http.StatusOK, bets)
}

// GetUserHistory handles GET /api/v1/users/{wallet}/history?limit=N
func (s *Service) GetUserHistory(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	history, err := s.UserBetHistory(r.Context(), wallet, limit)
	if err != nil {
		writeError(w, "failed to load bet history", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []model.Bet{}
	}
	writeJSON(w, http.StatusOK, history)
}

// GetUserStats handles GET /api/v1/users/{wallet}/stats
func (s *Service) GetUserStats(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")

	stats, err := s.UserStats(r.Context(), wallet)
	if err != nil {
		writeError(w, "failed to load user stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetLeaderboard handles GET /api/v1/leaderboard?limit=N
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := s.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, "failed to load leaderboard", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetBankroll handles GET /api/v1/bankroll: the betting gate plus ledger
// summary.
func (s *Service) GetBankroll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": s.bankroll.Status(),
		"stats":  s.bankroll.Stats(),
	})
}

// oracleHealth is implemented by price sources that track feed state.
type oracleHealth interface {
	Down() bool
	Downtime() time.Duration
}

// GetOracleStatus handles GET /api/v1/oracle
func (s *Service) GetOracleStatus(w http.ResponseWriter, r *http.Request) {
	h, ok := s.oracle.(oracleHealth)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"down": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"down":             h.Down(),
		"downtime_seconds": int(h.Downtime().Seconds()),
	})
}

// GetEngineStats handles GET /api/v1/stats, global counters for the
// operator dashboard.
func (s *Service) GetEngineStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active_bets":  s.ActiveCount(),
		"total_volume": s.TotalVolume(),
	})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ratelimit.ErrMinuteLimitExceeded),
		errors.Is(err, ratelimit.ErrHourLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrAlreadyResolving), errors.Is(err, ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, ErrBankrollPaused), errors.Is(err, oracle.ErrFeedDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, oracle.ErrTokenNotFound):
		return http.StatusBadRequest
	case errors.Is(err, bankroll.ErrInsufficientBankroll):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
