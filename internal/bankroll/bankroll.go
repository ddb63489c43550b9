// Package bankroll manages the house reserve that funds winning payouts.
// Every balance mutation appends an immutable transaction entry, so the
// ledger identity
//
//	balance == initial + Σ(STAKE_IN) - Σ(WIN_PAYOUT) - Σ(OWNER_FEE) - Σ(REFERRAL_FEE)
//
// holds at every observed instant. Fees are paid out of the reserve.
package bankroll

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moonflip/flip-engine/internal/metrics"
)

// ErrInsufficientBankroll is returned when a payout would exceed the
// balance. The balance is not mutated.
var ErrInsufficientBankroll = errors.New("bankroll: insufficient balance for payout")

// TransactionKind labels ledger entries.
type TransactionKind string

const (
	KindStakeIn     TransactionKind = "STAKE_IN"
	KindWinPayout   TransactionKind = "WIN_PAYOUT"
	KindOwnerFee    TransactionKind = "OWNER_FEE"
	KindReferralFee TransactionKind = "REFERRAL_FEE"
)

// Transaction is one immutable ledger entry.
type Transaction struct {
	Kind      TransactionKind `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	BetID     string          `json:"bet_id"`
	Wallet    string          `json:"wallet,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Payout is the breakdown returned by ProcessPayout.
type Payout struct {
	OwnerFee    decimal.Decimal `json:"owner_fee"`
	ReferralFee decimal.Decimal `json:"referral_fee"`
	NetPayout   decimal.Decimal `json:"net_payout"`
}

// BettingStatus is the gate new bets are checked against.
type BettingStatus struct {
	Paused  bool            `json:"paused"`
	Reason  string          `json:"reason,omitempty"`
	Balance decimal.Decimal `json:"balance"`
}

// Stats summarizes ledger activity.
type Stats struct {
	Balance          decimal.Decimal `json:"balance"`
	TotalStaked      decimal.Decimal `json:"total_staked"`
	TotalPaidOut     decimal.Decimal `json:"total_paid_out"`
	TotalFees        decimal.Decimal `json:"total_fees"`
	TransactionCount int             `json:"transaction_count"`
}

// Bankroll is the house reserve. Safe for concurrent use; all mutations go
// through one mutex so the ledger identity is never observed mid-update.
type Bankroll struct {
	mu           sync.Mutex
	balance      decimal.Decimal
	minimum      decimal.Decimal
	houseWallet  string
	houseRate    decimal.Decimal // share of profit taken as owner fee
	referralRate decimal.Decimal // share of profit taken as referral fee
	paused       bool
	pauseReason  string
	transactions []Transaction
}

// Options configure a Bankroll.
type Options struct {
	InitialBalance  decimal.Decimal
	MinimumBalance  decimal.Decimal
	HouseWallet     string
	HouseFeeRate    decimal.Decimal
	ReferralFeeRate decimal.Decimal
}

// New creates a bankroll with the given opening balance and fee policy.
func New(opts Options) *Bankroll {
	b := &Bankroll{
		balance:      opts.InitialBalance,
		minimum:      opts.MinimumBalance,
		houseWallet:  opts.HouseWallet,
		houseRate:    opts.HouseFeeRate,
		referralRate: opts.ReferralFeeRate,
	}
	metrics.BankrollBalance.Set(balanceGauge(b.balance))
	slog.Info("house bankroll initialized", "balance", b.balance.String(), "minimum", b.minimum.String())
	return b
}

// AddStake credits a placed stake to the reserve. If the balance recovers
// above the minimum and betting was paused for insufficiency, it resumes.
func (b *Bankroll) AddStake(amount decimal.Decimal, betID, wallet string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.balance = b.balance.Add(amount)
	b.append(Transaction{
		Kind:      KindStakeIn,
		Amount:    amount,
		BetID:     betID,
		Wallet:    wallet,
		Timestamp: time.Now().UTC(),
	})

	if b.paused && b.balance.GreaterThanOrEqual(b.minimum) {
		b.paused = false
		b.pauseReason = ""
		slog.Info("betting resumed, bankroll restored", "balance", b.balance.String())
	}
}

// ProcessPayout settles a winning bet against the reserve.
//
// The full gross payout leaves the bankroll: the winner receives
// gross - fees, and the owner/referral fees are carved out of the profit
// (gross - stake). Without a referral the referral share stays at zero;
// it is not folded into the owner fee. Fails atomically when the balance
// cannot cover the gross amount.
func (b *Bankroll) ProcessPayout(betID, wallet string, stake, gross decimal.Decimal, hasReferral bool) (Payout, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.balance.LessThan(gross) {
		slog.Error("insufficient bankroll for payout",
			"bet_id", betID, "need", gross.String(), "have", b.balance.String())
		b.pauseLocked("house bankroll below payout requirement")
		return Payout{}, ErrInsufficientBankroll
	}

	profit := gross.Sub(stake)
	ownerFee := profit.Mul(b.houseRate)
	referralFee := decimal.Zero
	if hasReferral {
		referralFee = profit.Mul(b.referralRate)
	}
	net := gross.Sub(ownerFee).Sub(referralFee)

	b.balance = b.balance.Sub(gross)
	now := time.Now().UTC()

	b.append(Transaction{Kind: KindWinPayout, Amount: net, BetID: betID, Wallet: wallet, Timestamp: now})
	if ownerFee.IsPositive() {
		b.append(Transaction{Kind: KindOwnerFee, Amount: ownerFee, BetID: betID, Wallet: b.houseWallet, Timestamp: now})
	}
	if referralFee.IsPositive() {
		b.append(Transaction{Kind: KindReferralFee, Amount: referralFee, BetID: betID, Timestamp: now})
	}

	if b.balance.LessThan(b.minimum) {
		b.pauseLocked("house bankroll below minimum threshold")
	}

	slog.Info("win payout processed",
		"bet_id", betID,
		"gross", gross.String(),
		"net", net.String(),
		"owner_fee", ownerFee.String(),
		"referral_fee", referralFee.String(),
		"balance", b.balance.String(),
	)

	return Payout{OwnerFee: ownerFee, ReferralFee: referralFee, NetPayout: net}, nil
}

// IsSufficient reports whether the balance meets the minimum threshold.
func (b *Bankroll) IsSufficient() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance.GreaterThanOrEqual(b.minimum)
}

// Status returns the betting gate: paused with a reason, or open.
func (b *Bankroll) Status() BettingStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.paused {
		reason := b.pauseReason
		if reason == "" {
			reason = "betting temporarily paused"
		}
		return BettingStatus{Paused: true, Reason: reason, Balance: b.balance}
	}
	if b.balance.LessThan(b.minimum) {
		return BettingStatus{
			Paused:  true,
			Reason:  "insufficient house bankroll",
			Balance: b.balance,
		}
	}
	return BettingStatus{Balance: b.balance}
}

// Balance returns the current reserve balance.
func (b *Bankroll) Balance() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance
}

// Pause halts betting, for operator intervention.
func (b *Bankroll) Pause(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pauseLocked(reason)
}

// Resume re-opens betting; refuses while the balance is below minimum.
func (b *Bankroll) Resume() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balance.LessThan(b.minimum) {
		return errors.New("bankroll: cannot resume below minimum balance")
	}
	b.paused = false
	b.pauseReason = ""
	slog.Info("betting resumed")
	return nil
}

// RecentTransactions returns up to n most recent ledger entries, newest
// last.
func (b *Bankroll) RecentTransactions(n int) []Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.transactions) {
		n = len(b.transactions)
	}
	out := make([]Transaction, n)
	copy(out, b.transactions[len(b.transactions)-n:])
	return out
}

// Stats summarizes the ledger.
func (b *Bankroll) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{Balance: b.balance, TransactionCount: len(b.transactions)}
	for _, t := range b.transactions {
		switch t.Kind {
		case KindStakeIn:
			s.TotalStaked = s.TotalStaked.Add(t.Amount)
		case KindWinPayout:
			s.TotalPaidOut = s.TotalPaidOut.Add(t.Amount)
		case KindOwnerFee, KindReferralFee:
			s.TotalFees = s.TotalFees.Add(t.Amount)
		}
	}
	return s
}

func (b *Bankroll) pauseLocked(reason string) {
	b.paused = true
	b.pauseReason = reason
	slog.Warn("betting paused", "reason", reason, "balance", b.balance.String())
}

func (b *Bankroll) append(t Transaction) {
	b.transactions = append(b.transactions, t)
	metrics.BankrollBalance.Set(balanceGauge(b.balance))
}

func balanceGauge(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
