package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/moonflip/flip-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS bets (
			id              TEXT PRIMARY KEY,
			user_wallet     TEXT NOT NULL,
			token_address   TEXT NOT NULL,
			token_symbol    TEXT NOT NULL,
			stake           NUMERIC NOT NULL,
			direction       TEXT NOT NULL,
			start_price     NUMERIC NOT NULL,
			start_time      TIMESTAMPTZ NOT NULL,
			end_price       NUMERIC,
			end_time        TIMESTAMPTZ,
			status          TEXT NOT NULL,
			referral_wallet TEXT,
			payout          NUMERIC NOT NULL DEFAULT 0,
			owner_fee       NUMERIC NOT NULL DEFAULT 0,
			referral_fee    NUMERIC NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_bets_user_wallet ON bets (user_wallet);
		CREATE INDEX IF NOT EXISTS idx_bets_status ON bets (status);
		CREATE INDEX IF NOT EXISTS idx_bets_start_time ON bets (start_time);

		CREATE TABLE IF NOT EXISTS users (
			wallet_address TEXT PRIMARY KEY,
			created_at     TIMESTAMPTZ NOT NULL,
			total_bets     INTEGER NOT NULL DEFAULT 0,
			total_wagered  NUMERIC NOT NULL DEFAULT 0,
			total_won      NUMERIC NOT NULL DEFAULT 0,
			total_lost     NUMERIC NOT NULL DEFAULT 0,
			win_rate       NUMERIC NOT NULL DEFAULT 0,
			biggest_win    NUMERIC NOT NULL DEFAULT 0,
			current_streak INTEGER NOT NULL DEFAULT 0,
			best_streak    INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_users_total_won ON users (total_won DESC);
	`)
	return err
}

func (s *PostgresStore) CreateBet(ctx context.Context, b *model.Bet) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO bets (id, user_wallet, token_address, token_symbol, stake, direction,
		                   start_price, start_time, status, referral_wallet,
		                   payout, owner_fee, referral_fee)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8, $9, $10, 0, 0, 0)`,
		b.ID, b.UserWallet, b.TokenAddress, b.TokenSymbol,
		b.Stake.String(), string(b.Direction),
		b.StartPrice.String(), b.StartTime, string(b.Status), nullable(b.ReferralWallet),
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO users (wallet_address, created_at, total_bets, total_wagered)
		 VALUES ($1, $2, 1, $3::NUMERIC)
		 ON CONFLICT (wallet_address) DO UPDATE SET
		   total_bets = users.total_bets + 1,
		   total_wagered = users.total_wagered + $3::NUMERIC`,
		b.UserWallet, time.Now().UTC(), b.Stake.String(),
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ResolveBet(ctx context.Context, result *model.GameResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	bet := result.Bet
	tag, err := tx.Exec(ctx,
		`UPDATE bets SET end_price = $2::NUMERIC, end_time = $3, status = $4,
		        payout = $5::NUMERIC, owner_fee = $6::NUMERIC, referral_fee = $7::NUMERIC
		 WHERE id = $1 AND status = 'PENDING'`,
		bet.ID, bet.EndPrice.String(), bet.EndTime, string(bet.Status),
		result.Payout.String(), result.OwnerFee.String(), result.ReferralFee.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s (or already settled)", ErrBetNotFound, bet.ID)
	}

	stats, err := getUserStatsTx(ctx, tx, bet.UserWallet)
	if err != nil {
		return err
	}
	stats.ApplySettlement(result.Won, bet.Stake, result.Payout)

	_, err = tx.Exec(ctx,
		`UPDATE users SET total_won = $2::NUMERIC, total_lost = $3::NUMERIC,
		        win_rate = $4::NUMERIC, biggest_win = $5::NUMERIC,
		        current_streak = $6, best_streak = $7
		 WHERE wallet_address = $1`,
		bet.UserWallet,
		stats.TotalWon.String(), stats.TotalLost.String(),
		stats.WinRate.String(), stats.BiggestWin.String(),
		stats.CurrentStreak, stats.BestStreak,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	row := s.pool.QueryRow(ctx, betSelect+` WHERE id = $1`, id)
	bet, err := scanBet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBetNotFound, id)
	}
	return bet, err
}

func (s *PostgresStore) ListPendingBets(ctx context.Context) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx, betSelect+` WHERE status = 'PENDING' ORDER BY start_time`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBets(rows)
}

func (s *PostgresStore) BetHistory(ctx context.Context, wallet string, limit int) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		betSelect+` WHERE user_wallet = $1 AND status <> 'PENDING'
		 ORDER BY end_time DESC LIMIT $2`, wallet, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBets(rows)
}

func (s *PostgresStore) GetOrCreateUserStats(ctx context.Context, wallet string) (*model.UserStats, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (wallet_address, created_at) VALUES ($1, $2)
		 ON CONFLICT (wallet_address) DO NOTHING`,
		wallet, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return getUserStatsTx(ctx, s.pool, wallet)
}

func (s *PostgresStore) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT wallet_address, total_bets,
		        total_wagered::TEXT, total_won::TEXT, total_lost::TEXT,
		        win_rate::TEXT, biggest_win::TEXT, best_streak
		 FROM users
		 ORDER BY total_won DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LeaderboardEntry
	rank := 0
	for rows.Next() {
		var e model.LeaderboardEntry
		var wagered, won, lost, rate, biggest string
		if err := rows.Scan(&e.WalletAddress, &e.TotalBets,
			&wagered, &won, &lost, &rate, &biggest, &e.BestStreak); err != nil {
			return nil, err
		}
		if e.TotalWagered, err = decimal.NewFromString(wagered); err != nil {
			return nil, err
		}
		if e.TotalWon, err = decimal.NewFromString(won); err != nil {
			return nil, err
		}
		if e.TotalLost, err = decimal.NewFromString(lost); err != nil {
			return nil, err
		}
		if e.WinRate, err = decimal.NewFromString(rate); err != nil {
			return nil, err
		}
		if e.BiggestWin, err = decimal.NewFromString(biggest); err != nil {
			return nil, err
		}
		e.Profit = e.TotalWon.Sub(e.TotalLost)
		rank++
		e.Rank = rank
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const betSelect = `SELECT id, user_wallet, token_address, token_symbol,
       stake::TEXT, direction, start_price::TEXT, start_time,
       COALESCE(end_price, 0)::TEXT, end_time, status,
       COALESCE(referral_wallet, ''),
       payout::TEXT, owner_fee::TEXT, referral_fee::TEXT
 FROM bets`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBet(row rowScanner) (*model.Bet, error) {
	var b model.Bet
	var stake, startPrice, endPrice, payout, ownerFee, referralFee string
	var direction, status string
	var endTime *time.Time

	err := row.Scan(&b.ID, &b.UserWallet, &b.TokenAddress, &b.TokenSymbol,
		&stake, &direction, &startPrice, &b.StartTime,
		&endPrice, &endTime, &status,
		&b.ReferralWallet,
		&payout, &ownerFee, &referralFee)
	if err != nil {
		return nil, err
	}

	b.Direction = model.Direction(direction)
	b.Status = model.Status(status)
	if endTime != nil {
		b.EndTime = *endTime
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&b.Stake, stake},
		{&b.StartPrice, startPrice},
		{&b.EndPrice, endPrice},
		{&b.Payout, payout},
		{&b.OwnerFee, ownerFee},
		{&b.ReferralFee, referralFee},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("store: parsing numeric: %w", err)
		}
	}
	return &b, nil
}

func scanBets(rows pgx.Rows) ([]model.Bet, error) {
	var bets []model.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, *b)
	}
	return bets, rows.Err()
}

// querier lets the stats read run inside or outside a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getUserStatsTx(ctx context.Context, q querier, wallet string) (*model.UserStats, error) {
	var st model.UserStats
	var wagered, won, lost, rate, biggest string

	err := q.QueryRow(ctx,
		`SELECT wallet_address, created_at, total_bets,
		        total_wagered::TEXT, total_won::TEXT, total_lost::TEXT,
		        win_rate::TEXT, biggest_win::TEXT, current_streak, best_streak
		 FROM users WHERE wallet_address = $1`, wallet).
		Scan(&st.WalletAddress, &st.CreatedAt, &st.TotalBets,
			&wagered, &won, &lost, &rate, &biggest,
			&st.CurrentStreak, &st.BestStreak)
	if err != nil {
		return nil, err
	}

	if st.TotalWagered, err = decimal.NewFromString(wagered); err != nil {
		return nil, err
	}
	if st.TotalWon, err = decimal.NewFromString(won); err != nil {
		return nil, err
	}
	if st.TotalLost, err = decimal.NewFromString(lost); err != nil {
		return nil, err
	}
	if st.WinRate, err = decimal.NewFromString(rate); err != nil {
		return nil, err
	}
	if st.BiggestWin, err = decimal.NewFromString(biggest); err != nil {
		return nil, err
	}
	return &st, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
