package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"gymble/internal/civil"
	"gymble/internal/ledger"
	"gymble/internal/models"
	"gymble/internal/streak"
	"gymble/internal/verification"
)

// AdminSetTrophies overwrites the user's balance with amount. Unlike every
// other ledger write it is absolute and not idempotent per cause.
func (e *Engine) AdminSetTrophies(ctx context.Context, userID, amount int64) (ledger.Effect, error) {
	if amount < 0 {
		return ledger.Effect{}, invalid(ReasonNegativeBalance)
	}
	var eff ledger.Effect
	err := e.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := loadUser(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		eff, err = e.ledger.SetBalance(ctx, tx, userID, amount)
		return err
	})
	if err != nil {
		return ledger.Effect{}, err
	}
	e.log.Info("trophies set by admin", zap.Int64("user_id", userID), zap.Int64("amount", amount),
		zap.Int64("delta", eff.Delta), zap.String("reason", eff.Reason))
	return eff, nil
}

// DriftReport describes how the caches compared with the facts.
type DriftReport struct {
	UserID         int64         `json:"user_id"`
	StreakDrifted  bool          `json:"streak_drifted"`
	Streak         streak.Result `json:"streak"`
	BalanceDrifted bool          `json:"balance_drifted"`
	CachedTrophies int64         `json:"cached_trophies"`
	LedgerTrophies int64         `json:"ledger_trophies"`
}

func (e *Engine) checkDrift(ctx context.Context, tx *sqlx.Tx, userID int64) (DriftReport, error) {
	r := DriftReport{UserID: userID}
	var err error
	r.Streak, r.StreakDrifted, err = e.refreshStreak(ctx, tx, userID, true)
	if err != nil {
		return r, err
	}
	r.CachedTrophies, r.LedgerTrophies, r.BalanceDrifted, err = e.ledger.Reconcile(ctx, tx, userID)
	if err != nil {
		return r, err
	}
	if r.BalanceDrifted {
		e.log.Warn("trophy cache disagrees with ledger; overwriting",
			zap.Int64("user_id", userID),
			zap.Int64("cached", r.CachedTrophies),
			zap.Int64("ledger", r.LedgerTrophies),
		)
	}
	return r, nil
}

// CheckDrift recomputes the streak and the balance and heals either cache
// when it disagrees.
func (e *Engine) CheckDrift(ctx context.Context, userID int64) (DriftReport, error) {
	var r DriftReport
	err := e.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := loadUser(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		r, err = e.checkDrift(ctx, tx, userID)
		return err
	})
	return r, err
}

type RebuildReport struct {
	DriftReport
	Uploads    int             `json:"uploads"`
	Challenges int             `json:"challenges"`
	Effects    []ledger.Effect `json:"effects"`
}

// RebuildUser replays every derivation for a user from the facts: upload
// causes, window rollups with their bonuses, the streak and the balance. A
// second run over unchanged facts writes nothing to the ledger.
func (e *Engine) RebuildUser(ctx context.Context, userID int64) (*RebuildReport, error) {
	var r RebuildReport
	err := e.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := loadUser(ctx, tx, userID); err != nil {
			return err
		}
		var uploads []models.DailyUpload
		if err := tx.SelectContext(ctx, &uploads, tx.Rebind(`
			SELECT `+uploadColumns+` FROM daily_uploads WHERE user_id = ? ORDER BY upload_date`), userID); err != nil {
			return fmt.Errorf("load uploads: %w", err)
		}
		for i := range uploads {
			effects, err := e.syncUpload(ctx, tx, &uploads[i])
			if err != nil {
				return err
			}
			r.Effects = append(r.Effects, effects...)
		}

		chs, err := userChallenges(ctx, tx, userID)
		if err != nil {
			return err
		}
		for i := range chs {
			_, bonus, err := e.rollup(ctx, tx, &chs[i])
			if err != nil {
				return err
			}
			if bonus != nil {
				r.Effects = append(r.Effects, *bonus)
			}
		}
		r.Uploads, r.Challenges = len(uploads), len(chs)

		r.DriftReport, err = e.checkDrift(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if r.Effects == nil {
		r.Effects = []ledger.Effect{}
	}
	e.log.Info("user rebuilt", zap.Int64("user_id", userID), zap.Int("uploads", r.Uploads),
		zap.Int("challenges", r.Challenges), zap.Int("ledger_writes", len(r.Effects)))
	return &r, nil
}

// UserIDs lists every user id in ascending order.
func (e *Engine) UserIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := e.db.SelectContext(ctx, &ids, `SELECT id FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return ids, nil
}

// UserID resolves a username.
func (e *Engine) UserID(ctx context.Context, username string) (int64, error) {
	var id int64
	err := e.db.GetContext(ctx, &id, e.db.Rebind(`SELECT id FROM users WHERE username = ?`), username)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("find user %q: %w", username, err)
	}
	return id, nil
}

type Stats struct {
	TotalUsers           int     `db:"total_users" json:"totalUsers"`
	ActiveUsers          int     `db:"active_users" json:"activeUsers"`
	TotalUploads         int     `db:"total_uploads" json:"totalUploads"`
	PendingVerifications int     `db:"pending" json:"pendingVerifications"`
	TotalDebt            int64   `db:"total_debt" json:"totalDebt"`
	AverageStreak        float64 `db:"average_streak" json:"averageStreak"`
	TotalTrophies        int64   `db:"total_trophies" json:"totalTrophies"`
}

// Stats summarizes the whole user base. A user is active with a running
// streak or an upload in the last seven days.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	weekAgo, err := civil.AddDays(e.Today(), -7)
	if err != nil {
		return Stats{}, err
	}
	err = e.db.GetContext(ctx, &s, e.db.Rebind(`
		SELECT
			(SELECT COUNT(*) FROM users) AS total_users,
			(SELECT COUNT(*) FROM users u WHERE
				EXISTS (SELECT 1 FROM streaks s WHERE s.user_id = u.id AND s.current_streak > 0)
				OR EXISTS (SELECT 1 FROM daily_uploads d WHERE d.user_id = u.id AND d.upload_date >= ?)) AS active_users,
			(SELECT COUNT(*) FROM daily_uploads) AS total_uploads,
			(SELECT COUNT(*) FROM daily_uploads WHERE verification_status = ?) AS pending,
			(SELECT COALESCE(SUM(credits), 0) FROM users) AS total_debt,
			(SELECT COALESCE(AVG(current_streak), 0) FROM streaks WHERE current_streak > 0) AS average_streak,
			(SELECT COALESCE(SUM(trophies), 0) FROM users) AS total_trophies`),
		weekAgo, string(verification.Pending))
	if err != nil {
		return Stats{}, fmt.Errorf("load stats: %w", err)
	}
	return s, nil
}

// ResetDebt clears every user's credits and returns how many rows changed.
func (e *Engine) ResetDebt(ctx context.Context) (int64, error) {
	res, err := e.db.ExecContext(ctx, `UPDATE users SET credits = 0 WHERE credits <> 0`)
	if err != nil {
		return 0, fmt.Errorf("reset debt: %w", err)
	}
	n, _ := res.RowsAffected()
	e.log.Info("debt reset", zap.Int64("users", n))
	return n, nil
}

// ResetUserDebt clears one user's credits.
func (e *Engine) ResetUserDebt(ctx context.Context, userID int64) error {
	res, err := e.db.ExecContext(ctx, e.db.Rebind(`UPDATE users SET credits = 0 WHERE id = ?`), userID)
	if err != nil {
		return fmt.Errorf("reset debt for %d: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	e.log.Info("user debt reset", zap.Int64("user_id", userID))
	return nil
}

type LeaderboardEntry struct {
	UserID        int64  `db:"id" json:"user_id"`
	Username      string `db:"username" json:"username"`
	Trophies      int64  `db:"trophies" json:"trophies"`
	CurrentStreak int    `db:"current_streak" json:"current_streak"`
}

// Leaderboard ranks users by cached balance, ties broken by streak then id.
// It returns 50 rows by default and never more than 100.
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	switch {
	case limit <= 0:
		limit = 50
	case limit > 100:
		limit = 100
	}
	out := []LeaderboardEntry{}
	err := e.db.SelectContext(ctx, &out, e.db.Rebind(`
		SELECT u.id, u.username, u.trophies, COALESCE(s.current_streak, 0) AS current_streak
		FROM users u LEFT JOIN streaks s ON s.user_id = u.id
		ORDER BY u.trophies DESC, current_streak DESC, u.id
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("load leaderboard: %w", err)
	}
	return out, nil
}
