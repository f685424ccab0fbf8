package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"gymble/internal/challenge"
	"gymble/internal/ledger"
	"gymble/internal/models"
	"gymble/internal/streak"
	"gymble/internal/verification"
)

func loadUser(ctx context.Context, tx *sqlx.Tx, userID int64) (*models.User, error) {
	var u models.User
	err := tx.GetContext(ctx, &u, tx.Rebind(`
		SELECT id, username, password_hash, trophies, credits, profile_picture, created_at
		FROM users WHERE id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	return &u, nil
}

const uploadColumns = `id, user_id, challenge_id, upload_date, file_ref, photo_fingerprint, metadata,
	verification_status, created_at, verified_at`

func loadUpload(ctx context.Context, tx *sqlx.Tx, uploadID int64) (*models.DailyUpload, error) {
	var u models.DailyUpload
	err := tx.GetContext(ctx, &u, tx.Rebind(`SELECT `+uploadColumns+` FROM daily_uploads WHERE id = ?`), uploadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load upload %d: %w", uploadID, err)
	}
	return &u, nil
}

func exists(ctx context.Context, tx *sqlx.Tx, query string, args ...any) (bool, error) {
	var n int
	if err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM (`+query+`) AS t`), args...); err != nil {
		return false, err
	}
	return n > 0, nil
}

func hasUpload(ctx context.Context, tx *sqlx.Tx, userID int64, date string) (bool, error) {
	ok, err := exists(ctx, tx, `SELECT 1 FROM daily_uploads WHERE user_id = ? AND upload_date = ?`, userID, date)
	if err != nil {
		return false, fmt.Errorf("check upload on %s: %w", date, err)
	}
	return ok, nil
}

func hasRestDay(ctx context.Context, tx *sqlx.Tx, userID int64, date string) (bool, error) {
	ok, err := exists(ctx, tx, `SELECT 1 FROM rest_days WHERE user_id = ? AND rest_date = ?`, userID, date)
	if err != nil {
		return false, fmt.Errorf("check rest day on %s: %w", date, err)
	}
	return ok, nil
}

// approvedDates returns approved upload dates within [from, to]; empty bounds
// are open.
func approvedDates(ctx context.Context, tx *sqlx.Tx, userID int64, from, to string) ([]string, error) {
	var out []string
	err := tx.SelectContext(ctx, &out, tx.Rebind(`
		SELECT upload_date FROM daily_uploads
		WHERE user_id = ? AND verification_status = ?
		  AND (? = '' OR upload_date >= ?) AND (? = '' OR upload_date <= ?)
		ORDER BY upload_date`),
		userID, string(verification.Approved), from, from, to, to)
	if err != nil {
		return nil, fmt.Errorf("load approved dates: %w", err)
	}
	return out, nil
}

func restDates(ctx context.Context, tx *sqlx.Tx, userID int64, from, to string) ([]string, error) {
	var out []string
	err := tx.SelectContext(ctx, &out, tx.Rebind(`
		SELECT rest_date FROM rest_days
		WHERE user_id = ? AND (? = '' OR rest_date >= ?) AND (? = '' OR rest_date <= ?)
		ORDER BY rest_date`),
		userID, from, from, to, to)
	if err != nil {
		return nil, fmt.Errorf("load rest dates: %w", err)
	}
	return out, nil
}

func uploadStates(ctx context.Context, tx *sqlx.Tx, userID int64, w challenge.Window) (map[string]string, error) {
	var rows []struct {
		Date   string `db:"upload_date"`
		Status string `db:"verification_status"`
	}
	err := tx.SelectContext(ctx, &rows, tx.Rebind(`
		SELECT upload_date, verification_status FROM daily_uploads
		WHERE user_id = ? AND upload_date >= ? AND upload_date <= ?`), userID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("load window uploads: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Date] = r.Status
	}
	return out, nil
}

const challengeColumns = `id, user_id, start_date, end_date, status, completed_days, rest_days_available, created_at`

func loadChallenge(ctx context.Context, tx *sqlx.Tx, id int64) (*models.WeeklyChallenge, error) {
	var c models.WeeklyChallenge
	err := tx.GetContext(ctx, &c, tx.Rebind(`SELECT `+challengeColumns+` FROM weekly_challenges WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load challenge %d: %w", id, err)
	}
	return &c, nil
}

func userChallenges(ctx context.Context, tx *sqlx.Tx, userID int64) ([]models.WeeklyChallenge, error) {
	var out []models.WeeklyChallenge
	err := tx.SelectContext(ctx, &out, tx.Rebind(`
		SELECT `+challengeColumns+` FROM weekly_challenges WHERE user_id = ? ORDER BY start_date`), userID)
	if err != nil {
		return nil, fmt.Errorf("load challenges: %w", err)
	}
	return out, nil
}

// ensureChallenge returns the user's window covering date, opening it when
// missing. New windows sit on the 7-day grid of the user's first window.
func (e *Engine) ensureChallenge(ctx context.Context, tx *sqlx.Tx, userID int64, date string) (*models.WeeklyChallenge, error) {
	var c models.WeeklyChallenge
	err := tx.GetContext(ctx, &c, tx.Rebind(`
		SELECT `+challengeColumns+` FROM weekly_challenges
		WHERE user_id = ? AND start_date <= ? AND end_date >= ?`), userID, date, date)
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find challenge for %s: %w", date, err)
	}

	var anchor sql.NullString
	if err := tx.GetContext(ctx, &anchor, tx.Rebind(`SELECT MIN(start_date) FROM weekly_challenges WHERE user_id = ?`), userID); err != nil {
		return nil, fmt.Errorf("find challenge anchor: %w", err)
	}
	start := date
	if anchor.Valid {
		start = anchor.String
	}
	w, err := challenge.WindowFor(start, date)
	if err != nil {
		return nil, err
	}

	var id int64
	err = tx.QueryRowxContext(ctx, tx.Rebind(`
		INSERT INTO weekly_challenges (user_id, start_date, end_date, status, completed_days, rest_days_available, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?) RETURNING id`),
		userID, w.Start, w.End, string(models.ChallengeActive), e.rules.RestDaysPerWeek, e.stamp()).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("open challenge %s: %w", w.Start, err)
	}
	e.log.Info("challenge opened", zap.Int64("user_id", userID), zap.Int64("challenge_id", id),
		zap.String("start_date", w.Start), zap.String("end_date", w.End))
	return loadChallenge(ctx, tx, id)
}

// rollup recounts one window from the fact set, persists the result and keeps
// the weekly bonus live exactly while the window is completed.
func (e *Engine) rollup(ctx context.Context, tx *sqlx.Tx, c *models.WeeklyChallenge) (challenge.Progress, *ledger.Effect, error) {
	w := challenge.Window{Start: c.StartDate, End: c.EndDate}
	approved, err := approvedDates(ctx, tx, c.UserID, w.Start, w.End)
	if err != nil {
		return challenge.Progress{}, nil, err
	}
	rest, err := restDates(ctx, tx, c.UserID, w.Start, w.End)
	if err != nil {
		return challenge.Progress{}, nil, err
	}
	p := challenge.Evaluate(w, approved, rest, e.Today(), e.rules.RestDaysPerWeek)

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE weekly_challenges SET status = ?, completed_days = ?, rest_days_available = ? WHERE id = ?`),
		string(p.Status), p.CompletedDays, p.RestDaysAvailable, c.ID)
	if err != nil {
		return challenge.Progress{}, nil, fmt.Errorf("update challenge %d: %w", c.ID, err)
	}
	c.Status, c.CompletedDays, c.RestDaysAvailable = p.Status, p.CompletedDays, p.RestDaysAvailable

	var eff ledger.Effect
	if p.Completed() {
		eff, err = e.ledger.Apply(ctx, tx, c.UserID, ledger.WeeklyBonus(c.ID), e.rules.WeeklyBonusTrophies)
		if err == nil && eff.Applied {
			e.metrics.WeeklyBonus()
			e.log.Info("weekly bonus applied", zap.Int64("user_id", c.UserID), zap.Int64("challenge_id", c.ID))
		}
	} else {
		eff, err = e.ledger.Reverse(ctx, tx, c.UserID, ledger.WeeklyBonus(c.ID))
	}
	if err != nil {
		return challenge.Progress{}, nil, err
	}
	if !eff.Applied {
		return p, nil, nil
	}
	return p, &eff, nil
}

// expireStale rolls up every window still marked active that ended before today.
func (e *Engine) expireStale(ctx context.Context, tx *sqlx.Tx, userID int64) error {
	var stale []models.WeeklyChallenge
	err := tx.SelectContext(ctx, &stale, tx.Rebind(`
		SELECT `+challengeColumns+` FROM weekly_challenges
		WHERE user_id = ? AND status = ? AND end_date < ?`), userID, string(models.ChallengeActive), e.Today())
	if err != nil {
		return fmt.Errorf("find stale challenges: %w", err)
	}
	for i := range stale {
		if _, _, err := e.rollup(ctx, tx, &stale[i]); err != nil {
			return err
		}
	}
	return nil
}

// syncUpload makes the upload's live ledger causes match its status.
func (e *Engine) syncUpload(ctx context.Context, tx *sqlx.Tx, u *models.DailyUpload) ([]ledger.Effect, error) {
	want := map[verification.Cause]bool{}
	for _, c := range verification.Causes(u.VerificationStatus) {
		want[c] = true
	}

	causes := []struct {
		cause  verification.Cause
		reason ledger.Reason
		amount int64
	}{
		{verification.CauseApproval, ledger.UploadApproval(u.ID), e.rules.ApprovalTrophies},
		{verification.CauseRejection, ledger.UploadRejection(u.ID), e.rules.RejectionTrophies},
	}

	// Reverse first so a status flip never holds both causes at once.
	var effects []ledger.Effect
	for _, c := range causes {
		if want[c.cause] {
			continue
		}
		eff, err := e.ledger.Reverse(ctx, tx, u.UserID, c.reason)
		if err != nil {
			return nil, err
		}
		if eff.Applied {
			effects = append(effects, eff)
		}
	}
	for _, c := range causes {
		if !want[c.cause] {
			continue
		}
		eff, err := e.ledger.Apply(ctx, tx, u.UserID, c.reason, c.amount)
		if err != nil {
			return nil, err
		}
		if eff.Applied {
			effects = append(effects, eff)
		}
	}
	return effects, nil
}

// refreshStreak recomputes the streak as of today and stores it. When
// checkDrift is set, the cached row is first compared with a recomputation as
// of the day it was written; a mismatch there means the cache was corrupted
// rather than merely aged, and is logged.
func (e *Engine) refreshStreak(ctx context.Context, tx *sqlx.Tx, userID int64, checkDrift bool) (streak.Result, bool, error) {
	approved, err := approvedDates(ctx, tx, userID, "", "")
	if err != nil {
		return streak.Result{}, false, err
	}
	rest, err := restDates(ctx, tx, userID, "", "")
	if err != nil {
		return streak.Result{}, false, err
	}
	today := e.Today()
	fresh := streak.Compute(approved, rest, today)

	var cached models.Streak
	err = tx.GetContext(ctx, &cached, tx.Rebind(`
		SELECT user_id, current_streak, longest_streak, last_activity_date, updated_at
		FROM streaks WHERE user_id = ?`), userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return streak.Result{}, false, fmt.Errorf("load streak: %w", err)
	default:
		drifted := false
		if checkDrift && len(cached.UpdatedAt) >= 10 {
			then := streak.Compute(approved, rest, cached.UpdatedAt[:10])
			if !streak.Matches(cached.CurrentStreak, cached.LongestStreak, cached.LastActivityDate, then) {
				drifted = true
				e.metrics.DriftHealed("streak")
				e.log.Warn("streak cache disagrees with recomputation; overwriting",
					zap.Int64("user_id", userID),
					zap.Int("cached_current", cached.CurrentStreak),
					zap.Int("cached_longest", cached.LongestStreak),
					zap.Int("fresh_current", then.Current),
					zap.Int("fresh_longest", then.Longest),
				)
			}
		}
		if streak.Matches(cached.CurrentStreak, cached.LongestStreak, cached.LastActivityDate, fresh) && cached.UpdatedAt[:min(len(cached.UpdatedAt), 10)] == today {
			return fresh, drifted, nil
		}
		if err := e.writeStreak(ctx, tx, userID, fresh); err != nil {
			return streak.Result{}, false, err
		}
		return fresh, drifted, nil
	}
	if err := e.writeStreak(ctx, tx, userID, fresh); err != nil {
		return streak.Result{}, false, err
	}
	return fresh, false, nil
}

func (e *Engine) writeStreak(ctx context.Context, tx *sqlx.Tx, userID int64, r streak.Result) error {
	var last *string
	if r.LastActivity != "" {
		last = &r.LastActivity
	}
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO streaks (user_id, current_streak, longest_streak, last_activity_date, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			current_streak = excluded.current_streak,
			longest_streak = excluded.longest_streak,
			last_activity_date = excluded.last_activity_date,
			updated_at = excluded.updated_at`),
		userID, r.Current, r.Longest, last, e.stamp())
	if err != nil {
		return fmt.Errorf("store streak: %w", err)
	}
	return nil
}
