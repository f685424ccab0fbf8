package engine

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"gymble/internal/challenge"
	"gymble/internal/models"
	"gymble/internal/streak"
)

type RestDayResult struct {
	RestDay   models.RestDay         `json:"rest_day"`
	Challenge models.WeeklyChallenge `json:"challenge"`
	Progress  challenge.Progress     `json:"progress"`
	Streak    streak.Result          `json:"streak"`
}

// UseRestDay spends one of the week's rest days on date. A date holds either
// an upload or a rest day, never both.
func (e *Engine) UseRestDay(ctx context.Context, userID int64, date string) (*RestDayResult, error) {
	if err := e.checkDate(date); err != nil {
		return nil, err
	}

	var res RestDayResult
	err := e.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := loadUser(ctx, tx, userID); err != nil {
			return err
		}
		uploaded, err := hasUpload(ctx, tx, userID, date)
		if err != nil {
			return err
		}
		if uploaded {
			return conflict(ReasonUploadExists)
		}
		rested, err := hasRestDay(ctx, tx, userID, date)
		if err != nil {
			return err
		}
		if rested {
			return conflict(ReasonRestDayUsed)
		}

		ch, err := e.ensureChallenge(ctx, tx, userID, date)
		if err != nil {
			return err
		}
		used, err := restDates(ctx, tx, userID, ch.StartDate, ch.EndDate)
		if err != nil {
			return err
		}
		if len(used) >= e.rules.RestDaysPerWeek {
			return conflict(ReasonNoRestDaysLeft)
		}

		var id int64
		err = tx.QueryRowxContext(ctx, tx.Rebind(`
			INSERT INTO rest_days (user_id, rest_date, challenge_id, created_at)
			VALUES (?, ?, ?, ?) RETURNING id`), userID, date, ch.ID, e.stamp()).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert rest day: %w", err)
		}
		if err := tx.GetContext(ctx, &res.RestDay, tx.Rebind(`
			SELECT id, user_id, rest_date, challenge_id, created_at FROM rest_days WHERE id = ?`), id); err != nil {
			return fmt.Errorf("load rest day: %w", err)
		}

		res.Progress, _, err = e.rollup(ctx, tx, ch)
		if err != nil {
			return err
		}
		res.Challenge = *ch
		res.Streak, _, err = e.refreshStreak(ctx, tx, userID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.metrics.RestDay()
	e.log.Info("rest day used", zap.Int64("user_id", userID), zap.String("date", date),
		zap.Int64("challenge_id", res.Challenge.ID))
	return &res, nil
}
