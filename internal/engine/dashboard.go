package engine

import (
	"context"

	"github.com/jmoiron/sqlx"

	"gymble/internal/challenge"
	"gymble/internal/ranks"
	"gymble/internal/streak"
)

type ChallengeView struct {
	ID                int64  `json:"id"`
	StartDate         string `json:"start_date"`
	EndDate           string `json:"end_date"`
	Status            string `json:"status"`
	CompletedDays     int    `json:"completed_days"`
	RestDaysAvailable int    `json:"rest_days_available"`
}

type ProgressView struct {
	Days          []challenge.Day `json:"days"`
	CompletedDays int             `json:"completed_days"`
	RestDaysUsed  int             `json:"rest_days_used"`
	DaysLeft      int             `json:"days_left"`
}

type Dashboard struct {
	UserID         int64         `json:"user_id"`
	Username       string        `json:"username"`
	Trophies       int64         `json:"trophies"`
	Rank           string        `json:"rank"`
	TrophiesToNext int64         `json:"trophies_to_next_rank"`
	Credits        int64         `json:"credits"`
	Streak         streak.Result `json:"streak"`
	Challenge      ChallengeView `json:"challenge"`
	Progress       ProgressView  `json:"progress"`
	ServerToday    string        `json:"server_serbia_today"`
	TodayUploaded  bool          `json:"today_uploaded"`
	TodayRested    bool          `json:"today_rested"`
}

// Dashboard assembles the user's home view. It opens the current window on
// first sight, expires windows that ended, and heals the cached streak and
// balance when they disagree with the facts.
func (e *Engine) Dashboard(ctx context.Context, userID int64) (*Dashboard, error) {
	var d Dashboard
	err := e.inTx(ctx, func(tx *sqlx.Tx) error {
		u, err := loadUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		today := e.Today()
		if err := e.expireStale(ctx, tx, userID); err != nil {
			return err
		}
		ch, err := e.ensureChallenge(ctx, tx, userID, today)
		if err != nil {
			return err
		}
		p, _, err := e.rollup(ctx, tx, ch)
		if err != nil {
			return err
		}

		w := challenge.Window{Start: ch.StartDate, End: ch.EndDate}
		states, err := uploadStates(ctx, tx, userID, w)
		if err != nil {
			return err
		}
		rest, err := restDates(ctx, tx, userID, w.Start, w.End)
		if err != nil {
			return err
		}

		d.Streak, _, err = e.refreshStreak(ctx, tx, userID, true)
		if err != nil {
			return err
		}
		_, balance, _, err := e.ledger.Reconcile(ctx, tx, userID)
		if err != nil {
			return err
		}

		d.UserID, d.Username, d.Credits = u.ID, u.Username, u.Credits
		d.Trophies = balance
		d.Rank, d.TrophiesToNext = ranks.For(balance), ranks.Next(balance)
		d.ServerToday = today
		d.Challenge = ChallengeView{
			ID:                ch.ID,
			StartDate:         ch.StartDate,
			EndDate:           ch.EndDate,
			Status:            string(ch.Status),
			CompletedDays:     ch.CompletedDays,
			RestDaysAvailable: ch.RestDaysAvailable,
		}
		days := challenge.Timeline(w, states, rest, today)
		left := 0
		for _, day := range days {
			if day.Date >= today {
				left++
			}
		}
		d.Progress = ProgressView{
			Days:          days,
			CompletedDays: p.CompletedDays,
			RestDaysUsed:  p.RestDaysUsed,
			DaysLeft:      left,
		}
		_, d.TodayUploaded = states[today]
		for _, r := range rest {
			if r == today {
				d.TodayRested = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}
