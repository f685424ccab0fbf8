package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"gymble/internal/challenge"
	"gymble/internal/civil"
	"gymble/internal/ledger"
	"gymble/internal/models"
	"gymble/internal/streak"
	"gymble/internal/verification"
)

type UploadInput struct {
	UserID int64
	// ChallengeID is optional; when set it must name the user's window that
	// covers Date.
	ChallengeID int64
	Date        string
	FileRef     string
	Fingerprint string
	Metadata    string
}

// EarliestDate is the oldest date an upload or rest day may be recorded for.
const EarliestDate = "2000-01-01"

// checkDate validates a civil date between EarliestDate and today.
func (e *Engine) checkDate(date string) error {
	if _, err := civil.ParseDate(date); err != nil {
		return invalid(ReasonInvalidDate)
	}
	if date > e.Today() {
		return invalid(ReasonFutureDate)
	}
	if date < EarliestDate {
		return invalid(ReasonDateTooOld)
	}
	return nil
}

// RecordUpload stores a pending upload for date.
func (e *Engine) RecordUpload(ctx context.Context, in UploadInput) (*models.DailyUpload, error) {
	if err := e.checkDate(in.Date); err != nil {
		return nil, err
	}
	if in.FileRef == "" {
		return nil, invalid(ReasonPhotoRequired)
	}

	var out *models.DailyUpload
	err := e.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := loadUser(ctx, tx, in.UserID); err != nil {
			return err
		}
		rested, err := hasRestDay(ctx, tx, in.UserID, in.Date)
		if err != nil {
			return err
		}
		if rested {
			return invalid(ReasonRestDayUsed)
		}
		uploaded, err := hasUpload(ctx, tx, in.UserID, in.Date)
		if err != nil {
			return err
		}
		if uploaded {
			return conflict(ReasonUploadExists)
		}
		if in.Fingerprint != "" {
			reused, err := exists(ctx, tx, `SELECT 1 FROM daily_uploads WHERE user_id = ? AND photo_fingerprint = ?`,
				in.UserID, in.Fingerprint)
			if err != nil {
				return fmt.Errorf("check fingerprint: %w", err)
			}
			if reused {
				return invalid(ReasonPhotoReused)
			}
		}

		ch, err := e.challengeFor(ctx, tx, in.UserID, in.ChallengeID, in.Date)
		if err != nil {
			return err
		}

		var id int64
		err = tx.QueryRowxContext(ctx, tx.Rebind(`
			INSERT INTO daily_uploads (user_id, challenge_id, upload_date, file_ref, photo_fingerprint, metadata,
				verification_status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
			in.UserID, ch.ID, in.Date, in.FileRef, in.Fingerprint, in.Metadata,
			string(verification.Pending), e.stamp()).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert upload: %w", err)
		}
		out, err = loadUpload(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.metrics.Upload()
	e.log.Info("upload recorded", zap.Int64("user_id", in.UserID), zap.Int64("upload_id", out.ID),
		zap.String("date", in.Date))
	return out, nil
}

func (e *Engine) challengeFor(ctx context.Context, tx *sqlx.Tx, userID, challengeID int64, date string) (*models.WeeklyChallenge, error) {
	if challengeID == 0 {
		return e.ensureChallenge(ctx, tx, userID, date)
	}
	ch, err := loadChallenge(ctx, tx, challengeID)
	if errors.Is(err, ErrNotFound) {
		return nil, invalid(ReasonWrongChallenge)
	}
	if err != nil {
		return nil, err
	}
	w := challenge.Window{Start: ch.StartDate, End: ch.EndDate}
	if ch.UserID != userID || !w.Contains(date) {
		return nil, invalid(ReasonWrongChallenge)
	}
	return ch, nil
}

// VerificationResult reports everything a status change touched.
type VerificationResult struct {
	Upload    models.DailyUpload     `json:"upload"`
	Previous  verification.Status    `json:"previous_status"`
	Changed   bool                   `json:"changed"`
	Ledger    []ledger.Effect        `json:"ledger"`
	Delta     int64                  `json:"trophy_delta"`
	Trophies  int64                  `json:"trophies"`
	Streak    streak.Result          `json:"streak"`
	Challenge models.WeeklyChallenge `json:"challenge"`
}

// SetVerification moves an upload to status and brings the ledger, the
// streak and the upload's weekly window in line with it. Re-applying the
// current status changes nothing.
func (e *Engine) SetVerification(ctx context.Context, uploadID int64, status verification.Status) (*VerificationResult, error) {
	if !status.Valid() {
		return nil, invalid("Invalid status: %q", string(status))
	}

	var res VerificationResult
	err := e.inTx(ctx, func(tx *sqlx.Tx) error {
		up, err := loadUpload(ctx, tx, uploadID)
		if err != nil {
			return err
		}
		change, err := verification.Transition(up.VerificationStatus, status)
		if err != nil {
			return invalid("%s", err.Error())
		}
		res.Previous, res.Changed = change.From, change.Changed

		if change.Changed {
			var verifiedAt *string
			if status != verification.Pending {
				s := e.stamp()
				verifiedAt = &s
			}
			_, err = tx.ExecContext(ctx, tx.Rebind(`
				UPDATE daily_uploads SET verification_status = ?, verified_at = ? WHERE id = ?`),
				string(status), verifiedAt, up.ID)
			if err != nil {
				return fmt.Errorf("update upload %d: %w", up.ID, err)
			}
			up.VerificationStatus, up.VerifiedAt = status, verifiedAt
		}

		// Sync even when unchanged so a replay repairs a partial history.
		effects, err := e.syncUpload(ctx, tx, up)
		if err != nil {
			return err
		}

		ch, err := loadChallenge(ctx, tx, up.ChallengeID)
		if err != nil {
			return err
		}
		_, bonus, err := e.rollup(ctx, tx, ch)
		if err != nil {
			return err
		}
		if bonus != nil {
			effects = append(effects, *bonus)
		}

		res.Streak, _, err = e.refreshStreak(ctx, tx, up.UserID, false)
		if err != nil {
			return err
		}
		res.Trophies, err = e.ledger.Balance(ctx, tx, up.UserID)
		if err != nil {
			return err
		}
		res.Upload, res.Challenge, res.Ledger = *up, *ch, effects
		for _, eff := range effects {
			res.Delta += eff.Delta
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Changed {
		e.metrics.Verification(string(status))
	}
	e.log.Info("upload verified",
		zap.Int64("upload_id", uploadID),
		zap.String("from", string(res.Previous)),
		zap.String("to", string(status)),
		zap.Int64("trophy_delta", res.Delta),
		zap.Int("current_streak", res.Streak.Current),
	)
	return &res, nil
}

// PendingUpload is one row of the admin review queue.
type PendingUpload struct {
	models.DailyUpload
	Username string `db:"username" json:"username"`
}

// PendingUploads lists uploads awaiting review, oldest first.
func (e *Engine) PendingUploads(ctx context.Context) ([]PendingUpload, error) {
	out := []PendingUpload{}
	err := e.db.SelectContext(ctx, &out, e.db.Rebind(`
		SELECT u.id, u.user_id, u.challenge_id, u.upload_date, u.file_ref, u.photo_fingerprint, u.metadata,
			u.verification_status, u.created_at, u.verified_at, us.username
		FROM daily_uploads u JOIN users us ON us.id = u.user_id
		WHERE u.verification_status = ?
		ORDER BY u.created_at, u.id`), string(verification.Pending))
	if err != nil {
		return nil, fmt.Errorf("list pending uploads: %w", err)
	}
	return out, nil
}

// Upload reads one upload.
func (e *Engine) Upload(ctx context.Context, uploadID int64) (*models.DailyUpload, error) {
	var out *models.DailyUpload
	err := e.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		out, err = loadUpload(ctx, tx, uploadID)
		return err
	})
	return out, err
}
