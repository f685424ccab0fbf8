package engine

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"gymble/internal/challenge"
	"gymble/internal/ledger"
	"gymble/internal/models"
)

// ApplyCause records amount for reason in its own transaction. Reversal
// reasons are applied by reversing their inner cause.
func (e *Engine) ApplyCause(ctx context.Context, userID int64, reason ledger.Reason, amount int64) (ledger.Effect, error) {
	var eff ledger.Effect
	err := e.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := loadUser(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		if reason.IsReversal() {
			eff, err = e.ledger.Reverse(ctx, tx, userID, *reason.Of)
		} else {
			eff, err = e.ledger.Apply(ctx, tx, userID, reason, amount)
		}
		return err
	})
	return eff, err
}

// SyncChallenge recounts one weekly window and settles its bonus.
func (e *Engine) SyncChallenge(ctx context.Context, challengeID int64) (challenge.Progress, *ledger.Effect, error) {
	var (
		p   challenge.Progress
		eff *ledger.Effect
	)
	err := e.inTx(ctx, func(tx *sqlx.Tx) error {
		ch, err := loadChallenge(ctx, tx, challengeID)
		if err != nil {
			return err
		}
		p, eff, err = e.rollup(ctx, tx, ch)
		return err
	})
	return p, eff, err
}

// Balance reads the cached trophy balance.
func (e *Engine) Balance(ctx context.Context, userID int64) (int64, error) {
	bal, err := e.ledger.Balance(ctx, e.db, userID)
	if errors.Is(err, ledger.ErrUnknownUser) {
		return 0, ErrNotFound
	}
	return bal, err
}

// History lists the user's ledger entries, newest first.
func (e *Engine) History(ctx context.Context, userID int64, limit int) ([]models.TrophyTransaction, error) {
	return e.ledger.History(ctx, e.db, userID, limit)
}
