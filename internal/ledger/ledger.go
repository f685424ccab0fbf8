// Package ledger keeps the append-only trophy transaction log and the cached
// balance on users.trophies. Every entry is keyed by its cause; a cause is
// applied at most once while live.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"gymble/internal/civil"
	"gymble/internal/metrics"
	"gymble/internal/models"
)

// ErrUnknownUser is returned when a balance is read or adjusted for a missing user.
var ErrUnknownUser = errors.New("ledger: unknown user")

type Ledger struct {
	now     func() time.Time
	metrics *metrics.Metrics
}

func New(now func() time.Time, m *metrics.Metrics) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{now: now, metrics: m}
}

// Effect describes what a ledger call changed. Applied is false for
// idempotent no-ops.
type Effect struct {
	Reason  string `json:"reason"`
	Delta   int64  `json:"delta"`
	Applied bool   `json:"applied"`
}

// Apply records amount for reason unless a live entry for the same cause
// exists, in which case nothing changes.
func (l *Ledger) Apply(ctx context.Context, q sqlx.ExtContext, userID int64, reason Reason, amount int64) (Effect, error) {
	key := reason.String()
	live, err := l.live(ctx, q, userID, key)
	if err != nil {
		return Effect{}, err
	}
	if live != nil {
		l.metrics.LedgerSkipped(string(reason.Kind))
		return Effect{Reason: key}, nil
	}

	if _, err := l.insert(ctx, q, userID, amount, key, nil, nil); err != nil {
		return Effect{}, err
	}
	if err := adjust(ctx, q, userID, amount); err != nil {
		return Effect{}, err
	}
	l.metrics.LedgerApplied(string(reason.Kind))
	return Effect{Reason: key, Delta: amount, Applied: true}, nil
}

// Reverse cancels the live entry for reason, if any. A negated reversal row
// is appended and the original is marked reversed, so the balance equals the
// cause never having been applied and the cause may be applied again later.
func (l *Ledger) Reverse(ctx context.Context, q sqlx.ExtContext, userID int64, reason Reason) (Effect, error) {
	key := reason.String()
	live, err := l.live(ctx, q, userID, key)
	if err != nil {
		return Effect{}, err
	}
	if live == nil {
		return Effect{Reason: Reversal(reason).String()}, nil
	}

	stamp := civil.DateTime(l.now())
	if _, err := q.ExecContext(ctx, q.Rebind(`UPDATE trophy_transactions SET reversed_at = ? WHERE id = ?`), stamp, live.ID); err != nil {
		return Effect{}, fmt.Errorf("mark reversed: %w", err)
	}
	rev := Reversal(reason).String()
	if _, err := l.insert(ctx, q, userID, -live.Delta, rev, &live.ID, &stamp); err != nil {
		return Effect{}, err
	}
	if err := adjust(ctx, q, userID, -live.Delta); err != nil {
		return Effect{}, err
	}
	l.metrics.LedgerReversed(string(reason.Kind))
	return Effect{Reason: rev, Delta: -live.Delta, Applied: true}, nil
}

// IsLive reports whether reason currently has an applied entry.
func (l *Ledger) IsLive(ctx context.Context, q sqlx.ExtContext, userID int64, reason Reason) (bool, error) {
	t, err := l.live(ctx, q, userID, reason.String())
	return t != nil, err
}

// Balance reads the cached balance.
func (l *Ledger) Balance(ctx context.Context, q sqlx.ExtContext, userID int64) (int64, error) {
	var bal int64
	err := sqlx.GetContext(ctx, q, &bal, q.Rebind(`SELECT trophies FROM users WHERE id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUnknownUser
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return bal, nil
}

// Sum totals every entry, reversals included.
func (l *Ledger) Sum(ctx context.Context, q sqlx.ExtContext, userID int64) (int64, error) {
	var sum int64
	if err := sqlx.GetContext(ctx, q, &sum, q.Rebind(`SELECT COALESCE(SUM(delta), 0) FROM trophy_transactions WHERE user_id = ?`), userID); err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return sum, nil
}

// Live lists the entries currently in force, oldest first.
func (l *Ledger) Live(ctx context.Context, q sqlx.ExtContext, userID int64) ([]models.TrophyTransaction, error) {
	var out []models.TrophyTransaction
	err := sqlx.SelectContext(ctx, q, &out, q.Rebind(`
		SELECT id, user_id, delta, reason, reverses_id, reversed_at, created_at
		FROM trophy_transactions WHERE user_id = ? AND reversed_at IS NULL ORDER BY id`), userID)
	if err != nil {
		return nil, fmt.Errorf("list live entries: %w", err)
	}
	return out, nil
}

// History lists every entry, newest first.
func (l *Ledger) History(ctx context.Context, q sqlx.ExtContext, userID int64, limit int) ([]models.TrophyTransaction, error) {
	if limit <= 0 {
		limit = 20
	}
	out := []models.TrophyTransaction{}
	err := sqlx.SelectContext(ctx, q, &out, q.Rebind(`
		SELECT id, user_id, delta, reason, reverses_id, reversed_at, created_at
		FROM trophy_transactions WHERE user_id = ? ORDER BY id DESC LIMIT ?`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return out, nil
}

// SetBalance forces the balance to target with an admin adjustment entry.
// It is an absolute set: repeated calls each write their own entry and the
// result is always target.
func (l *Ledger) SetBalance(ctx context.Context, q sqlx.ExtContext, userID, target int64) (Effect, error) {
	if _, err := l.Balance(ctx, q, userID); err != nil {
		return Effect{}, err
	}
	sum, err := l.Sum(ctx, q, userID)
	if err != nil {
		return Effect{}, err
	}

	seq, err := l.lastAdjustment(ctx, q, userID)
	if err != nil {
		return Effect{}, err
	}

	reason := AdminAdjustment(seq + 1)
	delta := target - sum
	if _, err := l.insert(ctx, q, userID, delta, reason.String(), nil, nil); err != nil {
		return Effect{}, err
	}
	if _, err := q.ExecContext(ctx, q.Rebind(`UPDATE users SET trophies = ? WHERE id = ?`), target, userID); err != nil {
		return Effect{}, fmt.Errorf("set balance: %w", err)
	}
	l.metrics.LedgerApplied(string(KindAdminAdjustment))
	return Effect{Reason: reason.String(), Delta: delta, Applied: true}, nil
}

// lastAdjustment returns the highest admin_set sequence the user has used,
// live or reversed.
func (l *Ledger) lastAdjustment(ctx context.Context, q sqlx.ExtContext, userID int64) (int64, error) {
	var reasons []string
	err := sqlx.SelectContext(ctx, q, &reasons, q.Rebind(`
		SELECT reason FROM trophy_transactions WHERE user_id = ? AND reason LIKE ?`),
		userID, string(KindAdminAdjustment)+":%")
	if err != nil {
		return 0, fmt.Errorf("list adjustments: %w", err)
	}
	var last int64
	for _, s := range reasons {
		r, err := ParseReason(s)
		if err != nil || r.Kind != KindAdminAdjustment {
			continue
		}
		last = max(last, r.ID)
	}
	return last, nil
}

// Reconcile compares the cached balance with the ledger sum and overwrites
// the cache when they disagree.
func (l *Ledger) Reconcile(ctx context.Context, q sqlx.ExtContext, userID int64) (cached, sum int64, healed bool, err error) {
	cached, err = l.Balance(ctx, q, userID)
	if err != nil {
		return 0, 0, false, err
	}
	sum, err = l.Sum(ctx, q, userID)
	if err != nil {
		return 0, 0, false, err
	}
	if cached == sum {
		return cached, sum, false, nil
	}
	if _, err := q.ExecContext(ctx, q.Rebind(`UPDATE users SET trophies = ? WHERE id = ?`), sum, userID); err != nil {
		return 0, 0, false, fmt.Errorf("heal balance: %w", err)
	}
	l.metrics.DriftHealed("trophies")
	return cached, sum, true, nil
}

func (l *Ledger) live(ctx context.Context, q sqlx.ExtContext, userID int64, reason string) (*models.TrophyTransaction, error) {
	var t models.TrophyTransaction
	err := sqlx.GetContext(ctx, q, &t, q.Rebind(`
		SELECT id, user_id, delta, reason, reverses_id, reversed_at, created_at
		FROM trophy_transactions WHERE user_id = ? AND reason = ? AND reversed_at IS NULL`), userID, reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", reason, err)
	}
	return &t, nil
}

func (l *Ledger) insert(ctx context.Context, q sqlx.ExtContext, userID, delta int64, reason string, reverses *int64, reversedAt *string) (int64, error) {
	var id int64
	err := q.QueryRowxContext(ctx, q.Rebind(`
		INSERT INTO trophy_transactions (user_id, delta, reason, reverses_id, reversed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		userID, delta, reason, reverses, reversedAt, civil.DateTime(l.now())).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", reason, err)
	}
	return id, nil
}

func adjust(ctx context.Context, q sqlx.ExtContext, userID, delta int64) error {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE users SET trophies = trophies + ? WHERE id = ?`), delta, userID)
	if err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUnknownUser
	}
	return nil
}
