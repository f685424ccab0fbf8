package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"gymble/internal/db"
)

func newTestDB(t *testing.T) (*sqlx.DB, int64) {
	t.Helper()
	conn, err := db.Open(context.Background(), "sqlite", "file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var id int64
	err = conn.QueryRowx(`INSERT INTO users (username, password_hash, created_at) VALUES ('ana', 'x', '2025-06-01 09:00:00') RETURNING id`).Scan(&id)
	require.NoError(t, err)
	return conn, id
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) }
}

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, user := newTestDB(t)
	l := New(fixedClock(), nil)

	eff, err := l.Apply(ctx, conn, user, UploadApproval(1), 10)
	require.NoError(t, err)
	require.True(t, eff.Applied)
	require.Equal(t, int64(10), eff.Delta)

	eff, err = l.Apply(ctx, conn, user, UploadApproval(1), 10)
	require.NoError(t, err)
	require.False(t, eff.Applied)

	bal, err := l.Balance(ctx, conn, user)
	require.NoError(t, err)
	require.Equal(t, int64(10), bal)

	hist, err := l.History(ctx, conn, user, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, "upload_approved:1", hist[0].Reason)
	require.Equal(t, "2025-06-01 12:00:00", hist[0].CreatedAt)
}

func TestReverseMatchesNeverApplied(t *testing.T) {
	ctx := context.Background()
	conn, user := newTestDB(t)
	l := New(fixedClock(), nil)

	_, err := l.Apply(ctx, conn, user, WeeklyBonus(3), 25)
	require.NoError(t, err)
	_, err = l.Apply(ctx, conn, user, UploadApproval(9), 10)
	require.NoError(t, err)

	eff, err := l.Reverse(ctx, conn, user, WeeklyBonus(3))
	require.NoError(t, err)
	require.True(t, eff.Applied)
	require.Equal(t, "reversal:weekly_bonus:3", eff.Reason)
	require.Equal(t, int64(-25), eff.Delta)

	bal, err := l.Balance(ctx, conn, user)
	require.NoError(t, err)
	require.Equal(t, int64(10), bal)
	sum, err := l.Sum(ctx, conn, user)
	require.NoError(t, err)
	require.Equal(t, bal, sum)

	live, err := l.Live(ctx, conn, user)
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Equal(t, "upload_approved:9", live[0].Reason)

	// Nothing live any more: a second reversal is a no-op.
	eff, err = l.Reverse(ctx, conn, user, WeeklyBonus(3))
	require.NoError(t, err)
	require.False(t, eff.Applied)

	// The cause can be applied again after a reversal.
	eff, err = l.Apply(ctx, conn, user, WeeklyBonus(3), 25)
	require.NoError(t, err)
	require.True(t, eff.Applied)
	ok, err := l.IsLive(ctx, conn, user, WeeklyBonus(3))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReversalLinksOriginal(t *testing.T) {
	ctx := context.Background()
	conn, user := newTestDB(t)
	l := New(fixedClock(), nil)

	_, err := l.Apply(ctx, conn, user, UploadRejection(2), -5)
	require.NoError(t, err)
	_, err = l.Reverse(ctx, conn, user, UploadRejection(2))
	require.NoError(t, err)

	hist, err := l.History(ctx, conn, user, 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	rev, orig := hist[0], hist[1]
	require.Equal(t, int64(5), rev.Delta)
	require.NotNil(t, rev.ReversesID)
	require.Equal(t, orig.ID, *rev.ReversesID)
	require.False(t, orig.Live())
	require.False(t, rev.Live())
}

func TestSetBalanceIsAbsolute(t *testing.T) {
	ctx := context.Background()
	conn, user := newTestDB(t)
	l := New(fixedClock(), nil)

	_, err := l.Apply(ctx, conn, user, UploadApproval(1), 10)
	require.NoError(t, err)

	eff, err := l.SetBalance(ctx, conn, user, 100)
	require.NoError(t, err)
	require.Equal(t, "admin_set:1", eff.Reason)
	require.Equal(t, int64(90), eff.Delta)

	eff, err = l.SetBalance(ctx, conn, user, 100)
	require.NoError(t, err)
	require.Equal(t, "admin_set:2", eff.Reason)
	require.Zero(t, eff.Delta)

	bal, err := l.Balance(ctx, conn, user)
	require.NoError(t, err)
	require.Equal(t, int64(100), bal)
	sum, err := l.Sum(ctx, conn, user)
	require.NoError(t, err)
	require.Equal(t, int64(100), sum)

	// A manually applied adjustment ahead of the count must not collide.
	_, err = l.Apply(ctx, conn, user, AdminAdjustment(7), 3)
	require.NoError(t, err)
	eff, err = l.SetBalance(ctx, conn, user, 50)
	require.NoError(t, err)
	require.Equal(t, "admin_set:8", eff.Reason)
	require.Equal(t, int64(-53), eff.Delta)

	_, err = l.SetBalance(ctx, conn, 999, 5)
	require.ErrorIs(t, err, ErrUnknownUser)
}

func TestReconcileHealsDrift(t *testing.T) {
	ctx := context.Background()
	conn, user := newTestDB(t)
	l := New(fixedClock(), nil)

	_, err := l.Apply(ctx, conn, user, UploadApproval(1), 10)
	require.NoError(t, err)
	_, err = conn.Exec(`UPDATE users SET trophies = 77 WHERE id = ?`, user)
	require.NoError(t, err)

	cached, sum, healed, err := l.Reconcile(ctx, conn, user)
	require.NoError(t, err)
	require.True(t, healed)
	require.Equal(t, int64(77), cached)
	require.Equal(t, int64(10), sum)

	_, _, healed, err = l.Reconcile(ctx, conn, user)
	require.NoError(t, err)
	require.False(t, healed)
}
