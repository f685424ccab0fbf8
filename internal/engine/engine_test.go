package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"gymble/internal/civil"
	"gymble/internal/db"
	"gymble/internal/models"
	"gymble/internal/verification"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

// set moves the clock to noon of date in the application zone.
func (c *clock) set(t *testing.T, date string) {
	t.Helper()
	v, err := civil.Parse(date + " 12:00:00")
	require.NoError(t, err)
	c.t = v.Instant()
}

type fixture struct {
	conn  *sqlx.DB
	eng   *Engine
	clock *clock
	user  int64
}

func newFixture(t *testing.T, today string) *fixture {
	t.Helper()
	conn, err := db.Open(context.Background(), "sqlite", "file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	f := &fixture{conn: conn, clock: &clock{}}
	f.clock.set(t, today)
	f.eng = New(conn, Options{Now: f.clock.now})
	f.user = f.addUser(t, "ana")
	return f
}

func (f *fixture) addUser(t *testing.T, name string) int64 {
	t.Helper()
	var id int64
	err := f.conn.QueryRowx(`INSERT INTO users (username, password_hash, created_at) VALUES (?, 'x', '2025-05-01 09:00:00') RETURNING id`, name).Scan(&id)
	require.NoError(t, err)
	return id
}

func (f *fixture) upload(t *testing.T, date string) int64 {
	t.Helper()
	up, err := f.eng.RecordUpload(context.Background(), UploadInput{
		UserID:      f.user,
		Date:        date,
		FileRef:     "photos/" + date + ".jpg",
		Fingerprint: "fp-" + date,
	})
	require.NoError(t, err)
	require.Equal(t, verification.Pending, up.VerificationStatus)
	return up.ID
}

func (f *fixture) verify(t *testing.T, uploadID int64, status verification.Status) *VerificationResult {
	t.Helper()
	res, err := f.eng.SetVerification(context.Background(), uploadID, status)
	require.NoError(t, err)
	return res
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	bal, err := f.eng.Ledger().Balance(context.Background(), f.conn, f.user)
	require.NoError(t, err)
	return bal
}

func (f *fixture) liveReasons(t *testing.T) []string {
	t.Helper()
	live, err := f.eng.Ledger().Live(context.Background(), f.conn, f.user)
	require.NoError(t, err)
	out := make([]string, 0, len(live))
	for _, tx := range live {
		out = append(out, tx.Reason)
	}
	return out
}

func TestRestDayBridgesStreakUntilGapAppears(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2025-06-04")

	ids := map[string]int64{}
	for _, d := range []string{"2025-06-01", "2025-06-02", "2025-06-04"} {
		ids[d] = f.upload(t, d)
	}
	_, err := f.eng.UseRestDay(ctx, f.user, "2025-06-03")
	require.NoError(t, err)

	var res *VerificationResult
	for _, d := range []string{"2025-06-01", "2025-06-02", "2025-06-04"} {
		res = f.verify(t, ids[d], verification.Approved)
	}
	require.Equal(t, 4, res.Streak.Current)
	require.Equal(t, 4, res.Streak.Longest)
	require.Equal(t, int64(30), res.Trophies)

	res = f.verify(t, ids["2025-06-02"], verification.Rejected)
	require.Equal(t, 1, res.Streak.Current)
	require.Equal(t, int64(-15), res.Delta)
	require.Equal(t, int64(15), f.balance(t))

	var cached models.Streak
	require.NoError(t, f.conn.Get(&cached, `SELECT user_id, current_streak, longest_streak, last_activity_date, updated_at FROM streaks WHERE user_id = ?`, f.user))
	require.Equal(t, 1, cached.CurrentStreak)
	require.Equal(t, "2025-06-04", *cached.LastActivityDate)
}

func TestToggleConvergesToSingleApproval(t *testing.T) {
	once := newFixture(t, "2025-06-02")
	id := once.upload(t, "2025-06-01")
	once.verify(t, id, verification.Approved)

	toggled := newFixture(t, "2025-06-02")
	id = toggled.upload(t, "2025-06-01")
	toggled.verify(t, id, verification.Approved)
	toggled.verify(t, id, verification.Rejected)
	res := toggled.verify(t, id, verification.Approved)
	require.True(t, res.Changed)
	require.Equal(t, verification.Rejected, res.Previous)

	require.Equal(t, once.balance(t), toggled.balance(t))
	require.Equal(t, once.liveReasons(t), toggled.liveReasons(t))
	require.Equal(t, []string{"upload_approved:1"}, toggled.liveReasons(t))

	// Replaying the current status is a no-op.
	res = toggled.verify(t, id, verification.Approved)
	require.False(t, res.Changed)
	require.Empty(t, res.Ledger)
	require.Equal(t, int64(10), toggled.balance(t))

	// Back to pending removes every upload cause.
	toggled.verify(t, id, verification.Pending)
	require.Zero(t, toggled.balance(t))
	require.Empty(t, toggled.liveReasons(t))
}

func TestWeeklyBonusLiveOnlyWhileCompleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2025-06-07")

	var ids []int64
	for _, d := range []string{"2025-06-01", "2025-06-02", "2025-06-03", "2025-06-04", "2025-06-05", "2025-06-06"} {
		ids = append(ids, f.upload(t, d))
	}
	rest, err := f.eng.UseRestDay(ctx, f.user, "2025-06-07")
	require.NoError(t, err)
	require.Equal(t, 1, rest.Progress.CompletedDays)
	require.Zero(t, rest.Progress.RestDaysAvailable)

	var res *VerificationResult
	for _, id := range ids {
		res = f.verify(t, id, verification.Approved)
	}
	require.Equal(t, models.ChallengeCompleted, res.Challenge.Status)
	require.Equal(t, 7, res.Challenge.CompletedDays)
	require.Equal(t, int64(85), f.balance(t))

	res = f.verify(t, ids[0], verification.Approved)
	require.Empty(t, res.Ledger)
	require.Equal(t, int64(85), f.balance(t))

	res = f.verify(t, ids[2], verification.Rejected)
	require.Equal(t, int64(-40), res.Delta)
	require.Equal(t, models.ChallengeActive, res.Challenge.Status)
	require.Equal(t, int64(45), f.balance(t))

	f.verify(t, ids[2], verification.Approved)
	require.Equal(t, int64(85), f.balance(t))

	bonuses := 0
	for _, r := range f.liveReasons(t) {
		if strings.HasPrefix(r, "weekly_bonus:") {
			bonuses++
		}
	}
	require.Equal(t, 1, bonuses)

	sum, err := f.eng.Ledger().Sum(ctx, f.conn, f.user)
	require.NoError(t, err)
	require.Equal(t, int64(85), sum)
}

func TestRestDayAndUploadExcludeEachOther(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2025-06-05")

	f.upload(t, "2025-06-01")

	_, err := f.eng.UseRestDay(ctx, f.user, "2025-06-01")
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, ReasonUploadExists, ce.Reason)

	_, err = f.eng.UseRestDay(ctx, f.user, "2025-06-02")
	require.NoError(t, err)

	_, err = f.eng.RecordUpload(ctx, UploadInput{UserID: f.user, Date: "2025-06-02", FileRef: "photos/x.jpg"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "Rest day already used for this date", ve.Error())

	_, err = f.eng.UseRestDay(ctx, f.user, "2025-06-02")
	require.ErrorAs(t, err, &ce)
	require.Equal(t, ReasonRestDayUsed, ce.Reason)

	_, err = f.eng.UseRestDay(ctx, f.user, "2025-06-03")
	require.ErrorAs(t, err, &ce)
	require.Equal(t, ReasonNoRestDaysLeft, ce.Reason)

	_, err = f.eng.RecordUpload(ctx, UploadInput{UserID: f.user, Date: "2025-06-01", FileRef: "photos/y.jpg"})
	require.ErrorAs(t, err, &ce)
	require.Equal(t, ReasonUploadExists, ce.Reason)
}

func TestRecordUploadValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2025-06-05")
	first := f.upload(t, "2025-06-01")

	up, err := f.eng.Upload(ctx, first)
	require.NoError(t, err)

	other := f.addUser(t, "bo")
	cases := []struct {
		name   string
		in     UploadInput
		reason string
	}{
		{"future", UploadInput{UserID: f.user, Date: "2025-06-06", FileRef: "a"}, ReasonFutureDate},
		{"too old", UploadInput{UserID: f.user, Date: "1600-01-01", FileRef: "a"}, ReasonDateTooOld},
		{"malformed", UploadInput{UserID: f.user, Date: "2025-6-3", FileRef: "a"}, ReasonInvalidDate},
		{"impossible", UploadInput{UserID: f.user, Date: "2025-02-30", FileRef: "a"}, ReasonInvalidDate},
		{"no photo", UploadInput{UserID: f.user, Date: "2025-06-03"}, ReasonPhotoRequired},
		{"reused photo", UploadInput{UserID: f.user, Date: "2025-06-03", FileRef: "a", Fingerprint: "fp-2025-06-01"}, ReasonPhotoReused},
		{"explicit window", UploadInput{UserID: f.user, ChallengeID: up.ChallengeID, Date: "2025-06-05", FileRef: "a"}, ""},
		{"foreign window", UploadInput{UserID: other, ChallengeID: up.ChallengeID, Date: "2025-06-03", FileRef: "a"}, ReasonWrongChallenge},
		{"unknown window", UploadInput{UserID: f.user, ChallengeID: 999, Date: "2025-06-03", FileRef: "a"}, ReasonWrongChallenge},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := f.eng.RecordUpload(ctx, c.in)
			if c.reason == "" {
				require.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			require.Equal(t, c.reason, ve.Reason)
		})
	}

	_, err = f.eng.RecordUpload(ctx, UploadInput{UserID: 999, Date: "2025-06-03", FileRef: "a"})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.eng.SetVerification(ctx, 999, verification.Approved)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.eng.SetVerification(ctx, first, verification.Status("maybe"))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestWindowsStayOnUserGrid(t *testing.T) {
	f := newFixture(t, "2025-06-20")
	a := f.upload(t, "2025-06-03")
	b := f.upload(t, "2025-06-12")
	c := f.upload(t, "2025-06-01")

	window := func(id int64) (string, string) {
		up, err := f.eng.Upload(context.Background(), id)
		require.NoError(t, err)
		var ch models.WeeklyChallenge
		require.NoError(t, f.conn.Get(&ch, `SELECT `+challengeColumns+` FROM weekly_challenges WHERE id = ?`, up.ChallengeID))
		return ch.StartDate, ch.EndDate
	}
	start, end := window(a)
	require.Equal(t, "2025-06-03", start)
	require.Equal(t, "2025-06-09", end)
	start, _ = window(b)
	require.Equal(t, "2025-06-10", start)
	start, end = window(c)
	require.Equal(t, "2025-05-27", start)
	require.Equal(t, "2025-06-02", end)
}

func TestDashboard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2025-06-04")

	fresh, err := f.eng.Dashboard(ctx, f.addUser(t, "new"))
	require.NoError(t, err)
	require.Equal(t, "2025-06-04", fresh.Challenge.StartDate)
	require.Len(t, fresh.Progress.Days, 7)
	require.Equal(t, "Bronze", fresh.Rank)

	ids := map[string]int64{}
	for _, d := range []string{"2025-06-01", "2025-06-02", "2025-06-04"} {
		ids[d] = f.upload(t, d)
	}
	_, err = f.eng.UseRestDay(ctx, f.user, "2025-06-03")
	require.NoError(t, err)
	f.verify(t, ids["2025-06-01"], verification.Approved)
	f.verify(t, ids["2025-06-02"], verification.Rejected)

	d, err := f.eng.Dashboard(ctx, f.user)
	require.NoError(t, err)
	require.Equal(t, "2025-06-04", d.ServerToday)
	require.NotZero(t, d.Challenge.ID)
	require.Equal(t, "2025-06-01", d.Challenge.StartDate)
	require.Len(t, d.Progress.Days, 7)
	require.Equal(t, "approved", string(d.Progress.Days[0].State))
	require.Equal(t, "rejected", string(d.Progress.Days[1].State))
	require.Equal(t, "rest", string(d.Progress.Days[2].State))
	require.Equal(t, "pending", string(d.Progress.Days[3].State))
	require.True(t, d.Progress.Days[3].Today)
	require.Equal(t, 4, d.Progress.DaysLeft)
	require.True(t, d.TodayUploaded)
	require.False(t, d.TodayRested)
	require.Equal(t, int64(5), d.Trophies)
	require.Zero(t, d.Streak.Current)
	require.Equal(t, "2025-06-01", d.Streak.LastActivity)

	f.clock.set(t, "2025-06-10")
	d, err = f.eng.Dashboard(ctx, f.user)
	require.NoError(t, err)
	require.Equal(t, "2025-06-08", d.Challenge.StartDate)
	require.Equal(t, "active", d.Challenge.Status)
	require.Zero(t, d.Streak.Current)

	var status string
	require.NoError(t, f.conn.Get(&status, `SELECT status FROM weekly_challenges WHERE start_date = '2025-06-01' AND user_id = ?`, f.user))
	require.Equal(t, string(models.ChallengeExpired), status)

	_, err = f.eng.Dashboard(ctx, 999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAdminSetTrophiesIsAbsolute(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2025-06-02")
	id := f.upload(t, "2025-06-01")
	f.verify(t, id, verification.Approved)

	eff, err := f.eng.AdminSetTrophies(ctx, f.user, 500)
	require.NoError(t, err)
	require.Equal(t, int64(490), eff.Delta)
	require.Equal(t, "admin_set:1", eff.Reason)

	eff, err = f.eng.AdminSetTrophies(ctx, f.user, 500)
	require.NoError(t, err)
	require.Zero(t, eff.Delta)
	require.Equal(t, int64(500), f.balance(t))

	d, err := f.eng.Dashboard(ctx, f.user)
	require.NoError(t, err)
	require.Equal(t, "Master", d.Rank)

	_, err = f.eng.AdminSetTrophies(ctx, f.user, -1)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, ReasonNegativeBalance, ve.Reason)

	_, err = f.eng.AdminSetTrophies(ctx, 999, 10)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRebuildIsIdempotentAndHealsCaches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2025-06-04")
	for _, d := range []string{"2025-06-02", "2025-06-03", "2025-06-04"} {
		f.verify(t, f.upload(t, d), verification.Approved)
	}

	_, err := f.conn.Exec(`UPDATE users SET trophies = 999 WHERE id = ?`, f.user)
	require.NoError(t, err)

	r, err := f.eng.RebuildUser(ctx, f.user)
	require.NoError(t, err)
	require.Empty(t, r.Effects)
	require.Equal(t, 3, r.Uploads)
	require.Equal(t, 1, r.Challenges)
	require.True(t, r.BalanceDrifted)
	require.Equal(t, int64(999), r.CachedTrophies)
	require.Equal(t, int64(30), r.LedgerTrophies)
	require.Equal(t, int64(30), f.balance(t))

	r, err = f.eng.RebuildUser(ctx, f.user)
	require.NoError(t, err)
	require.Empty(t, r.Effects)
	require.False(t, r.BalanceDrifted)
	require.False(t, r.StreakDrifted)
	require.Equal(t, 3, r.Streak.Current)
}

func TestRebuildRestoresMissingCauses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2025-06-02")
	id := f.upload(t, "2025-06-01")
	f.verify(t, id, verification.Approved)

	// Status written behind the engine's back.
	_, err := f.conn.Exec(`UPDATE daily_uploads SET verification_status = 'rejected' WHERE id = ?`, id)
	require.NoError(t, err)

	r, err := f.eng.RebuildUser(ctx, f.user)
	require.NoError(t, err)
	require.Len(t, r.Effects, 2)
	require.Equal(t, int64(-5), f.balance(t))
	require.Equal(t, []string{"upload_rejected:1"}, f.liveReasons(t))
}

func TestCheckDriftHealsStreakCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2025-06-03")
	for _, d := range []string{"2025-06-02", "2025-06-03"} {
		f.verify(t, f.upload(t, d), verification.Approved)
	}

	_, err := f.conn.Exec(`UPDATE streaks SET current_streak = 42, longest_streak = 42 WHERE user_id = ?`, f.user)
	require.NoError(t, err)

	r, err := f.eng.CheckDrift(ctx, f.user)
	require.NoError(t, err)
	require.True(t, r.StreakDrifted)
	require.False(t, r.BalanceDrifted)
	require.Equal(t, 2, r.Streak.Current)

	var current int
	require.NoError(t, f.conn.Get(&current, `SELECT current_streak FROM streaks WHERE user_id = ?`, f.user))
	require.Equal(t, 2, current)

	r, err = f.eng.CheckDrift(ctx, f.user)
	require.NoError(t, err)
	require.False(t, r.StreakDrifted)

	// An aged cache is refreshed without being reported as drift.
	f.clock.set(t, "2025-06-06")
	r, err = f.eng.CheckDrift(ctx, f.user)
	require.NoError(t, err)
	require.False(t, r.StreakDrifted)
	require.Zero(t, r.Streak.Current)
	require.Equal(t, 2, r.Streak.Longest)
}

func TestFailedVerificationRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2025-06-02")
	id := f.upload(t, "2025-06-01")

	_, err := f.conn.Exec(`DROP TABLE streaks`)
	require.NoError(t, err)

	_, err = f.eng.SetVerification(ctx, id, verification.Approved)
	require.Error(t, err)

	up, err := f.eng.Upload(ctx, id)
	require.NoError(t, err)
	require.Equal(t, verification.Pending, up.VerificationStatus)
	require.Zero(t, f.balance(t))
	hist, err := f.eng.Ledger().History(ctx, f.conn, f.user, 0)
	require.NoError(t, err)
	require.Empty(t, hist)
}

func TestStatsAndDebt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2025-06-02")
	f.verify(t, f.upload(t, "2025-06-01"), verification.Approved)
	f.upload(t, "2025-06-02")
	other := f.addUser(t, "bo")
	_, err := f.conn.Exec(`UPDATE users SET credits = 7`)
	require.NoError(t, err)

	s, err := f.eng.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, s.TotalUsers)
	require.Equal(t, 1, s.ActiveUsers)
	require.Equal(t, 2, s.TotalUploads)
	require.Equal(t, 1, s.PendingVerifications)
	require.Equal(t, int64(14), s.TotalDebt)
	require.Equal(t, int64(10), s.TotalTrophies)

	pending, err := f.eng.PendingUploads(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "ana", pending[0].Username)
	require.Equal(t, "2025-06-02", pending[0].UploadDate)

	require.NoError(t, f.eng.ResetUserDebt(ctx, other))
	require.ErrorIs(t, f.eng.ResetUserDebt(ctx, 999), ErrNotFound)
	n, err := f.eng.ResetDebt(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	ids, err := f.eng.UserIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{f.user, other}, ids)
	id, err := f.eng.UserID(ctx, "bo")
	require.NoError(t, err)
	require.Equal(t, other, id)
}

func TestLeaderboardLimits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "2025-06-02")
	for i := 0; i < 120; i++ {
		f.addUser(t, fmt.Sprintf("user%03d", i))
	}
	f.verify(t, f.upload(t, "2025-06-01"), verification.Approved)

	rows, err := f.eng.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 50)
	require.Equal(t, "ana", rows[0].Username)
	require.Equal(t, int64(10), rows[0].Trophies)

	rows, err = f.eng.Leaderboard(ctx, 500)
	require.NoError(t, err)
	require.Len(t, rows, 100)

	rows, err = f.eng.Leaderboard(ctx, 7)
	require.NoError(t, err)
	require.Len(t, rows, 7)
}
