package models

import "gymble/internal/verification"

// Date and time fields are civil strings in the application zone.

type User struct {
	ID             int64   `db:"id" json:"id"`
	Username       string  `db:"username" json:"username"`
	PasswordHash   string  `db:"password_hash" json:"-"`
	Trophies       int64   `db:"trophies" json:"trophies"` // cached ledger balance
	Credits        int64   `db:"credits" json:"credits"`
	ProfilePicture *string `db:"profile_picture" json:"profile_picture,omitempty"`
	CreatedAt      string  `db:"created_at" json:"created_at"`
}

type DailyUpload struct {
	ID                 int64               `db:"id" json:"id"`
	UserID             int64               `db:"user_id" json:"user_id"`
	ChallengeID        int64               `db:"challenge_id" json:"challenge_id"`
	UploadDate         string              `db:"upload_date" json:"upload_date"`
	FileRef            string              `db:"file_ref" json:"file_ref"`
	PhotoFingerprint   string              `db:"photo_fingerprint" json:"-"`
	Metadata           string              `db:"metadata" json:"metadata,omitempty"` // sealed at rest
	VerificationStatus verification.Status `db:"verification_status" json:"verification_status"`
	CreatedAt          string              `db:"created_at" json:"created_at"`
	VerifiedAt         *string             `db:"verified_at" json:"verified_at,omitempty"`
}

type RestDay struct {
	ID          int64  `db:"id" json:"id"`
	UserID      int64  `db:"user_id" json:"user_id"`
	RestDate    string `db:"rest_date" json:"rest_date"`
	ChallengeID int64  `db:"challenge_id" json:"challenge_id"`
	CreatedAt   string `db:"created_at" json:"created_at"`
}

type TrophyTransaction struct {
	ID         int64   `db:"id" json:"id"`
	UserID     int64   `db:"user_id" json:"user_id"`
	Delta      int64   `db:"delta" json:"delta"`
	Reason     string  `db:"reason" json:"reason"`
	ReversesID *int64  `db:"reverses_id" json:"reverses_id,omitempty"`
	ReversedAt *string `db:"reversed_at" json:"reversed_at,omitempty"`
	CreatedAt  string  `db:"created_at" json:"created_at"`
}

// Live reports whether the entry still counts as applied for its cause.
func (t TrophyTransaction) Live() bool { return t.ReversedAt == nil }

type ChallengeStatus string

const (
	ChallengeActive    ChallengeStatus = "active"
	ChallengeCompleted ChallengeStatus = "completed"
	ChallengeExpired   ChallengeStatus = "expired"
)

type WeeklyChallenge struct {
	ID                int64           `db:"id" json:"id"`
	UserID            int64           `db:"user_id" json:"user_id"`
	StartDate         string          `db:"start_date" json:"start_date"`
	EndDate           string          `db:"end_date" json:"end_date"`
	Status            ChallengeStatus `db:"status" json:"status"`
	CompletedDays     int             `db:"completed_days" json:"completed_days"`
	RestDaysAvailable int             `db:"rest_days_available" json:"rest_days_available"`
	CreatedAt         string          `db:"created_at" json:"created_at"`
}

// Streak is a cache of streak.Compute over the user's facts.
type Streak struct {
	UserID           int64   `db:"user_id" json:"user_id"`
	CurrentStreak    int     `db:"current_streak" json:"current_streak"`
	LongestStreak    int     `db:"longest_streak" json:"longest_streak"`
	LastActivityDate *string `db:"last_activity_date" json:"last_activity_date"`
	UpdatedAt        string  `db:"updated_at" json:"updated_at"`
}
