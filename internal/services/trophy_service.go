// Package services holds the thin application services the HTTP layer and
// the admin CLI call into.
package services

import (
	"context"

	"gymble/internal/challenge"
	"gymble/internal/engine"
	"gymble/internal/ledger"
	"gymble/internal/models"
)

// TrophyService is the stable entry point for trophy operations. Every
// method forwards to the engine.
type TrophyService struct {
	engine *engine.Engine
}

func NewTrophyService(e *engine.Engine) *TrophyService { return &TrophyService{engine: e} }

// GetUserTrophies returns the cached balance.
func (s *TrophyService) GetUserTrophies(ctx context.Context, userID int64) (int64, error) {
	return s.engine.Balance(ctx, userID)
}

// ApplyTrophyDelta applies amount under the cause named by reason, e.g.
// "upload_approved:12". Applying a live cause again changes nothing.
func (s *TrophyService) ApplyTrophyDelta(ctx context.Context, userID int64, reason string, amount int64) (ledger.Effect, error) {
	r, err := ledger.ParseReason(reason)
	if err != nil {
		return ledger.Effect{}, &engine.ValidationError{Reason: err.Error()}
	}
	return s.engine.ApplyCause(ctx, userID, r, amount)
}

// SyncTrophiesForUpload replays the upload's current status through the
// ledger, streak and weekly window.
func (s *TrophyService) SyncTrophiesForUpload(ctx context.Context, uploadID int64) (*engine.VerificationResult, error) {
	up, err := s.engine.Upload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	return s.engine.SetVerification(ctx, uploadID, up.VerificationStatus)
}

// SyncWeeklyBonus recounts a window and keeps its bonus in step.
func (s *TrophyService) SyncWeeklyBonus(ctx context.Context, challengeID int64) (challenge.Progress, *ledger.Effect, error) {
	return s.engine.SyncChallenge(ctx, challengeID)
}

func (s *TrophyService) AdminSetTrophies(ctx context.Context, userID, amount int64) (ledger.Effect, error) {
	return s.engine.AdminSetTrophies(ctx, userID, amount)
}

func (s *TrophyService) RebuildUser(ctx context.Context, userID int64) (*engine.RebuildReport, error) {
	return s.engine.RebuildUser(ctx, userID)
}

func (s *TrophyService) CheckDrift(ctx context.Context, userID int64) (engine.DriftReport, error) {
	return s.engine.CheckDrift(ctx, userID)
}

func (s *TrophyService) History(ctx context.Context, userID int64, limit int) ([]models.TrophyTransaction, error) {
	return s.engine.History(ctx, userID, limit)
}
