package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"gymble/internal/crypto"
	"gymble/internal/engine"
	"gymble/internal/models"
)

// UploadService seals upload metadata before it reaches the engine and
// fingerprints the photo reference so a photo cannot be submitted twice.
type UploadService struct {
	engine *engine.Engine
	sealer *crypto.Sealer // nil stores metadata in clear
}

// NewUploadService builds the service. With nil keys metadata is stored in
// clear and fingerprints are unkeyed SHA-256.
func NewUploadService(e *engine.Engine, sealKey, indexKey []byte) (*UploadService, error) {
	s := &UploadService{engine: e}
	if sealKey == nil && indexKey == nil {
		return s, nil
	}
	sealer, err := crypto.NewSealer(sealKey, indexKey)
	if err != nil {
		return nil, err
	}
	s.sealer = sealer
	return s, nil
}

type UploadRequest struct {
	UserID      int64
	ChallengeID int64
	Date        string
	FileRef     string
	Metadata    string
}

// Record stores a pending upload. The returned record carries the metadata
// in clear.
func (s *UploadService) Record(ctx context.Context, req UploadRequest) (*models.DailyUpload, error) {
	ref := strings.TrimSpace(req.FileRef)
	meta, err := s.seal(req.Metadata)
	if err != nil {
		return nil, err
	}
	up, err := s.engine.RecordUpload(ctx, engine.UploadInput{
		UserID:      req.UserID,
		ChallengeID: req.ChallengeID,
		Date:        strings.TrimSpace(req.Date),
		FileRef:     ref,
		Fingerprint: s.Fingerprint(ref),
		Metadata:    meta,
	})
	if err != nil {
		return nil, err
	}
	up.Metadata = req.Metadata
	return up, nil
}

// Open decrypts the metadata of uploads read from storage, in place.
func (s *UploadService) Open(uploads ...*models.DailyUpload) error {
	if s.sealer == nil {
		return nil
	}
	for _, u := range uploads {
		plain, err := s.sealer.Open(u.Metadata)
		if err != nil {
			return err
		}
		u.Metadata = plain
	}
	return nil
}

// Fingerprint identifies a photo reference without storing it twice.
func (s *UploadService) Fingerprint(fileRef string) string {
	if fileRef == "" {
		return ""
	}
	if s.sealer != nil {
		return s.sealer.BlindIndex(fileRef)
	}
	sum := sha256.Sum256([]byte(fileRef))
	return hex.EncodeToString(sum[:])
}

func (s *UploadService) seal(meta string) (string, error) {
	if s.sealer == nil {
		return meta, nil
	}
	return s.sealer.Seal(meta)
}
