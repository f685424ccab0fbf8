package ledger

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the cause family of a ledger entry.
type Kind string

const (
	KindUploadApproval  Kind = "upload_approved"
	KindUploadRejection Kind = "upload_rejected"
	KindWeeklyBonus     Kind = "weekly_bonus"
	KindAdminAdjustment Kind = "admin_set"
	KindReversal        Kind = "reversal"
)

// Reason is the idempotence key of a ledger entry. Its canonical string form
// is what gets stored; ParseReason inverts String exactly.
type Reason struct {
	Kind Kind
	ID   int64
	// Of is set for reversals only.
	Of *Reason
}

func UploadApproval(uploadID int64) Reason {
	return Reason{Kind: KindUploadApproval, ID: uploadID}
}

func UploadRejection(uploadID int64) Reason {
	return Reason{Kind: KindUploadRejection, ID: uploadID}
}

func WeeklyBonus(challengeID int64) Reason {
	return Reason{Kind: KindWeeklyBonus, ID: challengeID}
}

func AdminAdjustment(seq int64) Reason {
	return Reason{Kind: KindAdminAdjustment, ID: seq}
}

func Reversal(of Reason) Reason {
	return Reason{Kind: KindReversal, Of: &of}
}

func (r Reason) String() string {
	if r.Kind == KindReversal {
		if r.Of == nil {
			return string(KindReversal) + ":"
		}
		return string(KindReversal) + ":" + r.Of.String()
	}
	return string(r.Kind) + ":" + strconv.FormatInt(r.ID, 10)
}

// IsReversal reports whether the reason negates another entry.
func (r Reason) IsReversal() bool { return r.Kind == KindReversal }

// ReasonError reports an unparseable stored reason.
type ReasonError struct {
	Value string
}

func (e *ReasonError) Error() string { return fmt.Sprintf("invalid ledger reason %q", e.Value) }

func ParseReason(s string) (Reason, error) {
	kind, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Reason{}, &ReasonError{Value: s}
	}
	switch Kind(kind) {
	case KindReversal:
		inner, err := ParseReason(rest)
		if err != nil {
			return Reason{}, &ReasonError{Value: s}
		}
		return Reversal(inner), nil
	case KindUploadApproval, KindUploadRejection, KindWeeklyBonus, KindAdminAdjustment:
		// Canonical ids only: no sign, no leading zeros.
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || id <= 0 || strconv.FormatInt(id, 10) != rest {
			return Reason{}, &ReasonError{Value: s}
		}
		return Reason{Kind: Kind(kind), ID: id}, nil
	}
	return Reason{}, &ReasonError{Value: s}
}
