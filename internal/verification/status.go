// Package verification models the review state of a daily upload.
package verification

import "fmt"

type Status string

const (
	Pending  Status = "pending"
	Approved Status = "approved"
	Rejected Status = "rejected"
)

// All lists every status in display order.
var All = []Status{Pending, Approved, Rejected}

// StatusError reports an unknown status value.
type StatusError struct {
	Value string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("invalid verification status %q: expected pending, approved or rejected", e.Value)
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", &StatusError{Value: s}
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case Pending, Approved, Rejected:
		return true
	}
	return false
}

// Covered reports whether an upload in this status keeps a streak alive.
func (s Status) Covered() bool { return s == Approved }

// Change is the outcome of an admin transition.
type Change struct {
	From    Status
	To      Status
	Changed bool
}

// Transition validates an admin status change. Reviews are not one-way: any
// status may move to any other, any number of times.
func Transition(from, to Status) (Change, error) {
	if !from.Valid() {
		return Change{}, &StatusError{Value: string(from)}
	}
	if !to.Valid() {
		return Change{}, &StatusError{Value: string(to)}
	}
	return Change{From: from, To: to, Changed: from != to}, nil
}

// Cause identifies which ledger entry a status calls for.
type Cause int

const (
	CauseApproval Cause = iota + 1
	CauseRejection
)

// Causes returns the ledger causes that must be live while an upload sits in
// the given status. Every other upload cause must be reversed.
func Causes(s Status) []Cause {
	switch s {
	case Approved:
		return []Cause{CauseApproval}
	case Rejected:
		return []Cause{CauseRejection}
	}
	return nil
}
