// Package streak derives streak values from a user's covered days. Compute is
// pure: the cached streaks row is only ever a copy of its result.
package streak

import (
	"sort"

	"gymble/internal/civil"
)

type Result struct {
	Current      int    `json:"current_streak"`
	Longest      int    `json:"longest_streak"`
	LastActivity string `json:"last_activity_date,omitempty"`
}

// Compute derives the streak as of asOf from approved-upload dates and rest
// dates. Dates after asOf are ignored, as are malformed ones.
//
// A rest day keeps a run going but cannot start one: it only counts when the
// day before it is covered. Counted rest days weigh the same as approved days
// for both the current and the longest run.
//
// The current run ends at asOf, or at yesterday when asOf itself is not yet
// covered. Anything older resets it to zero.
func Compute(approved, rest []string, asOf string) Result {
	covered := Covered(approved, rest, asOf)
	if len(covered) == 0 {
		return Result{}
	}

	res := Result{LastActivity: covered[len(covered)-1]}

	run := 0
	prev := ""
	for _, d := range covered {
		if prev != "" && civil.Yesterday(d) == prev {
			run++
		} else {
			run = 1
		}
		if run > res.Longest {
			res.Longest = run
		}
		prev = d
	}

	if res.LastActivity == asOf || res.LastActivity == civil.Yesterday(asOf) {
		res.Current = run
	}
	return res
}

// Covered returns the ascending list of days that count toward a streak.
func Covered(approved, rest []string, asOf string) []string {
	approvedSet := make(map[string]bool, len(approved))
	all := make(map[string]bool, len(approved)+len(rest))
	for _, d := range approved {
		if civil.Valid(d) && d <= asOf {
			approvedSet[d] = true
			all[d] = true
		}
	}
	for _, d := range rest {
		if civil.Valid(d) && d <= asOf {
			all[d] = true
		}
	}

	days := make([]string, 0, len(all))
	for d := range all {
		days = append(days, d)
	}
	sort.Strings(days)

	out := make([]string, 0, len(days))
	effective := make(map[string]bool, len(days))
	for _, d := range days {
		if approvedSet[d] || effective[civil.Yesterday(d)] {
			effective[d] = true
			out = append(out, d)
		}
	}
	return out
}

// Matches reports whether cached values agree with a fresh result.
func Matches(current, longest int, lastActivity *string, fresh Result) bool {
	last := ""
	if lastActivity != nil {
		last = *lastActivity
	}
	return current == fresh.Current && longest == fresh.Longest && last == fresh.LastActivity
}
