// Package challenge holds the weekly window arithmetic and the rollup rules.
package challenge

import (
	"fmt"

	"gymble/internal/civil"
	"gymble/internal/models"
)

// WindowDays is the length of a weekly challenge.
const WindowDays = 7

// Window is a run of seven consecutive civil dates, both ends inclusive.
type Window struct {
	Start string `json:"start_date"`
	End   string `json:"end_date"`
}

func NewWindow(start string) (Window, error) {
	end, err := civil.AddDays(start, WindowDays-1)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: start, End: end}, nil
}

func (w Window) Contains(date string) bool {
	return date >= w.Start && date <= w.End
}

// Days lists the window's dates in order.
func (w Window) Days() []string {
	out := make([]string, 0, WindowDays)
	for i := 0; i < WindowDays; i++ {
		d, err := civil.AddDays(w.Start, i)
		if err != nil {
			return nil
		}
		out = append(out, d)
	}
	return out
}

// WindowFor returns the window containing date on the grid of 7-day steps
// through anchor, so a user's windows never overlap.
func WindowFor(anchor, date string) (Window, error) {
	diff, err := civil.DiffDays(anchor, date)
	if err != nil {
		return Window{}, fmt.Errorf("window for %s: %w", date, err)
	}
	steps := diff / WindowDays
	if diff < 0 && diff%WindowDays != 0 {
		steps--
	}
	start, err := civil.AddDays(anchor, steps*WindowDays)
	if err != nil {
		return Window{}, err
	}
	return NewWindow(start)
}

// Progress is the recomputed state of one window.
type Progress struct {
	CompletedDays     int                    `json:"completed_days"`
	RestDaysUsed      int                    `json:"rest_days_used"`
	RestDaysAvailable int                    `json:"rest_days_available"`
	Status            models.ChallengeStatus `json:"status"`
}

// Completed reports whether the window earns the weekly bonus.
func (p Progress) Completed() bool { return p.Status == models.ChallengeCompleted }

// Evaluate recounts a window from the user's facts. A day counts when it has
// an approved upload or a rest day. A window that ends before today without
// seven counted days expires; nothing is taken away for it.
func Evaluate(w Window, approved, rest []string, today string, restAllowance int) Progress {
	counted := make(map[string]bool, WindowDays)
	var p Progress
	for _, d := range approved {
		if w.Contains(d) {
			counted[d] = true
		}
	}
	for _, d := range rest {
		if w.Contains(d) {
			counted[d] = true
			p.RestDaysUsed++
		}
	}
	p.CompletedDays = len(counted)
	p.RestDaysAvailable = restAllowance - p.RestDaysUsed
	if p.RestDaysAvailable < 0 {
		p.RestDaysAvailable = 0
	}

	switch {
	case p.CompletedDays >= WindowDays:
		p.CompletedDays = WindowDays
		p.Status = models.ChallengeCompleted
	case w.End < today:
		p.Status = models.ChallengeExpired
	default:
		p.Status = models.ChallengeActive
	}
	return p
}

// DayState is the dashboard view of one day in a window.
type DayState string

const (
	DayApproved DayState = "approved"
	DayPending  DayState = "pending"
	DayRejected DayState = "rejected"
	DayRest     DayState = "rest"
	DayNone     DayState = "none"
)

type Day struct {
	Date  string   `json:"date"`
	State DayState `json:"state"`
	Today bool     `json:"today"`
}

// Timeline lays out each day of the window with its state. uploads maps a
// date to its verification status.
func Timeline(w Window, uploads map[string]string, rest []string, today string) []Day {
	restSet := make(map[string]bool, len(rest))
	for _, d := range rest {
		restSet[d] = true
	}
	days := w.Days()
	out := make([]Day, 0, len(days))
	for _, d := range days {
		st := DayNone
		if s, ok := uploads[d]; ok {
			st = DayState(s)
		} else if restSet[d] {
			st = DayRest
		}
		out = append(out, Day{Date: d, State: st, Today: d == today})
	}
	return out
}
