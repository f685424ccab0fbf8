package civil

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
	_ "time/tzdata" // the zone must resolve on hosts without a tz database
)

// Zone is the fixed application timezone. All stored dates and datetimes are
// wall-clock values observed in this zone.
const Zone = "Europe/Belgrade"

const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
)

var (
	location = mustLoad(Zone)

	dateRe     = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	dateTimeRe = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2}) (\d{2}):(\d{2}):(\d{2})$`)
)

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("civil: load %s: %v", name, err))
	}
	return loc
}

// Location returns the application timezone.
func Location() *time.Location { return location }

// FormatError reports a string that is not a civil date or datetime.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid civil date %q: expected YYYY-MM-DD or YYYY-MM-DD HH:MM:SS", e.Input)
	}
	return fmt.Sprintf("invalid civil date %q: %s", e.Input, e.Reason)
}

// Date formats the instant as a civil date in the application zone.
func Date(t time.Time) string {
	return t.In(location).Format(DateLayout)
}

// DateTime formats the instant as a civil datetime in the application zone.
func DateTime(t time.Time) string {
	return t.In(location).Format(DateTimeLayout)
}

// Civil is a wall-clock value with no zone attached. Values with HasTime
// unset are plain dates.
type Civil struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
	Second int

	HasTime bool
}

// Parse reads a YYYY-MM-DD or YYYY-MM-DD HH:MM:SS string. Hour 24 is accepted
// and rolled over to 00 of the following day.
func Parse(s string) (Civil, error) {
	if m := dateRe.FindStringSubmatch(s); m != nil {
		c := Civil{Year: atoi(m[1]), Month: time.Month(atoi(m[2])), Day: atoi(m[3])}
		if err := c.validate(s); err != nil {
			return Civil{}, err
		}
		return c, nil
	}

	m := dateTimeRe.FindStringSubmatch(s)
	if m == nil {
		return Civil{}, &FormatError{Input: s}
	}
	c := Civil{
		Year:    atoi(m[1]),
		Month:   time.Month(atoi(m[2])),
		Day:     atoi(m[3]),
		Hour:    atoi(m[4]),
		Minute:  atoi(m[5]),
		Second:  atoi(m[6]),
		HasTime: true,
	}
	rollover := c.Hour == 24
	if rollover {
		c.Hour = 0
	}
	if err := c.validate(s); err != nil {
		return Civil{}, err
	}
	if rollover {
		next := c.wall().AddDate(0, 0, 1)
		c.Year, c.Month, c.Day = next.Date()
	}
	return c, nil
}

// ParseDate is Parse restricted to the date layout.
func ParseDate(s string) (Civil, error) {
	if !dateRe.MatchString(s) {
		return Civil{}, &FormatError{Input: s, Reason: "expected YYYY-MM-DD"}
	}
	return Parse(s)
}

func (c Civil) validate(input string) error {
	if c.Month < 1 || c.Month > 12 {
		return &FormatError{Input: input, Reason: "month out of range"}
	}
	if c.Day < 1 || c.Day > daysIn(c.Year, c.Month) {
		return &FormatError{Input: input, Reason: "day out of range"}
	}
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 || c.Second < 0 || c.Second > 59 {
		return &FormatError{Input: input, Reason: "time out of range"}
	}
	return nil
}

const secondsPerDay = 24 * 60 * 60

// wall places the fields on the UTC axis, which has no DST, for calendar math.
func (c Civil) wall() time.Time {
	return time.Date(c.Year, c.Month, c.Day, c.Hour, c.Minute, c.Second, 0, time.UTC)
}

// String formats the value back into the layout it was parsed from.
func (c Civil) String() string {
	if c.HasTime {
		return c.wall().Format(DateTimeLayout)
	}
	return c.wall().Format(DateLayout)
}

// DateString drops the time part.
func (c Civil) DateString() string {
	return c.wall().Format(DateLayout)
}

// Instant resolves the wall-clock value in the application zone. Times that
// fall into a spring-forward gap are shifted forward by the gap, as time.Date
// does.
func (c Civil) Instant() time.Time {
	return time.Date(c.Year, c.Month, c.Day, c.Hour, c.Minute, c.Second, 0, location)
}

// Today is the civil date of now.
func Today(now time.Time) string { return Date(now) }

// AddDays shifts a civil date by n calendar days.
func AddDays(date string, n int) (string, error) {
	c, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return c.wall().AddDate(0, 0, n).Format(DateLayout), nil
}

// DiffDays returns the number of calendar days from a to b.
func DiffDays(a, b string) (int, error) {
	ca, err := ParseDate(a)
	if err != nil {
		return 0, err
	}
	cb, err := ParseDate(b)
	if err != nil {
		return 0, err
	}
	return int((cb.wall().Unix() - ca.wall().Unix()) / secondsPerDay), nil
}

// Yesterday is AddDays(date, -1) for dates already known to be valid.
func Yesterday(date string) string {
	d, err := AddDays(date, -1)
	if err != nil {
		return ""
	}
	return d
}

// Valid reports whether s is a well-formed civil date.
func Valid(date string) bool {
	_, err := ParseDate(date)
	return err == nil
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
