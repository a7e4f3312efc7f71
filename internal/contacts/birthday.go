package contacts

import (
	"fmt"
	"sort"
	"time"
)

const (
	DefaultWindowDays = 7
	MinWindowDays     = 1
	MaxWindowDays     = 30
)

// BirthdayQuery asks for contacts whose next birthday falls within
// [Now, Now+Days], both ends inclusive.
type BirthdayQuery struct {
	Page
	Days int
	Now  time.Time
}

// CheckWindowDays validates an explicit window length.
func CheckWindowDays(n int) error {
	if n < MinWindowDays || n > MaxWindowDays {
		return fmt.Errorf("%w: days must be in [%d, %d]", ErrInvalidInput, MinWindowDays, MaxWindowDays)
	}
	return nil
}

// Normalize applies defaults to zero Days and Limit and validates ranges. A zero Now means today.
func (q BirthdayQuery) Normalize() (BirthdayQuery, error) {
	if q.Days == 0 {
		q.Days = DefaultWindowDays
	}
	if err := CheckWindowDays(q.Days); err != nil {
		return BirthdayQuery{}, err
	}
	page, err := q.Page.Normalize()
	if err != nil {
		return BirthdayQuery{}, err
	}
	q.Page = page
	if q.Now.IsZero() {
		q.Now = time.Now()
	}
	q.Now = dateOf(q.Now)
	return q, nil
}

// dateOf drops the time of day, keeping the calendar date of t in its own location.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// ReplaceYear moves d into year. Feb 29 becomes Mar 1 when year is not a leap year.
func ReplaceYear(d time.Time, year int) time.Time {
	_, m, day := d.Date()
	if m == time.February && day == 29 && !isLeap(year) {
		return time.Date(year, time.March, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(year, m, day, 0, 0, 0, 0, time.UTC)
}

// NextOccurrence is the first anniversary of d on or after the date of now.
func NextOccurrence(d, now time.Time) time.Time {
	today := dateOf(now)
	next := ReplaceYear(d, today.Year())
	if next.Before(today) {
		next = ReplaceYear(d, today.Year()+1)
	}
	return next
}

// DaysUntil is the whole number of days from the date of now to the next anniversary of d.
func DaysUntil(d, now time.Time) int {
	return int(NextOccurrence(d, now).Sub(dateOf(now)).Hours() / 24)
}

// MatchesWindow reports whether the next anniversary of d is at most days away.
func MatchesWindow(d, now time.Time, days int) bool {
	return DaysUntil(d, now) <= days
}

// WindowMonths lists the stored birth months that can possibly match the
// window. It walks back from the month of now+days+1 to the month of now.
// February is added whenever March is present because Feb 29 birthdays are
// observed on Mar 1 in common years. The result is a superset for storage
// pre-filtering; MatchesWindow decides.
func WindowMonths(now time.Time, days int) []time.Month {
	today := dateOf(now)
	first := today.Month()
	m := today.AddDate(0, 0, days+1).Month()

	months := []time.Month{m}
	for m != first {
		m = prevMonth(m)
		months = append(months, m)
	}

	hasMarch, hasFeb := false, false
	for _, mm := range months {
		hasMarch = hasMarch || mm == time.March
		hasFeb = hasFeb || mm == time.February
	}
	if hasMarch && !hasFeb {
		months = append(months, time.February)
	}
	return months
}

func prevMonth(m time.Month) time.Month {
	if m == time.January {
		return time.December
	}
	return m - 1
}

// FilterUpcoming keeps contacts with a birthday inside the window, orders them
// by stored birthday descending and applies skip/limit after filtering.
// q must be normalized.
func FilterUpcoming(all []Contact, q BirthdayQuery) []Contact {
	matched := make([]Contact, 0, len(all))
	for _, c := range all {
		if c.Birthday == nil || c.Birthday.IsZero() {
			continue
		}
		if MatchesWindow(c.Birthday.Time, q.Now, q.Days) {
			matched = append(matched, c)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Birthday.After(matched[j].Birthday.Time)
	})
	return paginate(matched, q.Page)
}

func paginate[T any](items []T, p Page) []T {
	if p.Skip >= len(items) {
		return []T{}
	}
	end := p.Skip + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[p.Skip:end]
}
