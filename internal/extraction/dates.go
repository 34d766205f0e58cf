package extraction

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical date encoding for buffer values.
const DateLayout = "2006-01-02"

// datePattern matches the absolute date forms accepted anywhere a date is expected.
const datePattern = `\d{4}-\d{1,2}-\d{1,2}` +
	`|\d{1,2}/\d{1,2}/\d{4}` +
	`|\d{1,2}-\d{1,2}-\d{4}` +
	`|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}` +
	`|\d{1,2}(?:st|nd|rd|th)?\s+(?:of\s+)?(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?,?\s+\d{4}`

const relativeDatePattern = `today|tomorrow|(?:next\s+|this\s+)?(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)`

var (
	isoDateRE       = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	slashDateRE     = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	dashDateRE      = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{4})$`)
	monthFirstRE    = regexp.MustCompile(`(?i)^([a-z]+)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})$`)
	dayFirstRE      = regexp.MustCompile(`(?i)^(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?([a-z]+)\.?,?\s+(\d{4})$`)
	whitespaceRunRE = regexp.MustCompile(`\s+`)
)

var errNotADate = errors.New("not a valid calendar date")

var monthsByPrefix = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

// ParseDate reads an absolute date. Slash dates are day-first (DD/MM/YYYY); dash dates
// are month-first (MM-DD-YYYY).
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	s := whitespaceRunRE.ReplaceAllString(strings.TrimSpace(raw), " ")
	if loc == nil {
		loc = time.UTC
	}
	var year, month, day int
	switch {
	case isoDateRE.MatchString(s):
		m := isoDateRE.FindStringSubmatch(s)
		year, month, day = atoi(m[1]), atoi(m[2]), atoi(m[3])
	case slashDateRE.MatchString(s):
		m := slashDateRE.FindStringSubmatch(s)
		day, month, year = atoi(m[1]), atoi(m[2]), atoi(m[3])
	case dashDateRE.MatchString(s):
		m := dashDateRE.FindStringSubmatch(s)
		month, day, year = atoi(m[1]), atoi(m[2]), atoi(m[3])
	case monthFirstRE.MatchString(s):
		m := monthFirstRE.FindStringSubmatch(s)
		mon, ok := monthFromName(m[1])
		if !ok {
			return time.Time{}, errNotADate
		}
		month, day, year = int(mon), atoi(m[2]), atoi(m[3])
	case dayFirstRE.MatchString(s):
		m := dayFirstRE.FindStringSubmatch(s)
		mon, ok := monthFromName(m[2])
		if !ok {
			return time.Time{}, errNotADate
		}
		day, month, year = atoi(m[1]), int(mon), atoi(m[3])
	default:
		return time.Time{}, errNotADate
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, errNotADate
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	// time.Date normalizes Feb 31 into March; reject instead.
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, errNotADate
	}
	return t, nil
}

// ResolveRelativeDate turns today/tomorrow/weekday names into a date relative to now.
// A bare weekday means its next occurrence, never today.
func ResolveRelativeDate(raw string, now time.Time) (time.Time, bool) {
	s := strings.ToLower(whitespaceRunRE.ReplaceAllString(strings.TrimSpace(raw), " "))
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch s {
	case "today":
		return today, true
	case "tomorrow":
		return today.AddDate(0, 0, 1), true
	}
	s = strings.TrimPrefix(s, "next ")
	s = strings.TrimPrefix(s, "this ")
	wd, ok := weekdays[s]
	if !ok {
		return time.Time{}, false
	}
	delta := (int(wd) - int(today.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}
	return today.AddDate(0, 0, delta), true
}

func monthFromName(name string) (time.Month, bool) {
	name = strings.ToLower(name)
	if len(name) < 3 {
		return 0, false
	}
	m, ok := monthsByPrefix[name[:3]]
	return m, ok
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

// FormatDate renders a buffer date for replies, e.g. "Monday, March 3".
func FormatDate(value string) string {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return value
	}
	return fmt.Sprintf("%s, %s %d", t.Weekday(), t.Month(), t.Day())
}
