package utils

import (
	"math"
	"regexp"
	"sort"
	"time"
)

// ISODate is the layout used for every expiry date string
const ISODate = "2006-01-02"

var sixDigits = regexp.MustCompile(`\d{6}`)

// ExpiryFromSymbol reads the first 6-digit YYMMDD run of an OCC-style
// contract symbol ("AAPL240621C00190000") and returns it as 20YY-MM-DD.
// ok is false when the symbol has no such run.
func ExpiryFromSymbol(symbol string) (string, bool) {
	match := sixDigits.FindString(symbol)
	if match == "" {
		return "", false
	}
	return "20" + match[0:2] + "-" + match[2:4] + "-" + match[4:6], true
}

// DaysUntil counts whole days from now until midnight UTC of an ISO date,
// flooring partial days like a timedelta's .days. ok is false when the
// date does not parse.
func DaysUntil(isoDate string, now time.Time) (int, bool) {
	expiry, err := time.ParseInLocation(ISODate, isoDate, time.UTC)
	if err != nil {
		return 0, false
	}
	days := expiry.Sub(now.UTC()).Hours() / 24
	return int(math.Floor(days)), true
}

// NormalizeDates drops unparseable entries, deduplicates and sorts ascending
func NormalizeDates(dates []string) []string {
	seen := make(map[string]bool, len(dates))
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		t, err := time.Parse(ISODate, d)
		if err != nil {
			continue
		}
		iso := t.Format(ISODate)
		if seen[iso] {
			continue
		}
		seen[iso] = true
		out = append(out, iso)
	}
	sort.Strings(out)
	return out
}

// UnixToISO converts an epoch-seconds expiry stamp to its UTC calendar date
func UnixToISO(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(ISODate)
}

// ISOToUnix converts an ISO date to epoch seconds at midnight UTC
func ISOToUnix(isoDate string) (int64, error) {
	t, err := time.ParseInLocation(ISODate, isoDate, time.UTC)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

// CalculateNextOptionsExpiration returns the next third Friday for options expiration.
// Third Friday of the current month unless we're already in or past its week,
// in which case next month's.
func CalculateNextOptionsExpiration(today time.Time) string {
	thirdFriday := thirdFridayOf(today.Year(), today.Month(), today.Location())
	weekStart := thirdFriday.AddDate(0, 0, -7)

	if today.After(weekStart) || today.Equal(weekStart) {
		next := time.Date(today.Year(), today.Month()+1, 1, 0, 0, 0, 0, today.Location())
		return thirdFridayOf(next.Year(), next.Month(), today.Location()).Format(ISODate)
	}
	return thirdFriday.Format(ISODate)
}

func thirdFridayOf(year int, month time.Month, loc *time.Location) time.Time {
	firstFriday := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	for firstFriday.Weekday() != time.Friday {
		firstFriday = firstFriday.AddDate(0, 0, 1)
	}
	return firstFriday.AddDate(0, 0, 14)
}

// PickExpiry chooses the listed expiry closest to the next monthly cycle,
// falling back to the last listed date.
func PickExpiry(listed []string, today time.Time) string {
	if len(listed) == 0 {
		return ""
	}
	target := CalculateNextOptionsExpiration(today)
	for _, d := range listed {
		if d >= target {
			return d
		}
	}
	return listed[len(listed)-1]
}
