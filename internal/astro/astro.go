// Package astro maps birth dates to tropical zodiac sun signs.
package astro

import (
	"strconv"
	"strings"
	"time"
)

// Sign is a zodiac sun sign label.
type Sign string

const (
	Aries       Sign = "Aries"
	Taurus      Sign = "Taurus"
	Gemini      Sign = "Gemini"
	Cancer      Sign = "Cancer"
	Leo         Sign = "Leo"
	Virgo       Sign = "Virgo"
	Libra       Sign = "Libra"
	Scorpio     Sign = "Scorpio"
	Sagittarius Sign = "Sagittarius"
	Capricorn   Sign = "Capricorn"
	Aquarius    Sign = "Aquarius"
	Pisces      Sign = "Pisces"

	// Unknown is returned for dates that cannot be parsed.
	Unknown Sign = "Unknown"
)

func (s Sign) String() string { return string(s) }

// Known reports whether s is one of the twelve signs.
func (s Sign) Known() bool {
	_, ok := signIndex[s]
	return ok
}

type monthDay struct {
	month, day int
}

// signRange spans start..end inclusive. Capricorn wraps the year end.
type signRange struct {
	sign       Sign
	start, end monthDay
}

var ranges = []signRange{
	{Aries, monthDay{3, 21}, monthDay{4, 19}},
	{Taurus, monthDay{4, 20}, monthDay{5, 20}},
	{Gemini, monthDay{5, 21}, monthDay{6, 20}},
	{Cancer, monthDay{6, 21}, monthDay{7, 22}},
	{Leo, monthDay{7, 23}, monthDay{8, 22}},
	{Virgo, monthDay{8, 23}, monthDay{9, 22}},
	{Libra, monthDay{9, 23}, monthDay{10, 22}},
	{Scorpio, monthDay{10, 23}, monthDay{11, 21}},
	{Sagittarius, monthDay{11, 22}, monthDay{12, 21}},
	{Capricorn, monthDay{12, 22}, monthDay{1, 19}},
	{Aquarius, monthDay{1, 20}, monthDay{2, 18}},
	{Pisces, monthDay{2, 19}, monthDay{3, 20}},
}

var signIndex = func() map[Sign]int {
	m := make(map[Sign]int, len(ranges))
	for i, r := range ranges {
		m[r.sign] = i
	}
	return m
}()

// Leap-year lengths; the year is ignored so Feb 29 is always valid.
var daysInMonth = [13]int{0, 31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// Signs returns the twelve signs starting from Aries.
func Signs() []Sign {
	out := make([]Sign, len(ranges))
	for i, r := range ranges {
		out[i] = r.sign
	}
	return out
}

// ParseSign matches s case-insensitively against the twelve signs.
func ParseSign(s string) (Sign, bool) {
	for _, r := range ranges {
		if strings.EqualFold(string(r.sign), strings.TrimSpace(s)) {
			return r.sign, true
		}
	}
	return Unknown, false
}

// ClassifySunSign returns the sun sign for a YYYY-MM-DD date or an RFC 3339
// timestamp. Only month and day matter. Unparsable input yields Unknown.
func ClassifySunSign(date string) Sign {
	month, day, ok := parseMonthDay(date)
	if !ok {
		return Unknown
	}
	return ClassifyMonthDay(month, day)
}

// ClassifyMonthDay returns the sun sign for a month (1-12) and day.
func ClassifyMonthDay(month, day int) Sign {
	if month < 1 || month > 12 || day < 1 || day > daysInMonth[month] {
		return Unknown
	}
	md := monthDay{month, day}
	for _, r := range ranges {
		if r.contains(md) {
			return r.sign
		}
	}
	return Unknown
}

func (r signRange) contains(md monthDay) bool {
	if r.start.month == r.end.month {
		return md.month == r.start.month && md.day >= r.start.day && md.day <= r.end.day
	}
	return (md.month == r.start.month && md.day >= r.start.day) ||
		(md.month == r.end.month && md.day <= r.end.day)
}

func parseMonthDay(date string) (int, int, bool) {
	date = strings.TrimSpace(date)
	if date == "" {
		return 0, 0, false
	}
	if len(date) > len(time.DateOnly) {
		if t, err := time.Parse(time.RFC3339, date); err == nil {
			return int(t.Month()), t.Day(), true
		}
	}

	parts := strings.Split(date, "-")
	if len(parts) != 3 {
		return 0, 0, false
	}
	if _, err := strconv.Atoi(parts[0]); err != nil || len(parts[0]) != 4 {
		return 0, 0, false
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	day, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, 0, false
	}
	return month, day, true
}
