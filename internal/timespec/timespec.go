// Package timespec resolves partial ISO-8601 timestamps and time-zone
// specifiers for query filters and ingestion bookkeeping. Storage is always
// UTC; zones affect only the interpretation of input specs and display.
package timespec

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// abbreviations maps common (discouraged, ambiguous) zone abbreviations to
// fixed UTC offsets in hours. IANA names are always preferred.
var abbreviations = map[string]int{
	"UT":   0,
	"EST":  -5,
	"EDT":  -4,
	"CST":  -6,
	"CDT":  -5,
	"MST":  -7,
	"MDT":  -6,
	"PST":  -8,
	"PDT":  -7,
	"AKST": -9,
	"AKDT": -8,
	"HST":  -10,
}

// Zone parses a time-zone specifier: "UTC", "GMT", "UTC+HH[:MM]",
// "GMT-HH[:MM]", an IANA name such as "America/New_York", or one of the fixed
// abbreviations.
func Zone(spec string) (*time.Location, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || strings.EqualFold(spec, "UTC") || strings.EqualFold(spec, "GMT") {
		return time.UTC, nil
	}

	upper := strings.ToUpper(spec)
	for _, prefix := range []string{"UTC", "GMT"} {
		if strings.HasPrefix(upper, prefix) && len(spec) > len(prefix) {
			return offsetZone(spec, spec[len(prefix):])
		}
	}
	if upper[0] == '+' || upper[0] == '-' {
		return offsetZone(spec, spec)
	}

	if hours, ok := abbreviations[upper]; ok {
		return time.FixedZone(upper, hours*3600), nil
	}

	loc, err := time.LoadLocation(spec)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q", spec)
	}
	return loc, nil
}

// offsetZone parses "±HH", "±HH:MM" or "±HHMM" into a fixed zone named after
// the full specifier.
func offsetZone(name, offset string) (*time.Location, error) {
	if len(offset) < 2 || (offset[0] != '+' && offset[0] != '-') {
		return nil, fmt.Errorf("invalid zone offset %q", name)
	}
	sign := 1
	if offset[0] == '-' {
		sign = -1
	}
	body := offset[1:]

	var hourPart, minPart string
	switch {
	case strings.Contains(body, ":"):
		hourPart, minPart, _ = strings.Cut(body, ":")
	case len(body) > 2:
		hourPart, minPart = body[:len(body)-2], body[len(body)-2:]
	default:
		hourPart, minPart = body, "0"
	}
	hours, err := strconv.Atoi(hourPart)
	if err != nil || hours > 14 {
		return nil, fmt.Errorf("invalid zone offset %q", name)
	}
	mins, err := strconv.Atoi(minPart)
	if err != nil || mins > 59 {
		return nil, fmt.Errorf("invalid zone offset %q", name)
	}
	return time.FixedZone(name, sign*(hours*3600+mins*60)), nil
}

// partialLayout describes one accepted timestamp shape and which higher-order
// components it omits (filled from the reference instant).
type partialLayout struct {
	format    string
	fillYear  bool // layout has month/day but no year
	fillYMD   bool // layout has time of day only
	yearOnly  bool // layout is a bare year
	monthOnly bool // layout is year-month
}

var partialLayouts = []partialLayout{
	{format: "2006-01-02T15:04:05.999999999"},
	{format: "2006-01-02T15:04:05"},
	{format: "2006-01-02T15:04"},
	{format: "2006-01-02T15"},
	{format: "2006-01-02"},
	{format: "2006-01", monthOnly: true},
	{format: "2006", yearOnly: true},
	{format: "01-02T15:04:05", fillYear: true},
	{format: "01-02T15:04", fillYear: true},
	{format: "01-02", fillYear: true},
	{format: "15:04:05", fillYMD: true},
	{format: "15:04", fillYMD: true},
}

// Resolve parses a partial ISO-8601 timestamp and returns the corresponding
// UTC instant. Missing higher-order components (year, month, day) are taken
// from referenceNow rendered in loc; missing lower-order components are zero.
// An inline "Z" or "±HH[:MM]" suffix overrides loc for this spec only.
func Resolve(spec string, referenceNow time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	spec = strings.TrimSpace(strings.Replace(spec, " ", "T", 1))
	if spec == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	body, inline, err := splitInlineZone(spec)
	if err != nil {
		return time.Time{}, err
	}
	if inline != nil {
		loc = inline
	}

	for _, l := range partialLayouts {
		tm, err := time.ParseInLocation(l.format, body, loc)
		if err != nil {
			continue
		}
		ref := referenceNow.In(loc)
		switch {
		case l.fillYear:
			tm = time.Date(ref.Year(), tm.Month(), tm.Day(), tm.Hour(), tm.Minute(), tm.Second(), tm.Nanosecond(), loc)
		case l.fillYMD:
			tm = time.Date(ref.Year(), ref.Month(), ref.Day(), tm.Hour(), tm.Minute(), tm.Second(), tm.Nanosecond(), loc)
		case l.yearOnly:
			tm = time.Date(tm.Year(), time.January, 1, 0, 0, 0, 0, loc)
		case l.monthOnly:
			tm = time.Date(tm.Year(), tm.Month(), 1, 0, 0, 0, 0, loc)
		}
		return tm.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", spec)
}

// splitInlineZone strips a trailing "Z" or "±HH[:MM]" offset from a timestamp
// spec. A sign only counts as an offset when it follows the time-of-day part;
// bare dates like "2026-08" keep their hyphens.
func splitInlineZone(spec string) (string, *time.Location, error) {
	if strings.HasSuffix(spec, "Z") {
		return strings.TrimSuffix(spec, "Z"), time.UTC, nil
	}
	tIdx := strings.IndexByte(spec, 'T')
	colon := strings.IndexByte(spec, ':')
	for i := len(spec) - 1; i > 0; i-- {
		c := spec[i]
		if c != '+' && c != '-' {
			continue
		}
		// Offsets appear only after the time of day: "14:30-07:00", "T06+02".
		if tIdx >= 0 && i > tIdx || colon >= 0 && i > colon && tIdx < 0 {
			loc, err := offsetZone(spec[i:], spec[i:])
			if err != nil {
				return "", nil, err
			}
			return spec[:i], loc, nil
		}
		break
	}
	return spec, nil, nil
}

// Format renders a UTC instant as ISO-8601 in the given zone. The stored value
// is unaffected; this is display only.
func Format(instant time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return instant.In(loc).Format(time.RFC3339)
}
