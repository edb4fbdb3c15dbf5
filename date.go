package govfat

import (
	"time"
)

const (
	minYear = 1980
	maxYear = 2107
)

// ParseDate reads the given input as a date like it is specified in the specification:
//  A FAT directory entry date stamp is a 16- bit field that is basically a
//  date relative to the MS- DOS epoch of 01/01 / 19 80. Here is the format (bit 0 is the
//  LSB of the 16- bit word, bit 15 is the MSB of the 16- bit word):
//   Bits 0–4: Day of month, valid value range 1- 31 inclusive.
//   Bits 5–8: Month of year, 1 = January, valid value range 1–12 inclusive.
//   Bits 9–15: Count of years from 1980, valid value range 0–127 inclusive
//   (1980–2107).
// It returns a time.Time which has always a time of 00:00:00.000000000 UTC.
//
// As value 0 for day and month is defined as invalid in the specification
// the value time.Time{} is used to be compatible with time.Time.IsZero() if any of that cases occurs.
func ParseDate(input uint16) time.Time {
	dayOfMonth := input & 0x1F
	monthOfYear := input & 0x1E0 >> 5
	yearSince1980 := input & 0xFE00 >> 9

	if dayOfMonth == 0 || monthOfYear == 0 {
		return time.Time{}
	}

	return time.Date(minYear+int(yearSince1980), time.Month(monthOfYear), int(dayOfMonth), 0, 0, 0, 0, time.UTC)
}

// ParseTime reads the given input as a time like it is specified in the specification:
//  A FAT directory entry time stamp is a 16- bit field that has a
//  granularity of 2 seconds.
//   Bits 0–4: 2- second count, valid value range 0–29 inclusive (0 – 58 seconds).
//   Bits 5–10: Minutes, valid value range 0–59 inclusive.
//   Bits 11–15: Hours, valid value range 0–23 inclusive.
// It returns a time.Time which has always a date of January 1, year 1.
//
// Bigger values than the specified ones are just added to the time, limited to 23:59:59.
func ParseTime(input uint16) time.Time {
	seconds := int(input&0x1F) * 2
	minutes := input & 0x7E0 >> 5
	hours := input & 0xF800 >> 11

	result := time.Date(1, 1, 1, int(hours), int(minutes), seconds, 0, time.UTC)

	if result.Day() > 1 {
		return time.Date(1, 1, 1, 23, 59, 59, 0, time.UTC)
	}

	return result
}

// clampTime keeps t inside of the range a FAT date can express.
func clampTime(t time.Time) time.Time {
	if t.Year() < minYear {
		return time.Date(minYear, 1, 1, 0, 0, 0, 0, t.Location())
	}
	if t.Year() > maxYear {
		return time.Date(maxYear, 12, 31, 23, 59, 59, 990000000, t.Location())
	}
	return t
}

// EncodeDate packs the date part of t. Dates outside of 1980–2107 are clamped.
func EncodeDate(t time.Time) uint16 {
	t = clampTime(t)
	return uint16(t.Year()-minYear)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
}

// EncodeTime packs the time of day of t with a 2 second granularity.
// tenth is the create time refinement in 10 ms units (0–199) covering the dropped odd second.
func EncodeTime(t time.Time) (packed uint16, tenth byte) {
	t = clampTime(t)
	packed = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	tenth = byte((t.Second()%2)*100 + t.Nanosecond()/int(10*time.Millisecond))
	return packed, tenth
}

// decodeTimestamp combines the packed date, time and tenth fields into one time in loc.
// An invalid date results in time.Time{}.
func decodeTimestamp(date, tm uint16, tenth byte, loc *time.Location) time.Time {
	d := ParseDate(date)
	if d.IsZero() {
		return time.Time{}
	}
	c := ParseTime(tm)

	if tenth > 199 {
		tenth = 0
	}
	extra := time.Duration(tenth) * 10 * time.Millisecond

	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), c.Second(), 0, loc).Add(extra)
}
