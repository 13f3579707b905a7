package detect

import (
	"strings"
	"time"
)

// Layout sets tried in order. Unambiguous ISO-style layouts come first; the
// slash/dash numeric layouts are reordered by the policy flags because
// 03/04/2021 is ambiguous without them.
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"20060102T150405Z",
	time.RFC1123Z,
	time.RFC1123,
	"2 Jan 2006 15:04:05",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"15:04:05",
	"15:04",
}

var monthFirstLayouts = []string{
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"01/02/06",
}

var dayFirstLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02.01.2006",
	"02/01/06",
}

var yearFirstLayouts = []string{
	"2006/01/02 15:04:05",
	"2006/01/02",
	"2006.01.02",
	"06/01/02",
}

// ParseTimestamp attempts to parse a cell as a date or datetime. Bare
// numbers never parse: a column of integers must stay numeric even though
// "20060102" happens to be a valid compact date.
func ParseTimestamp(s string, policy TimestampPolicy) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || isBareNumber(s) {
		return time.Time{}, false
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	var ordered []string
	switch {
	case policy.YearFirst:
		ordered = append(ordered, yearFirstLayouts...)
		if policy.DayFirst {
			ordered = append(ordered, dayFirstLayouts...)
			ordered = append(ordered, monthFirstLayouts...)
		} else {
			ordered = append(ordered, monthFirstLayouts...)
			ordered = append(ordered, dayFirstLayouts...)
		}
	case policy.DayFirst:
		ordered = append(ordered, dayFirstLayouts...)
		ordered = append(ordered, monthFirstLayouts...)
		ordered = append(ordered, yearFirstLayouts...)
	default:
		ordered = append(ordered, monthFirstLayouts...)
		ordered = append(ordered, dayFirstLayouts...)
		ordered = append(ordered, yearFirstLayouts...)
	}

	for _, layout := range ordered {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func isBareNumber(s string) bool {
	i := 0
	if s[0] == '+' || s[0] == '-' {
		i++
	}
	if i == len(s) {
		return false
	}
	dot := false
	for ; i < len(s); i++ {
		if s[i] == '.' && !dot {
			dot = true
			continue
		}
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
