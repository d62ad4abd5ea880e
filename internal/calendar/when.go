// Package calendar generates iCalendar (.ics) event files from natural
// scheduling requests.
package calendar

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layouts tried for absolute datetime input, most specific first.
var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04",
	"2006/01/02",
}

var (
	relHoursRe   = regexp.MustCompile(`^(\d+)\s*(?:小时后|个小时后)$`)
	relMinutesRe = regexp.MustCompile(`^(\d+)\s*分钟后$`)
	inHoursRe    = regexp.MustCompile(`^in\s+(\d+)\s+hours?$`)
	inMinutesRe  = regexp.MustCompile(`^in\s+(\d+)\s+minutes?$`)
	clockRe      = regexp.MustCompile(`(上午|下午|晚上)?\s*(\d{1,2})(?:[:：点](\d{2})?)?\s*$`)
)

var cnWeekdays = map[string]time.Weekday{
	"一": time.Monday, "二": time.Tuesday, "三": time.Wednesday,
	"四": time.Thursday, "五": time.Friday, "六": time.Saturday,
	"日": time.Sunday, "天": time.Sunday,
}

var enWeekdays = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
	"sunday": time.Sunday,
}

// ParseWhen resolves a scheduling expression to a concrete time.
// Absolute forms (RFC 3339, "2006-01-02 15:04") are tried first, then
// relative forms: 今天/明天/后天 with an optional clock time, 下周X /
// "next monday", and offsets like "2小时后" / "in 2 hours". Day-level
// expressions without a clock time default to 09:00.
func ParseWhen(s string, now time.Time) (time.Time, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, text, now.Location()); err == nil {
			return t, nil
		}
	}

	lower := strings.ToLower(text)

	if m := relHoursRe.FindStringSubmatch(text); m != nil {
		return addAmount(now, m[1], time.Hour)
	}
	if m := relMinutesRe.FindStringSubmatch(text); m != nil {
		return addAmount(now, m[1], time.Minute)
	}
	if m := inHoursRe.FindStringSubmatch(lower); m != nil {
		return addAmount(now, m[1], time.Hour)
	}
	if m := inMinutesRe.FindStringSubmatch(lower); m != nil {
		return addAmount(now, m[1], time.Minute)
	}

	// Day-relative prefixes, optionally followed by a clock time.
	dayOffsets := []struct {
		prefix string
		days   int
	}{
		{"今天", 0}, {"明天", 1}, {"后天", 2},
		{"today", 0}, {"tomorrow", 1},
	}
	for _, d := range dayOffsets {
		if strings.HasPrefix(lower, d.prefix) {
			rest := strings.TrimSpace(text[len(d.prefix):])
			day := now.AddDate(0, 0, d.days)
			return atClock(day, rest)
		}
	}

	if strings.HasPrefix(text, "下周") {
		rest := strings.TrimSpace(strings.TrimPrefix(text, "下周"))
		if rest == "" {
			return time.Time{}, fmt.Errorf("missing weekday in %q", s)
		}
		wd, ok := cnWeekdays[string([]rune(rest)[0])]
		if !ok {
			return time.Time{}, fmt.Errorf("unknown weekday in %q", s)
		}
		day := nextWeek(now, wd)
		return atClock(day, strings.TrimSpace(string([]rune(rest)[1:])))
	}

	if strings.HasPrefix(lower, "next ") {
		rest := strings.TrimSpace(lower[len("next "):])
		name, clock, _ := strings.Cut(rest, " ")
		wd, ok := enWeekdays[name]
		if !ok {
			return time.Time{}, fmt.Errorf("unknown weekday in %q", s)
		}
		return atClock(nextWeek(now, wd), clock)
	}

	return time.Time{}, fmt.Errorf("cannot parse time expression %q", s)
}

func addAmount(now time.Time, digits string, unit time.Duration) (time.Time, error) {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad offset %q: %w", digits, err)
	}
	return now.Add(time.Duration(n) * unit), nil
}

// nextWeek returns the given weekday in the week after now's week
// (Monday-based), matching the 下周 convention.
func nextWeek(now time.Time, wd time.Weekday) time.Time {
	// Move to next Monday first.
	daysUntilMonday := (int(time.Monday) - int(now.Weekday()) + 7) % 7
	if daysUntilMonday == 0 {
		daysUntilMonday = 7
	}
	monday := now.AddDate(0, 0, daysUntilMonday)

	offset := (int(wd) - int(time.Monday) + 7) % 7
	return monday.AddDate(0, 0, offset)
}

// atClock applies a clock expression ("15:04", "下午3点", "9点30") to a
// day. An empty expression defaults to 09:00.
func atClock(day time.Time, clock string) (time.Time, error) {
	y, mo, d := day.Date()
	loc := day.Location()

	clock = strings.TrimSpace(clock)
	if clock == "" {
		return time.Date(y, mo, d, 9, 0, 0, 0, loc), nil
	}

	m := clockRe.FindStringSubmatch(clock)
	if m == nil {
		return time.Time{}, fmt.Errorf("cannot parse clock time %q", clock)
	}

	hour, err := strconv.Atoi(m[2])
	if err != nil || hour > 23 {
		return time.Time{}, fmt.Errorf("bad hour in %q", clock)
	}
	minute := 0
	if m[3] != "" {
		minute, err = strconv.Atoi(m[3])
		if err != nil || minute > 59 {
			return time.Time{}, fmt.Errorf("bad minute in %q", clock)
		}
	}

	if (m[1] == "下午" || m[1] == "晚上") && hour < 12 {
		hour += 12
	}
	return time.Date(y, mo, d, hour, minute, 0, 0, loc), nil
}
