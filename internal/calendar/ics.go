package calendar

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event describes one calendar entry to be written out as .ics.
type Event struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	// ReminderBefore adds a display alarm this long before Start.
	// Zero means no alarm.
	ReminderBefore time.Duration
}

const icsTimeLayout = "20060102T150405Z"

// RenderICS produces a complete VCALENDAR document for the event.
// Times are emitted in UTC; line endings are CRLF as RFC 5545 requires.
func RenderICS(ev Event, now time.Time) (string, error) {
	if ev.Summary == "" {
		return "", fmt.Errorf("event summary is required")
	}
	if ev.Start.IsZero() {
		return "", fmt.Errorf("event start time is required")
	}
	end := ev.End
	if end.IsZero() {
		end = ev.Start.Add(time.Hour)
	}
	if !end.After(ev.Start) {
		return "", fmt.Errorf("event end %s is not after start %s", end, ev.Start)
	}

	var b strings.Builder
	line := func(s string) {
		b.WriteString(s)
		b.WriteString("\r\n")
	}

	line("BEGIN:VCALENDAR")
	line("VERSION:2.0")
	line("PRODID:-//mymeta//agent//EN")
	line("CALSCALE:GREGORIAN")
	line("METHOD:PUBLISH")
	line("BEGIN:VEVENT")
	line("UID:" + uuid.NewString())
	line("DTSTAMP:" + now.UTC().Format(icsTimeLayout))
	line("DTSTART:" + ev.Start.UTC().Format(icsTimeLayout))
	line("DTEND:" + end.UTC().Format(icsTimeLayout))
	line(foldLine("SUMMARY:" + escapeText(ev.Summary)))
	if ev.Description != "" {
		line(foldLine("DESCRIPTION:" + escapeText(ev.Description)))
	}
	if ev.Location != "" {
		line(foldLine("LOCATION:" + escapeText(ev.Location)))
	}
	if ev.ReminderBefore > 0 {
		minutes := int(ev.ReminderBefore.Minutes())
		line("BEGIN:VALARM")
		line("ACTION:DISPLAY")
		line(foldLine("DESCRIPTION:" + escapeText(ev.Summary)))
		line(fmt.Sprintf("TRIGGER:-PT%dM", minutes))
		line("END:VALARM")
	}
	line("END:VEVENT")
	line("END:VCALENDAR")
	return b.String(), nil
}

// WriteEventFile renders the event and writes it under dir. The file
// name is derived from the summary and start time.
func WriteEventFile(dir string, ev Event, now time.Time) (string, error) {
	doc, err := RenderICS(ev, now)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create calendar dir %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s-%s.ics", ev.Start.Format("20060102-1504"), slugify(ev.Summary))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// escapeText escapes the characters RFC 5545 reserves in TEXT values.
func escapeText(s string) string {
	r := strings.NewReplacer(
		"\\", "\\\\",
		";", "\\;",
		",", "\\,",
		"\r\n", "\\n",
		"\n", "\\n",
	)
	return r.Replace(s)
}

// foldLine wraps content lines longer than 75 octets with CRLF + space
// continuations. Folding happens at byte boundaries chosen to not split
// a UTF-8 sequence.
func foldLine(s string) string {
	const limit = 75
	if len(s) <= limit {
		return s
	}
	var b strings.Builder
	for len(s) > limit {
		cut := limit
		for cut > 0 && !utf8Start(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = limit
		}
		b.WriteString(s[:cut])
		b.WriteString("\r\n ")
		s = s[cut:]
	}
	b.WriteString(s)
	return b.String()
}

func utf8Start(c byte) bool { return c&0xC0 != 0x80 }

var slugRe = regexp.MustCompile(`[^a-z0-9\p{Han}]+`)

func slugify(s string) string {
	s = slugRe.ReplaceAllString(strings.ToLower(s), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "event"
	}
	if r := []rune(s); len(r) > 48 {
		s = strings.TrimRight(string(r[:48]), "-")
	}
	return s
}
