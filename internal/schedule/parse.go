// Package schedule turns free-text reminder requests into one-shot timers.
//
// A language model is asked to restate the request as
//
//	TIME=2022-12-05T19:00:00
//	MESSAGE=Dinner
//
// which [Parse] reads. A [Scheduler] then fires the reminder once at that
// time. Reminders live in memory only and are lost on restart.
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrMalformed is returned when model output does not contain a usable
// TIME/MESSAGE pair.
var ErrMalformed = errors.New("schedule: malformed reminder")

// ErrInPast is returned for reminders whose time has already passed. It
// wraps [ErrMalformed].
var ErrInPast = fmt.Errorf("%w: time is in the past", ErrMalformed)

var (
	timeRe    = regexp.MustCompile(`(?m)^\s*TIME\s*=\s*(.+?)\s*$`)
	messageRe = regexp.MustCompile(`(?m)^\s*MESSAGE\s*=\s*(.+?)\s*$`)
)

// timeLayouts are tried in order. Layouts without a zone are read in the
// caller's location.
var timeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Parse extracts the reminder time and message from model output. Times
// without a zone are interpreted in loc; now is the reference for rejecting
// past times.
func Parse(text string, loc *time.Location, now time.Time) (time.Time, string, error) {
	tm := timeRe.FindStringSubmatch(text)
	mm := messageRe.FindStringSubmatch(text)
	if tm == nil || mm == nil {
		return time.Time{}, "", fmt.Errorf("%w: missing TIME or MESSAGE line", ErrMalformed)
	}
	msg := strings.Trim(mm[1], "\"'`")
	if msg == "" {
		return time.Time{}, "", fmt.Errorf("%w: empty message", ErrMalformed)
	}

	at, err := parseTime(strings.Trim(tm[1], "\"'`"), loc)
	if err != nil {
		return time.Time{}, "", err
	}
	if !at.After(now) {
		return time.Time{}, "", ErrInPast
	}
	return at, msg, nil
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised time %q", ErrMalformed, s)
}

// requestPrompt asks the model to restate a reminder request.
const requestPrompt = `Format text in the following way. The current time is %s.

Text: "Remind me to grab dinner at 7pm"
output:

TIME=%s
MESSAGE=Dinner

Text: "%s"
output:
`

// Prompt renders the formatting request for text at the given time.
func Prompt(text string, now time.Time) string {
	example := time.Date(now.Year(), now.Month(), now.Day(), 19, 0, 0, 0, now.Location())
	return fmt.Sprintf(requestPrompt,
		now.Format("Monday 2006-01-02 15:04"),
		example.Format("2006-01-02T15:04:05"),
		text)
}
