package preference

import (
	"fmt"
	"regexp"
	"time"

	"github.com/beegy-labs/notification-service/internal/domain/notification"
)

var clockPattern = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

// ParseClock converts an HH:MM wall-clock string to minutes since
// midnight.
func ParseClock(s string) (int, error) {
	if !clockPattern.MatchString(s) {
		return 0, fmt.Errorf("%w: invalid time %q, expected HH:MM", notification.ErrValidation, s)
	}
	var h, m int
	fmt.Sscanf(s, "%d:%d", &h, &m)
	return h*60 + m, nil
}

// ValidTimezone reports whether name resolves in the platform IANA
// database. The empty string is rejected even though the platform maps
// it to UTC.
func ValidTimezone(name string) bool {
	if name == "" {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}

// Validate rejects administrative writes carrying malformed fields.
// Evaluation is more forgiving, see Contains.
func (q QuietHours) Validate() error {
	if _, err := ParseClock(q.StartTime); err != nil {
		return err
	}
	if _, err := ParseClock(q.EndTime); err != nil {
		return err
	}
	if !ValidTimezone(q.Timezone) {
		return fmt.Errorf("%w: invalid timezone %q", notification.ErrValidation, q.Timezone)
	}
	return nil
}

// Contains reports whether at falls inside the quiet window. The start
// minute is inside, the end minute is outside. A window whose start is
// later than its end straddles midnight. Unknown timezones evaluate in
// UTC; DST is whatever the platform computes for the instant.
func (q QuietHours) Contains(at time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, err := ParseClock(q.StartTime)
	if err != nil {
		return false
	}
	end, err := ParseClock(q.EndTime)
	if err != nil {
		return false
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := at.In(loc)
	now := local.Hour()*60 + local.Minute()
	if start > end {
		return now >= start || now < end
	}
	return now >= start && now < end
}

// NextEnd returns the next instant the quiet window closes, at minute
// resolution. ok is false when quiet hours are disabled or the window is
// malformed.
func (q QuietHours) NextEnd(from time.Time) (time.Time, bool) {
	if !q.Enabled {
		return time.Time{}, false
	}
	end, err := ParseClock(q.EndTime)
	if err != nil {
		return time.Time{}, false
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := from.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), end/60, end%60, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next, true
}
