package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	minutesPerHour = 60
	hoursPerDay    = 24
)

var ErrInvalidConfig = errors.New("invalid schedule config")

// ScheduleConfig is the user input for one run of the like scheduler.
type ScheduleConfig struct {
	Hashtag     string `json:"hashtag"`
	WindowStart string `json:"windowStart"`
	WindowEnd   string `json:"windowEnd"`
	DailyQuota  int    `json:"dailyQuota"`
}

// Normalize trims the input, strips a leading '#' and fills empty window
// bounds and quota with defaults.
func (c ScheduleConfig) Normalize() ScheduleConfig {
	c.Hashtag = strings.TrimPrefix(strings.TrimSpace(c.Hashtag), "#")
	c.Hashtag = strings.TrimSpace(c.Hashtag)

	c.WindowStart = strings.TrimSpace(c.WindowStart)
	if c.WindowStart == "" {
		c.WindowStart = DefaultWindowStart
	}

	c.WindowEnd = strings.TrimSpace(c.WindowEnd)
	if c.WindowEnd == "" {
		c.WindowEnd = DefaultWindowEnd
	}

	if c.DailyQuota == 0 {
		c.DailyQuota = DefaultDailyQuota
	}

	return c
}

func (c ScheduleConfig) Validate() error {
	var errs []error

	if c.Hashtag == "" {
		errs = append(errs, errors.New("hashtag is empty"))
	} else if strings.ContainsAny(c.Hashtag, " \t\n/?#") {
		errs = append(errs, fmt.Errorf("hashtag %q contains forbidden characters", c.Hashtag))
	}

	if _, err := ParseClock(c.WindowStart); err != nil {
		errs = append(errs, fmt.Errorf("parse window start: %w", err))
	}

	if _, err := ParseClock(c.WindowEnd); err != nil {
		errs = append(errs, fmt.Errorf("parse window end: %w", err))
	}

	if c.DailyQuota <= 0 {
		errs = append(errs, fmt.Errorf("daily quota must be positive, got %d", c.DailyQuota))
	}

	if len(errs) != 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

// Window returns the parsed time-of-day window. The config must be valid.
func (c ScheduleConfig) Window() (Window, error) {
	start, err := ParseClock(c.WindowStart)
	if err != nil {
		return Window{}, fmt.Errorf("parse window start: %w", err)
	}

	end, err := ParseClock(c.WindowEnd)
	if err != nil {
		return Window{}, fmt.Errorf("parse window end: %w", err)
	}

	return Window{Start: start, End: end}, nil
}

// Window is an inclusive range of minutes of the day. End before Start is not
// wrapped over midnight, such a window contains nothing.
type Window struct {
	Start int
	End   int
}

func (w Window) Contains(t time.Time) bool {
	minutes := t.Hour()*minutesPerHour + t.Minute()

	return minutes >= w.Start && minutes <= w.End
}

func (w Window) String() string {
	return FormatClock(w.Start) + "-" + FormatClock(w.End)
}

// ParseClock converts "HH:MM" into minutes of the day.
func ParseClock(s string) (int, error) {
	hourStr, minuteStr, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("clock %q is not in HH:MM format", s)
	}

	if !isTwoDigits(hourStr) || !isTwoDigits(minuteStr) {
		return 0, fmt.Errorf("clock %q is not in HH:MM format", s)
	}

	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour < 0 || hour >= hoursPerDay {
		return 0, fmt.Errorf("clock %q has invalid hour", s)
	}

	minute, err := strconv.Atoi(minuteStr)
	if err != nil || minute < 0 || minute >= minutesPerHour {
		return 0, fmt.Errorf("clock %q has invalid minute", s)
	}

	return hour*minutesPerHour + minute, nil
}

func isTwoDigits(s string) bool {
	return len(s) == 2 && '0' <= s[0] && s[0] <= '9' && '0' <= s[1] && s[1] <= '9'
}

func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/minutesPerHour, minutes%minutesPerHour)
}
