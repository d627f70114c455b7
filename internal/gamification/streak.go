package gamification

import (
	"time"

	"github.com/finlit-network/backend/internal/models"
)

// DateLayout is the calendar-day format used for streaks, challenge ids and event ids.
const DateLayout = "2006-01-02"

// DateOf returns the UTC calendar day of t.
func DateOf(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

func previousDay(date string) string {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return ""
	}
	return d.AddDate(0, 0, -1).Format(DateLayout)
}

// nextStreak applies one day of activity on today to s.
// It reports false when the streak is unchanged.
func nextStreak(s models.StreakData, today string) (models.StreakData, bool) {
	if s.LastActiveDate != nil && *s.LastActiveDate == today {
		return s, false
	}

	yesterday := previousDay(today)
	next := s.Clone()

	switch {
	case s.LastActiveDate != nil && *s.LastActiveDate == yesterday:
		next.CurrentStreak = s.CurrentStreak + 1
	case s.LastActiveDate == nil || *s.LastActiveDate < yesterday:
		// First activity ever, or at least one missed day.
		next.CurrentStreak = 1
	default:
		// Last activity is after today; the clock moved backwards.
		return s, false
	}

	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}
	day := today
	next.LastActiveDate = &day
	return next, true
}
