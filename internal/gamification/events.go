package gamification

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DailyEventID builds an id that can be claimed once per content item per day,
// e.g. "glossary-inflation-2026-10-15".
func DailyEventID(contentType, contentID string, day time.Time) string {
	return strings.Join([]string{contentType, contentID, DateOf(day)}, "-")
}

// RepeatableEventID builds a fresh id for rewards that may be claimed many
// times a day, such as calculator use.
func RepeatableEventID(contentType string) string {
	return contentType + "-" + uuid.NewString()
}
