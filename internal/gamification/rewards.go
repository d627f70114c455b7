package gamification

import (
	"sort"

	"github.com/finlit-network/backend/internal/models"
)

// EventType identifies a kind of rewardable activity.
type EventType string

const (
	EventGlossaryRead           EventType = "GLOSSARY_READ"
	EventNewsRead               EventType = "NEWS_READ"
	EventCalculatorUse          EventType = "CALCULATOR_USE"
	EventBookOpen               EventType = "BOOK_OPEN"
	EventBookComplete           EventType = "BOOK_COMPLETE"
	EventChapterComplete        EventType = "CHAPTER_COMPLETE"
	EventQuizComplete           EventType = "QUIZ_COMPLETE"
	EventQuizPerfect            EventType = "QUIZ_PERFECT"
	EventProjectView            EventType = "PROJECT_VIEW"
	EventDailyChallengeComplete EventType = "DAILY_CHALLENGE_COMPLETE"
)

// rewardRule describes what a successful claim of one event type does.
type rewardRule struct {
	Amount    int
	Stats     []models.StatKey
	Challenge models.ChallengeType // empty when no daily challenge counts it
}

var rewardTable = map[EventType]rewardRule{
	EventGlossaryRead:    {Amount: 5, Stats: []models.StatKey{models.StatGlossaryReads}, Challenge: models.ChallengeGlossary},
	EventNewsRead:        {Amount: 10, Stats: []models.StatKey{models.StatNewsReads}, Challenge: models.ChallengeNews},
	EventCalculatorUse:   {Amount: 10, Stats: []models.StatKey{models.StatCalculatorUses}, Challenge: models.ChallengeCalculator},
	EventBookOpen:        {Amount: 5, Stats: []models.StatKey{models.StatBooksOpened}, Challenge: models.ChallengeBook},
	EventBookComplete:    {Amount: 50, Stats: []models.StatKey{models.StatBooksCompleted}, Challenge: models.ChallengeBook},
	EventChapterComplete: {Amount: 15, Stats: []models.StatKey{models.StatChaptersCompleted}, Challenge: models.ChallengeBook},
	EventQuizComplete:    {Amount: 20, Stats: []models.StatKey{models.StatQuizzesCompleted}, Challenge: models.ChallengeQuiz},
	// A perfect quiz is also a completed quiz.
	EventQuizPerfect:            {Amount: 50, Stats: []models.StatKey{models.StatQuizzesCompleted, models.StatPerfectQuizzes}, Challenge: models.ChallengeQuiz},
	EventProjectView:            {Amount: 5, Stats: []models.StatKey{models.StatProjectsViewed}},
	EventDailyChallengeComplete: {Amount: 25},
}

// RewardAmount returns the coins paid for an event type.
func RewardAmount(t EventType) (int, bool) {
	rule, ok := rewardTable[t]
	return rule.Amount, ok
}

// ParseEventType validates a raw event type string.
func ParseEventType(raw string) (EventType, bool) {
	t := EventType(raw)
	_, ok := rewardTable[t]
	return t, ok
}

// streakMilestones maps a streak length to its one-time coin reward.
var streakMilestones = map[int]int{
	1:  10,
	3:  30,
	7:  100,
	14: 200,
	30: 500,
}

// StreakMilestoneReward returns the reward for a milestone day.
func StreakMilestoneReward(day int) (int, bool) {
	amount, ok := streakMilestones[day]
	return amount, ok
}

// StreakMilestones returns the milestone days in ascending order.
func StreakMilestones() []int {
	days := make([]int, 0, len(streakMilestones))
	for d := range streakMilestones {
		days = append(days, d)
	}
	sort.Ints(days)
	return days
}
