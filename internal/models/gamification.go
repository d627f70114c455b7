package models

// ── Persisted Ledger Records ──────────────────────────────
//
// These records are stored as JSON blobs in the key-value store. Field names
// stay camelCase so values written by the web client's local storage can be
// imported unchanged.

// Localized holds a string in each supported language.
type Localized struct {
	UZ string `json:"uz"`
	RU string `json:"ru"`
	EN string `json:"en"`
}

// StatKey names a UserStats counter.
type StatKey string

const (
	StatGlossaryReads     StatKey = "glossaryReads"
	StatNewsReads         StatKey = "newsReads"
	StatCalculatorUses    StatKey = "calculatorUses"
	StatBooksOpened       StatKey = "booksOpened"
	StatBooksCompleted    StatKey = "booksCompleted"
	StatChaptersCompleted StatKey = "chaptersCompleted"
	StatQuizzesCompleted  StatKey = "quizzesCompleted"
	StatPerfectQuizzes    StatKey = "perfectQuizzes"
	StatProjectsViewed    StatKey = "projectsViewed"
	StatTotalCoinsEarned  StatKey = "totalCoinsEarned"
)

type UserStats struct {
	GlossaryReads     int `json:"glossaryReads"`
	NewsReads         int `json:"newsReads"`
	CalculatorUses    int `json:"calculatorUses"`
	BooksOpened       int `json:"booksOpened"`
	BooksCompleted    int `json:"booksCompleted"`
	ChaptersCompleted int `json:"chaptersCompleted"`
	QuizzesCompleted  int `json:"quizzesCompleted"`
	PerfectQuizzes    int `json:"perfectQuizzes"`
	ProjectsViewed    int `json:"projectsViewed"`
	TotalCoinsEarned  int `json:"totalCoinsEarned"`
}

func (s *UserStats) counter(key StatKey) *int {
	switch key {
	case StatGlossaryReads:
		return &s.GlossaryReads
	case StatNewsReads:
		return &s.NewsReads
	case StatCalculatorUses:
		return &s.CalculatorUses
	case StatBooksOpened:
		return &s.BooksOpened
	case StatBooksCompleted:
		return &s.BooksCompleted
	case StatChaptersCompleted:
		return &s.ChaptersCompleted
	case StatQuizzesCompleted:
		return &s.QuizzesCompleted
	case StatPerfectQuizzes:
		return &s.PerfectQuizzes
	case StatProjectsViewed:
		return &s.ProjectsViewed
	case StatTotalCoinsEarned:
		return &s.TotalCoinsEarned
	}
	return nil
}

// Value returns the counter for key, or 0 for an unknown key.
func (s UserStats) Value(key StatKey) int {
	if p := s.counter(key); p != nil {
		return *p
	}
	return 0
}

// Add increases the counter for key by n. Unknown keys and negative n are ignored.
func (s *UserStats) Add(key StatKey, n int) {
	if n <= 0 {
		return
	}
	if p := s.counter(key); p != nil {
		*p += n
	}
}

// Normalize clamps every counter to be non-negative.
func (s *UserStats) Normalize() {
	for _, p := range []*int{
		&s.GlossaryReads, &s.NewsReads, &s.CalculatorUses, &s.BooksOpened,
		&s.BooksCompleted, &s.ChaptersCompleted, &s.QuizzesCompleted,
		&s.PerfectQuizzes, &s.ProjectsViewed, &s.TotalCoinsEarned,
	} {
		if *p < 0 {
			*p = 0
		}
	}
}

type StreakData struct {
	CurrentStreak        int     `json:"currentStreak"`
	LongestStreak        int     `json:"longestStreak"`
	LastActiveDate       *string `json:"lastActiveDate"`
	StreakRewardsClaimed []int   `json:"streakRewardsClaimed"`
}

// Clone returns a copy that shares no memory with s.
func (s StreakData) Clone() StreakData {
	cp := s
	if s.LastActiveDate != nil {
		d := *s.LastActiveDate
		cp.LastActiveDate = &d
	}
	cp.StreakRewardsClaimed = append([]int{}, s.StreakRewardsClaimed...)
	return cp
}

// HasClaimed reports whether the milestone reward for day was already paid.
func (s StreakData) HasClaimed(day int) bool {
	for _, d := range s.StreakRewardsClaimed {
		if d == day {
			return true
		}
	}
	return false
}

// ChallengeType is the activity category a daily challenge counts.
type ChallengeType string

const (
	ChallengeGlossary   ChallengeType = "glossary"
	ChallengeNews       ChallengeType = "news"
	ChallengeCalculator ChallengeType = "calculator"
	ChallengeBook       ChallengeType = "book"
	ChallengeQuiz       ChallengeType = "quiz"
)

type DailyChallenge struct {
	ID          string        `json:"id"`
	Type        ChallengeType `json:"type"`
	Target      int           `json:"target"`
	Current     int           `json:"current"`
	Reward      int           `json:"reward"`
	Completed   bool          `json:"completed"`
	Title       Localized     `json:"title"`
	Description Localized     `json:"description"`
}

// PendingCoinReward is the marker a client consumes to animate a payout.
type PendingCoinReward struct {
	Amount  int    `json:"amount"`
	EventID string `json:"eventId"`
}

// ── Request Types ─────────────────────────────────────────

type ClaimRewardRequest struct {
	EventID   string                 `json:"event_id"`
	EventType string                 `json:"event_type"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type SetSkinRequest struct {
	SkinID string `json:"skin_id"`
}

type SetUsernameRequest struct {
	Username string `json:"username"`
}

// ── Response Types ────────────────────────────────────────

type LevelInfo struct {
	Level    int       `json:"level"`
	Name     Localized `json:"name"`
	MinCoins int       `json:"min_coins"`
	MaxCoins int       `json:"max_coins"` // -1 for the open-ended top tier
	Rank     string    `json:"rank"`
}

type SkinInfo struct {
	ID            string    `json:"id"`
	Name          Localized `json:"name"`
	Icon          string    `json:"icon"`
	RequiredLevel int       `json:"required_level"`
	Unlocked      bool      `json:"unlocked"`
}

type BadgeInfo struct {
	ID          string    `json:"id"`
	Icon        string    `json:"icon"`
	Name        Localized `json:"name"`
	Description Localized `json:"description"`
	Rarity      string    `json:"rarity"`
}

type GamificationResponse struct {
	Coins              int                `json:"coins"`
	Level              LevelInfo          `json:"level"`
	ProgressToNext     float64            `json:"progress_to_next_level"`
	Username           string             `json:"username"`
	CurrentSkin        string             `json:"current_skin"`
	Skins              []SkinInfo         `json:"skins"`
	Stats              UserStats          `json:"stats"`
	Streak             StreakData         `json:"streak"`
	DailyChallenges    []DailyChallenge   `json:"daily_challenges"`
	UnlockedBadges     []string           `json:"unlocked_badges"`
	ClaimedEventsCount int                `json:"claimed_events_count"`
	PendingCoinReward  *PendingCoinReward `json:"pending_coin_reward,omitempty"`
	NewlyUnlockedBadge *BadgeInfo         `json:"newly_unlocked_badge,omitempty"`
}

type ClaimResponse struct {
	Rewarded           bool       `json:"rewarded"`
	Amount             int        `json:"amount"`
	Coins              int        `json:"coins"`
	Level              int        `json:"level"`
	BadgesUnlocked     []string   `json:"badges_unlocked"`
	NewlyUnlockedBadge *BadgeInfo `json:"newly_unlocked_badge,omitempty"`
}

type BadgeProgressResponse struct {
	BadgeID  string  `json:"badge_id"`
	Progress float64 `json:"progress"`
	Unlocked bool    `json:"unlocked"`
}

type EventIDResponse struct {
	EventID string `json:"event_id"`
}
