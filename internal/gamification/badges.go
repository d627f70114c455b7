package gamification

import "github.com/finlit-network/backend/internal/models"

// CriterionType selects what a badge threshold is measured against.
type CriterionType string

const (
	CriterionStat   CriterionType = "stat"
	CriterionStreak CriterionType = "streak"
	CriterionLevel  CriterionType = "level"
)

type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// BadgeCriterion is met when the measured value reaches Threshold.
type BadgeCriterion struct {
	Type      CriterionType
	Stat      models.StatKey // only for CriterionStat
	Threshold int
}

// BadgeDef defines a single badge.
type BadgeDef struct {
	ID          string
	Icon        string
	Name        models.Localized
	Description models.Localized
	Rarity      Rarity
	Criterion   BadgeCriterion
}

// InitialBadgeID is unlocked for every new ledger.
const InitialBadgeID = "beginner"

// Badges is the badge catalog in evaluation order.
var Badges = []BadgeDef{
	{
		ID:          InitialBadgeID,
		Icon:        "🌟",
		Name:        models.Localized{UZ: "Yangi boshlovchi", RU: "Новичок", EN: "Beginner"},
		Description: models.Localized{UZ: "Ilovaga xush kelibsiz!", RU: "Добро пожаловать!", EN: "Welcome to the app!"},
		Rarity:      RarityCommon,
		Criterion:   BadgeCriterion{Type: CriterionLevel, Threshold: 1},
	},
	{
		ID:          "glossary_explorer",
		Icon:        "📖",
		Name:        models.Localized{UZ: "Lug'at ishqibozi", RU: "Знаток терминов", EN: "Glossary Explorer"},
		Description: models.Localized{UZ: "10 ta atamani o'qing", RU: "Прочитайте 10 терминов", EN: "Read 10 glossary terms"},
		Rarity:      RarityCommon,
		Criterion:   BadgeCriterion{Type: CriterionStat, Stat: models.StatGlossaryReads, Threshold: 10},
	},
	{
		ID:          "news_reader",
		Icon:        "📰",
		Name:        models.Localized{UZ: "Yangiliklar muxlisi", RU: "Читатель новостей", EN: "News Reader"},
		Description: models.Localized{UZ: "10 ta yangilik o'qing", RU: "Прочитайте 10 новостей", EN: "Read 10 news articles"},
		Rarity:      RarityCommon,
		Criterion:   BadgeCriterion{Type: CriterionStat, Stat: models.StatNewsReads, Threshold: 10},
	},
	{
		ID:          "bookworm",
		Icon:        "📚",
		Name:        models.Localized{UZ: "Kitobxon", RU: "Книголюб", EN: "Bookworm"},
		Description: models.Localized{UZ: "10 ta kitobni oching", RU: "Откройте 10 книг", EN: "Open 10 books"},
		Rarity:      RarityCommon,
		Criterion:   BadgeCriterion{Type: CriterionStat, Stat: models.StatBooksOpened, Threshold: 10},
	},
	{
		ID:          "saver",
		Icon:        "💰",
		Name:        models.Localized{UZ: "Tejamkor", RU: "Экономист", EN: "Saver"},
		Description: models.Localized{UZ: "Kalkulyatorni 5 marta ishlating", RU: "Используйте калькулятор 5 раз", EN: "Use calculator 5 times"},
		Rarity:      RarityRare,
		Criterion:   BadgeCriterion{Type: CriterionStat, Stat: models.StatCalculatorUses, Threshold: 5},
	},
	{
		ID:          "quiz_master",
		Icon:        "🧠",
		Name:        models.Localized{UZ: "Viktorina ustasi", RU: "Мастер викторин", EN: "Quiz Master"},
		Description: models.Localized{UZ: "5 ta viktorinani mukammal yakunlang", RU: "Пройдите 5 викторин идеально", EN: "Complete 5 quizzes perfectly"},
		Rarity:      RarityRare,
		Criterion:   BadgeCriterion{Type: CriterionStat, Stat: models.StatPerfectQuizzes, Threshold: 5},
	},
	{
		ID:          "streak_week",
		Icon:        "🔥",
		Name:        models.Localized{UZ: "Haftalik seriya", RU: "Неделя подряд", EN: "Week Warrior"},
		Description: models.Localized{UZ: "7 kun ketma-ket faol bo'ling", RU: "Будьте активны 7 дней подряд", EN: "Stay active 7 days in a row"},
		Rarity:      RarityEpic,
		Criterion:   BadgeCriterion{Type: CriterionStreak, Threshold: 7},
	},
	{
		ID:          "expert",
		Icon:        "🏆",
		Name:        models.Localized{UZ: "Mutaxassis", RU: "Эксперт", EN: "Expert"},
		Description: models.Localized{UZ: "4-darajaga yeting", RU: "Достигните 4 уровня", EN: "Reach level 4"},
		Rarity:      RarityEpic,
		Criterion:   BadgeCriterion{Type: CriterionLevel, Threshold: 4},
	},
}

// FindBadge looks up a badge by id.
func FindBadge(id string) (BadgeDef, bool) {
	for _, b := range Badges {
		if b.ID == id {
			return b, true
		}
	}
	return BadgeDef{}, false
}

// progressInputs is everything badge criteria are measured against.
type progressInputs struct {
	stats  models.UserStats
	streak int
	level  int
}

func (in progressInputs) measure(c BadgeCriterion) int {
	switch c.Type {
	case CriterionStat:
		return in.stats.Value(c.Stat)
	case CriterionStreak:
		return in.streak
	case CriterionLevel:
		return in.level
	}
	return 0
}

// qualifiedBadges returns, in catalog order, every badge whose criterion is met.
// The caller decides which of them are new.
func qualifiedBadges(in progressInputs) []string {
	var earned []string
	for _, b := range Badges {
		if in.measure(b.Criterion) >= b.Criterion.Threshold {
			earned = append(earned, b.ID)
		}
	}
	return earned
}

func badgeProgress(b BadgeDef, in progressInputs) float64 {
	if b.Criterion.Threshold <= 0 {
		return 100
	}
	return clampPercent(float64(in.measure(b.Criterion)) / float64(b.Criterion.Threshold) * 100)
}

func (b BadgeDef) info() models.BadgeInfo {
	return models.BadgeInfo{
		ID:          b.ID,
		Icon:        b.Icon,
		Name:        b.Name,
		Description: b.Description,
		Rarity:      string(b.Rarity),
	}
}
