package gamification

import (
	"math"

	"github.com/finlit-network/backend/internal/models"
)

// Rank is the cosmetic rank band of a level tier.
type Rank string

const (
	RankBronze   Rank = "bronze"
	RankSilver   Rank = "silver"
	RankGold     Rank = "gold"
	RankChampion Rank = "champion"
	RankLegend   Rank = "legend"
)

// Unbounded marks the open upper end of the top tier.
const Unbounded = math.MaxInt

// LevelTier is a closed coin interval [MinCoins, MaxCoins].
type LevelTier struct {
	Level    int
	Name     models.Localized
	MinCoins int
	MaxCoins int
	Rank     Rank
}

// levelTiers must stay sorted, contiguous, and end with an Unbounded tier.
var levelTiers = []LevelTier{
	{Level: 1, Name: models.Localized{UZ: "Yangi boshlovchi", RU: "Новичок", EN: "Beginner"}, MinCoins: 0, MaxCoins: 99, Rank: RankBronze},
	{Level: 2, Name: models.Localized{UZ: "O'rganuvchi", RU: "Ученик", EN: "Learner"}, MinCoins: 100, MaxCoins: 299, Rank: RankBronze},
	{Level: 3, Name: models.Localized{UZ: "Bilimdon", RU: "Знаток", EN: "Scholar"}, MinCoins: 300, MaxCoins: 599, Rank: RankSilver},
	{Level: 4, Name: models.Localized{UZ: "Mutaxassis", RU: "Специалист", EN: "Expert"}, MinCoins: 600, MaxCoins: 999, Rank: RankSilver},
	{Level: 5, Name: models.Localized{UZ: "Usta", RU: "Мастер", EN: "Master"}, MinCoins: 1000, MaxCoins: 1499, Rank: RankGold},
	{Level: 6, Name: models.Localized{UZ: "Chempion", RU: "Чемпион", EN: "Champion"}, MinCoins: 1500, MaxCoins: 2499, Rank: RankChampion},
	{Level: 7, Name: models.Localized{UZ: "Qahramon", RU: "Герой", EN: "Hero"}, MinCoins: 2500, MaxCoins: 3999, Rank: RankChampion},
	{Level: 8, Name: models.Localized{UZ: "Afsona", RU: "Легенда", EN: "Legend"}, MinCoins: 4000, MaxCoins: Unbounded, Rank: RankLegend},
}

// LevelTiers returns a copy of the tier table.
func LevelTiers() []LevelTier {
	return append([]LevelTier(nil), levelTiers...)
}

// LevelForCoins returns the tier whose interval contains coins.
// Negative balances resolve to the first tier.
func LevelForCoins(coins int) LevelTier {
	for i := len(levelTiers) - 1; i >= 0; i-- {
		if coins >= levelTiers[i].MinCoins {
			return levelTiers[i]
		}
	}
	return levelTiers[0]
}

// ProgressToNextLevel returns how far coins have traveled through the
// current tier, as a percentage in [0, 100]. The top tier reports 100.
func ProgressToNextLevel(coins int) float64 {
	tier := LevelForCoins(coins)
	if tier.MaxCoins == Unbounded {
		return 100
	}
	span := tier.MaxCoins - tier.MinCoins + 1
	return clampPercent(float64(coins-tier.MinCoins) / float64(span) * 100)
}

func clampPercent(p float64) float64 {
	if p < 0 || math.IsNaN(p) {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func (t LevelTier) info() models.LevelInfo {
	maxCoins := t.MaxCoins
	if maxCoins == Unbounded {
		maxCoins = -1
	}
	return models.LevelInfo{
		Level:    t.Level,
		Name:     t.Name,
		MinCoins: t.MinCoins,
		MaxCoins: maxCoins,
		Rank:     string(t.Rank),
	}
}

// ── Skins ───────────────────────────────────────────────

// DefaultSkinID is equipped when nothing else is.
const DefaultSkinID = "default"

type Skin struct {
	ID            string
	Name          models.Localized
	Icon          string
	RequiredLevel int
}

var skinCatalog = []Skin{
	{ID: DefaultSkinID, Name: models.Localized{UZ: "Oddiy", RU: "Обычный", EN: "Default"}, Icon: "🐿️", RequiredLevel: 1},
	{ID: "student", Name: models.Localized{UZ: "Talaba", RU: "Студент", EN: "Student"}, Icon: "🎓", RequiredLevel: 2},
	{ID: "businessman", Name: models.Localized{UZ: "Biznesmen", RU: "Бизнесмен", EN: "Businessman"}, Icon: "👔", RequiredLevel: 3},
	{ID: "scientist", Name: models.Localized{UZ: "Olim", RU: "Учёный", EN: "Scientist"}, Icon: "🔬", RequiredLevel: 4},
	{ID: "astronaut", Name: models.Localized{UZ: "Kosmonavt", RU: "Космонавт", EN: "Astronaut"}, Icon: "🚀", RequiredLevel: 5},
	{ID: "wizard", Name: models.Localized{UZ: "Sehrgar", RU: "Волшебник", EN: "Wizard"}, Icon: "🧙", RequiredLevel: 6},
	{ID: "king", Name: models.Localized{UZ: "Qirol", RU: "Король", EN: "King"}, Icon: "👑", RequiredLevel: 7},
	{ID: "dragon", Name: models.Localized{UZ: "Ajdar", RU: "Дракон", EN: "Dragon"}, Icon: "🐉", RequiredLevel: 8},
}

func findSkin(id string) (Skin, bool) {
	for _, s := range skinCatalog {
		if s.ID == id {
			return s, true
		}
	}
	return Skin{}, false
}

// SkinsForLevel lists every skin with its unlocked flag derived from level.
func SkinsForLevel(level int) []models.SkinInfo {
	out := make([]models.SkinInfo, 0, len(skinCatalog))
	for _, s := range skinCatalog {
		out = append(out, models.SkinInfo{
			ID:            s.ID,
			Name:          s.Name,
			Icon:          s.Icon,
			RequiredLevel: s.RequiredLevel,
			Unlocked:      level >= s.RequiredLevel,
		})
	}
	return out
}
