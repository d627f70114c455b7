package gamification

import (
	"hash/fnv"
	"math/rand/v2"

	"github.com/finlit-network/backend/internal/models"
)

// challengeTemplate describes one daily challenge before its target is drawn.
type challengeTemplate struct {
	Type        models.ChallengeType
	BaseTarget  int
	Spread      int // target is BaseTarget + [0, Spread)
	Reward      int
	Title       models.Localized
	Description models.Localized
}

// Keep this order stable: targets are drawn from the seeded generator in sequence.
var challengeTemplates = []challengeTemplate{
	{
		Type:        models.ChallengeGlossary,
		BaseTarget:  3,
		Spread:      3,
		Reward:      25,
		Title:       models.Localized{UZ: "Lug'at o'rganish", RU: "Изучить глоссарий", EN: "Learn Glossary"},
		Description: models.Localized{UZ: "atama o'qing", RU: "терминов прочитайте", EN: "terms read"},
	},
	{
		Type:        models.ChallengeNews,
		BaseTarget:  2,
		Spread:      2,
		Reward:      30,
		Title:       models.Localized{UZ: "Yangiliklar o'qish", RU: "Читать новости", EN: "Read News"},
		Description: models.Localized{UZ: "yangilik o'qing", RU: "новостей прочитайте", EN: "news articles"},
	},
	{
		Type:        models.ChallengeCalculator,
		BaseTarget:  1,
		Reward:      20,
		Title:       models.Localized{UZ: "Kalkulyator ishlatish", RU: "Использовать калькулятор", EN: "Use Calculator"},
		Description: models.Localized{UZ: "kalkulyatorni ishlating", RU: "раз используйте калькулятор", EN: "calculator uses"},
	},
}

// seedForDate hashes a YYYY-MM-DD date string into a PRNG seed.
func seedForDate(date string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(date))
	return h.Sum64()
}

// GenerateDailyChallenges builds the challenge set for date. The same date
// always yields the same targets.
func GenerateDailyChallenges(date string) []models.DailyChallenge {
	seed := seedForDate(date)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	out := make([]models.DailyChallenge, 0, len(challengeTemplates))
	for _, tpl := range challengeTemplates {
		target := tpl.BaseTarget
		if tpl.Spread > 1 {
			target += rng.IntN(tpl.Spread)
		}
		out = append(out, models.DailyChallenge{
			ID:          date + "-" + string(tpl.Type),
			Type:        tpl.Type,
			Target:      target,
			Reward:      tpl.Reward,
			Title:       tpl.Title,
			Description: tpl.Description,
		})
	}
	return out
}

// advanceChallenges counts one matching activity toward every pending
// challenge of type t. It returns the ids of challenges that just completed.
func advanceChallenges(challenges []models.DailyChallenge, t models.ChallengeType) []string {
	if t == "" {
		return nil
	}
	var completed []string
	for i := range challenges {
		c := &challenges[i]
		if c.Completed || c.Type != t {
			continue
		}
		if c.Current < c.Target {
			c.Current++
		}
		if c.Current >= c.Target {
			c.Completed = true
			completed = append(completed, c.ID)
		}
	}
	return completed
}

func cloneChallenges(in []models.DailyChallenge) []models.DailyChallenge {
	return append([]models.DailyChallenge(nil), in...)
}
