package gamification

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/finlit-network/backend/internal/models"
	"github.com/finlit-network/backend/internal/storage"
	"github.com/sirupsen/logrus"
)

// Persistence keys. They match the web client's local storage keys.
const (
	keyCoins          = "userCoins"
	keySkin           = "userSkin"
	keyUsername       = "username"
	keyStats          = "userStats"
	keyStreak         = "userStreak"
	keyChallenges     = "dailyChallenges"
	keyChallengesDate = "dailyChallengesDate"
	keyClaimedEvents  = "claimedEvents"
	keyUnlockedBadges = "unlockedBadges"
)

// DefaultUsername is shown until the user picks a display name.
const DefaultUsername = "Guest"

// ledgerState is the typed form of everything a ledger persists.
type ledgerState struct {
	Coins          int
	SkinID         string
	Username       string
	Stats          models.UserStats
	Streak         models.StreakData
	Challenges     []models.DailyChallenge
	ChallengesDate string
	ClaimedEvents  []string
	UnlockedBadges []string
}

func defaultState(today string) ledgerState {
	return ledgerState{
		SkinID:         DefaultSkinID,
		Username:       DefaultUsername,
		Streak:         models.StreakData{StreakRewardsClaimed: []int{}},
		Challenges:     GenerateDailyChallenges(today),
		ChallengesDate: today,
		ClaimedEvents:  []string{},
		UnlockedBadges: []string{InitialBadgeID},
	}
}

// Store converts ledger state to and from string values in a storage.Store.
// Every decode falls back to the documented default for that key alone.
//
// If any key could not be read, the store is degraded: the defaults it
// substituted may hide real durable state, so it stops writing altogether and
// the ledger runs from memory only.
type Store struct {
	kv  storage.Store
	log logrus.FieldLogger

	found      int
	unreadable []string
}

func NewStore(kv storage.Store, log logrus.FieldLogger) *Store {
	return &Store{kv: kv, log: log}
}

// Degraded reports whether the last Load hit read failures.
func (s *Store) Degraded() bool {
	return len(s.unreadable) > 0
}

// Unreadable lists the keys the last Load failed to read.
func (s *Store) Unreadable() []string {
	return append([]string(nil), s.unreadable...)
}

// Empty reports whether the last Load found no persisted key at all.
func (s *Store) Empty() bool {
	return s.found == 0 && !s.Degraded()
}

func (s *Store) get(key string) (string, bool) {
	raw, ok, err := s.kv.Get(key)
	if err != nil {
		s.unreadable = append(s.unreadable, key)
		return "", false
	}
	if ok {
		s.found++
	}
	return raw, ok
}

// Load restores state, substituting defaults for missing or malformed keys.
// It reports whether the daily challenges were regenerated for today.
func (s *Store) Load(today string) (ledgerState, bool) {
	st := defaultState(today)
	s.found, s.unreadable = 0, nil

	if raw, ok := s.get(keyCoins); ok {
		coins, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || coins < 0 {
			s.malformed(keyCoins, err)
		} else {
			st.Coins = coins
		}
	}

	if raw, ok := s.get(keySkin); ok {
		if _, known := findSkin(raw); known {
			st.SkinID = raw
		} else {
			s.malformed(keySkin, nil)
		}
	}

	if raw, ok := s.get(keyUsername); ok && strings.TrimSpace(raw) != "" {
		st.Username = raw
	}

	var stats models.UserStats
	if s.decode(keyStats, &stats) {
		stats.Normalize()
		st.Stats = stats
	}

	var streak models.StreakData
	if s.decode(keyStreak, &streak) {
		st.Streak = normalizeStreak(streak)
	}

	var claimed []string
	if s.decode(keyClaimedEvents, &claimed) && claimed != nil {
		st.ClaimedEvents = dedupe(claimed)
	}

	var badges []string
	if s.decode(keyUnlockedBadges, &badges) && badges != nil {
		st.UnlockedBadges = dedupe(badges)
	}

	regenerated := true
	var challenges []models.DailyChallenge
	if s.decode(keyChallenges, &challenges) && len(challenges) > 0 {
		date, _ := s.get(keyChallengesDate)
		if date == "" {
			// Values written before the date key existed carry the date in the id.
			if strings.HasPrefix(challenges[0].ID, today) {
				date = today
			}
		}
		if date == today {
			st.Challenges = challenges
			regenerated = false
		}
	}

	return st, regenerated
}

func (s *Store) decode(key string, v interface{}) bool {
	raw, ok := s.get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		s.malformed(key, err)
		return false
	}
	return true
}

func (s *Store) malformed(key string, err error) {
	entry := s.log.WithField("key", key)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("malformed persisted value, using default")
}

func (s *Store) set(key, value string) {
	if s.Degraded() {
		return
	}
	s.kv.Set(key, value)
}

func (s *Store) encode(key string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Error("encode failed, value not persisted")
		return
	}
	s.set(key, string(b))
}

func (s *Store) SaveCoins(coins int) { s.set(keyCoins, strconv.Itoa(coins)) }
func (s *Store) SaveSkin(id string) { s.set(keySkin, id) }
func (s *Store) SaveUsername(name string) { s.set(keyUsername, name) }
func (s *Store) SaveStats(st models.UserStats) { s.encode(keyStats, st) }
func (s *Store) SaveStreak(st models.StreakData) { s.encode(keyStreak, st) }
func (s *Store) SaveClaimedEvents(ids []string) { s.encode(keyClaimedEvents, ids) }
func (s *Store) SaveUnlockedBadges(ids []string) { s.encode(keyUnlockedBadges, ids) }

func (s *Store) SaveChallenges(date string, challenges []models.DailyChallenge) {
	s.encode(keyChallenges, challenges)
	s.set(keyChallengesDate, date)
}

// SaveAll writes every key. A ledger calls it when it starts from an empty
// namespace so the defaults it hands out become durable.
func (s *Store) SaveAll(st ledgerState) {
	s.SaveCoins(st.Coins)
	s.SaveSkin(st.SkinID)
	s.SaveUsername(st.Username)
	s.SaveStats(st.Stats)
	s.SaveStreak(st.Streak)
	s.SaveChallenges(st.ChallengesDate, st.Challenges)
	s.SaveClaimedEvents(st.ClaimedEvents)
	s.SaveUnlockedBadges(st.UnlockedBadges)
}

func normalizeStreak(s models.StreakData) models.StreakData {
	if s.CurrentStreak < 0 {
		s.CurrentStreak = 0
	}
	if s.LongestStreak < s.CurrentStreak {
		s.LongestStreak = s.CurrentStreak
	}
	if s.LastActiveDate != nil {
		if _, err := time.Parse(DateLayout, *s.LastActiveDate); err != nil {
			s.LastActiveDate = nil
		}
	}
	if s.StreakRewardsClaimed == nil {
		s.StreakRewardsClaimed = []int{}
	}
	return s
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
