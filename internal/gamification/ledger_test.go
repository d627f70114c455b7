package gamification

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/finlit-network/backend/internal/models"
	"github.com/finlit-network/backend/internal/storage"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) AddDays(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.AddDate(0, 0, n)
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func quietLogger() logrus.FieldLogger {
	log, _ := logtest.NewNullLogger()
	return log
}

func newTestLedger(t *testing.T, kv storage.Store) (*Ledger, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: day0}
	return NewLedger(kv, WithClock(clock.Now), WithLogger(quietLogger())), clock
}

func seedStreak(t *testing.T, kv *storage.MapStore, s models.StreakData) {
	t.Helper()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	kv.Set(keyStreak, string(b))
}

func strPtr(s string) *string { return &s }

// ── Claims ──────────────────────────────────────────────

func TestClaimReward_Idempotent(t *testing.T) {
	tests := []struct {
		eventType EventType
		amount    int
	}{
		{EventGlossaryRead, 5},
		{EventNewsRead, 10},
		{EventCalculatorUse, 10},
		{EventBookOpen, 5},
		{EventBookComplete, 50},
		{EventChapterComplete, 15},
		{EventQuizComplete, 20},
		{EventQuizPerfect, 50},
		{EventProjectView, 5},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			l, _ := newTestLedger(t, storage.NewMapStore())

			assert.True(t, l.ClaimReward("evt-1", tt.eventType, nil))
			assert.False(t, l.ClaimReward("evt-1", tt.eventType, nil))
			assert.Equal(t, tt.amount, l.Coins())
			assert.True(t, l.HasClaimed("evt-1"))
			assert.Equal(t, []string{"evt-1"}, l.ClaimedEvents())
		})
	}
}

func TestClaimReward_UnknownEventType(t *testing.T) {
	l, _ := newTestLedger(t, storage.NewMapStore())

	assert.False(t, l.ClaimReward("evt-1", EventType("DANCE"), nil))
	assert.Equal(t, 0, l.Coins())
	assert.False(t, l.HasClaimed("evt-1"))
}

func TestClaimReward_DuplicateAcrossTypes(t *testing.T) {
	l, _ := newTestLedger(t, storage.NewMapStore())

	require.True(t, l.ClaimReward("shared", EventGlossaryRead, nil))
	assert.False(t, l.ClaimReward("shared", EventBookComplete, nil))
	assert.Equal(t, 5, l.Coins())
	assert.Equal(t, 0, l.Stats().BooksCompleted)
}

func TestClaimReward_TenGlossaryReads(t *testing.T) {
	l, _ := newTestLedger(t, storage.NewMapStore())

	for i := 0; i < 10; i++ {
		require.True(t, l.ClaimReward(fmt.Sprintf("glossary-%d", i), EventGlossaryRead, nil))
	}

	assert.Equal(t, 50, l.Coins())
	assert.Equal(t, 10, l.Stats().GlossaryReads)
	assert.Equal(t, 50, l.Stats().TotalCoinsEarned)
	assert.Equal(t, 1, l.CurrentLevel().Level)
	assert.True(t, l.IsBadgeUnlocked("glossary_explorer"))
	assert.False(t, l.IsBadgeUnlocked("bookworm"))

	badge, ok := l.NewlyUnlockedBadge()
	require.True(t, ok)
	assert.Equal(t, "glossary_explorer", badge.ID)

	// The glossary challenge completes but its bonus is claimed separately.
	for _, c := range l.DailyChallenges() {
		if c.Type == models.ChallengeGlossary {
			assert.True(t, c.Completed)
			assert.Equal(t, c.Target, c.Current)
		}
	}
}

func TestClaimReward_QuizPerfectCountsBothStats(t *testing.T) {
	l, _ := newTestLedger(t, storage.NewMapStore())

	require.True(t, l.ClaimReward("quiz-1", EventQuizPerfect, nil))

	stats := l.Stats()
	assert.Equal(t, 50, l.Coins())
	assert.Equal(t, 1, stats.PerfectQuizzes)
	assert.Equal(t, 1, stats.QuizzesCompleted)
}

func TestClaimReward_PendingCoinReward(t *testing.T) {
	l, _ := newTestLedger(t, storage.NewMapStore())
	assert.Nil(t, l.PendingCoinReward())

	require.True(t, l.ClaimReward("news-1", EventNewsRead, nil))
	assert.Equal(t, &models.PendingCoinReward{Amount: 10, EventID: "news-1"}, l.PendingCoinReward())

	l.ClearPendingCoinReward()
	assert.Nil(t, l.PendingCoinReward())
}

func TestClaimReward_ConcurrentSameEvent(t *testing.T) {
	l, _ := newTestLedger(t, storage.NewMapStore())

	var paid int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.ClaimReward("once", EventGlossaryRead, nil) {
				atomic.AddInt32(&paid, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), paid)
	assert.Equal(t, 5, l.Coins())
	assert.Equal(t, 1, l.Stats().GlossaryReads)
}

// ── Daily challenges ────────────────────────────────────

func TestClaimChallengeReward(t *testing.T) {
	l, _ := newTestLedger(t, storage.NewMapStore())
	calcID := DateOf(day0) + "-" + string(models.ChallengeCalculator)

	assert.False(t, l.ClaimChallengeReward(calcID), "incomplete challenge must not pay")
	assert.False(t, l.ClaimChallengeReward("nope"), "unknown challenge must not pay")

	require.True(t, l.ClaimReward("calc-1", EventCalculatorUse, nil))
	assert.True(t, l.ClaimChallengeReward(calcID))
	assert.False(t, l.ClaimChallengeReward(calcID))

	assert.Equal(t, 30, l.Coins())
	assert.True(t, l.HasClaimed(ChallengeEventID(calcID)))
	assert.Equal(t, 1, l.Stats().CalculatorUses)
}

func TestDailyChallenges_RegenerateOnNewDay(t *testing.T) {
	l, clock := newTestLedger(t, storage.NewMapStore())

	require.True(t, l.ClaimReward("g-1", EventGlossaryRead, nil))
	before := l.DailyChallenges()
	require.Equal(t, 1, before[0].Current)

	clock.AddDays(1)
	after := l.DailyChallenges()

	require.Len(t, after, len(challengeTemplates))
	today := DateOf(clock.Now())
	for _, c := range after {
		assert.True(t, strings.HasPrefix(c.ID, today), c.ID)
		assert.Zero(t, c.Current)
		assert.False(t, c.Completed)
	}
	assert.Equal(t, GenerateDailyChallenges(today), after)
}

func TestDailyChallenges_ProgressStopsAtTarget(t *testing.T) {
	l, _ := newTestLedger(t, storage.NewMapStore())

	for i := 0; i < 10; i++ {
		require.True(t, l.ClaimReward(fmt.Sprintf("n-%d", i), EventNewsRead, nil))
	}
	for _, c := range l.DailyChallenges() {
		assert.LessOrEqual(t, c.Current, c.Target, c.ID)
	}
}

// ── Streak ──────────────────────────────────────────────

func TestUpdateStreak_Rollover(t *testing.T) {
	l, clock := newTestLedger(t, storage.NewMapStore())

	require.True(t, l.UpdateStreak())
	assert.Equal(t, 1, l.Streak().CurrentStreak)

	// Same day is a no-op.
	assert.False(t, l.UpdateStreak())
	assert.Equal(t, 1, l.Streak().CurrentStreak)

	clock.AddDays(1)
	require.True(t, l.UpdateStreak())
	assert.Equal(t, 2, l.Streak().CurrentStreak)

	clock.AddDays(3)
	require.True(t, l.UpdateStreak())
	s := l.Streak()
	assert.Equal(t, 1, s.CurrentStreak)
	assert.Equal(t, 2, s.LongestStreak)
	require.NotNil(t, s.LastActiveDate)
	assert.Equal(t, DateOf(clock.Now()), *s.LastActiveDate)
}

func TestUpdateStreak_FutureLastActiveDate(t *testing.T) {
	kv := storage.NewMapStore()
	seedStreak(t, kv, models.StreakData{
		CurrentStreak:  4,
		LongestStreak:  4,
		LastActiveDate: strPtr("2026-03-12"),
	})
	l, _ := newTestLedger(t, kv)

	assert.False(t, l.UpdateStreak())
	assert.Equal(t, 4, l.Streak().CurrentStreak)
}

func TestClaimStreakReward_Milestone(t *testing.T) {
	kv := storage.NewMapStore()
	seedStreak(t, kv, models.StreakData{
		CurrentStreak:  7,
		LongestStreak:  7,
		LastActiveDate: strPtr(DateOf(day0)),
	})
	l, clock := newTestLedger(t, kv)

	assert.False(t, l.ClaimStreakReward(5), "5 is not a milestone")
	assert.False(t, l.ClaimStreakReward(14), "streak has not reached 14")

	require.True(t, l.ClaimStreakReward(7))
	assert.Equal(t, 100, l.Coins())
	assert.Equal(t, []int{7}, l.Streak().StreakRewardsClaimed)
	assert.Equal(t, 0, l.Stats().TotalCoinsEarned)

	assert.False(t, l.ClaimStreakReward(7))

	clock.AddDays(1)
	require.True(t, l.UpdateStreak())
	assert.False(t, l.ClaimStreakReward(7))
	assert.Equal(t, 100, l.Coins())

	assert.True(t, l.ClaimStreakReward(3))
	assert.Equal(t, 130, l.Coins())
}

// ── Badges ──────────────────────────────────────────────

func TestNewLedger_InitialBadge(t *testing.T) {
	l, _ := newTestLedger(t, storage.NewMapStore())

	assert.Equal(t, []string{InitialBadgeID}, l.UnlockedBadges())
	_, ok := l.NewlyUnlockedBadge()
	assert.False(t, ok)
}

func TestBadges_NeverRemoved(t *testing.T) {
	kv := storage.NewMapStore()
	kv.Set(keyUnlockedBadges, `["beginner","quiz_master","retired_badge"]`)
	l, _ := newTestLedger(t, kv)

	require.True(t, l.ClaimReward("g-1", EventGlossaryRead, nil))
	l.CheckAndUnlockBadges()

	unlocked := l.UnlockedBadges()
	assert.Contains(t, unlocked, "quiz_master")
	assert.Contains(t, unlocked, "retired_badge")
	assert.True(t, l.IsBadgeUnlocked("quiz_master"))
}

func TestBadges_StreakAndLevelCriteria(t *testing.T) {
	kv := storage.NewMapStore()
	seedStreak(t, kv, models.StreakData{CurrentStreak: 7, LongestStreak: 7, LastActiveDate: strPtr(DateOf(day0))})
	kv.Set(keyCoins, "650")
	l, _ := newTestLedger(t, kv)

	assert.True(t, l.IsBadgeUnlocked("streak_week"))
	assert.True(t, l.IsBadgeUnlocked("expert"))
}

func TestBadgeProgress(t *testing.T) {
	l, _ := newTestLedger(t, storage.NewMapStore())

	for i := 0; i < 3; i++ {
		require.True(t, l.ClaimReward(fmt.Sprintf("calc-%d", i), EventCalculatorUse, nil))
	}

	assert.InDelta(t, 60, l.BadgeProgress("saver"), 0.001)
	assert.InDelta(t, 0, l.BadgeProgress("bookworm"), 0.001)
	assert.InDelta(t, 100, l.BadgeProgress(InitialBadgeID), 0.001)
	assert.Zero(t, l.BadgeProgress("missing"))
}

func TestClearNewlyUnlockedBadge(t *testing.T) {
	l, _ := newTestLedger(t, storage.NewMapStore())
	for i := 0; i < 5; i++ {
		require.True(t, l.ClaimReward(fmt.Sprintf("calc-%d", i), EventCalculatorUse, nil))
	}

	badge, ok := l.NewlyUnlockedBadge()
	require.True(t, ok)
	assert.Equal(t, "saver", badge.ID)

	l.ClearNewlyUnlockedBadge()
	_, ok = l.NewlyUnlockedBadge()
	assert.False(t, ok)
	assert.True(t, l.IsBadgeUnlocked("saver"))
}

// ── Profile ─────────────────────────────────────────────

func TestSetSkin(t *testing.T) {
	l, _ := newTestLedger(t, storage.NewMapStore())

	assert.False(t, l.SetSkin("student"), "student needs level 2")
	assert.False(t, l.SetSkin("ghost"))
	assert.Equal(t, DefaultSkinID, l.CurrentSkin())

	require.True(t, l.ClaimReward("book-1", EventBookComplete, nil))
	require.True(t, l.ClaimReward("book-2", EventBookComplete, nil))
	require.Equal(t, 2, l.CurrentLevel().Level)

	assert.True(t, l.SetSkin("student"))
	assert.Equal(t, "student", l.CurrentSkin())
}

func TestSetUsername(t *testing.T) {
	tests := []struct {
		name string
		in   string
		ok   bool
		want string
	}{
		{"trimmed", "  Aziza  ", true, "Aziza"},
		{"cyrillic", "Дилноза", true, "Дилноза"},
		{"blank", "   ", false, DefaultUsername},
		{"too long", strings.Repeat("x", MaxUsernameLength+1), false, DefaultUsername},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newTestLedger(t, storage.NewMapStore())
			assert.Equal(t, tt.ok, l.SetUsername(tt.in))
			assert.Equal(t, tt.want, l.Username())
		})
	}
}

// ── Levels ──────────────────────────────────────────────

func TestLedgerProgressToNextLevel(t *testing.T) {
	kv := storage.NewMapStore()
	kv.Set(keyCoins, "4200")
	l, _ := newTestLedger(t, kv)

	assert.Equal(t, 8, l.CurrentLevel().Level)
	assert.Equal(t, float64(100), l.ProgressToNextLevel())
}

// ── Persistence ─────────────────────────────────────────

func TestLedger_PersistenceRoundTrip(t *testing.T) {
	kv := storage.NewMapStore()
	l, clock := newTestLedger(t, kv)

	require.True(t, l.UpdateStreak())
	require.True(t, l.ClaimStreakReward(1))
	require.True(t, l.ClaimReward("quiz-1", EventQuizPerfect, nil))
	require.True(t, l.ClaimReward("quiz-2", EventQuizPerfect, nil))
	require.True(t, l.ClaimReward("g-1", EventGlossaryRead, nil))
	require.True(t, l.SetSkin("student"))
	require.True(t, l.SetUsername("Bekzod"))

	restored := NewLedger(kv, WithClock(clock.Now), WithLogger(quietLogger()))

	want, got := l.Snapshot(), restored.Snapshot()
	assert.Equal(t, want.Coins, got.Coins)
	assert.Equal(t, want.Level, got.Level)
	assert.Equal(t, want.Username, got.Username)
	assert.Equal(t, want.SkinID, got.SkinID)
	assert.Equal(t, want.Stats, got.Stats)
	assert.Equal(t, want.Streak, got.Streak)
	assert.Equal(t, want.DailyChallenges, got.DailyChallenges)
	assert.Equal(t, want.UnlockedBadges, got.UnlockedBadges)
	assert.Equal(t, want.ClaimedEvents, got.ClaimedEvents)

	assert.False(t, restored.ClaimReward("quiz-1", EventQuizPerfect, nil))
	assert.Nil(t, got.PendingCoinReward, "pending reward is not persisted")
}

func TestNewLedger_StaleChallengesRegenerated(t *testing.T) {
	kv := storage.NewMapStore()
	yesterday := DateOf(day0.AddDate(0, 0, -1))
	old := GenerateDailyChallenges(yesterday)
	old[0].Current = 2
	b, err := json.Marshal(old)
	require.NoError(t, err)
	kv.Set(keyChallenges, string(b))
	kv.Set(keyChallengesDate, yesterday)

	l, _ := newTestLedger(t, kv)

	assert.Equal(t, GenerateDailyChallenges(DateOf(day0)), l.DailyChallenges())
	assert.Equal(t, DateOf(day0), kv.Values[keyChallengesDate])
}

// ── Outcomes ────────────────────────────────────────────

func TestClaim_Outcomes(t *testing.T) {
	kv := storage.NewMapStore()
	seedStreak(t, kv, models.StreakData{
		CurrentStreak:        3,
		LongestStreak:        3,
		LastActiveDate:       strPtr(DateOf(day0)),
		StreakRewardsClaimed: []int{1},
	})
	l, _ := newTestLedger(t, kv)
	calcID := DateOf(day0) + "-" + string(models.ChallengeCalculator)

	tests := []struct {
		name string
		run  func() ClaimResult
		want ClaimOutcome
	}{
		{"first claim", func() ClaimResult { return l.Claim("news-1", EventNewsRead, nil) }, OutcomePaid},
		{"repeat claim", func() ClaimResult { return l.Claim("news-1", EventNewsRead, nil) }, OutcomeDuplicate},
		{"unknown type", func() ClaimResult { return l.Claim("x-1", EventType("BOGUS"), nil) }, OutcomeRejected},
		{"streak not reached", func() ClaimResult { return l.ClaimStreak(7) }, OutcomeRejected},
		{"streak already paid", func() ClaimResult { return l.ClaimStreak(1) }, OutcomeDuplicate},
		{"streak reached", func() ClaimResult { return l.ClaimStreak(3) }, OutcomePaid},
		{"challenge incomplete", func() ClaimResult { return l.ClaimChallenge(calcID) }, OutcomeRejected},
		{"challenge unknown", func() ClaimResult { return l.ClaimChallenge("nope") }, OutcomeRejected},
	}

	for _, tt := range tests {
		res := tt.run()
		assert.Equal(t, tt.want, res.Outcome, tt.name)
		assert.Equal(t, tt.want == OutcomePaid, res.Rewarded, tt.name)
	}
}

func TestRetiredLedger_RefusesMutations(t *testing.T) {
	kv := storage.NewMapStore()
	l, clock := newTestLedger(t, kv)
	require.True(t, l.ClaimReward("news-1", EventNewsRead, nil))

	clock.Add(time.Hour)
	assert.False(t, l.retireIfIdle(clock.Now().Add(-2*time.Hour)), "recently used ledger stays live")
	require.True(t, l.retireIfIdle(clock.Now()))

	res := l.Claim("news-2", EventNewsRead, nil)
	assert.Equal(t, OutcomeRetired, res.Outcome)
	assert.False(t, res.Rewarded)
	assert.False(t, l.UpdateStreak())
	assert.False(t, l.SetUsername("Malika"))
	assert.False(t, l.SetSkin(DefaultSkinID))

	// Nothing reached the store after retirement.
	assert.Equal(t, "10", kv.Values[keyCoins])
	assert.Equal(t, `["news-1"]`, kv.Values[keyClaimedEvents])
	assert.Equal(t, DefaultUsername, kv.Values[keyUsername])

	// A day later even the challenge rollover stays in memory.
	clock.AddDays(1)
	l.Snapshot()
	assert.Equal(t, DateOf(day0), kv.Values[keyChallengesDate])
}

// ── Load failures ───────────────────────────────────────

// flakyStore fails every read while failing is set.
type flakyStore struct {
	*storage.MapStore
	failing atomic.Bool
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MapStore: storage.NewMapStore()}
}

func (s *flakyStore) Get(key string) (string, bool, error) {
	if s.failing.Load() {
		return "", false, fmt.Errorf("%w: read %s: connection reset", storage.ErrUnavailable, key)
	}
	return s.MapStore.Get(key)
}

func TestNewLedger_UnreadableStoreIsNeverOverwritten(t *testing.T) {
	kv := newFlakyStore()
	kv.Set(keyCoins, "1000")
	kv.Set(keyClaimedEvents, `["glossary-x"]`)

	kv.failing.Store(true)
	l, _ := newTestLedger(t, kv)
	kv.failing.Store(false)

	assert.True(t, l.Degraded())
	assert.Equal(t, 0, l.Coins(), "defaults stand in while the store is unreadable")

	// The claimed set is unknown, so nothing can be paid safely.
	res := l.Claim("glossary-x", EventGlossaryRead, nil)
	assert.Equal(t, OutcomeUnavailable, res.Outcome)
	assert.False(t, res.Rewarded)
	assert.Equal(t, OutcomeUnavailable, l.ClaimStreak(1).Outcome)

	// Profile changes still apply in memory but are not written.
	require.True(t, l.SetUsername("Malika"))
	assert.Equal(t, "Malika", l.Username())

	assert.Equal(t, "1000", kv.Values[keyCoins])
	assert.Equal(t, `["glossary-x"]`, kv.Values[keyClaimedEvents])
	assert.NotContains(t, kv.Values, keyUsername)

	// Once the backend answers again a fresh load sees the real state.
	reloaded, _ := newTestLedger(t, kv)
	assert.False(t, reloaded.Degraded())
	assert.Equal(t, 1000, reloaded.Coins())
	assert.True(t, reloaded.HasClaimed("glossary-x"))
	assert.False(t, reloaded.ClaimReward("glossary-x", EventGlossaryRead, nil))
}

func TestNewLedger_EmptyNamespacePersistsDefaults(t *testing.T) {
	kv := storage.NewMapStore()
	newTestLedger(t, kv)

	assert.Equal(t, "0", kv.Values[keyCoins])
	assert.Equal(t, DefaultSkinID, kv.Values[keySkin])
	assert.Equal(t, DefaultUsername, kv.Values[keyUsername])
	assert.Equal(t, `[]`, kv.Values[keyClaimedEvents])
	assert.Equal(t, `["beginner"]`, kv.Values[keyUnlockedBadges])
	assert.Equal(t, DateOf(day0), kv.Values[keyChallengesDate])
	assert.Contains(t, kv.Values, keyStats)
	assert.Contains(t, kv.Values, keyStreak)
}

func TestNewLedger_ExistingNamespaceKeepsOtherKeys(t *testing.T) {
	kv := storage.NewMapStore()
	kv.Set(keyCoins, "40")
	newTestLedger(t, kv)

	assert.Equal(t, "40", kv.Values[keyCoins])
	assert.NotContains(t, kv.Values, keyUsername)
	assert.Equal(t, DateOf(day0), kv.Values[keyChallengesDate])
}
