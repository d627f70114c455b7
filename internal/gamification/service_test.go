package gamification

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/finlit-network/backend/internal/metrics"
	"github.com/finlit-network/backend/internal/models"
	"github.com/finlit-network/backend/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: day0}
	return NewService(storage.NewMemoryBackend(), quietLogger(), WithServiceClock(clock.Now)), clock
}

func TestService_ClaimReward(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.ClaimReward(1, models.ClaimRewardRequest{EventID: "news-1", EventType: "NEWS_READ"})
	require.NoError(t, err)
	assert.True(t, resp.Rewarded)
	assert.Equal(t, 10, resp.Amount)
	assert.Equal(t, 10, resp.Coins)
	assert.Equal(t, 1, resp.Level)
	assert.Equal(t, []string{}, resp.BadgesUnlocked)

	resp, err = svc.ClaimReward(1, models.ClaimRewardRequest{EventID: "news-1", EventType: "NEWS_READ"})
	require.NoError(t, err)
	assert.False(t, resp.Rewarded)
	assert.Equal(t, 0, resp.Amount)
	assert.Equal(t, 10, resp.Coins)
}

func TestService_ClaimRewardRejects(t *testing.T) {
	tests := []struct {
		name string
		req  models.ClaimRewardRequest
		want error
	}{
		{"missing id", models.ClaimRewardRequest{EventType: "NEWS_READ"}, ErrMissingEventID},
		{"blank id", models.ClaimRewardRequest{EventID: "  ", EventType: "NEWS_READ"}, ErrMissingEventID},
		{"unknown type", models.ClaimRewardRequest{EventID: "x", EventType: "NAP"}, ErrUnknownEventType},
		{"reserved type", models.ClaimRewardRequest{EventID: "x", EventType: "DAILY_CHALLENGE_COMPLETE"}, ErrReservedEventType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			_, err := svc.ClaimReward(1, tt.req)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, 0, svc.Ledger(1).Coins())
		})
	}
}

func TestService_ClaimRewardReportsNewBadge(t *testing.T) {
	svc, _ := newTestService(t)

	var resp *models.ClaimResponse
	for i := 0; i < 5; i++ {
		var err error
		resp, err = svc.ClaimReward(7, models.ClaimRewardRequest{EventID: fmt.Sprintf("calc-%d", i), EventType: "CALCULATOR_USE"})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"saver"}, resp.BadgesUnlocked)
	require.NotNil(t, resp.NewlyUnlockedBadge)
	assert.Equal(t, "saver", resp.NewlyUnlockedBadge.ID)
	assert.Equal(t, "rare", resp.NewlyUnlockedBadge.Rarity)
}

func TestService_UsersAreIsolated(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ClaimReward(1, models.ClaimRewardRequest{EventID: "e", EventType: "BOOK_COMPLETE"})
	require.NoError(t, err)
	resp, err := svc.ClaimReward(2, models.ClaimRewardRequest{EventID: "e", EventType: "BOOK_COMPLETE"})
	require.NoError(t, err)

	assert.True(t, resp.Rewarded)
	assert.Equal(t, 50, svc.Ledger(1).Coins())
	assert.Equal(t, 50, svc.Ledger(2).Coins())
	assert.Same(t, svc.Ledger(1), svc.Ledger(1))
}

func TestService_ClaimStreakReward(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ClaimStreakReward(1, 2)
	assert.True(t, errors.Is(err, ErrNotMilestone))

	resp, err := svc.ClaimStreakReward(1, 1)
	require.NoError(t, err)
	assert.False(t, resp.Rewarded, "no activity yet")

	streak := svc.UpdateStreak(1)
	assert.Equal(t, 1, streak.CurrentStreak)

	resp, err = svc.ClaimStreakReward(1, 1)
	require.NoError(t, err)
	assert.True(t, resp.Rewarded)
	assert.Equal(t, 10, resp.Coins)
}

func TestService_ClaimChallengeReward(t *testing.T) {
	svc, _ := newTestService(t)
	calcID := DateOf(day0) + "-calculator"

	_, err := svc.ClaimChallengeReward(1, "2020-01-01-calculator")
	assert.True(t, errors.Is(err, ErrUnknownChallenge))

	_, err = svc.ClaimReward(1, models.ClaimRewardRequest{EventID: "calc-1", EventType: "CALCULATOR_USE"})
	require.NoError(t, err)

	resp, err := svc.ClaimChallengeReward(1, calcID)
	require.NoError(t, err)
	assert.True(t, resp.Rewarded)
	assert.Equal(t, 20, resp.Amount)
	assert.Equal(t, 30, resp.Coins)

	resp, err = svc.ClaimChallengeReward(1, calcID)
	require.NoError(t, err)
	assert.False(t, resp.Rewarded)
}

func TestService_Profile(t *testing.T) {
	svc, _ := newTestService(t)

	assert.True(t, errors.Is(svc.SetSkin(1, "ghost"), ErrUnknownSkin))
	assert.True(t, errors.Is(svc.SetSkin(1, "dragon"), ErrSkinLocked))
	assert.NoError(t, svc.SetSkin(1, DefaultSkinID))

	assert.True(t, errors.Is(svc.SetUsername(1, ""), ErrInvalidUsername))
	assert.NoError(t, svc.SetUsername(1, "Jasur"))

	state := svc.GetGamification(1)
	assert.Equal(t, "Jasur", state.Username)
	assert.Equal(t, DefaultSkinID, state.CurrentSkin)
}

func TestService_BadgeProgress(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.BadgeProgress(1, "nope")
	assert.True(t, errors.Is(err, ErrUnknownBadge))

	for i := 0; i < 5; i++ {
		_, err := svc.ClaimReward(1, models.ClaimRewardRequest{EventID: fmt.Sprintf("g-%d", i), EventType: "GLOSSARY_READ"})
		require.NoError(t, err)
	}
	resp, err := svc.BadgeProgress(1, "glossary_explorer")
	require.NoError(t, err)
	assert.InDelta(t, 50, resp.Progress, 0.001)
	assert.False(t, resp.Unlocked)
}

func TestService_GetGamificationAndClearPending(t *testing.T) {
	svc, _ := newTestService(t)

	for i := 0; i < 10; i++ {
		_, err := svc.ClaimReward(3, models.ClaimRewardRequest{EventID: fmt.Sprintf("n-%d", i), EventType: "NEWS_READ"})
		require.NoError(t, err)
	}

	state := svc.GetGamification(3)
	assert.Equal(t, 100, state.Coins)
	assert.Equal(t, 2, state.Level.Level)
	assert.Equal(t, float64(0), state.ProgressToNext)
	assert.Equal(t, 10, state.ClaimedEventsCount)
	assert.Len(t, state.Skins, len(skinCatalog))
	assert.Len(t, state.DailyChallenges, len(challengeTemplates))
	require.NotNil(t, state.PendingCoinReward)
	assert.Equal(t, "n-9", state.PendingCoinReward.EventID)
	require.NotNil(t, state.NewlyUnlockedBadge)
	assert.Equal(t, "news_reader", state.NewlyUnlockedBadge.ID)

	svc.ClearPending(3)
	state = svc.GetGamification(3)
	assert.Nil(t, state.PendingCoinReward)
	assert.Nil(t, state.NewlyUnlockedBadge)
	assert.Contains(t, state.UnlockedBadges, "news_reader")
}

func TestService_RolloverAndEvictIdle(t *testing.T) {
	svc, clock := newTestService(t)

	_, err := svc.ClaimReward(1, models.ClaimRewardRequest{EventID: "g", EventType: "GLOSSARY_READ"})
	require.NoError(t, err)
	svc.Ledger(2)
	require.Equal(t, 2, svc.CachedLedgers())

	assert.Equal(t, 0, svc.Rollover())

	clock.AddDays(1)
	assert.Equal(t, 2, svc.Rollover())
	assert.Equal(t, 0, svc.Rollover())

	// Ledger 2 is touched again; ledger 1 stays idle.
	clock.Add(2 * time.Hour)
	svc.UpdateStreak(2)
	clock.Add(30 * time.Minute)

	assert.Equal(t, 1, svc.EvictIdle(time.Hour))
	assert.Equal(t, 1, svc.CachedLedgers())

	// Evicted state reloads from the backend.
	assert.Equal(t, 5, svc.Ledger(1).Coins())
	assert.True(t, svc.Ledger(1).HasClaimed("g"))
}

// ── Eviction ────────────────────────────────────────────

func TestService_EvictedReferenceCannotPayTwice(t *testing.T) {
	svc, clock := newTestService(t)

	held := svc.Ledger(1)
	clock.Add(48 * time.Hour)
	require.Equal(t, 1, svc.EvictIdle(24*time.Hour))
	fresh := svc.Ledger(1)
	require.NotSame(t, held, fresh)

	first := held.ClaimReward("glossary-x", EventGlossaryRead, nil)
	second := fresh.ClaimReward("glossary-x", EventGlossaryRead, nil)

	assert.False(t, first, "an evicted ledger must not pay")
	assert.True(t, second)
	assert.Equal(t, 0, held.Coins())
	assert.Equal(t, 5, fresh.Coins())

	clock.Add(48 * time.Hour)
	require.Equal(t, 1, svc.EvictIdle(24*time.Hour))
	reloaded := svc.Ledger(1)
	assert.Equal(t, 5, reloaded.Coins())
	assert.False(t, reloaded.ClaimReward("glossary-x", EventGlossaryRead, nil))
}

func TestService_CheckedOutLedgerIsNotEvicted(t *testing.T) {
	svc, clock := newTestService(t)

	l, release := svc.checkout(1)
	clock.Add(48 * time.Hour)
	assert.Equal(t, 0, svc.EvictIdle(24*time.Hour))
	assert.True(t, l.ClaimReward("news-1", EventNewsRead, nil))
	release()
	release()

	clock.Add(48 * time.Hour)
	assert.Equal(t, 1, svc.EvictIdle(24*time.Hour))
	assert.Equal(t, 10, svc.Ledger(1).Coins())
}

func TestService_LedgerLookupCountsAsUse(t *testing.T) {
	svc, clock := newTestService(t)

	svc.Ledger(1)
	clock.Add(2 * time.Hour)
	svc.Ledger(1)
	clock.Add(30 * time.Minute)

	assert.Equal(t, 0, svc.EvictIdle(time.Hour))
	assert.Equal(t, 1, svc.CachedLedgers())
}

// ── Unreadable storage ──────────────────────────────────

type flakyBackend struct {
	store *flakyStore
}

func (b flakyBackend) Scope(string) storage.Store { return b.store }
func (b flakyBackend) Close() error { return nil }

func TestService_UnreadableStorageIsNotCached(t *testing.T) {
	kv := newFlakyStore()
	kv.Set(keyCoins, "1000")
	kv.Set(keyClaimedEvents, `["glossary-x"]`)
	clock := &fakeClock{t: day0}
	svc := NewService(flakyBackend{store: kv}, quietLogger(), WithServiceClock(clock.Now))

	kv.failing.Store(true)
	_, err := svc.ClaimReward(1, models.ClaimRewardRequest{EventID: "news-1", EventType: "NEWS_READ"})
	assert.ErrorIs(t, err, ErrLedgerUnavailable)
	assert.Equal(t, 0, svc.CachedLedgers())
	assert.Equal(t, "1000", kv.Values[keyCoins])
	assert.Equal(t, `["glossary-x"]`, kv.Values[keyClaimedEvents])

	kv.failing.Store(false)
	resp, err := svc.ClaimReward(1, models.ClaimRewardRequest{EventID: "glossary-x", EventType: "GLOSSARY_READ"})
	require.NoError(t, err)
	assert.False(t, resp.Rewarded)
	assert.Equal(t, 1000, resp.Coins)

	resp, err = svc.ClaimReward(1, models.ClaimRewardRequest{EventID: "news-1", EventType: "NEWS_READ"})
	require.NoError(t, err)
	assert.True(t, resp.Rewarded)
	assert.Equal(t, "1010", kv.Values[keyCoins])
	assert.Equal(t, 1, svc.CachedLedgers())
}

// ── Metrics ─────────────────────────────────────────────

func claimCount(t *testing.T, eventType, outcome string) float64 {
	t.Helper()
	families, err := metrics.Registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "finlit_ledger_reward_claims_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["event_type"] == eventType && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestService_ClaimOutcomeLabels(t *testing.T) {
	svc, _ := newTestService(t)
	calcID := DateOf(day0) + "-calculator"

	streakRejected := claimCount(t, "STREAK_DAY_7", "rejected")
	streakDup := claimCount(t, "STREAK_DAY_7", "duplicate")
	challengeRejected := claimCount(t, string(EventDailyChallengeComplete), "rejected")
	newsDup := claimCount(t, "NEWS_READ", "duplicate")

	_, err := svc.ClaimStreakReward(1, 7)
	require.NoError(t, err)
	_, err = svc.ClaimChallengeReward(1, calcID)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = svc.ClaimReward(1, models.ClaimRewardRequest{EventID: "news-1", EventType: "NEWS_READ"})
		require.NoError(t, err)
	}

	assert.Equal(t, streakRejected+1, claimCount(t, "STREAK_DAY_7", "rejected"))
	assert.Equal(t, streakDup, claimCount(t, "STREAK_DAY_7", "duplicate"))
	assert.Equal(t, challengeRejected+1, claimCount(t, string(EventDailyChallengeComplete), "rejected"))
	assert.Equal(t, newsDup+1, claimCount(t, "NEWS_READ", "duplicate"))
}
