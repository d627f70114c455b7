package gamification

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/finlit-network/backend/internal/models"
	"github.com/finlit-network/backend/internal/storage"
	"github.com/sirupsen/logrus"
)

// Clock returns the current time. Ledgers derive "today" from it in UTC.
type Clock func() time.Time

// Ledger owns one user's coins, stats, streak, daily challenges, claimed
// events and badges. Every operation runs under the ledger's mutex and writes
// changed state through to the store before returning.
type Ledger struct {
	mu    sync.Mutex
	store *Store
	now   Clock
	log   logrus.FieldLogger

	coins          int
	skinID         string
	username       string
	stats          models.UserStats
	streak         models.StreakData
	challenges     []models.DailyChallenge
	challengesDate string
	claimed        map[string]struct{}
	claimedOrder   []string
	unlocked       map[string]struct{}
	unlockedOrder  []string

	pending  *models.PendingCoinReward
	newBadge *BadgeDef
	lastUsed atomic.Int64 // unix nanoseconds; refreshed without l.mu
	retired  bool
}

type Option func(*Ledger)

// WithClock overrides time.Now, mainly for tests.
func WithClock(c Clock) Option {
	return func(l *Ledger) { l.now = c }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Ledger) { l.log = log }
}

// NewLedger restores a ledger from kv. Missing or malformed values fall back
// to defaults; stale daily challenges are replaced with today's set.
func NewLedger(kv storage.Store, opts ...Option) *Ledger {
	l := &Ledger{
		now: time.Now,
		log: logrus.StandardLogger().WithField("component", "gamification"),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.store = NewStore(kv, l.log)

	today := l.today()
	st, regenerated := l.store.Load(today)

	l.coins = st.Coins
	l.skinID = st.SkinID
	l.username = st.Username
	l.stats = st.Stats
	l.streak = st.Streak
	l.challenges = st.Challenges
	l.challengesDate = st.ChallengesDate
	l.claimed = make(map[string]struct{}, len(st.ClaimedEvents))
	for _, id := range st.ClaimedEvents {
		l.claimed[id] = struct{}{}
	}
	l.claimedOrder = st.ClaimedEvents
	l.unlocked = make(map[string]struct{}, len(st.UnlockedBadges))
	for _, id := range st.UnlockedBadges {
		l.unlocked[id] = struct{}{}
	}
	l.unlockedOrder = st.UnlockedBadges
	l.markUsed()

	switch {
	case l.store.Degraded():
		l.log.WithField("keys", l.store.Unreadable()).Warn("persisted state unreadable, ledger is memory-only")
	case l.store.Empty():
		l.store.SaveAll(st)
	case regenerated:
		l.store.SaveChallenges(l.challengesDate, l.challenges)
	}
	l.evaluateBadgesLocked()

	return l
}

func (l *Ledger) today() string {
	return DateOf(l.now())
}

// touch marks the ledger as used and rolls daily challenges over if the day
// changed. Callers must hold l.mu.
func (l *Ledger) touch() {
	l.markUsed()
	l.rolloverLocked()
}

func (l *Ledger) rolloverLocked() bool {
	today := l.today()
	if l.retired || l.challengesDate == today {
		return false
	}
	l.challenges = GenerateDailyChallenges(today)
	l.challengesDate = today
	l.store.SaveChallenges(today, l.challenges)
	l.log.WithField("date", today).Debug("daily challenges regenerated")
	return true
}

// Degraded reports whether the ledger was loaded while its store was
// unreadable. A degraded ledger never writes.
func (l *Ledger) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Degraded()
}

func (l *Ledger) markUsed() {
	l.lastUsed.Store(l.now().UnixNano())
}

// retireIfIdle retires the ledger if it has not been used since cutoff. A
// retired ledger refuses every mutation, so a reference kept past eviction
// cannot pay or write alongside the instance that replaces it.
func (l *Ledger) retireIfIdle(cutoff time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.LastUsed().Before(cutoff) {
		return false
	}
	l.retired = true
	return true
}

// ── Claims ──────────────────────────────────────────────

// ClaimOutcome classifies a claim.
type ClaimOutcome string

const (
	OutcomePaid        ClaimOutcome = "paid"
	OutcomeDuplicate   ClaimOutcome = "duplicate"
	// OutcomeRejected covers unknown event types, milestones the streak has
	// not reached and challenges that are missing or incomplete.
	OutcomeRejected    ClaimOutcome = "rejected"
	// OutcomeRetired means the ledger was evicted; the caller must fetch the
	// user's current ledger and retry.
	OutcomeRetired     ClaimOutcome = "retired"
	// OutcomeUnavailable means the claimed set could not be read, so no
	// payout can be checked for duplicates.
	OutcomeUnavailable ClaimOutcome = "unavailable"
)

// ClaimResult describes the outcome of a claim.
type ClaimResult struct {
	Outcome             ClaimOutcome
	Rewarded            bool
	Amount              int
	Coins               int
	Level               int
	BadgesUnlocked      []string
	ChallengesCompleted []string
}

// ClaimReward pays the reward for eventType once per eventID. It returns
// false, changing nothing, if eventID was already claimed or eventType is unknown.
func (l *Ledger) ClaimReward(eventID string, eventType EventType, metadata map[string]interface{}) bool {
	return l.Claim(eventID, eventType, metadata).Rewarded
}

// Claim is ClaimReward with the full outcome.
func (l *Ledger) Claim(eventID string, eventType EventType, metadata map[string]interface{}) ClaimResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.touch()
	if l.retired {
		return l.unpaidLocked(OutcomeRetired)
	}
	if l.store.Degraded() {
		return l.unpaidLocked(OutcomeUnavailable)
	}
	rule, ok := rewardTable[eventType]
	if !ok {
		return l.unpaidLocked(OutcomeRejected)
	}
	res := l.claimLocked(eventID, eventType, rule.Amount)
	if res.Rewarded && len(metadata) > 0 {
		l.log.WithField("event_id", eventID).WithField("metadata", metadata).Debug("reward claimed")
	}
	return res
}

func (l *Ledger) unpaidLocked(outcome ClaimOutcome) ClaimResult {
	return ClaimResult{Outcome: outcome, Coins: l.coins, Level: LevelForCoins(l.coins).Level}
}

// claimLocked is the single check-then-act path every event payout goes through.
func (l *Ledger) claimLocked(eventID string, eventType EventType, amount int) ClaimResult {
	if _, dup := l.claimed[eventID]; dup {
		return l.unpaidLocked(OutcomeDuplicate)
	}
	rule := rewardTable[eventType]

	l.coins += amount
	l.stats.Add(models.StatTotalCoinsEarned, amount)
	for _, key := range rule.Stats {
		l.stats.Add(key, 1)
	}
	completed := advanceChallenges(l.challenges, rule.Challenge)

	l.claimed[eventID] = struct{}{}
	l.claimedOrder = append(l.claimedOrder, eventID)
	l.pending = &models.PendingCoinReward{Amount: amount, EventID: eventID}

	l.store.SaveCoins(l.coins)
	l.store.SaveStats(l.stats)
	if rule.Challenge != "" {
		l.store.SaveChallenges(l.challengesDate, l.challenges)
	}
	l.store.SaveClaimedEvents(l.claimedOrder)

	badges := l.evaluateBadgesLocked()

	return ClaimResult{
		Outcome:             OutcomePaid,
		Rewarded:            true,
		Amount:              amount,
		Coins:               l.coins,
		Level:               LevelForCoins(l.coins).Level,
		BadgesUnlocked:      badges,
		ChallengesCompleted: completed,
	}
}

// ChallengeEventID is the claim id used to pay a daily challenge's bonus.
func ChallengeEventID(challengeID string) string {
	return "challenge-" + challengeID
}

// ClaimChallengeReward pays a completed daily challenge's bonus once. It
// returns false if the challenge is not in today's set, is not completed, or
// was already paid.
func (l *Ledger) ClaimChallengeReward(challengeID string) bool {
	return l.ClaimChallenge(challengeID).Rewarded
}

// ClaimChallenge is ClaimChallengeReward with the full outcome.
func (l *Ledger) ClaimChallenge(challengeID string) ClaimResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.touch()
	if l.retired {
		return l.unpaidLocked(OutcomeRetired)
	}
	if l.store.Degraded() {
		return l.unpaidLocked(OutcomeUnavailable)
	}
	for _, c := range l.challenges {
		if c.ID != challengeID {
			continue
		}
		if !c.Completed {
			return l.unpaidLocked(OutcomeRejected)
		}
		return l.claimLocked(ChallengeEventID(c.ID), EventDailyChallengeComplete, c.Reward)
	}
	return l.unpaidLocked(OutcomeRejected)
}

// ClaimStreakReward pays the milestone reward for day once, if the current
// streak has reached it.
func (l *Ledger) ClaimStreakReward(day int) bool {
	return l.ClaimStreak(day).Rewarded
}

// ClaimStreak is ClaimStreakReward with the full outcome.
func (l *Ledger) ClaimStreak(day int) ClaimResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.touch()
	if l.retired {
		return l.unpaidLocked(OutcomeRetired)
	}
	if l.store.Degraded() {
		return l.unpaidLocked(OutcomeUnavailable)
	}
	amount, ok := StreakMilestoneReward(day)
	if !ok || l.streak.CurrentStreak < day {
		return l.unpaidLocked(OutcomeRejected)
	}
	if l.streak.HasClaimed(day) {
		return l.unpaidLocked(OutcomeDuplicate)
	}

	l.coins += amount
	l.streak.StreakRewardsClaimed = append(l.streak.StreakRewardsClaimed, day)
	l.pending = &models.PendingCoinReward{Amount: amount, EventID: StreakEventID(day)}

	l.store.SaveCoins(l.coins)
	l.store.SaveStreak(l.streak)
	badges := l.evaluateBadgesLocked()

	return ClaimResult{
		Outcome:        OutcomePaid,
		Rewarded:       true,
		Amount:         amount,
		Coins:          l.coins,
		Level:          LevelForCoins(l.coins).Level,
		BadgesUnlocked: badges,
	}
}

// StreakEventID labels a streak milestone payout.
func StreakEventID(day int) string {
	return "streak-" + strconv.Itoa(day)
}

// ── Streak ──────────────────────────────────────────────

// UpdateStreak records activity for today. Safe to call any number of times
// per day; it reports whether the streak changed.
func (l *Ledger) UpdateStreak() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.touch()
	if l.retired {
		return false
	}
	next, changed := nextStreak(l.streak, l.today())
	if !changed {
		return false
	}
	l.streak = next
	l.store.SaveStreak(l.streak)
	l.evaluateBadgesLocked()
	return true
}

// ── Badges ──────────────────────────────────────────────

func (l *Ledger) inputsLocked() progressInputs {
	return progressInputs{
		stats:  l.stats,
		streak: l.streak.CurrentStreak,
		level:  LevelForCoins(l.coins).Level,
	}
}

// evaluateBadgesLocked unlocks every badge whose criterion is now met and
// returns the newly unlocked ids. Badges are never removed.
func (l *Ledger) evaluateBadgesLocked() []string {
	var fresh []string
	for _, id := range qualifiedBadges(l.inputsLocked()) {
		if _, ok := l.unlocked[id]; ok {
			continue
		}
		l.unlocked[id] = struct{}{}
		l.unlockedOrder = append(l.unlockedOrder, id)
		fresh = append(fresh, id)
	}
	if len(fresh) == 0 {
		return nil
	}
	if def, ok := FindBadge(fresh[0]); ok {
		l.newBadge = &def
	}
	l.store.SaveUnlockedBadges(l.unlockedOrder)
	l.log.WithField("badges", fresh).Info("badges unlocked")
	return fresh
}

// CheckAndUnlockBadges re-runs badge evaluation and returns newly unlocked ids.
func (l *Ledger) CheckAndUnlockBadges() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.retired {
		return nil
	}
	return l.evaluateBadgesLocked()
}

// BadgeProgress returns the percentage of a badge's threshold reached, in
// [0, 100]. Unknown badges report 0.
func (l *Ledger) BadgeProgress(badgeID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	def, ok := FindBadge(badgeID)
	if !ok {
		return 0
	}
	return badgeProgress(def, l.inputsLocked())
}

func (l *Ledger) IsBadgeUnlocked(badgeID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.unlocked[badgeID]
	return ok
}

// UnlockedBadges returns badge ids in unlock order.
func (l *Ledger) UnlockedBadges() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.unlockedOrder...)
}

// NewlyUnlockedBadge returns the first badge of the latest unlock batch until cleared.
func (l *Ledger) NewlyUnlockedBadge() (BadgeDef, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.newBadge == nil {
		return BadgeDef{}, false
	}
	return *l.newBadge, true
}

func (l *Ledger) ClearNewlyUnlockedBadge() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.newBadge = nil
}

// ── Profile ─────────────────────────────────────────────

// SetSkin equips skinID if it exists and the current level unlocks it.
func (l *Ledger) SetSkin(skinID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.touch()
	skin, ok := findSkin(skinID)
	if !ok || l.retired || LevelForCoins(l.coins).Level < skin.RequiredLevel {
		return false
	}
	l.skinID = skin.ID
	l.store.SaveSkin(l.skinID)
	return true
}

// SetUsername changes the display name. Blank or overlong names are ignored.
func (l *Ledger) SetUsername(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.touch()
	name = strings.TrimSpace(name)
	if l.retired || name == "" || len([]rune(name)) > MaxUsernameLength {
		return false
	}
	l.username = name
	l.store.SaveUsername(name)
	return true
}

// MaxUsernameLength bounds display names in runes.
const MaxUsernameLength = 32

// ── Reads ───────────────────────────────────────────────

func (l *Ledger) Coins() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.coins
}

func (l *Ledger) CurrentLevel() LevelTier {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LevelForCoins(l.coins)
}

func (l *Ledger) ProgressToNextLevel() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ProgressToNextLevel(l.coins)
}

func (l *Ledger) Stats() models.UserStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Ledger) Streak() models.StreakData {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.streak.Clone()
}

// DailyChallenges returns today's challenges, regenerating them first if the day changed.
func (l *Ledger) DailyChallenges() []models.DailyChallenge {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	return cloneChallenges(l.challenges)
}

// RolloverDailyChallenges regenerates the challenge set if the day changed
// and reports whether it did.
func (l *Ledger) RolloverDailyChallenges() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rolloverLocked()
}

// HasClaimed reports whether eventID was already paid.
func (l *Ledger) HasClaimed(eventID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.claimed[eventID]
	return ok
}

func (l *Ledger) ClaimedEvents() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.claimedOrder...)
}

func (l *Ledger) CurrentSkin() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.skinID
}

func (l *Ledger) Username() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.username
}

// PendingCoinReward returns the last payout until it is cleared.
func (l *Ledger) PendingCoinReward() *models.PendingCoinReward {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil {
		return nil
	}
	p := *l.pending
	return &p
}

func (l *Ledger) ClearPendingCoinReward() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = nil
}

// LastUsed is the time of the most recent operation that touched the ledger.
func (l *Ledger) LastUsed() time.Time {
	return time.Unix(0, l.lastUsed.Load())
}

// Snapshot is a point-in-time copy of a ledger's state.
type Snapshot struct {
	Coins              int
	Level              LevelTier
	Progress           float64
	Username           string
	SkinID             string
	Skins              []models.SkinInfo
	Stats              models.UserStats
	Streak             models.StreakData
	DailyChallenges    []models.DailyChallenge
	UnlockedBadges     []string
	ClaimedEvents      []string
	PendingCoinReward  *models.PendingCoinReward
	NewlyUnlockedBadge *BadgeDef
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked()
	level := LevelForCoins(l.coins)
	snap := Snapshot{
		Coins:           l.coins,
		Level:           level,
		Progress:        ProgressToNextLevel(l.coins),
		Username:        l.username,
		SkinID:          l.skinID,
		Skins:           SkinsForLevel(level.Level),
		Stats:           l.stats,
		Streak:          l.streak.Clone(),
		DailyChallenges: cloneChallenges(l.challenges),
		UnlockedBadges:  append([]string(nil), l.unlockedOrder...),
		ClaimedEvents:   append([]string(nil), l.claimedOrder...),
	}
	if l.pending != nil {
		p := *l.pending
		snap.PendingCoinReward = &p
	}
	if l.newBadge != nil {
		b := *l.newBadge
		snap.NewlyUnlockedBadge = &b
	}
	return snap
}
