package gamification

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/finlit-network/backend/internal/metrics"
	"github.com/finlit-network/backend/internal/models"
	"github.com/finlit-network/backend/internal/storage"
	"github.com/sirupsen/logrus"
)

var (
	ErrMissingEventID    = errors.New("event_id is required")
	ErrUnknownEventType  = errors.New("unknown event type")
	ErrReservedEventType = errors.New("event type is paid through its own endpoint")
	ErrNotMilestone      = errors.New("not a streak milestone")
	ErrUnknownChallenge  = errors.New("challenge not found")
	ErrUnknownSkin       = errors.New("unknown skin")
	ErrSkinLocked        = errors.New("skin is locked at the current level")
	ErrUnknownBadge      = errors.New("unknown badge")
	ErrInvalidUsername   = errors.New("username must be 1-32 characters")
	ErrLedgerUnavailable = errors.New("reward history is temporarily unavailable")
)

// Service hosts one Ledger per user, each bound to its own namespace in the
// storage backend.
type Service struct {
	backend storage.Backend
	log     logrus.FieldLogger
	now     Clock

	mu      sync.RWMutex
	ledgers map[int64]*Ledger
	pinned  map[int64]int // in-flight operations per user; pinned ledgers are never evicted
}

type ServiceOption func(*Service)

func WithServiceClock(c Clock) ServiceOption {
	return func(s *Service) { s.now = c }
}

func NewService(backend storage.Backend, log logrus.FieldLogger, opts ...ServiceOption) *Service {
	s := &Service{
		backend: backend,
		log:     log.WithField("component", "gamification"),
		now:     time.Now,
		ledgers: make(map[int64]*Ledger),
		pinned:  make(map[int64]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ledger returns the user's ledger, loading it from storage on first use.
// The reference is not pinned: once EvictIdle retires it, its mutations are
// refused and the caller has to ask again.
func (s *Service) Ledger(userID int64) *Ledger {
	l, _ := s.resolve(userID, false)
	return l
}

// checkout returns the user's ledger pinned against eviction until release
// is called. Every service operation runs inside a checkout.
func (s *Service) checkout(userID int64) (*Ledger, func()) {
	return s.resolve(userID, true)
}

func (s *Service) resolve(userID int64, pin bool) (*Ledger, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.ledgers[userID]
	if ok {
		l.markUsed()
	} else {
		ns := storage.UserNamespace(userID)
		l = NewLedger(s.backend.Scope(ns),
			WithClock(s.now),
			WithLogger(s.log.WithField("user_id", userID)),
		)
		if l.Degraded() {
			// Not cached, so the next request retries the load.
			return l, func() {}
		}
		s.ledgers[userID] = l
		metrics.SetCachedLedgers(len(s.ledgers))
	}
	if !pin {
		return l, func() {}
	}

	s.pinned[userID]++
	var once sync.Once
	return l, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.pinned[userID]--; s.pinned[userID] <= 0 {
				delete(s.pinned, userID)
			}
		})
	}
}

// ── Gamification State ──────────────────────────────────

func (s *Service) GetGamification(userID int64) *models.GamificationResponse {
	l, release := s.checkout(userID)
	defer release()
	snap := l.Snapshot()

	resp := &models.GamificationResponse{
		Coins:              snap.Coins,
		Level:              snap.Level.info(),
		ProgressToNext:     snap.Progress,
		Username:           snap.Username,
		CurrentSkin:        snap.SkinID,
		Skins:              snap.Skins,
		Stats:              snap.Stats,
		Streak:             snap.Streak,
		DailyChallenges:    snap.DailyChallenges,
		UnlockedBadges:     snap.UnlockedBadges,
		ClaimedEventsCount: len(snap.ClaimedEvents),
		PendingCoinReward:  snap.PendingCoinReward,
	}
	if snap.NewlyUnlockedBadge != nil {
		info := snap.NewlyUnlockedBadge.info()
		resp.NewlyUnlockedBadge = &info
	}
	return resp
}

// ── Claims ──────────────────────────────────────────────

func (s *Service) ClaimReward(userID int64, req models.ClaimRewardRequest) (*models.ClaimResponse, error) {
	if strings.TrimSpace(req.EventID) == "" {
		return nil, ErrMissingEventID
	}
	eventType, ok := ParseEventType(req.EventType)
	if !ok {
		metrics.RecordClaim("unknown", "rejected", 0)
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, req.EventType)
	}
	if eventType == EventDailyChallengeComplete {
		metrics.RecordClaim(req.EventType, "rejected", 0)
		return nil, ErrReservedEventType
	}

	l, release := s.checkout(userID)
	defer release()
	res := l.Claim(req.EventID, eventType, req.Metadata)
	return s.settleClaim(userID, string(eventType), req.EventID, l, res)
}

func (s *Service) ClaimStreakReward(userID int64, day int) (*models.ClaimResponse, error) {
	if _, ok := StreakMilestoneReward(day); !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotMilestone, day)
	}
	l, release := s.checkout(userID)
	defer release()
	res := l.ClaimStreak(day)
	return s.settleClaim(userID, "STREAK_DAY_"+fmt.Sprint(day), StreakEventID(day), l, res)
}

func (s *Service) ClaimChallengeReward(userID int64, challengeID string) (*models.ClaimResponse, error) {
	l, release := s.checkout(userID)
	defer release()
	found := false
	for _, c := range l.DailyChallenges() {
		if c.ID == challengeID {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrUnknownChallenge
	}
	res := l.ClaimChallenge(challengeID)
	return s.settleClaim(userID, string(EventDailyChallengeComplete), ChallengeEventID(challengeID), l, res)
}

// settleClaim records a claim outcome and turns it into the API response.
func (s *Service) settleClaim(userID int64, eventType, eventID string, l *Ledger, res ClaimResult) (*models.ClaimResponse, error) {
	s.recordClaim(userID, eventType, eventID, res)
	if res.Outcome == OutcomeUnavailable {
		return nil, ErrLedgerUnavailable
	}
	return s.claimResponse(l, res), nil
}

func (s *Service) recordClaim(userID int64, eventType, eventID string, res ClaimResult) {
	metrics.RecordClaim(eventType, string(res.Outcome), res.Amount)
	metrics.RecordBadgeUnlocks(res.BadgesUnlocked)

	if res.Rewarded {
		s.log.WithFields(logrus.Fields{
			"user_id":    userID,
			"event_id":   eventID,
			"event_type": eventType,
			"amount":     res.Amount,
			"coins":      res.Coins,
		}).Info("reward paid")
	}
}

func (s *Service) claimResponse(l *Ledger, res ClaimResult) *models.ClaimResponse {
	resp := &models.ClaimResponse{
		Rewarded:       res.Rewarded,
		Amount:         res.Amount,
		Coins:          res.Coins,
		Level:          res.Level,
		BadgesUnlocked: res.BadgesUnlocked,
	}
	if resp.BadgesUnlocked == nil {
		resp.BadgesUnlocked = []string{}
	}
	if len(res.BadgesUnlocked) > 0 {
		if def, ok := l.NewlyUnlockedBadge(); ok {
			info := def.info()
			resp.NewlyUnlockedBadge = &info
		}
	}
	return resp
}

// ── Streak ──────────────────────────────────────────────

func (s *Service) UpdateStreak(userID int64) models.StreakData {
	l, release := s.checkout(userID)
	defer release()
	if l.UpdateStreak() {
		streak := l.Streak()
		s.log.WithFields(logrus.Fields{
			"user_id": userID,
			"streak":  streak.CurrentStreak,
		}).Debug("streak updated")
		return streak
	}
	return l.Streak()
}

// ── Profile ─────────────────────────────────────────────

func (s *Service) SetSkin(userID int64, skinID string) error {
	if _, ok := findSkin(skinID); !ok {
		return ErrUnknownSkin
	}
	l, release := s.checkout(userID)
	defer release()
	if !l.SetSkin(skinID) {
		return ErrSkinLocked
	}
	return nil
}

func (s *Service) SetUsername(userID int64, name string) error {
	l, release := s.checkout(userID)
	defer release()
	if !l.SetUsername(name) {
		return ErrInvalidUsername
	}
	return nil
}

func (s *Service) BadgeProgress(userID int64, badgeID string) (*models.BadgeProgressResponse, error) {
	if _, ok := FindBadge(badgeID); !ok {
		return nil, ErrUnknownBadge
	}
	l, release := s.checkout(userID)
	defer release()
	return &models.BadgeProgressResponse{
		BadgeID:  badgeID,
		Progress: l.BadgeProgress(badgeID),
		Unlocked: l.IsBadgeUnlocked(badgeID),
	}, nil
}

// ClearPending acknowledges the coin animation and badge celebration markers.
func (s *Service) ClearPending(userID int64) {
	l, release := s.checkout(userID)
	defer release()
	l.ClearPendingCoinReward()
	l.ClearNewlyUnlockedBadge()
}

// ── Maintenance ─────────────────────────────────────────

func (s *Service) cached() []*Ledger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Ledger, 0, len(s.ledgers))
	for _, l := range s.ledgers {
		out = append(out, l)
	}
	return out
}

// Rollover regenerates daily challenges on every cached ledger whose set is
// stale and returns how many were regenerated.
func (s *Service) Rollover() int {
	n := 0
	for _, l := range s.cached() {
		if l.RolloverDailyChallenges() {
			n++
		}
	}
	return n
}

// EvictIdle drops cached ledgers unused for longer than maxIdle. Their state
// is already persisted; the next request reloads it. Pinned ledgers stay, and
// evicted ones are retired so stray references cannot write.
func (s *Service) EvictIdle(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, l := range s.ledgers {
		if s.pinned[id] > 0 {
			continue
		}
		if l.retireIfIdle(cutoff) {
			delete(s.ledgers, id)
			n++
		}
	}
	metrics.SetCachedLedgers(len(s.ledgers))
	return n
}

func (s *Service) CachedLedgers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ledgers)
}
