package engine

import (
	"time"

	"github.com/minhle87/playbook-bot/internal/playbook"
)

// breaker implements the per-instance circuit breaker over counters held in
// State. While tripped, transitions that would open a trade are suppressed;
// explicit closes still go through. After the cooldown elapses the breaker
// auto-resets on the next check.
type breaker struct {
	cfg playbook.BreakerConfig
}

// allowOpen reports whether trade opening is currently permitted, resetting
// the breaker first if the cooldown has elapsed.
func (b *breaker) allowOpen(s *State, now time.Time) bool {
	if !s.CBTripped {
		return true
	}
	cooldown := time.Duration(b.cfg.CooldownMinutes) * time.Minute
	if cooldown > 0 && now.Sub(s.CBTrippedAt) >= cooldown {
		b.reset(s)
		return true
	}
	return false
}

func (b *breaker) recordLoss(s *State, now time.Time) {
	s.ConsecutiveLosses++
	if b.cfg.MaxConsecutiveLosses > 0 && s.ConsecutiveLosses >= b.cfg.MaxConsecutiveLosses {
		b.trip(s, now)
	}
}

func (b *breaker) recordWin(s *State) {
	s.ConsecutiveLosses = 0
}

func (b *breaker) recordError(s *State, now time.Time) {
	s.ConsecutiveErrors++
	if b.cfg.MaxConsecutiveErrors > 0 && s.ConsecutiveErrors >= b.cfg.MaxConsecutiveErrors {
		b.trip(s, now)
	}
}

func (b *breaker) trip(s *State, now time.Time) {
	if !s.CBTripped {
		s.CBTripped = true
		s.CBTrippedAt = now
	}
}

// reset clears the trip and both counters. Used for cooldown expiry and for
// manual reset.
func (b *breaker) reset(s *State) {
	s.CBTripped = false
	s.CBTrippedAt = time.Time{}
	s.ConsecutiveLosses = 0
	s.ConsecutiveErrors = 0
}
