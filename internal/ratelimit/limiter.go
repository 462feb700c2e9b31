// Package ratelimit implements a per-sender sliding window limiter used by
// the RPC handler set's anti-spam gate (§1 "anti-spam (proof-of-work)")
// alongside the proof-of-work check: BROADCAST and MESSAGE accept a sender
// guid as the limiter key instead of a wallet id, but the sliding-window
// mechanics are unchanged.
package ratelimit

import (
	"encoding/hex"
	"sync"
	"time"
)

// Limiter is a sliding-window rate limiter keyed by an arbitrary sender
// identifier. Safe for concurrent use.
type Limiter struct {
	maxAttempts int                     // Maximum attempts allowed in window
	window      time.Duration           // Time window for rate limiting
	attempts    map[string][]time.Time  // sender key -> attempt timestamps
	mu          sync.Mutex
}

// NewLimiter returns a limiter permitting maxAttempts per sender within
// window.
func NewLimiter(maxAttempts int, window time.Duration) *Limiter {
	return &Limiter{
		maxAttempts: maxAttempts,
		window:      window,
		attempts:    make(map[string][]time.Time),
	}
}

// AllowGuid is AllowAttempt keyed by a node guid, the form the RPC handler
// set calls on every BROADCAST and MESSAGE.
func (rl *Limiter) AllowGuid(guid [20]byte) bool {
	return rl.AllowAttempt(hex.EncodeToString(guid[:]))
}

// AllowAttempt reports whether another attempt for senderKey is allowed
// under the sliding window, recording it if so. Expired attempts are
// pruned from the window on every call.
func (rl *Limiter) AllowAttempt(senderKey string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	timestamps := rl.attempts[senderKey]

	validAttempts := make([]time.Time, 0, len(timestamps))
	for _, timestamp := range timestamps {
		if now.Sub(timestamp) < rl.window {
			validAttempts = append(validAttempts, timestamp)
		}
	}

	if len(validAttempts) >= rl.maxAttempts {
		rl.attempts[senderKey] = validAttempts
		return false
	}

	validAttempts = append(validAttempts, now)
	rl.attempts[senderKey] = validAttempts

	return true
}

// Remaining returns the number of attempts left for senderKey before the
// limiter rejects it.
func (rl *Limiter) Remaining(senderKey string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	timestamps := rl.attempts[senderKey]

	validCount := 0
	for _, timestamp := range timestamps {
		if now.Sub(timestamp) < rl.window {
			validCount++
		}
	}

	remaining := rl.maxAttempts - validCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset clears all rate-limit state for senderKey.
func (rl *Limiter) Reset(senderKey string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	delete(rl.attempts, senderKey)
}
