package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowAttemptPermitsUpToMax(t *testing.T) {
	rl := NewLimiter(3, time.Minute)
	assert.True(t, rl.AllowAttempt("peer-a"))
	assert.True(t, rl.AllowAttempt("peer-a"))
	assert.True(t, rl.AllowAttempt("peer-a"))
	assert.False(t, rl.AllowAttempt("peer-a"))
}

func TestAllowAttemptIsolatesKeys(t *testing.T) {
	rl := NewLimiter(1, time.Minute)
	assert.True(t, rl.AllowAttempt("peer-a"))
	assert.True(t, rl.AllowAttempt("peer-b"))
	assert.False(t, rl.AllowAttempt("peer-a"))
}

func TestAllowAttemptExpiresOldEntries(t *testing.T) {
	rl := NewLimiter(1, 10*time.Millisecond)
	assert.True(t, rl.AllowAttempt("peer-a"))
	assert.False(t, rl.AllowAttempt("peer-a"))
	time.Sleep(15 * time.Millisecond)
	assert.True(t, rl.AllowAttempt("peer-a"))
}

func TestAllowGuidUsesHexEncodedKey(t *testing.T) {
	rl := NewLimiter(1, time.Minute)
	guid := [20]byte{1, 2, 3}
	assert.True(t, rl.AllowGuid(guid))
	assert.False(t, rl.AllowGuid(guid))
}

func TestRemainingCountsDownAndFloorsAtZero(t *testing.T) {
	rl := NewLimiter(2, time.Minute)
	assert.Equal(t, 2, rl.Remaining("peer-a"))
	rl.AllowAttempt("peer-a")
	assert.Equal(t, 1, rl.Remaining("peer-a"))
	rl.AllowAttempt("peer-a")
	assert.Equal(t, 0, rl.Remaining("peer-a"))
	rl.AllowAttempt("peer-a")
	assert.Equal(t, 0, rl.Remaining("peer-a"))
}

func TestResetClearsState(t *testing.T) {
	rl := NewLimiter(1, time.Minute)
	rl.AllowAttempt("peer-a")
	assert.False(t, rl.AllowAttempt("peer-a"))
	rl.Reset("peer-a")
	assert.True(t, rl.AllowAttempt("peer-a"))
}
