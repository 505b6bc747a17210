package proxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubjectLimiter(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newSubjectLimiter(6, 2)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		ok, _ := l.allow("alice")
		assert.True(t, ok, "burst request %d", i)
	}
	ok, wait := l.allow("alice")
	assert.False(t, ok)
	assert.InDelta(t, float64(10*time.Second), float64(wait), float64(time.Millisecond))

	ok, _ = l.allow("bob")
	assert.True(t, ok, "other subjects keep their own bucket")

	now = now.Add(11 * time.Second)
	ok, _ = l.allow("alice")
	assert.True(t, ok, "one token refills after the interval")
}

func TestSubjectLimiter_DeniedRequestsDoNotConsume(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newSubjectLimiter(60, 1)
	l.now = func() time.Time { return now }

	ok, _ := l.allow("alice")
	assert.True(t, ok)
	for i := 0; i < 5; i++ {
		ok, _ = l.allow("alice")
		assert.False(t, ok)
	}
	now = now.Add(2 * time.Second)
	ok, _ = l.allow("alice")
	assert.True(t, ok)
}

func TestSubjectLimiter_SweepsIdleSubjects(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newSubjectLimiter(10, 1)
	l.now = func() time.Time { return now }

	l.allow("alice")
	now = now.Add(2 * limiterIdleTTL)
	l.allow("bob")

	assert.NotContains(t, l.entries, "alice")
	assert.Contains(t, l.entries, "bob")
}

func TestSubjectLimiter_Disabled(t *testing.T) {
	l := newSubjectLimiter(0, 0)
	assert.Nil(t, l)
	for i := 0; i < 100; i++ {
		ok, _ := l.allow("alice")
		assert.True(t, ok)
	}
}
