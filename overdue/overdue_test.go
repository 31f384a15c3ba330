package overdue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsBoundary(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	assert.True(t, Is(now.Add(-24*time.Hour-time.Second), nil, now))
	assert.False(t, Is(now.Add(-23*time.Hour-59*time.Minute), nil, now))
	assert.False(t, Is(now.Add(-Threshold), nil, now), "exactly at the threshold is not past it")
	assert.False(t, Is(now, nil, now))
}

func TestIsReturnedNeverOverdue(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	borrowed := now.Add(-30 * 24 * time.Hour)
	returned := borrowed.Add(72 * time.Hour)

	assert.False(t, Is(borrowed, &returned, now))
}

func TestCutoffMatchesIs(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cut := Cutoff(now)

	before := cut.Add(-time.Nanosecond)
	assert.True(t, before.Before(cut))
	assert.True(t, Is(before, nil, now))
	assert.False(t, Is(cut, nil, now))
}

func TestSince(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Hour, Since(now.Add(-25*time.Hour), now))
	assert.Equal(t, time.Duration(0), Since(now.Add(-time.Hour), now))
}
