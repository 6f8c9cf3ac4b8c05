package ratelimit

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestAllowAdmitsFirstRequestPerKey(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := New(100*time.Millisecond, clock)

	assert.True(t, l.Allow("1.2.3.4"))
}

func TestAllowRejectsWithinWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := New(100*time.Millisecond, clock)

	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))
}

func TestAllowAdmitsAfterWindowElapses(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := New(100*time.Millisecond, clock)

	assert.True(t, l.Allow("1.2.3.4"))
	clock.Advance(101 * time.Millisecond)
	assert.True(t, l.Allow("1.2.3.4"))
}

func TestAllowTracksKeysIndependently(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := New(100*time.Millisecond, clock)

	assert.True(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("5.6.7.8"))
}

func TestSetWindowAffectsSubsequentChecks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := New(100*time.Millisecond, clock)

	assert.True(t, l.Allow("1.2.3.4"))
	l.SetWindow(time.Millisecond)
	clock.Advance(2 * time.Millisecond)
	assert.True(t, l.Allow("1.2.3.4"))
}
