package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestFixedWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	l, err := New("format", 3, time.Hour, 10, WithClock(clock.Now))
	require.NoError(t, err)

	for want := 2; want >= 0; want-- {
		ok, remaining := l.Allow("1.2.3.4")
		require.True(t, ok)
		require.Equal(t, want, remaining)
	}
	ok, remaining := l.Allow("1.2.3.4")
	require.False(t, ok)
	require.Zero(t, remaining)

	ok, _ = l.Allow("5.6.7.8")
	require.True(t, ok, "keys are independent")

	clock.now = clock.now.Add(59 * time.Minute)
	ok, _ = l.Allow("1.2.3.4")
	require.False(t, ok)

	clock.now = clock.now.Add(time.Minute)
	ok, remaining = l.Allow("1.2.3.4")
	require.True(t, ok)
	require.Equal(t, 2, remaining)
}

func TestEvictsLeastRecentlySeen(t *testing.T) {
	l, err := New("token", 1, time.Hour, 2)
	require.NoError(t, err)

	l.Allow("a")
	l.Allow("b")
	l.Allow("c")
	ok, _ := l.Allow("a")
	require.True(t, ok, "a should have been evicted and start a new window")

	l.Reset()
	ok, _ = l.Allow("c")
	require.True(t, ok)
}

func TestNeverExceedsLimitWithinWindow(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1, 20).Draw(t, "limit")
		n := rapid.IntRange(0, 60).Draw(t, "requests")
		l, err := New("p", limit, time.Hour, 4)
		if err != nil {
			t.Fatal(err)
		}
		allowed := 0
		for i := 0; i < n; i++ {
			if ok, _ := l.Allow("k"); ok {
				allowed++
			}
		}
		if allowed != min(n, limit) {
			t.Fatalf("allowed %d of %d with limit %d", allowed, n, limit)
		}
	})
}

func TestClientIdentity(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/format-minutes", nil)
	require.Equal(t, UnknownClient, ClientIdentity(r))

	r.Header.Set("X-Real-IP", "10.0.0.9")
	require.Equal(t, "10.0.0.9", ClientIdentity(r))

	r.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")
	require.Equal(t, "203.0.113.7", ClientIdentity(r))
}
