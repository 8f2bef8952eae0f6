package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestEventually(t *testing.T) {
	t.Run("condition met immediately", func(t *testing.T) {
		called := false
		Eventually(t, func() bool {
			called = true
			return true
		}, 100*time.Millisecond, 10*time.Millisecond)

		if !called {
			t.Error("condition function should be called")
		}
	})

	t.Run("condition met after delay", func(t *testing.T) {
		var counter int32
		go func() {
			time.Sleep(50 * time.Millisecond)
			atomic.StoreInt32(&counter, 1)
		}()

		Eventually(t, func() bool {
			return atomic.LoadInt32(&counter) == 1
		}, time.Second, 10*time.Millisecond)
	})
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := WithTimeout(t)
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("context should have a deadline")
	}
	if time.Until(deadline) > TestTimeout {
		t.Errorf("deadline is too far in the future")
	}
}

func TestAssertions(t *testing.T) {
	AssertNoError(t, nil)
	AssertError(t, context.Canceled)
	AssertErrorIs(t, fmt.Errorf("wrapped: %w", context.Canceled), context.Canceled)
	AssertEqual(t, 42, 42)
	AssertNotEqual(t, "a", "b")
}

func TestMockClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	c.Advance(time.Minute)
	AssertEqual(t, c.Now(), start.Add(time.Minute))

	c.Set(start)
	AssertEqual(t, c.Now(), start)
}

func TestRedisClock(t *testing.T) {
	r := NewRedis(t)
	ctx, cancel := WithTimeout(t)
	defer cancel()

	AssertNoError(t, r.Client.Set(ctx, "k", "v", 2*time.Second).Err())

	now, err := r.Client.Time(ctx).Result()
	AssertNoError(t, err)
	AssertEqual(t, now.Unix(), BaseTime.Unix())

	r.Advance(3 * time.Second)
	AssertEqual(t, r.Elapsed(), 3*time.Second)

	n, err := r.Client.Exists(ctx, "k").Result()
	AssertNoError(t, err)
	AssertEqual(t, n, int64(0))

	now, err = r.Client.Time(ctx).Result()
	AssertNoError(t, err)
	AssertEqual(t, now.Unix(), BaseTime.Add(3*time.Second).Unix())
}
