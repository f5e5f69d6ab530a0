package cache

import (
	"strconv"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestCache(d time.Duration) (*Cache[string], *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[string](d)
	c.now = clock.now
	return c, clock
}

func TestCache_SetGet(t *testing.T) {
	c, clock := newTestCache(time.Minute)

	c.Set("example.com", "key-a", 0)
	got, ok := c.Get("example.com")
	if !ok || got != "key-a" {
		t.Fatalf("Get() = %q, %v", got, ok)
	}

	clock.t = clock.t.Add(2 * time.Minute)
	if _, ok := c.Get("example.com"); ok {
		t.Errorf("Get() returned an entry past the default duration")
	}
}

func TestCache_Forever(t *testing.T) {
	c, clock := newTestCache(time.Minute)

	c.Set("pinned", "v", -1)
	clock.t = clock.t.Add(24 * time.Hour)
	if _, ok := c.Get("pinned"); !ok {
		t.Errorf("Get() lost an entry stored without expiry")
	}
}

func TestCache_Delete(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Set("k", "v", time.Hour)
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Errorf("Get() returned a deleted entry")
	}
}

func TestCache_DeleteExpired(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	c.Set("short", "v", time.Second)
	c.Set("long", "v", time.Hour)

	clock.t = clock.t.Add(time.Minute)
	c.DeleteExpired()

	if _, ok := c.items.Load("short"); ok {
		t.Errorf("DeleteExpired() kept an expired entry")
	}
	if _, ok := c.items.Load("long"); !ok {
		t.Errorf("DeleteExpired() dropped a live entry")
	}
}

func TestCache_SweepOnWrite(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	c.Set("stale", "v", time.Second)
	clock.t = clock.t.Add(time.Minute)

	for i := 0; i < 100; i++ {
		c.Set(strconv.Itoa(i), "v", time.Hour)
	}
	if _, ok := c.items.Load("stale"); ok {
		t.Errorf("expired entry survived the periodic sweep")
	}
}

func TestNew_DefaultDuration(t *testing.T) {
	c := New[int](0)
	if c.defaultDuration != 10*time.Minute {
		t.Errorf("defaultDuration = %v, want 10m", c.defaultDuration)
	}
}
