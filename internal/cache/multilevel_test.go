package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/alt-f6/znaniya-boost-bot/internal/models"
	"github.com/redis/go-redis/v9"
)

func setupTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, "test:"), mr
}

func sampleTasks() []models.Task {
	at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	return []models.Task{
		{ID: 1, UserID: 10, Description: "Buy milk", ScheduledTime: at},
		{ID: 2, UserID: 10, Description: "Call mom", ScheduledTime: at.Add(time.Hour)},
	}
}

func TestMultiLevelCache_ReadersGetIndependentCopies(t *testing.T) {
	c := NewMultiLevelCache(nil)
	defer c.Close()

	tasks := sampleTasks()
	if err := c.Set("tasks:all", tasks, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	tasks[0].Description = "changed after Set"

	var first, second []models.Task
	if err := c.Get("tasks:all", &first); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	first[1].Description = "changed by reader"

	if err := c.Get("tasks:all", &second); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if second[0].Description != "Buy milk" || second[1].Description != "Call mom" {
		t.Errorf("Cached value was mutated: %+v", second)
	}
	if !second[0].ScheduledTime.Equal(sampleTasks()[0].ScheduledTime) {
		t.Errorf("Scheduled time not preserved: %v", second[0].ScheduledTime)
	}
}

func TestMultiLevelCache_BadDestination(t *testing.T) {
	c := NewMultiLevelCache(nil)
	defer c.Close()

	if err := c.Set("tasks:all", sampleTasks(), time.Minute); err != nil {
		t.Fatal(err)
	}

	var notPointer []models.Task
	if err := c.Get("tasks:all", notPointer); err == nil {
		t.Error("Expected an error for a non-pointer destination")
	}
	if err := c.Set("bad", make(chan int), time.Minute); err == nil {
		t.Error("Expected an error for a value that cannot be encoded")
	}
}

func TestMemoryCache_Expiration(t *testing.T) {
	c := NewMemoryCache(10)
	defer c.Close()

	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("short", []byte(`"value"`), 10*time.Second)
	if _, ok := c.Get("short"); !ok {
		t.Fatal("Expected fresh item to be present")
	}

	now = now.Add(10 * time.Second)
	if _, ok := c.Get("short"); ok {
		t.Error("Expected expired item to be gone")
	}
}

func TestMemoryCache_EvictsWhenFull(t *testing.T) {
	c := NewMemoryCache(2)
	defer c.Close()

	c.Set("tasks:user:1", []byte("1"), time.Minute)
	c.Set("tasks:user:2", []byte("2"), 10*time.Second)
	c.Set("tasks:user:3", []byte("3"), time.Minute)

	if c.Len() != 2 {
		t.Fatalf("Expected 2 items, got %d", c.Len())
	}
	if _, ok := c.Get("tasks:user:2"); ok {
		t.Error("Expected the entry closest to expiry to be evicted")
	}
	if _, ok := c.Get("tasks:user:3"); !ok {
		t.Error("Expected the new entry to be stored")
	}

	// overwriting an existing key never evicts
	c.Set("tasks:user:1", []byte("1b"), time.Minute)
	if c.Len() != 2 {
		t.Errorf("Expected 2 items after overwrite, got %d", c.Len())
	}
}

func TestMemoryCache_DeletePattern(t *testing.T) {
	c := NewMemoryCache(0)
	defer c.Close()

	c.Set("tasks:all", []byte("1"), time.Minute)
	c.Set("tasks:user:1", []byte("2"), time.Minute)
	c.Set("session:1", []byte("3"), time.Minute)

	c.DeletePattern("tasks:*")

	if _, ok := c.Get("tasks:all"); ok {
		t.Error("Expected tasks:all to be deleted")
	}
	if _, ok := c.Get("tasks:user:1"); ok {
		t.Error("Expected tasks:user:1 to be deleted")
	}
	if _, ok := c.Get("session:1"); !ok {
		t.Error("Expected session:1 to survive")
	}
}

func TestMultiLevelCache_MemoryOnly(t *testing.T) {
	c := NewMultiLevelCache(nil)
	defer c.Close()

	if err := c.Set("tasks:all", sampleTasks(), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var got []models.Task
	if err := c.Get("tasks:all", &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 tasks, got %d", len(got))
	}

	if err := c.Get("missing", &got); err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}

	stats := c.GetMetrics().GetStats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %+v", stats)
	}
}

func TestMultiLevelCache_FallsBackToRedis(t *testing.T) {
	redisCache, mr := setupTestRedisCache(t)

	c := NewMultiLevelCache(redisCache)
	defer c.Close()

	if err := c.Set("tasks:user:10", sampleTasks(), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !mr.Exists("test:tasks:user:10") {
		t.Fatal("Expected value to be written to redis with prefix")
	}

	c.l1.Delete("tasks:user:10")

	var got []models.Task
	if err := c.Get("tasks:user:10", &got); err != nil {
		t.Fatalf("Get() from L2 error = %v", err)
	}
	if len(got) != 2 || got[1].Description != "Call mom" {
		t.Errorf("Unexpected tasks from L2: %+v", got)
	}

	if _, found := c.l1.Get("tasks:user:10"); !found {
		t.Error("Expected L2 hit to repopulate L1")
	}
}

func TestMultiLevelCache_DeletePatternClearsBothLevels(t *testing.T) {
	redisCache, mr := setupTestRedisCache(t)

	c := NewMultiLevelCache(redisCache)
	defer c.Close()

	c.Set("tasks:all", sampleTasks(), time.Minute)
	c.Set("tasks:user:10", sampleTasks(), time.Minute)

	if err := c.DeletePattern("tasks:*"); err != nil {
		t.Fatalf("DeletePattern() error = %v", err)
	}

	if mr.Exists("test:tasks:all") || mr.Exists("test:tasks:user:10") {
		t.Error("Expected redis keys to be removed")
	}
	if ok, _ := c.Exists("tasks:all"); ok {
		t.Error("Expected L1 key to be removed")
	}
}

func TestMultiLevelCache_RedisDownStillServesL1(t *testing.T) {
	redisCache, mr := setupTestRedisCache(t)

	c := NewMultiLevelCache(redisCache)
	defer c.Close()

	mr.Close()

	if err := c.Set("tasks:all", sampleTasks(), time.Minute); err != nil {
		t.Fatalf("Set() should swallow L2 errors, got %v", err)
	}

	var got []models.Task
	if err := c.Get("tasks:all", &got); err != nil {
		t.Fatalf("Expected L1 hit, got %v", err)
	}
	if c.GetMetrics().GetStats().Errors == 0 {
		t.Error("Expected L2 failure to be counted")
	}
	if err := c.Health(); err == nil {
		t.Error("Expected health error with redis down")
	}
}
