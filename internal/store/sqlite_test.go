package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rcliao/modeldeps/internal/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(t *testing.T, limits Limits, clock *fakeClock) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"), limits, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(data string) model.CacheEntry {
	return model.CacheEntry{FileID: "f-" + data, Filename: data + ".png", Data: []byte(data), MIMEType: "image/png"}
}

func TestSetAndGet(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, DefaultLimits(), clock)

	payload := []byte{0x89, 'P', 'N', 'G', 0, 1, 2, 3}
	err := s.Set(ctx, "k", model.CacheEntry{FileID: "id-1", Filename: "wolf.png", Data: payload, MIMEType: "image/png"})
	if err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got.Data, payload) {
		t.Errorf("payload mismatch: %v", got.Data)
	}
	if got.MIMEType != "image/png" || got.FileID != "id-1" || got.Filename != "wolf.png" {
		t.Errorf("unexpected entry %+v", got)
	}
	if got.Size != int64(len(payload)) {
		t.Errorf("expected size %d, got %d", len(payload), got.Size)
	}
	if !got.ExpiresAt.Equal(clock.Now().Add(DefaultLimits().TTL)) {
		t.Errorf("unexpected expiry %v", got.ExpiresAt)
	}
}

func TestGetMiss(t *testing.T) {
	s := newTestStore(t, DefaultLimits(), newFakeClock())
	_, ok, err := s.Get(context.Background(), "nope")
	if err != nil || ok {
		t.Errorf("expected clean miss, got ok=%v err=%v", ok, err)
	}
}

func TestExpiredIsMissAndPurged(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, Limits{TTL: time.Hour}, clock)

	s.Set(ctx, "k", entry("a"))
	clock.Advance(30 * time.Minute)
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatal("expected hit before expiry")
	}

	// Reads do not extend the expiration window.
	clock.Advance(30 * time.Minute)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("expected miss at expiry")
	}
	s.purges.Wait()

	st, _ := s.Stats(ctx)
	if st.Entries != 0 {
		t.Errorf("expected expired entry to be purged, %d remain", st.Entries)
	}
}

func TestSetRejectsOversize(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Limits{MaxItemSize: 4, MaxTotalSize: 100}, newFakeClock())

	err := s.Set(ctx, "big", entry("too-big"))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if _, ok, _ := s.Get(ctx, "big"); ok {
		t.Error("oversize entry must not be stored")
	}
}

func TestItemLimitClampedToTotal(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, Limits{MaxItemSize: 1000, MaxTotalSize: 100}, clock)

	if got := s.Limits().MaxItemSize; got != 100 {
		t.Fatalf("expected item limit clamped to 100, got %d", got)
	}

	if err := s.Set(ctx, "a", model.CacheEntry{FileID: "a", Data: bytes.Repeat([]byte("x"), 60)}); err != nil {
		t.Fatalf("set a: %v", err)
	}
	clock.Advance(time.Second)
	err := s.Set(ctx, "b", model.CacheEntry{FileID: "b", Data: bytes.Repeat([]byte("x"), 200)})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}

	if _, ok, _ := s.Get(ctx, "a"); !ok {
		t.Error("rejected write must not evict existing entries")
	}
	st, _ := s.Stats(ctx)
	if st.TotalSize > st.MaxTotalSize {
		t.Errorf("resident size %d exceeds ceiling %d", st.TotalSize, st.MaxTotalSize)
	}
}

func TestEvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, Limits{MaxItemSize: 60, MaxTotalSize: 100}, clock)

	put := func(key string, size int) {
		t.Helper()
		clock.Advance(time.Second)
		if err := s.Set(ctx, key, model.CacheEntry{FileID: key, Filename: key, Data: bytes.Repeat([]byte("x"), size)}); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	put("a", 40)
	put("b", 40)
	put("c", 40) // evicts a
	put("d", 60) // evicts b

	for key, want := range map[string]bool{"a": false, "b": false, "c": true, "d": true} {
		if _, ok, _ := s.Get(ctx, key); ok != want {
			t.Errorf("%s: expected present=%v", key, want)
		}
	}

	st, _ := s.Stats(ctx)
	if st.TotalSize > st.MaxTotalSize {
		t.Errorf("resident size %d exceeds ceiling %d", st.TotalSize, st.MaxTotalSize)
	}
	if st.Entries != 2 || st.TotalSize != 100 {
		t.Errorf("expected 2 entries / 100 bytes, got %d / %d", st.Entries, st.TotalSize)
	}
}

func TestEvictionIgnoresAccessTime(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, Limits{MaxItemSize: 50, MaxTotalSize: 100}, clock)

	data := bytes.Repeat([]byte("x"), 50)
	s.Set(ctx, "old", model.CacheEntry{Data: data})
	clock.Advance(time.Second)
	s.Set(ctx, "new", model.CacheEntry{Data: data})
	clock.Advance(time.Second)

	// Reading "old" does not protect it.
	s.Get(ctx, "old")
	clock.Advance(time.Second)
	s.Set(ctx, "newest", model.CacheEntry{Data: data})

	if _, ok, _ := s.Get(ctx, "old"); ok {
		t.Error("expected oldest-inserted entry to be evicted")
	}
	if _, ok, _ := s.Get(ctx, "new"); !ok {
		t.Error("expected newer entry to survive")
	}
}

func TestSetReplacesAndRefreshes(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, Limits{MaxItemSize: 60, MaxTotalSize: 100}, clock)

	s.Set(ctx, "k", model.CacheEntry{Data: bytes.Repeat([]byte("a"), 60)})
	clock.Advance(time.Minute)
	// Replacing the same key does not evict itself to make room.
	if err := s.Set(ctx, "k", model.CacheEntry{Data: bytes.Repeat([]byte("b"), 60), MIMEType: "text/plain"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, _ := s.Get(ctx, "k")
	if !ok || got.Data[0] != 'b' || got.MIMEType != "text/plain" {
		t.Fatalf("expected replaced entry, got %+v", got)
	}
	if !got.Timestamp.Equal(clock.Now()) {
		t.Errorf("expected refreshed timestamp, got %v", got.Timestamp)
	}
}

func TestRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, Limits{TTL: time.Hour}, clock)

	s.Set(ctx, "a", entry("a"))
	s.Set(ctx, "b", entry("b"))

	removed, err := s.Remove(ctx, "a")
	if err != nil || !removed {
		t.Fatalf("remove: removed=%v err=%v", removed, err)
	}
	if removed, _ := s.Remove(ctx, "a"); removed {
		t.Error("second remove should report nothing removed")
	}

	clock.Advance(2 * time.Hour)
	s.Set(ctx, "c", entry("c"))

	st, _ := s.Stats(ctx)
	if st.Expired != 1 {
		t.Errorf("expected 1 expired entry, got %d", st.Expired)
	}

	n, err := s.ClearExpired(ctx)
	if err != nil || n != 1 {
		t.Errorf("clear expired: n=%d err=%v", n, err)
	}
	n, err = s.ClearAll(ctx)
	if err != nil || n != 1 {
		t.Errorf("clear all: n=%d err=%v", n, err)
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, Limits{TTL: time.Hour}, clock)

	s.Set(ctx, DependencyKey("main-1", "a.png"), entry("a"))
	clock.Advance(time.Second)
	s.Set(ctx, DependencyKey("main-1", "b.png"), entry("b"))
	clock.Advance(time.Second)
	s.Set(ctx, DependencyKey("main_2", "c.png"), entry("c"))

	all, err := s.List(ctx, ListParams{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].Filename != "c.png" {
		t.Errorf("expected 3 entries newest first, got %+v", all)
	}
	if all[0].Data != nil {
		t.Error("list must not load payloads")
	}

	scoped, _ := s.List(ctx, ListParams{Prefix: "main-1::"})
	if len(scoped) != 2 {
		t.Errorf("expected 2 entries for main-1, got %d", len(scoped))
	}
	// "_" in a prefix is literal, not a wildcard.
	if literal, _ := s.List(ctx, ListParams{Prefix: "main_1::"}); len(literal) != 0 {
		t.Errorf("expected no entries for main_1, got %d", len(literal))
	}

	clock.Advance(2 * time.Hour)
	if live, _ := s.List(ctx, ListParams{}); len(live) != 0 {
		t.Errorf("expected expired entries hidden, got %d", len(live))
	}
	if withExpired, _ := s.List(ctx, ListParams{IncludeExpired: true}); len(withExpired) != 3 {
		t.Errorf("expected 3 with expired, got %d", len(withExpired))
	}
}

func TestConcurrentSetLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, DefaultLimits(), newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Set(ctx, "shared", model.CacheEntry{Data: []byte{byte(i)}}); err != nil {
				t.Errorf("set: %v", err)
			}
		}(i)
	}
	wg.Wait()

	st, _ := s.Stats(ctx)
	if st.Entries != 1 {
		t.Errorf("expected a single entry, got %d", st.Entries)
	}
}

func TestDependencyKey(t *testing.T) {
	if DependencyKey("id", "Wolf_Body.JPG") != DependencyKey("id", "wolf_body.jpg") {
		t.Error("key should ignore filename case")
	}
	if DependencyKey("a", "x.png") == DependencyKey("b", "x.png") {
		t.Error("key should depend on the main file")
	}
}

func TestSchemaVersion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "dir", "cache.db")
	s, err := NewSQLiteStore(dbPath, DefaultLimits())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("expected db file to be created")
	}
	s.Set(context.Background(), "k", entry("a"))
	s.Close()

	// Reopening the same version keeps entries.
	s, err = NewSQLiteStore(dbPath, DefaultLimits())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, ok, _ := s.Get(context.Background(), "k"); !ok {
		t.Error("expected entry to survive reopen")
	}
	s.db.Exec(`UPDATE schema_meta SET value = '99' WHERE key = 'version'`)
	s.Close()

	_, err = NewSQLiteStore(dbPath, DefaultLimits())
	if !errors.Is(err, ErrSchemaVersion) {
		t.Errorf("expected ErrSchemaVersion, got %v", err)
	}
}
