package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

// testBackend runs the behaviour every Backend must share.
func testBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("miss", func(t *testing.T) {
		if _, err := b.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Expected ErrCacheMiss, got %v", err)
		}
	})

	t.Run("set and get", func(t *testing.T) {
		if err := b.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := b.Get(ctx, "k1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "v1" {
			t.Errorf("Get = %q, want %q", got, "v1")
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		_ = b.Set(ctx, "k2", []byte("old"), time.Minute)
		_ = b.Set(ctx, "k2", []byte("new"), time.Minute)
		got, err := b.Get(ctx, "k2")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "new" {
			t.Errorf("Get = %q, want %q", got, "new")
		}
	})

	t.Run("no expiry", func(t *testing.T) {
		if err := b.Set(ctx, "forever", []byte("v"), 0); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if _, err := b.Get(ctx, "forever"); err != nil {
			t.Errorf("Get failed: %v", err)
		}
	})

	t.Run("expiry", func(t *testing.T) {
		if err := b.Set(ctx, "short", []byte("v"), 1*time.Second); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		time.Sleep(1100 * time.Millisecond)
		if _, err := b.Get(ctx, "short"); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Expected ErrCacheMiss after expiry, got %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		_ = b.Set(ctx, "gone", []byte("v"), time.Minute)
		if err := b.Delete(ctx, "gone"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := b.Get(ctx, "gone"); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
		}
		// Deleting an absent key is not an error.
		if err := b.Delete(ctx, "gone"); err != nil {
			t.Errorf("second Delete failed: %v", err)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := b.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

// testRegistry runs the behaviour every Registry must share.
func testRegistry(t *testing.T, r Registry) {
	t.Helper()
	ctx := context.Background()

	t.Run("add and members", func(t *testing.T) {
		_ = r.Clear(ctx)
		for _, k := range []string{"b", "a", "a", "c"} {
			if err := r.Add(ctx, k, time.Hour); err != nil {
				t.Fatalf("Add(%s) failed: %v", k, err)
			}
		}
		members, err := r.Members(ctx)
		if err != nil {
			t.Fatalf("Members failed: %v", err)
		}
		sort.Strings(members)
		if len(members) != 3 || members[0] != "a" || members[1] != "b" || members[2] != "c" {
			t.Errorf("Members = %v, want [a b c]", members)
		}
	})

	t.Run("remove", func(t *testing.T) {
		_ = r.Clear(ctx)
		_ = r.Add(ctx, "a", time.Hour)
		_ = r.Add(ctx, "b", time.Hour)
		if err := r.Remove(ctx, "a"); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		members, _ := r.Members(ctx)
		if len(members) != 1 || members[0] != "b" {
			t.Errorf("Members = %v, want [b]", members)
		}
	})

	t.Run("clear", func(t *testing.T) {
		_ = r.Add(ctx, "a", time.Hour)
		if err := r.Clear(ctx); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		members, _ := r.Members(ctx)
		if len(members) != 0 {
			t.Errorf("Members after Clear = %v, want empty", members)
		}
		// Clearing an empty registry is not an error.
		if err := r.Clear(ctx); err != nil {
			t.Errorf("second Clear failed: %v", err)
		}
	})

	t.Run("concurrent adds are not lost", func(t *testing.T) {
		_ = r.Clear(ctx)
		const n = 50
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = r.Add(ctx, Normalize(string(rune('A'+i))), time.Hour)
			}(i)
		}
		wg.Wait()
		members, _ := r.Members(ctx)
		if len(members) != n {
			t.Errorf("Members = %d, want %d", len(members), n)
		}
	})

	t.Run("registry expiry", func(t *testing.T) {
		_ = r.Clear(ctx)
		_ = r.Add(ctx, "a", 1*time.Second)
		time.Sleep(1100 * time.Millisecond)
		members, _ := r.Members(ctx)
		if len(members) != 0 {
			t.Errorf("Members after registry expiry = %v, want empty", members)
		}
	})
}
