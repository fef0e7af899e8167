package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryBackend(t *testing.T) {
	testBackend(t, NewMemoryBackend())
}

func TestMemoryRegistry(t *testing.T) {
	testRegistry(t, NewMemoryRegistry())
}

func TestMemoryBackend_CopiesValues(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()

	value := []byte("abc")
	_ = m.Set(ctx, "k", value, time.Minute)
	value[0] = 'x'

	got, _ := m.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value aliased caller slice: %q", got)
	}

	got[0] = 'y'
	again, _ := m.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("returned value aliased stored slice: %q", again)
	}
}

func TestMemoryBackend_Expiry(t *testing.T) {
	tests := []struct {
		name    string
		cleanup time.Duration
		wantLen int
	}{
		// Without a janitor the expired item still counts until it is read.
		{name: "lazy", cleanup: 0, wantLen: 2},
		{name: "janitor", cleanup: 5 * time.Millisecond, wantLen: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemoryBackendWithCleanup(tt.cleanup)
			ctx := context.Background()

			_ = m.Set(ctx, "short", []byte("v"), 10*time.Millisecond)
			_ = m.Set(ctx, "long", []byte("v"), time.Hour)
			time.Sleep(40 * time.Millisecond)

			if m.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", m.Len(), tt.wantLen)
			}
			if _, err := m.Get(ctx, "short"); !errors.Is(err, ErrCacheMiss) {
				t.Errorf("Get(short) error = %v, want ErrCacheMiss", err)
			}
			if _, err := m.Get(ctx, "long"); err != nil {
				t.Errorf("Get(long) error = %v", err)
			}
		})
	}
}
