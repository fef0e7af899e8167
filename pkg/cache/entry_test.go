package cache

import (
	"errors"
	"testing"
	"time"
)

func TestEntry_Expiry(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name        string
		offset      time.Duration
		wantExpired bool
		wantTTL     time.Duration
		slack       time.Duration
	}{
		{name: "status lifetime left", offset: 30 * time.Second, wantTTL: 30 * time.Second, slack: time.Second},
		{name: "summary lifetime left", offset: 6 * time.Hour, wantTTL: 6 * time.Hour, slack: time.Second},
		{name: "stale by a second", offset: -time.Second, wantExpired: true},
		{name: "stale by a day", offset: -24 * time.Hour, wantExpired: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Entry{Data: []byte(`"Online"`), Expires: now.Add(tt.offset), CachedAt: now}

			if e.IsExpired() != tt.wantExpired {
				t.Fatalf("IsExpired() = %v, want %v", e.IsExpired(), tt.wantExpired)
			}
			ttl := e.TTL()
			if tt.wantExpired {
				if ttl != 0 {
					t.Errorf("TTL() = %v, want 0 for a stale entry", ttl)
				}
				return
			}
			if ttl > tt.wantTTL || ttl < tt.wantTTL-tt.slack {
				t.Errorf("TTL() = %v, want within %v of %v", ttl, tt.slack, tt.wantTTL)
			}
		})
	}
}

func TestNewEntry(t *testing.T) {
	entry := NewEntry([]byte(`{"a":1}`), 30*time.Second)

	if entry.IsExpired() {
		t.Error("new entry should not be expired")
	}
	if ttl := entry.TTL(); ttl <= 29*time.Second || ttl > 30*time.Second {
		t.Errorf("TTL() = %v, want ~30s", ttl)
	}
	if entry.CachedAt.IsZero() {
		t.Error("CachedAt was not set")
	}
}

func TestEntry_EncodeDecode(t *testing.T) {
	entry := NewEntry([]byte("payload"), time.Minute)

	data, err := encodeEntry(entry)
	if err != nil {
		t.Fatalf("encodeEntry failed: %v", err)
	}
	decoded, err := decodeEntry(data)
	if err != nil {
		t.Fatalf("decodeEntry failed: %v", err)
	}
	if string(decoded.Data) != "payload" {
		t.Errorf("Data = %q, want %q", decoded.Data, "payload")
	}
	if !decoded.Expires.Equal(entry.Expires) {
		t.Errorf("Expires = %v, want %v", decoded.Expires, entry.Expires)
	}

	if _, err := decodeEntry([]byte("not json")); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("decodeEntry(garbage) error = %v, want ErrInvalidEntry", err)
	}
}
