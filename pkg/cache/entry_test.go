package cache

import (
	"testing"
	"time"
)

func TestNewEntry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	entry := NewEntry("page:1", []byte("hello"), time.Minute, now)

	if !entry.InsertedAt.Equal(now) {
		t.Errorf("InsertedAt = %v, want %v", entry.InsertedAt, now)
	}
	if !entry.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Errorf("ExpiresAt = %v, want %v", entry.ExpiresAt, now.Add(time.Minute))
	}
	if entry.SizeBytes != int64(len("page:1")+len("hello")) {
		t.Errorf("SizeBytes = %d, want %d", entry.SizeBytes, len("page:1")+len("hello"))
	}
}

func TestEntry_IsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	entry := NewEntry("page:1", nil, 10*time.Second, now)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{name: "at_insert", at: now, want: false},
		{name: "just_before", at: now.Add(10*time.Second - time.Nanosecond), want: false},
		{name: "at_expiry", at: now.Add(10 * time.Second), want: true},
		{name: "after", at: now.Add(time.Minute), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := entry.IsExpired(tt.at); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_TTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	entry := NewEntry("page:1", nil, 10*time.Second, now)

	if got := entry.TTL(now.Add(4 * time.Second)); got != 6*time.Second {
		t.Errorf("TTL() = %v, want 6s", got)
	}
	if got := entry.TTL(now.Add(time.Hour)); got != 0 {
		t.Errorf("TTL() after expiry = %v, want 0", got)
	}
}
