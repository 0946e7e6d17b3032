package cache

import (
	"testing"
	"time"
)

func TestEntry_IsExpired(t *testing.T) {
	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{"future", time.Now().Add(time.Minute), false},
		{"past", time.Now().Add(-time.Minute), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Entry{Expires: tt.expires}
			if got := e.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_TTL(t *testing.T) {
	e := &Entry{Expires: time.Now().Add(30 * time.Second)}
	if ttl := e.TTL(); ttl <= 25*time.Second || ttl > 30*time.Second {
		t.Errorf("TTL() = %v, want ~30s", ttl)
	}

	e.Expires = time.Now().Add(-time.Second)
	if ttl := e.TTL(); ttl != 0 {
		t.Errorf("TTL() of expired entry = %v, want 0", ttl)
	}
}

func TestEntry_Age(t *testing.T) {
	e := &Entry{CachedAt: time.Now().Add(-2 * time.Second)}
	if age := e.Age(); age < 2*time.Second {
		t.Errorf("Age() = %v, want >= 2s", age)
	}
}
