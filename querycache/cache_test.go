package querycache

import (
	"errors"
	"testing"
	"time"
)

func TestCache_PutGet(t *testing.T) {
	c := New(10, time.Minute)
	c.Put("k1", "v1")

	v, ok := c.Get("k1")
	if !ok || v != "v1" {
		t.Fatalf("Get(k1) = %v, %v, want v1, true", v, ok)
	}
}

func TestCache_MissOnUnknownKey(t *testing.T) {
	c := New(10, time.Minute)
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) should be a miss")
	}
	if c.Stats().Misses != 1 {
		t.Errorf("Misses = %d, want 1", c.Stats().Misses)
	}
}

func TestCache_ExpiredEntryIsEvictedOnGet(t *testing.T) {
	c := New(10, time.Millisecond)
	c.Put("k1", "v1")
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("k1"); ok {
		t.Error("Get on expired entry should be a miss")
	}
	stats := c.Stats()
	if stats.Expirations != 1 {
		t.Errorf("Expirations = %d, want 1", stats.Expirations)
	}
	if stats.Size != 0 {
		t.Errorf("Size after expiry = %d, want 0", stats.Size)
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2, time.Minute)
	c.Put("a", 1)
	c.Put("b", 2)

	// touch "a" so "b" becomes the LRU entry
	c.Get("a")

	c.Put("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted as the least-recently-used entry")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should still be present")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should still be present")
	}
	if c.Stats().Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", c.Stats().Evictions)
	}
}

func TestCache_PutExistingKeyUpdatesValueAndRefreshesExpiry(t *testing.T) {
	c := New(10, 50*time.Millisecond)
	c.Put("k1", "v1")
	time.Sleep(30 * time.Millisecond)
	c.Put("k1", "v2")
	time.Sleep(30 * time.Millisecond)

	v, ok := c.Get("k1")
	if !ok {
		t.Fatal("k1 should not have expired after the refreshing Put")
	}
	if v != "v2" {
		t.Errorf("Get(k1) = %v, want v2", v)
	}
}

func TestCache_Invalidate(t *testing.T) {
	c := New(10, time.Minute)
	c.Put("k1", "v1")
	c.Invalidate("k1")

	if _, ok := c.Get("k1"); ok {
		t.Error("k1 should be gone after Invalidate")
	}
}

func TestCache_InvalidateIf(t *testing.T) {
	c := New(10, time.Minute)
	c.Put("study:1", "a")
	c.Put("study:2", "b")
	c.Put("series:1", "c")

	removed := c.InvalidateIf(func(key string) bool {
		return len(key) >= 5 && key[:5] == "study"
	})

	if removed != 2 {
		t.Errorf("InvalidateIf removed %d, want 2", removed)
	}
	if _, ok := c.Get("series:1"); !ok {
		t.Error("series:1 should remain")
	}
}

func TestCache_PurgeExpired(t *testing.T) {
	c := New(10, time.Millisecond)
	c.Put("k1", "v1")
	c.Put("k2", "v2")
	time.Sleep(5 * time.Millisecond)

	removed := c.PurgeExpired()
	if removed != 2 {
		t.Errorf("PurgeExpired removed %d, want 2", removed)
	}
	if c.Stats().Size != 0 {
		t.Errorf("Size after purge = %d, want 0", c.Stats().Size)
	}
}

func TestCache_Clear(t *testing.T) {
	c := New(10, time.Minute)
	c.Put("k1", "v1")
	c.Put("k2", "v2")
	c.Clear()

	if c.Stats().Size != 0 {
		t.Errorf("Size after Clear = %d, want 0", c.Stats().Size)
	}
}

func TestCache_HitRate(t *testing.T) {
	c := New(10, time.Minute)
	c.Put("k1", "v1")
	c.Get("k1")
	c.Get("k1")
	c.Get("missing")

	rate := c.Stats().HitRate()
	if rate != 2.0/3.0 {
		t.Errorf("HitRate() = %v, want %v", rate, 2.0/3.0)
	}
}

func TestCache_HitRate_NoAccesses(t *testing.T) {
	c := New(10, time.Minute)
	if rate := c.Stats().HitRate(); rate != 0 {
		t.Errorf("HitRate() with no accesses = %v, want 0", rate)
	}
}

func TestCache_GetErr(t *testing.T) {
	c := New(10, time.Minute)
	c.Put("k1", "v1")

	if _, err := c.GetErr("k1"); err != nil {
		t.Errorf("GetErr(k1) error = %v, want nil", err)
	}

	_, err := c.GetErr("missing")
	if !errors.Is(err, ErrMiss) {
		t.Errorf("GetErr(missing) error = %v, want ErrMiss", err)
	}
}

func TestKey_Canonicalization(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		ae     string
		params map[string]string
		want   string
	}{
		{
			name:  "no params",
			level: "STUDY",
			want:  "STUDY:",
		},
		{
			name:   "sorted params",
			level:  "STUDY",
			params: map[string]string{"PatientID": "123", "PatientName": "DOE"},
			want:   "STUDY:PatientID=123;PatientName=DOE",
		},
		{
			name:   "with ae prefix",
			level:  "SERIES",
			ae:     "ORTHANC",
			params: map[string]string{"Modality": "CT"},
			want:   "ORTHANC/SERIES:Modality=CT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Key(tt.level, tt.ae, tt.params)
			if got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}
