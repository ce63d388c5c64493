package expiry

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mediavault/mediavault/internal/media"
	"github.com/mediavault/mediavault/internal/metrics"
)

type fakeLibrary struct {
	mu      sync.Mutex
	items   []media.Identity
	removed []Key
}

func (f *fakeLibrary) All() []media.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]media.Identity, len(f.items))
	for i, item := range f.items {
		out[i] = item.Clone()
	}
	return out
}

func (f *fakeLibrary) RemoveVariant(id string, kind media.Kind, format media.Format) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, Key{MediaID: id, Kind: kind, Format: format})
	for i := range f.items {
		if f.items[i].ID != id {
			continue
		}
		kept := f.items[i].Variants[:0]
		for _, v := range f.items[i].Variants {
			if !v.Matches(kind, format) {
				kept = append(kept, v)
			}
		}
		f.items[i].Variants = kept
	}
	return nil
}

func (f *fakeLibrary) removedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.removed)
}

func newTestScheduler(lib Library) *Scheduler {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(lib, logger, metrics.New())
}

func writeVariantFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write variant file: %v", err)
	}
	return path
}

func TestArmIsIdempotentAndIgnoresNil(t *testing.T) {
	s := newTestScheduler(&fakeLibrary{})
	defer s.Stop()
	key := Key{MediaID: "m1", Kind: media.KindAudio, Format: media.FormatMP3}

	if s.Arm(key, "/tmp/x", nil) {
		t.Fatalf("nil expiresAt must not arm")
	}
	exp := time.Now().Add(time.Hour)
	if !s.Arm(key, "/tmp/x", &exp) {
		t.Fatalf("first arm should create a timer")
	}
	if s.Arm(key, "/tmp/x", &exp) {
		t.Fatalf("second arm must be a no-op")
	}
	if !s.Pending(key) {
		t.Fatalf("key should be pending")
	}
}

func TestTimerEvictsFileAndRecord(t *testing.T) {
	lib := &fakeLibrary{}
	s := newTestScheduler(lib)
	defer s.Stop()

	path := writeVariantFile(t, "m1.mp3")
	key := Key{MediaID: "m1", Kind: media.KindAudio, Format: media.FormatMP3}
	exp := time.Now().Add(20 * time.Millisecond)
	s.Arm(key, path, &exp)

	deadline := time.Now().Add(2 * time.Second)
	for lib.removedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if lib.removedCount() != 1 {
		t.Fatalf("timer should remove the record")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("timer should delete the file, stat err=%v", err)
	}
	if s.Pending(key) {
		t.Fatalf("fired timer should no longer be pending")
	}
}

func TestPastExpiryFiresImmediately(t *testing.T) {
	lib := &fakeLibrary{}
	s := newTestScheduler(lib)
	defer s.Stop()

	exp := time.Now().Add(-time.Minute)
	s.Arm(Key{MediaID: "m1", Kind: media.KindVideo, Format: media.FormatMP4}, "", &exp)

	deadline := time.Now().Add(2 * time.Second)
	for lib.removedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if lib.removedCount() != 1 {
		t.Fatalf("past expiry should fire without delay")
	}
}

func TestExpired(t *testing.T) {
	s := newTestScheduler(&fakeLibrary{})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if s.Expired(media.Variant{}) {
		t.Fatalf("variant without expiresAt never expires")
	}
	at := now
	if !s.Expired(media.Variant{ExpiresAt: &at}) {
		t.Fatalf("now >= expiresAt should be expired")
	}
	later := now.Add(time.Second)
	if s.Expired(media.Variant{ExpiresAt: &later}) {
		t.Fatalf("future expiresAt should not be expired")
	}
}

func TestEvictIsIdempotentAndDropsTimer(t *testing.T) {
	lib := &fakeLibrary{}
	s := newTestScheduler(lib)
	defer s.Stop()

	path := writeVariantFile(t, "m1.mp4")
	key := Key{MediaID: "m1", Kind: media.KindVideo, Format: media.FormatMP4}
	exp := time.Now().Add(time.Hour)
	s.Arm(key, path, &exp)

	for i := 0; i < 2; i++ {
		if err := s.Evict(key, path, ReasonLazy); err != nil {
			t.Fatalf("evict #%d: %v", i, err)
		}
	}
	if s.Pending(key) {
		t.Fatalf("evict should drop the pending timer")
	}
	if !s.Arm(key, path, &exp) {
		t.Fatalf("key should be armable again after eviction")
	}
}

func TestSweepRemovesExpiredAndMissing(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	keep := writeVariantFile(t, "keep.mp3")
	expired := writeVariantFile(t, "old.mp4")

	lib := &fakeLibrary{items: []media.Identity{
		{ID: "a", Variants: []media.Variant{
			{Kind: media.KindAudio, Format: media.FormatMP3, Path: keep, ExpiresAt: &future},
			{Kind: media.KindVideo, Format: media.FormatMP4, Path: expired, ExpiresAt: &past},
		}},
		{ID: "b", Variants: []media.Variant{
			{Kind: media.KindAudio, Format: media.FormatM4A, Path: filepath.Join(t.TempDir(), "gone.m4a")},
		}},
	}}
	s := newTestScheduler(lib)
	defer s.Stop()

	report, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Scanned != 3 || report.Expired != 1 || report.Missing != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if _, err := os.Stat(expired); !os.IsNotExist(err) {
		t.Fatalf("expired file should be deleted")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatalf("live file must survive: %v", err)
	}
	remaining := lib.All()
	if len(remaining[0].Variants) != 1 || len(remaining[1].Variants) != 0 {
		t.Fatalf("unexpected remaining variants: %+v", remaining)
	}
}

func TestStopDisablesArm(t *testing.T) {
	s := newTestScheduler(&fakeLibrary{})
	s.Stop()
	exp := time.Now().Add(time.Minute)
	if s.Arm(Key{MediaID: "m1", Kind: media.KindAudio, Format: media.FormatMP3}, "", &exp) {
		t.Fatalf("arm after stop should be refused")
	}
}
