package storage

import (
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func TestBoltJournalMarksAndExpiresUploads(t *testing.T) {
	j, err := openBolt(filepath.Join(t.TempDir(), "nested", "uploads.db"), Options{
		UploadTTL:       time.Hour,
		CleanupInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("openBolt: %v", err)
	}
	defer j.Close()

	clock := time.Unix(1_700_000_000, 0)
	j.now = func() time.Time { return clock }

	seen, err := j.SeenUpload("k1")
	if err != nil || seen {
		t.Fatalf("expected unseen upload, seen=%v err=%v", seen, err)
	}

	if err := j.MarkUpload("k1"); err != nil {
		t.Fatalf("MarkUpload: %v", err)
	}
	seen, err = j.SeenUpload("k1")
	if err != nil || !seen {
		t.Fatalf("expected upload marked, seen=%v err=%v", seen, err)
	}

	clock = clock.Add(2 * time.Hour)
	seen, err = j.SeenUpload("k1")
	if err != nil {
		t.Fatalf("SeenUpload after expiry: %v", err)
	}
	if seen {
		t.Fatalf("expected entry to expire")
	}
}

func TestBoltJournalCleanupRemovesExpired(t *testing.T) {
	j, err := openBolt(filepath.Join(t.TempDir(), "uploads.db"), Options{
		UploadTTL:       time.Minute,
		CleanupInterval: time.Minute,
	})
	if err != nil {
		t.Fatalf("openBolt: %v", err)
	}
	defer j.Close()

	clock := time.Unix(1_700_000_000, 0)
	j.now = func() time.Time { return clock }
	j.lastCleanup.Store(clock.Unix())

	for _, k := range []string{"a", "b"} {
		if err := j.MarkUpload(k); err != nil {
			t.Fatalf("MarkUpload(%s): %v", k, err)
		}
	}

	clock = clock.Add(5 * time.Minute)
	if err := j.maybeCleanupExpired(clock); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	var count int
	if err := j.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket([]byte(uploadBucket)).Stats().KeyN
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected bucket to be empty, got %d keys", count)
	}
}

func TestNewJournalBackends(t *testing.T) {
	j, err := NewJournal("none", "", Options{})
	if err != nil {
		t.Fatalf("NewJournal none: %v", err)
	}
	if err := j.MarkUpload("x"); err != nil {
		t.Fatalf("noop MarkUpload: %v", err)
	}
	if seen, _ := j.SeenUpload("x"); seen {
		t.Fatalf("noop journal should never report seen")
	}

	if _, err := NewJournal("bbolt", " ", Options{}); err == nil {
		t.Fatalf("expected error for missing path")
	}
	if _, err := NewJournal("redis", "x", Options{}); err == nil {
		t.Fatalf("expected error for unsupported type")
	}

	bj, err := NewJournal("BBolt", filepath.Join(t.TempDir(), "j.db"), Options{})
	if err != nil {
		t.Fatalf("NewJournal bbolt: %v", err)
	}
	defer bj.Close()
}
