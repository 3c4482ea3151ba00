package reserve

import (
	"os"
	"path/filepath"
	"testing"
)

func TestKeyStable(t *testing.T) {
	k := Key("BlueLake", "src/auth/*")
	if len(k) != 12 {
		t.Errorf("key length = %d, want 12", len(k))
	}
	if k != Key("BlueLake", "src/auth/*") {
		t.Error("key must be deterministic")
	}
	if k == Key("BlueLake", "src/billing/*") {
		t.Error("different paths must key differently")
	}
}

func TestRecordDedupAndOrder(t *testing.T) {
	s := NewPendingStore(t.TempDir())

	for _, r := range []string{"AmberPeak", "CoralBay", "AmberPeak"} {
		if err := s.Record("BlueLake", "src/auth/*", r); err != nil {
			t.Fatalf("Record(%s) failed: %v", r, err)
		}
	}

	all, err := s.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(all))
	}
	entry := all[0]
	if entry.Holder != "BlueLake" || entry.Path != "src/auth/*" {
		t.Errorf("entry = %+v", entry)
	}
	if len(entry.Requesters) != 2 || entry.Requesters[0] != "AmberPeak" || entry.Requesters[1] != "CoralBay" {
		t.Errorf("requesters = %v, want insertion order without duplicates", entry.Requesters)
	}
}

func TestDrainMatchesHolderAndOverlap(t *testing.T) {
	s := NewPendingStore(t.TempDir())

	if err := s.Record("BlueLake", "src/auth/*", "AmberPeak"); err != nil {
		t.Fatal(err)
	}
	if err := s.Record("BlueLake", "docs/README.md", "CoralBay"); err != nil {
		t.Fatal(err)
	}
	if err := s.Record("OtherHolder", "src/auth/*", "CoralBay"); err != nil {
		t.Fatal(err)
	}

	drained, err := s.Drain("BlueLake", []Pattern{ParsePattern("src/auth/login.ts")})
	if err != nil {
		t.Fatal(err)
	}
	if len(drained) != 1 || drained[0].Path != "src/auth/*" {
		t.Fatalf("drained = %+v", drained)
	}

	// The other holder's entry and the non-overlapping path survive.
	remaining, err := s.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 2 {
		t.Errorf("remaining = %+v", remaining)
	}

	// Draining again returns nothing: each entry is reported exactly once.
	drained, err = s.Drain("BlueLake", []Pattern{ParsePattern("src/auth/*")})
	if err != nil {
		t.Fatal(err)
	}
	if len(drained) != 0 {
		t.Errorf("second drain = %+v", drained)
	}
}

func TestDrainDeletesFile(t *testing.T) {
	dir := t.TempDir()
	s := NewPendingStore(dir)
	if err := s.Record("BlueLake", "src/*", "AmberPeak"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Drain("BlueLake", []Pattern{ParsePattern("src/app.ts")}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, Key("BlueLake", "src/*")+".pending")); !os.IsNotExist(err) {
		t.Error("drained pending file should be deleted")
	}
}

func TestAllEmptyDir(t *testing.T) {
	s := NewPendingStore(filepath.Join(t.TempDir(), "missing"))
	all, err := s.All()
	if err != nil || len(all) != 0 {
		t.Errorf("All on missing dir = %v, %v", all, err)
	}
}
