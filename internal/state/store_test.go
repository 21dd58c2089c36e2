package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestStoreRoundTrip saves a populated snapshot and loads it back.
func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	snap := NewSnapshot()
	snap.Admins = []int64{1}
	snap.Agents[1] = &Agent{ID: 1, Name: "boss", ChatID: 1001, Serving: 101}
	snap.Users[101] = &UserSession{
		ID: 101, ChatID: 1101, Name: "u1",
		Status: StatusActive, Handler: 1, History: []int64{1},
	}
	snap.Pending[102] = &PendingRequest{ID: 102, Name: "u2", ChatID: 1102}
	snap.WaitingQueue = []int64{103, 104}
	snap.Blacklist[105] = &BlacklistEntry{ID: 105, Name: "bad", BlockedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	snap.Settings.AutoEndButton = false

	if err := store.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Agents[1] == nil || got.Agents[1].Serving != 101 {
		t.Errorf("agent not restored: %+v", got.Agents[1])
	}
	if u := got.Users[101]; u == nil || u.Status != StatusActive || u.Handler != 1 || len(u.History) != 1 {
		t.Errorf("user not restored: %+v", u)
	}
	if got.Pending[102] == nil {
		t.Error("pending request not restored")
	}
	if len(got.WaitingQueue) != 2 || got.WaitingQueue[0] != 103 {
		t.Errorf("queue not restored: %v", got.WaitingQueue)
	}
	if e := got.Blacklist[105]; e == nil || !e.BlockedAt.Equal(snap.Blacklist[105].BlockedAt) {
		t.Errorf("blacklist not restored: %+v", e)
	}
	if got.Settings.AutoEndButton {
		t.Error("settings not restored")
	}
	if err := got.Check(); err != nil {
		t.Errorf("restored snapshot violates invariants: %v", err)
	}
}

// TestLoadMissingFile returns a fresh empty snapshot.
func TestLoadMissingFile(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Initialized() || len(snap.Agents) != 0 {
		t.Errorf("expected empty snapshot, got %+v", snap)
	}
	if !snap.Settings.AutoEndButton {
		t.Error("auto end button should default on")
	}
}

// TestLoadCorruptFile recovers with a fresh snapshot instead of failing
// startup.
func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Initialized() {
		t.Error("corrupt file should yield a fresh snapshot")
	}
}

// TestLoadLegacyDocument loads a document with absent collections and a
// missing settings block: collections default empty, the end button
// defaults on.
func TestLoadLegacyDocument(t *testing.T) {
	raw := `{
  "admins": [1],
  "service": {"1": {"id": 1, "username": "boss", "chatId": 1001}}
}`
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !snap.Initialized() || snap.Agents[1] == nil {
		t.Fatalf("admins/agents not loaded: %+v", snap)
	}
	if snap.Users == nil || snap.Pending == nil || snap.WaitingQueue == nil || snap.Blacklist == nil {
		t.Error("missing collections must default to empty, not nil")
	}
	if !snap.Settings.AutoEndButton {
		t.Error("absent settings must default the end button on")
	}
}

// TestNewStoreCreatesParentDir verifies nested state paths work.
func TestNewStoreCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "state.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Save(NewSnapshot()); err != nil {
		t.Fatalf("Save into created dir: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}
}

// TestCheckViolations exercises the invariant checker on broken
// snapshots.
func TestCheckViolations(t *testing.T) {
	base := func() *Snapshot {
		s := NewSnapshot()
		s.Admins = []int64{1}
		s.Agents[1] = &Agent{ID: 1, Name: "boss", ChatID: 1001}
		return s
	}

	tests := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"agent serves missing user", func(s *Snapshot) {
			s.Agents[1].Serving = 101
		}},
		{"serving without matching handler", func(s *Snapshot) {
			s.Agents[1].Serving = 101
			s.Users[101] = &UserSession{ID: 101, Status: StatusActive, Handler: 0, History: []int64{}}
		}},
		{"handler missing from history", func(s *Snapshot) {
			s.Agents[1].Serving = 101
			s.Users[101] = &UserSession{ID: 101, Status: StatusActive, Handler: 1, History: []int64{}}
		}},
		{"id both agent and user", func(s *Snapshot) {
			s.Users[1] = &UserSession{ID: 1, Status: StatusWaiting, History: []int64{}}
		}},
		{"two agents serving one user", func(s *Snapshot) {
			s.Agents[2] = &Agent{ID: 2, Name: "a1", ChatID: 1002, Serving: 101}
			s.Agents[1].Serving = 101
			s.Users[101] = &UserSession{ID: 101, Status: StatusActive, Handler: 1, History: []int64{1}}
		}},
		{"blacklisted agent", func(s *Snapshot) {
			s.Agents[2] = &Agent{ID: 2, Name: "a1", ChatID: 1002}
			s.Blacklist[2] = &BlacklistEntry{ID: 2}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			tt.mutate(s)
			if err := s.Check(); err == nil {
				t.Error("expected a violation, got nil")
			}
		})
	}

	if err := base().Check(); err != nil {
		t.Errorf("healthy snapshot flagged: %v", err)
	}
}
