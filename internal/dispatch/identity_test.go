package dispatch

import (
	"testing"

	"github.com/nextlevelbuilder/relaydesk/internal/state"
)

// TestClassifyPrecedence checks the role resolution order: an empty
// admin set shadows everything, the blacklist shadows admin and agent
// roles, admin shadows agent.
func TestClassifyPrecedence(t *testing.T) {
	snap := state.NewSnapshot()
	snap.Admins = []int64{1}
	snap.Agents[1] = &state.Agent{ID: 1, Name: "boss", ChatID: 1001}
	snap.Agents[2] = &state.Agent{ID: 2, Name: "a1", ChatID: 1002}
	snap.Blacklist[3] = &state.BlacklistEntry{ID: 3, Name: "bad"}

	tests := []struct {
		name string
		id   int64
		want Role
	}{
		{"admin", 1, RoleAdmin},
		{"agent", 2, RoleAgent},
		{"blocked", 3, RoleBlocked},
		{"plain", 4, RolePlain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(snap, tt.id); got != tt.want {
				t.Errorf("Classify(%d) = %s, want %s", tt.id, got, tt.want)
			}
		})
	}

	empty := state.NewSnapshot()
	empty.Blacklist[3] = &state.BlacklistEntry{ID: 3}
	if got := Classify(empty, 3); got != RoleUninitialized {
		t.Errorf("uninitialized snapshot: got %s, want uninitialized", got)
	}
}

// TestParseBackReference covers the reply marker in the shapes the
// router actually produces, plus malformed inputs.
func TestParseBackReference(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantID   int64
		wantName string
		wantOK   bool
	}{
		{
			name:     "primary decoration",
			text:     "hello\n\n⬆ Message from user @alice(12345).",
			wantID:   12345,
			wantName: "alice",
			wantOK:   true,
		},
		{
			name:     "observer decoration",
			text:     "hi\n\n👁 [history update] Message from user @bob(42).",
			wantID:   42,
			wantName: "bob",
			wantOK:   true,
		},
		{
			name:     "marker mid-text",
			text:     "re @carol(7) see above",
			wantID:   7,
			wantName: "carol",
			wantOK:   true,
		},
		{name: "plain mention without id", text: "ping @dave please"},
		{name: "empty", text: ""},
		{name: "id not numeric", text: "@eve(abc)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, name, ok := ParseBackReference(tt.text)
			if ok != tt.wantOK || id != tt.wantID || name != tt.wantName {
				t.Errorf("ParseBackReference(%q) = (%d, %q, %v), want (%d, %q, %v)",
					tt.text, id, name, ok, tt.wantID, tt.wantName, tt.wantOK)
			}
		})
	}
}

// TestSanitizeName verifies parentheses are stripped so an embedded
// marker built from the name stays parseable.
func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice", "alice"},
		{"ali(ce)", "alice"},
		{"  spaced  ", "spaced"},
		{"(1)", "1"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
