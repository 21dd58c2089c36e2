package dispatch

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/relaydesk/internal/state"
)

// Role classifies an incoming actor id.
type Role int

const (
	// RoleUninitialized means the system has no admin yet; only /init works.
	RoleUninitialized Role = iota
	// RoleBlocked suppresses all routing for the id.
	RoleBlocked
	RoleAdmin
	RoleAgent
	RolePlain
)

func (r Role) String() string {
	switch r {
	case RoleUninitialized:
		return "uninitialized"
	case RoleBlocked:
		return "blocked"
	case RoleAdmin:
		return "admin"
	case RoleAgent:
		return "agent"
	default:
		return "plain"
	}
}

// Classify resolves id against the snapshot. Precedence: uninitialized
// system first, then blocked, admin, agent, plain.
func Classify(s *state.Snapshot, id int64) Role {
	switch {
	case !s.Initialized():
		return RoleUninitialized
	case s.Blacklist[id] != nil:
		return RoleBlocked
	case s.IsAdmin(id):
		return RoleAdmin
	case s.Agents[id] != nil:
		return RoleAgent
	default:
		return RolePlain
	}
}

// backRefPattern matches the @<name>(<id>) marker the router embeds in
// every relayed text so a reply can be traced back to its user.
var backRefPattern = regexp.MustCompile(`@(\S+?)\((\d+)\)`)

// ParseBackReference extracts the origin user id and display name from a
// replied-to message body. Returns ok=false when the marker is absent.
func ParseBackReference(text string) (userID int64, name string, ok bool) {
	m := backRefPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, "", false
	}
	id, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, m[1], true
}

var nameSanitizer = strings.NewReplacer("(", "", ")", "")

// SanitizeName strips the back-reference delimiter characters from a
// display name so the embedded marker stays parseable.
func SanitizeName(name string) string {
	return strings.TrimSpace(nameSanitizer.Replace(name))
}
