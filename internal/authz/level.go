// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package authz

import (
	"sort"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Level is the legacy coarse-grained rank. A subject holds at most one
// active level per guild; the top two ranks are system-wide and resolved
// globally rather than per guild.
type Level int

// Level constants. Higher ranks carry supersets of lower ranks'
// permissions in the default table; that monotonicity is a configuration
// invariant, not something the engine enforces.
const (
	LevelMember          Level = iota // member
	LevelRegular                      // regular
	LevelHelper                       // helper
	LevelModerator                    // moderator
	LevelSeniorModerator              // senior_moderator
	LevelAdministrator                // administrator
	LevelManager                      // manager
	LevelOwner                        // owner
	LevelOperator                     // operator
	LevelRoot                         // root
)

var levelStrings = [...]string{
	"member",
	"regular",
	"helper",
	"moderator",
	"senior_moderator",
	"administrator",
	"manager",
	"owner",
	"operator",
	"root",
}

func (l Level) String() string {
	if l >= 0 && int(l) < len(levelStrings) {
		return levelStrings[l]
	}
	return "unknown"
}

// Valid reports whether l is a defined level.
func (l Level) Valid() bool {
	return l >= LevelMember && l <= LevelRoot
}

// SystemRank reports whether the level is resolved globally instead of
// per guild (the two operator ranks).
func (l Level) SystemRank() bool {
	return l >= LevelOperator
}

// Permission groups composed into the default table. Patterns use glob
// syntax with ':' as the separator, so "message:*" covers every message
// capability and "**" covers everything.
var (
	memberPowers = []string{
		"message:send",
	}
	helperPowers = []string{
		"message:pin",
		"thread:manage",
	}
	moderatorPowers = []string{
		"message:moderate",
		"member:kick",
	}
	adminPowers = []string{
		"guild:config",
		"member:ban",
		"channel:manage",
		"category:manage",
		"audit:view",
		"level:assign",
	}
	operatorPowers = []string{
		"**",
	}
)

// compiledPattern pairs a permission pattern with its compiled glob.
type compiledPattern struct {
	pattern string
	glob    glob.Glob
}

// LevelTable maps levels to compiled permission patterns. Immutable
// after construction and safe for concurrent use without locking.
type LevelTable struct {
	patterns map[Level][]compiledPattern
}

// NewLevelTable compiles a level definition map into a table. Returns an
// error if any pattern has invalid glob syntax or any level is out of
// range.
func NewLevelTable(defs map[int][]string) (*LevelTable, error) {
	compiled := make(map[Level][]compiledPattern, len(defs))
	for raw, patterns := range defs {
		level := Level(raw)
		if !level.Valid() {
			return nil, oops.
				Code("UNKNOWN_LEVEL").
				With("level", raw).
				Errorf("level %d outside 0..%d", raw, int(LevelRoot))
		}
		entries := make([]compiledPattern, 0, len(patterns))
		for _, p := range patterns {
			g, err := glob.Compile(p, ':')
			if err != nil {
				return nil, oops.
					Code("INVALID_PERMISSION_PATTERN").
					With("level", level.String()).
					With("pattern", p).
					Wrap(err)
			}
			entries = append(entries, compiledPattern{pattern: p, glob: g})
		}
		compiled[level] = entries
	}
	return &LevelTable{patterns: compiled}, nil
}

// DefaultLevelTable returns the built-in table. Levels compose permission
// groups explicitly, so every rank's set contains the sets below it.
//
// Panics if the built-in patterns fail to compile; they are hardcoded, so
// a failure is a code bug that should fail fast.
func DefaultLevelTable() *LevelTable {
	table, err := NewLevelTable(DefaultLevelDefinitions())
	if err != nil {
		panic("invalid permission pattern in default level table: " + err.Error())
	}
	return table
}

// DefaultLevelDefinitions returns the raw pattern lists behind
// DefaultLevelTable, in the shape the config loader accepts.
func DefaultLevelDefinitions() map[int][]string {
	moderator := composePowers(memberPowers, helperPowers, moderatorPowers)
	admin := composePowers(moderator, adminPowers)
	return map[int][]string{
		int(LevelMember):          memberPowers,
		int(LevelRegular):         memberPowers,
		int(LevelHelper):          composePowers(memberPowers, helperPowers),
		int(LevelModerator):       moderator,
		int(LevelSeniorModerator): moderator,
		int(LevelAdministrator):   admin,
		int(LevelManager):         admin,
		int(LevelOwner):           admin,
		int(LevelOperator):        operatorPowers,
		int(LevelRoot):            operatorPowers,
	}
}

// Allows reports whether the level's permission set contains perm.
func (t *LevelTable) Allows(l Level, perm Permission) bool {
	for _, cp := range t.patterns[l] {
		if cp.glob.Match(string(perm)) {
			return true
		}
	}
	return false
}

// PermissionsFor enumerates the registered permissions matched by the
// level's patterns, sorted. Wildcard patterns expand against the
// permission registry, so the result is always concrete.
func (t *LevelTable) PermissionsFor(l Level) []Permission {
	var out []Permission
	for _, perm := range registry {
		if t.Allows(l, perm) {
			out = append(out, perm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Levels returns the levels defined in the table, ascending.
func (t *LevelTable) Levels() []Level {
	out := make([]Level, 0, len(t.patterns))
	for l := range t.patterns {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// composePowers merges pattern groups into one slice.
func composePowers(groups ...[]string) []string {
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	result := make([]string, 0, total)
	for _, g := range groups {
		result = append(result, g...)
	}
	return result
}
