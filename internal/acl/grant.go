package acl

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidLevel = errors.New("acl: invalid permission level")
	ErrInvalidInput = errors.New("acl: invalid input")
)

// Level is a cumulative permission level: admin covers write, write covers
// read. Holding a higher level implies all lower ones on the same file.
type Level string

const (
	LevelRead  Level = "read"
	LevelWrite Level = "write"
	LevelAdmin Level = "admin"
)

var levelRank = map[Level]int{
	LevelRead:  1,
	LevelWrite: 2,
	LevelAdmin: 3,
}

// ParseLevel normalizes and validates a level.
func ParseLevel(s string) (Level, error) {
	lvl := Level(strings.TrimSpace(strings.ToLower(s)))
	if _, ok := levelRank[lvl]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
	return lvl, nil
}

// Covers reports whether holding l satisfies a requirement of required.
func (l Level) Covers(required Level) bool {
	return levelRank[l] >= levelRank[required]
}

// Grant is a time-bounded authorization record linking a grantee to a
// permission level on a file. A nil ExpiresAt means the grant never expires.
type Grant struct {
	FileID    string     `json:"file_id"`
	GranteeID string     `json:"grantee_id"`
	Level     Level      `json:"level"`
	GrantedBy string     `json:"granted_by"`
	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ActiveAt reports whether the grant is in force at the given instant.
// Expiry is evaluated lazily at read time; an expired grant stays stored as a
// record of what was granted.
func (g Grant) ActiveAt(now time.Time) bool {
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}
