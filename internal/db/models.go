package db

import (
	"strings"
	"time"
)

// User is a student account plus the public profile used for matching.
type User struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	Email        string `gorm:"uniqueIndex;size:128;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	Active       bool   `gorm:"default:true"`
	// IsPublic hides the profile from candidate queries when false.
	IsPublic   bool   `gorm:"default:true;index:idx_users_public_active,priority:1"`
	Name       string `gorm:"size:128"`
	University string `gorm:"size:128"`
	Major      string `gorm:"size:128"`
	Year       int
	// Interests is a comma separated list, lower-cased on write.
	Interests  string `gorm:"size:512"`
	StudyStyle string `gorm:"size:64"`
	Bio        string `gorm:"size:1024"`

	LastLoginAt time.Time
	// LastActiveAt is bumped by presence heartbeats.
	LastActiveAt   *time.Time `gorm:"index"`
	PresenceStatus string     `gorm:"size:16;default:offline"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// InterestList splits Interests into trimmed, non-empty entries.
func (u User) InterestList() []string {
	var out []string
	for _, s := range strings.Split(u.Interests, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// MatchStatus is the lifecycle of a relationship between two users.
type MatchStatus string

const (
	MatchPending  MatchStatus = "PENDING"
	MatchAccepted MatchStatus = "ACCEPTED"
	MatchRejected MatchStatus = "REJECTED"
	MatchBlocked  MatchStatus = "BLOCKED"
)

// Match is the single relationship row between two users.
//
// The pair is stored canonically (UserLowID < UserHighID) so that one unique
// index covers both directions; InitiatorID records who acted last.
//
// Indexes:
//   - idx_match_pair(user_low_id, user_high_id) unique
//   - idx_match_status_updated(status, updated_at DESC) for match lists
type Match struct {
	ID          uint64      `gorm:"primaryKey;autoIncrement"`
	UserLowID   uint64      `gorm:"not null;uniqueIndex:idx_match_pair,priority:1"`
	UserHighID  uint64      `gorm:"not null;uniqueIndex:idx_match_pair,priority:2"`
	InitiatorID uint64      `gorm:"not null;index"`
	Status      MatchStatus `gorm:"size:16;not null;index:idx_match_status_updated,priority:1"`
	CreatedAt   time.Time   `gorm:"autoCreateTime"`
	UpdatedAt   time.Time   `gorm:"autoUpdateTime;index:idx_match_status_updated,priority:2,sort:desc"`
}

// Other returns the counterpart of userID in the pair.
func (m Match) Other(userID uint64) uint64 {
	if m.UserLowID == userID {
		return m.UserHighID
	}
	return m.UserLowID
}

// OrderedPair returns (low, high) for two ids.
func OrderedPair(a, b uint64) (uint64, uint64) {
	if a < b {
		return a, b
	}
	return b, a
}

// Notification is written when a match transitions to ACCEPTED.
type Notification struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserID    uint64    `gorm:"not null;index:idx_notification_user_seen,priority:1"`
	Kind      string    `gorm:"size:32;not null"`
	ActorID   uint64    `gorm:"not null"`
	MatchID   uint64    `gorm:"not null"`
	Message   string    `gorm:"size:255"`
	Seen      bool      `gorm:"not null;default:false;index:idx_notification_user_seen,priority:2"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

const NotificationMatchAccepted = "match_accepted"

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&User{}, &Match{}, &Notification{}}
}
