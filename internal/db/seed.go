package db

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/oggyb/studymatch/internal/logger"
)

var (
	seedUniversities = []string{"Northfield University", "Lakeside College", "Harbor Institute of Technology"}
	seedMajors       = []string{"Computer Science", "Biology", "Economics", "Mathematics", "Psychology", "Mechanical Engineering"}
	seedInterests    = []string{"algorithms", "chess", "hiking", "machine learning", "organic chemistry", "jazz", "statistics", "startups", "photography", "debate", "climbing", "film"}
	seedStyles       = []string{"quiet", "group", "pomodoro", "night-owl", "early-bird"}
)

// SeedTestData resets the database and populates it with demo students and matches.
//
// Behavior:
//  1. Clears existing data in `notifications`, `matches` and `users`.
//  2. Creates `count` students with hashed passwords and random profiles.
//  3. Creates a handful of PENDING likes towards user 1 so the demo has incoming likes.
//
// Compatible with both MySQL and SQLite (AUTO_INCREMENT reset skipped for SQLite).
func SeedTestData(db *gorm.DB, count int) error {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	// --- Fresh start ---
	for _, table := range []string{"notifications", "matches", "users"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	switch db.Dialector.Name() {
	case "mysql":
		db.Exec("ALTER TABLE matches AUTO_INCREMENT = 1")
		db.Exec("ALTER TABLE users AUTO_INCREMENT = 1")
	case "sqlite":
		db.Exec("DELETE FROM sqlite_sequence WHERE name IN ('matches', 'users')")
	}

	logger.Info("cleared existing data")

	// one hash for everyone: bcrypt is slow on purpose
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	for i := 1; i <= count; i++ {
		lastActive := time.Now().Add(-time.Duration(r.Intn(600)) * time.Minute)
		user := User{
			Username:       fmt.Sprintf("student%d", i),
			Email:          fmt.Sprintf("student%d@example.edu", i),
			PasswordHash:   string(hash),
			Active:         true,
			IsPublic:       r.Intn(100) < 90,
			Name:           fmt.Sprintf("Student %d", i),
			University:     seedUniversities[r.Intn(len(seedUniversities))],
			Major:          seedMajors[r.Intn(len(seedMajors))],
			Year:           1 + r.Intn(4),
			Interests:      strings.Join(pick(r, seedInterests, 3), ","),
			StudyStyle:     seedStyles[r.Intn(len(seedStyles))],
			Bio:            "Looking for study partners.",
			LastLoginAt:    time.Now().Add(-time.Duration(r.Intn(500)) * time.Hour),
			LastActiveAt:   &lastActive,
			PresenceStatus: "offline",
		}
		if err := db.Create(&user).Error; err != nil {
			return fmt.Errorf("failed to seed user: %w", err)
		}
	}
	logger.Info("seeded students", "count", count)

	// a few incoming likes for the demo account
	for actor := uint64(2); actor <= uint64(count) && actor <= 6; actor++ {
		low, high := OrderedPair(actor, 1)
		m := Match{UserLowID: low, UserHighID: high, InitiatorID: actor, Status: MatchPending}
		if err := db.Create(&m).Error; err != nil {
			return fmt.Errorf("failed to seed match: %w", err)
		}
	}

	return nil
}

// SeedMinimalTestData inserts a small deterministic dataset.
//
// Users 1..4 are public; user 5 is private. User 2 already liked user 1
// (PENDING), user 1 passed user 3 (REJECTED), user 4 blocked user 1.
func SeedMinimalTestData(db *gorm.DB) error {
	for _, table := range []string{"notifications", "matches", "users"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return err
		}
	}

	users := []User{
		{ID: 1, Username: "ada", Email: "ada@test.edu", PasswordHash: "x", Active: true, IsPublic: true, Major: "Computer Science", University: "Northfield University", Interests: "algorithms,chess"},
		{ID: 2, Username: "ben", Email: "ben@test.edu", PasswordHash: "x", Active: true, IsPublic: true, Major: "Computer Science", University: "Northfield University", Interests: "chess,jazz"},
		{ID: 3, Username: "cy", Email: "cy@test.edu", PasswordHash: "x", Active: true, IsPublic: true, Major: "Biology", University: "Lakeside College", Interests: "hiking"},
		{ID: 4, Username: "dee", Email: "dee@test.edu", PasswordHash: "x", Active: true, IsPublic: true, Major: "Economics", University: "Northfield University", Interests: "startups"},
		{ID: 5, Username: "eve", Email: "eve@test.edu", PasswordHash: "x", Active: true, IsPublic: false, Major: "Mathematics", University: "Northfield University", Interests: "statistics"},
	}
	if err := db.Create(&users).Error; err != nil {
		return err
	}
	// gorm skips zero-valued bools that carry a default on insert
	if err := db.Model(&User{}).Where("id = ?", 5).Update("is_public", false).Error; err != nil {
		return err
	}

	matches := []Match{
		{UserLowID: 1, UserHighID: 2, InitiatorID: 2, Status: MatchPending},
		{UserLowID: 1, UserHighID: 3, InitiatorID: 1, Status: MatchRejected},
		{UserLowID: 1, UserHighID: 4, InitiatorID: 4, Status: MatchBlocked},
	}
	return db.Create(&matches).Error
}

func pick(r *rand.Rand, from []string, n int) []string {
	idx := r.Perm(len(from))
	out := make([]string, 0, n)
	for _, i := range idx[:n] {
		out = append(out, from[i])
	}
	return out
}
