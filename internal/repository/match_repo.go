package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oggyb/studymatch/internal/db"
	svcErr "github.com/oggyb/studymatch/internal/errors"
	"github.com/oggyb/studymatch/internal/utils/pagination"
)

// Action is a swipe decision.
type Action string

const (
	ActionLike Action = "LIKE"
	ActionPass Action = "PASS"
)

// ActionResult describes what ApplyAction did.
type ActionResult struct {
	Match db.Match
	// Accepted is true when this action turned the pair into a match.
	Accepted bool
}

// MatchRepository encapsulates all queries on the matches table.
type MatchRepository struct {
	db            *gorm.DB
	notifications *NotificationRepository
}

// NewMatchRepository creates a new repository bound to the given DB connection.
func NewMatchRepository(database *gorm.DB) *MatchRepository {
	return &MatchRepository{db: database, notifications: NewNotificationRepository(database)}
}

// Get returns the relationship row between a and b, in either direction.
func (r *MatchRepository) Get(ctx context.Context, a, b uint64) (db.Match, error) {
	low, high := db.OrderedPair(a, b)
	var m db.Match
	err := r.db.WithContext(ctx).
		Where("user_low_id = ? AND user_high_id = ?", low, high).
		First(&m).Error
	return m, err
}

// ApplyAction applies a LIKE or PASS from actor to target in one transaction.
//
// Behavior:
//   - actor == target → ErrSelfAction; unknown/inactive target → ErrNotFound.
//   - No row: LIKE creates PENDING, PASS creates REJECTED (initiator = actor).
//   - PENDING initiated by target + LIKE → ACCEPTED, one notification per user.
//   - PENDING initiated by actor + LIKE → ErrMatchExists.
//   - ACCEPTED → ErrMatchExists; BLOCKED → ErrBlocked.
//   - REJECTED + LIKE → PENDING again; PASS on PENDING/REJECTED → REJECTED.
//
// Example:
//
//	repo.ApplyAction(ctx, 1, 2, repository.ActionLike)
func (r *MatchRepository) ApplyAction(
	ctx context.Context,
	actorID, targetID uint64,
	action Action,
) (ActionResult, error) {
	if actorID == targetID {
		return ActionResult{}, svcErr.ErrSelfAction
	}
	if action != ActionLike && action != ActionPass {
		return ActionResult{}, svcErr.ErrInvalidAction
	}

	var result ActionResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&db.User{}).Where("id = ? AND active = ?", targetID, true).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return svcErr.ErrNotFound
		}

		low, high := db.OrderedPair(actorID, targetID)
		q := tx.Where("user_low_id = ? AND user_high_id = ?", low, high)
		if tx.Dialector.Name() == "mysql" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var m db.Match
		err := q.First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			m = db.Match{UserLowID: low, UserHighID: high, InitiatorID: actorID, Status: db.MatchPending}
			if action == ActionPass {
				m.Status = db.MatchRejected
			}
			if err := tx.Create(&m).Error; err != nil {
				return err
			}
			result.Match = m
			return nil
		}
		if err != nil {
			return err
		}

		next, err := transition(m, actorID, action)
		if err != nil {
			return err
		}
		if err := tx.Model(&m).Updates(map[string]any{
			"status":       next,
			"initiator_id": actorID,
		}).Error; err != nil {
			return err
		}
		m.Status = next
		m.InitiatorID = actorID
		result.Match = m

		if next == db.MatchAccepted {
			result.Accepted = true
			return r.notifications.createAccepted(tx, m, actorID, targetID)
		}
		return nil
	})
	if err != nil {
		return ActionResult{}, err
	}
	return result, nil
}

func transition(m db.Match, actorID uint64, action Action) (db.MatchStatus, error) {
	switch m.Status {
	case db.MatchBlocked:
		return "", svcErr.ErrBlocked
	case db.MatchAccepted:
		return "", svcErr.ErrMatchExists
	case db.MatchPending:
		if action == ActionPass {
			return db.MatchRejected, nil
		}
		if m.InitiatorID == actorID {
			return "", svcErr.ErrMatchExists
		}
		return db.MatchAccepted, nil
	default: // REJECTED
		if action == ActionLike {
			return db.MatchPending, nil
		}
		return db.MatchRejected, nil
	}
}

// ListAccepted returns the user's ACCEPTED matches.
//
// Behavior:
//   - Ordered by updated_at DESC, id DESC.
//   - Supports cursor-based pagination via paginationToken.
//
// Example:
//
//	repo.ListAccepted(ctx, 42, nil, 20)
func (r *MatchRepository) ListAccepted(
	ctx context.Context,
	userID uint64,
	paginationToken *string,
	limit int,
) ([]db.Match, *string, error) {
	var matches []db.Match

	cursor, err := pagination.Decode(getString(paginationToken))
	if err != nil {
		return nil, nil, err
	}

	query := r.db.WithContext(ctx).
		Model(&db.Match{}).
		Where("status = ? AND (user_low_id = ? OR user_high_id = ?)", db.MatchAccepted, userID, userID).
		Order("updated_at DESC, id DESC").
		Limit(limit + 1)

	// apply cursor
	if !cursor.IsZero() {
		ts := time.Unix(0, cursor.UpdatedUnixNano).UTC()
		query = query.Where(
			"(updated_at < ? OR (updated_at = ? AND id < ?))",
			ts, ts, cursor.ID,
		)
	}

	if err := query.Find(&matches).Error; err != nil {
		return nil, nil, err
	}

	// pagination: build next cursor if needed
	var nextToken *string
	if len(matches) > limit {
		last := matches[limit-1]
		token, _ := pagination.Encode(pagination.Cursor{
			ID:              last.ID,
			UpdatedUnixNano: last.UpdatedAt.UnixNano(),
		})
		nextToken = &token
		matches = matches[:limit]
	}

	return matches, nextToken, nil
}

// getString safely dereferences a string pointer for pagination tokens.
func getString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
