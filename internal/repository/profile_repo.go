package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/oggyb/studymatch/internal/db"
	svcErr "github.com/oggyb/studymatch/internal/errors"
)

// ProfileRepository provides read access to student profiles and the
// presence columns stored on the users table.
type ProfileRepository struct {
	db *gorm.DB
}

// NewProfileRepository creates a new repository bound to the given DB connection.
func NewProfileRepository(database *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: database}
}

// PresenceRow is the heartbeat projection of a user.
type PresenceRow struct {
	ID             uint64
	LastActiveAt   *time.Time
	PresenceStatus string
}

// GetByID loads one active user. Missing users map to svcErr.ErrNotFound.
func (r *ProfileRepository) GetByID(ctx context.Context, id uint64) (db.User, error) {
	var u db.User
	err := r.db.WithContext(ctx).Where("id = ? AND active = ?", id, true).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.User{}, svcErr.ErrNotFound
	}
	return u, err
}

// ListCandidates returns profiles the viewer may be shown.
//
// Behavior:
//   - Only public, active users other than the viewer.
//   - Excludes every id in exclude (already consumed or already cached).
//   - Excludes users with a decided relationship to the viewer. A PENDING row
//     initiated by the candidate (they liked the viewer) does not exclude them.
//   - Most recently active first, then by id; capped at limit rows.
//
// Example:
//
//	repo.ListCandidates(ctx, 42, []uint64{7, 9}, 90)
func (r *ProfileRepository) ListCandidates(
	ctx context.Context,
	viewerID uint64,
	exclude []uint64,
	limit int,
) ([]db.User, error) {
	var users []db.User

	query := r.db.WithContext(ctx).
		Model(&db.User{}).
		Where("users.id <> ? AND users.is_public = ? AND users.active = ?", viewerID, true, true).
		Where(`
			NOT EXISTS (
				SELECT 1 FROM matches m
				WHERE ((m.user_low_id = users.id AND m.user_high_id = ?)
				    OR (m.user_high_id = users.id AND m.user_low_id = ?))
				  AND NOT (m.status = ? AND m.initiator_id = users.id)
			)`, viewerID, viewerID, db.MatchPending).
		Order("users.last_active_at DESC, users.id ASC").
		Limit(limit)

	if len(exclude) > 0 {
		query = query.Where("users.id NOT IN ?", exclude)
	}

	if err := query.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// TouchPresence records a heartbeat (or an explicit offline signal).
func (r *ProfileRepository) TouchPresence(ctx context.Context, id uint64, status string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&db.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_active_at": at, "presence_status": status})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return svcErr.ErrNotFound
	}
	return nil
}

// Presence returns the heartbeat columns for ids. Unknown ids are absent.
func (r *ProfileRepository) Presence(ctx context.Context, ids []uint64) (map[uint64]PresenceRow, error) {
	out := make(map[uint64]PresenceRow, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []PresenceRow
	err := r.db.WithContext(ctx).
		Model(&db.User{}).
		Select("id, last_active_at, presence_status").
		Where("id IN ?", ids).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

// ListByIDs loads users by id in no particular order. Unknown ids are skipped.
func (r *ProfileRepository) ListByIDs(ctx context.Context, ids []uint64) ([]db.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []db.User
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	return users, err
}
