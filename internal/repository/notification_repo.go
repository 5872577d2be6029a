package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oggyb/studymatch/internal/db"
)

// NotificationRepository stores in-app notifications.
type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(database *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: database}
}

// createAccepted writes one "match accepted" notification per side of m.
// It runs inside the caller's transaction.
func (r *NotificationRepository) createAccepted(tx *gorm.DB, m db.Match, actorID, targetID uint64) error {
	rows := []db.Notification{
		{
			ID:      uuid.NewString(),
			UserID:  targetID,
			Kind:    db.NotificationMatchAccepted,
			ActorID: actorID,
			MatchID: m.ID,
			Message: "You have a new study match!",
		},
		{
			ID:      uuid.NewString(),
			UserID:  actorID,
			Kind:    db.NotificationMatchAccepted,
			ActorID: targetID,
			MatchID: m.ID,
			Message: "It's a match! Say hi to your new study partner.",
		},
	}
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("create notifications: %w", err)
	}
	return nil
}

// ListUnread returns the user's unread notifications, newest first.
func (r *NotificationRepository) ListUnread(ctx context.Context, userID uint64, limit int) ([]db.Notification, error) {
	var out []db.Notification
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND seen = ?", userID, false).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkSeen flags the given notifications of userID as read. Ids belonging to
// other users are ignored.
func (r *NotificationRepository) MarkSeen(ctx context.Context, userID uint64, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&db.Notification{}).
		Where("user_id = ? AND id IN ?", userID, ids).
		Update("seen", true).Error
}
