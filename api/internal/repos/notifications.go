package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"overwatch-command-core/api/internal/models"
)

type NotificationRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationRepo(pool *pgxpool.Pool) *NotificationRepo {
	return &NotificationRepo{pool: pool}
}

func (r *NotificationRepo) Insert(ctx context.Context, db DBTX, n models.Notification) (models.Notification, error) {
	if n.NotificationID == uuid.Nil {
		n.NotificationID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	err := db.QueryRow(ctx, `
		INSERT INTO notifications (notification_id, guild_id, kind, target, title, body, read_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING notification_id, guild_id, kind, target, title, body, read_at, created_at
	`, n.NotificationID, n.GuildID, n.Kind, n.Target, n.Title, n.Body, n.ReadAt, n.CreatedAt).
		Scan(&n.NotificationID, &n.GuildID, &n.Kind, &n.Target, &n.Title, &n.Body, &n.ReadAt, &n.CreatedAt)
	return n, err
}

func (r *NotificationRepo) ListUnread(ctx context.Context, guildID uuid.UUID, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT notification_id, guild_id, kind, target, title, body, read_at, created_at
		FROM notifications
		WHERE guild_id = $1 AND read_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2
	`, guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.NotificationID, &n.GuildID, &n.Kind, &n.Target, &n.Title, &n.Body, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (r *NotificationRepo) MarkRead(ctx context.Context, notificationID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET read_at = now()
		WHERE notification_id = $1 AND read_at IS NULL
	`, notificationID)
	return err
}
