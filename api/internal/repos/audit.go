package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"overwatch-command-core/api/internal/models"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Insert(ctx context.Context, entry models.AuditLog) error {
	if entry.AuditID == uuid.Nil {
		entry.AuditID = uuid.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_logs (
			audit_id, occurred_at, guild_id, subject, action, resource_type, resource_id,
			request_id, method, path, status_code, duration_ms, client_ip, user_agent, details
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
	`, entry.AuditID, entry.OccurredAt, entry.GuildID, entry.Subject, entry.Action,
		entry.ResourceType, entry.ResourceID, entry.RequestID, entry.Method, entry.Path,
		entry.StatusCode, entry.DurationMS, entry.ClientIP, entry.UserAgent, entry.Details)
	return err
}

func (r *AuditRepo) ListRecent(ctx context.Context, guildID uuid.UUID, limit int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT audit_id, occurred_at, guild_id, subject, action, resource_type, resource_id,
			request_id, method, path, status_code, duration_ms, client_ip, user_agent, details
		FROM audit_logs
		WHERE guild_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.AuditLog
	for rows.Next() {
		var e models.AuditLog
		if err := rows.Scan(
			&e.AuditID, &e.OccurredAt, &e.GuildID, &e.Subject, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.RequestID, &e.Method, &e.Path, &e.StatusCode, &e.DurationMS, &e.ClientIP, &e.UserAgent, &e.Details,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
