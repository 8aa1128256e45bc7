package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"overwatch-command-core/api/internal/models"
)

type PunishmentRepo struct {
	pool *pgxpool.Pool
}

func NewPunishmentRepo(pool *pgxpool.Pool) *PunishmentRepo {
	return &PunishmentRepo{pool: pool}
}

const punishmentColumns = `punishment_id, guild_id, server_id, player_id, player_name, type, reason, moderator, issued_at`

func scanPunishment(row interface{ Scan(...any) error }, p *models.Punishment) error {
	return row.Scan(
		&p.PunishmentID, &p.GuildID, &p.ServerID, &p.PlayerID, &p.PlayerName,
		&p.Type, &p.Reason, &p.Moderator, &p.IssuedAt,
	)
}

func (r *PunishmentRepo) Insert(ctx context.Context, db DBTX, punishment models.Punishment) (models.Punishment, error) {
	if punishment.PunishmentID == uuid.Nil {
		punishment.PunishmentID = uuid.New()
	}
	if punishment.IssuedAt.IsZero() {
		punishment.IssuedAt = time.Now().UTC()
	}
	row := db.QueryRow(ctx, `
		INSERT INTO punishments (`+punishmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+punishmentColumns+`
	`, punishment.PunishmentID, punishment.GuildID, punishment.ServerID, punishment.PlayerID,
		punishment.PlayerName, punishment.Type, punishment.Reason, punishment.Moderator, punishment.IssuedAt)
	if err := scanPunishment(row, &punishment); err != nil {
		return models.Punishment{}, err
	}
	return punishment, nil
}

func (r *PunishmentRepo) ListByPlayer(ctx context.Context, guildID uuid.UUID, playerID string, limit int) ([]models.Punishment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+punishmentColumns+`
		FROM punishments
		WHERE guild_id = $1 AND player_id = $2
		ORDER BY issued_at DESC
		LIMIT $3
	`, guildID, playerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var punishments []models.Punishment
	for rows.Next() {
		var p models.Punishment
		if err := scanPunishment(rows, &p); err != nil {
			return nil, err
		}
		punishments = append(punishments, p)
	}
	return punishments, rows.Err()
}

func (r *PunishmentRepo) CountByPlayer(ctx context.Context, guildID uuid.UUID, playerID string, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM punishments
		WHERE guild_id = $1 AND player_id = $2 AND issued_at >= $3
	`, guildID, playerID, since.UTC()).Scan(&n)
	return n, err
}
