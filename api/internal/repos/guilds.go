package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"overwatch-command-core/api/internal/models"
)

type GuildRepo struct {
	pool *pgxpool.Pool
}

func NewGuildRepo(pool *pgxpool.Pool) *GuildRepo {
	return &GuildRepo{pool: pool}
}

func (r *GuildRepo) Create(ctx context.Context, db DBTX, guild models.Guild) (models.Guild, error) {
	if guild.GuildID == uuid.Nil {
		guild.GuildID = uuid.New()
	}
	if guild.CreatedAt.IsZero() {
		guild.CreatedAt = time.Now().UTC()
	}
	err := db.QueryRow(ctx, `
		INSERT INTO guilds (guild_id, slug, name, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING guild_id, slug, name, created_at
	`, guild.GuildID, guild.Slug, guild.Name, guild.CreatedAt).
		Scan(&guild.GuildID, &guild.Slug, &guild.Name, &guild.CreatedAt)
	return guild, err
}

func (r *GuildRepo) GetBySlug(ctx context.Context, slug string) (models.Guild, error) {
	var guild models.Guild
	err := r.pool.QueryRow(ctx, `
		SELECT guild_id, slug, name, created_at
		FROM guilds
		WHERE slug = $1
	`, slug).Scan(&guild.GuildID, &guild.Slug, &guild.Name, &guild.CreatedAt)
	return guild, err
}

func (r *GuildRepo) GetByID(ctx context.Context, guildID uuid.UUID) (models.Guild, error) {
	var guild models.Guild
	err := r.pool.QueryRow(ctx, `
		SELECT guild_id, slug, name, created_at
		FROM guilds
		WHERE guild_id = $1
	`, guildID).Scan(&guild.GuildID, &guild.Slug, &guild.Name, &guild.CreatedAt)
	return guild, err
}
