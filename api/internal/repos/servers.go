package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"overwatch-command-core/api/internal/models"
)

type ServerRepo struct {
	pool *pgxpool.Pool
}

func NewServerRepo(pool *pgxpool.Pool) *ServerRepo {
	return &ServerRepo{pool: pool}
}

const serverColumns = `server_id, guild_id, name, server_key, enabled, created_at, updated_at`

func scanServer(row interface{ Scan(...any) error }, s *models.GameServer) error {
	return row.Scan(&s.ServerID, &s.GuildID, &s.Name, &s.ServerKey, &s.Enabled, &s.CreatedAt, &s.UpdatedAt)
}

func (r *ServerRepo) Create(ctx context.Context, db DBTX, server models.GameServer) (models.GameServer, error) {
	if server.ServerID == uuid.Nil {
		server.ServerID = uuid.New()
	}
	now := time.Now().UTC()
	if server.CreatedAt.IsZero() {
		server.CreatedAt = now
	}
	if server.UpdatedAt.IsZero() {
		server.UpdatedAt = now
	}
	row := db.QueryRow(ctx, `
		INSERT INTO game_servers (`+serverColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+serverColumns+`
	`, server.ServerID, server.GuildID, server.Name, server.ServerKey, server.Enabled, server.CreatedAt, server.UpdatedAt)
	if err := scanServer(row, &server); err != nil {
		return models.GameServer{}, err
	}
	return server, nil
}

func (r *ServerRepo) GetByID(ctx context.Context, serverID uuid.UUID) (models.GameServer, error) {
	var server models.GameServer
	err := scanServer(r.pool.QueryRow(ctx, `
		SELECT `+serverColumns+`
		FROM game_servers
		WHERE server_id = $1
	`, serverID), &server)
	return server, err
}

func (r *ServerRepo) ListByGuild(ctx context.Context, guildID uuid.UUID) ([]models.GameServer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+serverColumns+`
		FROM game_servers
		WHERE guild_id = $1
		ORDER BY created_at ASC
	`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectServers(rows)
}

func (r *ServerRepo) ListEnabled(ctx context.Context) ([]models.GameServer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+serverColumns+`
		FROM game_servers
		WHERE enabled
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectServers(rows)
}

func (r *ServerRepo) SetEnabled(ctx context.Context, serverID uuid.UUID, enabled bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE game_servers
		SET enabled = $2, updated_at = now()
		WHERE server_id = $1
	`, serverID, enabled)
	return err
}

func collectServers(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]models.GameServer, error) {
	var servers []models.GameServer
	for rows.Next() {
		var server models.GameServer
		if err := scanServer(rows, &server); err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}
	return servers, rows.Err()
}
