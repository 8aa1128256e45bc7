package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"

	"overwatch-command-core/api/internal/repos"
	"overwatch-command-core/shared/authx"
	"overwatch-command-core/shared/guildx"
	"overwatch-command-core/shared/httpx"
)

// GuildMiddleware resolves the acting guild from X-Guild-ID /
// X-Guild-Slug headers and cross-checks it against token claims.
type GuildMiddleware struct {
	Guilds *repos.GuildRepo
	Skip   func(*http.Request) bool
}

func (m GuildMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		guildID := strings.TrimSpace(r.Header.Get("X-Guild-ID"))
		guildSlug := strings.TrimSpace(r.Header.Get("X-Guild-Slug"))
		if guildID == "" && guildSlug == "" {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "missing guild header", nil)
			return
		}

		var guild guildx.GuildContext
		if guildSlug != "" {
			if m.Guilds == nil {
				httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "guild repository not configured", nil)
				return
			}
			record, err := m.Guilds.GetBySlug(r.Context(), guildSlug)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "guild not found", nil)
					return
				}
				httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to resolve guild", nil)
				return
			}
			if guildID != "" && guildID != record.GuildID.String() {
				httpx.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", "guild mismatch", nil)
				return
			}
			guildID = record.GuildID.String()
			guild.Slug = record.Slug
		}

		if guildID == "" {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "missing guild id", nil)
			return
		}

		if auth, ok := authx.FromContext(r.Context()); ok {
			if err := validateGuildClaims(auth.Claims, guildID); err != nil {
				httpx.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
				return
			}
		}

		guild.ID = guildID
		if guild.Slug == "" && guildSlug != "" {
			guild.Slug = guildSlug
		}

		ctx := guildx.WithGuild(r.Context(), guild)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validateGuildClaims(claims map[string]any, guildID string) error {
	if claims == nil || guildID == "" {
		return nil
	}
	if v, ok := claims["guild_id"]; ok {
		claimGuildID := strings.TrimSpace(fmt.Sprint(v))
		if claimGuildID != "" && claimGuildID != guildID {
			return errors.New("guild claim mismatch")
		}
	}
	if v, ok := claims["guilds"]; ok {
		allowed := map[string]struct{}{}
		switch t := v.(type) {
		case []string:
			for _, item := range t {
				item = strings.TrimSpace(item)
				if item != "" {
					allowed[item] = struct{}{}
				}
			}
		case []any:
			for _, item := range t {
				val := strings.TrimSpace(fmt.Sprint(item))
				if val != "" {
					allowed[val] = struct{}{}
				}
			}
		case string:
			for _, item := range strings.Fields(t) {
				allowed[item] = struct{}{}
			}
		default:
			val := strings.TrimSpace(fmt.Sprint(t))
			if val != "" {
				allowed[val] = struct{}{}
			}
		}
		if len(allowed) > 0 {
			if _, ok := allowed[guildID]; !ok {
				return errors.New("guild not allowed")
			}
		}
	}
	return nil
}
