package guildx

import "context"

type contextKey struct{}

// GuildContext identifies the community (Discord guild) a request acts for.
type GuildContext struct {
	ID   string
	Slug string
}

func WithGuild(ctx context.Context, guild GuildContext) context.Context {
	return context.WithValue(ctx, contextKey{}, guild)
}

func FromContext(ctx context.Context) (GuildContext, bool) {
	if v := ctx.Value(contextKey{}); v != nil {
		if g, ok := v.(GuildContext); ok {
			return g, true
		}
	}
	return GuildContext{}, false
}

func GuildIDFromContext(ctx context.Context) string {
	if g, ok := FromContext(ctx); ok {
		return g.ID
	}
	return ""
}
