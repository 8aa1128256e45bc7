package routing

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRoutes(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routes.json")
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write routes file: %v", err)
	}
	return path
}

func TestResolverResolveCluster(t *testing.T) {
	path := writeRoutes(t, `{
  "default_cluster": "cluster-a",
  "clusters": {
    "cluster-a": {"brokers": ["localhost:9092"]},
    "cluster-b": {"brokers": ["localhost:9093"]}
  },
  "routes": [
    {"guild_id": "6f1e7f3a-58d2-4f58-9be1-1a2b3c4d5e6f", "cluster": "cluster-b"}
  ]
}`)
	resolver, err := Load(path)
	if err != nil {
		t.Fatalf("load routes: %v", err)
	}
	if got, ok := resolver.ResolveCluster("6F1E7F3A-58D2-4F58-9BE1-1A2B3C4D5E6F"); !ok || got != "cluster-b" {
		t.Fatalf("expected cluster-b, got %q (ok=%v)", got, ok)
	}
	if got, ok := resolver.ResolveCluster("00000000-0000-0000-0000-000000000001"); !ok || got != "cluster-a" {
		t.Fatalf("expected default cluster-a, got %q (ok=%v)", got, ok)
	}
}

func TestResolverResolveTopic(t *testing.T) {
	path := writeRoutes(t, `{
  "default_topic": "moderation.misc",
  "topic_map": {
    "punishment_issued": "moderation.punishments",
    "player_joined": "player.events"
  },
  "clusters": {
    "cluster-a": {"brokers": ["localhost:9092"]}
  }
}`)
	resolver, err := Load(path)
	if err != nil {
		t.Fatalf("load routes: %v", err)
	}
	if got := resolver.ResolveTopic("punishment_issued", ""); got != "moderation.punishments" {
		t.Fatalf("expected mapped topic, got %q", got)
	}
	if got := resolver.ResolveTopic("punishment_issued", "override.topic"); got != "override.topic" {
		t.Fatalf("expected requested topic to win, got %q", got)
	}
	if got := resolver.ResolveTopic("something_else", ""); got != "moderation.misc" {
		t.Fatalf("expected default topic, got %q", got)
	}
}

func TestLoadRejectsUnknownCluster(t *testing.T) {
	path := writeRoutes(t, `{
  "clusters": {
    "cluster-a": {"brokers": ["localhost:9092"]}
  },
  "routes": [
    {"guild_id": "g", "cluster": "missing"}
  ]
}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for route referencing unknown cluster")
	}
}
