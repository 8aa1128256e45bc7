package authx

import (
	"testing"
)

func TestParseRoles(t *testing.T) {
	claims := map[string]any{
		"roles": []any{"moderator", "admin", "moderator"},
		"scp":   "commands:write queue:read",
	}
	roles := parseRoles(claims)
	want := []string{"moderator", "admin", "commands:write", "queue:read"}
	if len(roles) != len(want) {
		t.Fatalf("expected %d roles, got %v", len(want), roles)
	}
	for i, r := range want {
		if roles[i] != r {
			t.Fatalf("expected role %q at %d, got %q", r, i, roles[i])
		}
	}
}

func TestHasRole(t *testing.T) {
	auth := AuthContext{Roles: []string{"Moderator"}}
	if !HasRole(auth, "moderator") {
		t.Fatalf("expected case-insensitive role match")
	}
	if HasRole(auth, "admin") {
		t.Fatalf("did not expect admin role")
	}
}

func TestNewJWTVerifierValidation(t *testing.T) {
	if _, err := NewJWTVerifier("", "overwatch", "", 0, 0); err == nil {
		t.Fatalf("expected error for missing issuer")
	}
	if _, err := NewJWTVerifier("https://issuer.example.com", "", "", 0, 0); err == nil {
		t.Fatalf("expected error for missing audience")
	}
	v, err := NewJWTVerifier("https://issuer.example.com", "overwatch", "", 0, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.jwks == nil {
		t.Fatalf("expected jwks cache to be initialized")
	}
}
