package auth

import (
	"testing"
	"time"
)

func TestGenerateAndValidateJWT(t *testing.T) {
	t.Setenv("ADMIN_JWT_SECRET", "auth-test-secret")

	token, err := GenerateJWT("ops", time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ValidateJWT(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims["role"] != "admin" {
		t.Fatalf("role = %v, want admin", claims["role"])
	}
	if claims["sub"] != "ops" {
		t.Fatalf("sub = %v, want ops", claims["sub"])
	}
}

func TestValidateJWTRejectsExpiredToken(t *testing.T) {
	t.Setenv("ADMIN_JWT_SECRET", "auth-test-secret")

	token, err := GenerateJWT("ops", -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := ValidateJWT(token); err == nil {
		t.Fatal("expired token must be rejected")
	}
}

func TestValidateJWTRejectsWrongSecret(t *testing.T) {
	t.Setenv("ADMIN_JWT_SECRET", "auth-test-secret")
	token, err := GenerateJWT("ops", time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	t.Setenv("ADMIN_JWT_SECRET", "different-secret")
	if _, err := ValidateJWT(token); err == nil {
		t.Fatal("token signed with another secret must be rejected")
	}
}

func TestEnabledFollowsSecret(t *testing.T) {
	t.Setenv("ADMIN_JWT_SECRET", "")
	if Enabled() {
		t.Fatal("empty secret must disable auth")
	}

	t.Setenv("ADMIN_JWT_SECRET", "x")
	if !Enabled() {
		t.Fatal("configured secret must enable auth")
	}
}
