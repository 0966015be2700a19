package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndParse_Success(t *testing.T) {
	t.Parallel()

	secret := []byte("super-secret")
	want := domain.Session{UserID: "user-123", HouseholdID: "hh-1"}

	tok, err := GenerateToken(want, secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	got, err := SessionFromToken(tok, secret)
	if err != nil {
		t.Fatalf("SessionFromToken error: %v", err)
	}
	if got != want {
		t.Fatalf("session mismatch: got %+v want %+v", got, want)
	}
}

func TestGenerateToken_NeedsUser(t *testing.T) {
	t.Parallel()

	_, err := GenerateToken(domain.Session{HouseholdID: "hh"}, []byte("s"), time.Hour)
	if !errors.Is(err, common.ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope, got %v", err)
	}
}

func TestSessionFromToken_Expired(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")

	tok, err := GenerateToken(domain.Session{UserID: "u1"}, secret, -1*time.Second)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = SessionFromToken(tok, secret)
	if !errors.Is(err, common.ErrTokenExpired) {
		t.Fatalf("expected common.ErrTokenExpired, got %v", err)
	}
}

func TestSessionFromToken_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken(domain.Session{UserID: "u2"}, []byte("right-secret"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = SessionFromToken(tok, []byte("wrong-secret"))
	if !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestSessionFromToken_Malformed(t *testing.T) {
	t.Parallel()

	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := SessionFromToken(tok, []byte("s")); !errors.Is(err, common.ErrInvalidToken) {
			t.Fatalf("%q: expected ErrInvalidToken, got %v", tok, err)
		}
	}
}

func TestSessionFromToken_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		UserID:           "u3",
	}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := SessionFromToken(tok, secret); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestSessionFromToken_RequiresExpiryAndUser(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")
	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "u4"}).SignedString(secret)
	noUser, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(secret)

	for name, tok := range map[string]string{"no exp": noExp, "no user": noUser} {
		if _, err := SessionFromToken(tok, secret); !errors.Is(err, common.ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestUnverifiedSession(t *testing.T) {
	t.Parallel()

	want := domain.Session{UserID: "user-1", HouseholdID: "hh-1"}
	tok, err := GenerateToken(want, []byte("server-only"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	got, err := UnverifiedSession(tok)
	if err != nil {
		t.Fatalf("UnverifiedSession error: %v", err)
	}
	if got != want {
		t.Fatalf("session mismatch: got %+v want %+v", got, want)
	}

	if _, err := UnverifiedSession("garbage"); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
