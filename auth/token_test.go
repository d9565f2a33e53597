package auth

import (
	"errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123"

func TestIssueAndResolve(t *testing.T) {
	maker, err := NewTokenMaker(testSecret, 0)
	if err != nil {
		t.Fatalf("NewTokenMaker() error = %v", err)
	}
	id := uuid.New()
	token, err := maker.Issue(id)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	got, err := maker.Resolve(token)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != id {
		t.Fatalf("Resolve() = %s, want %s", got, id)
	}

	other, _ := maker.Issue(id)
	if other == token {
		t.Fatal("two tokens for the same interview are identical")
	}
}

func TestResolveRejects(t *testing.T) {
	maker, _ := NewTokenMaker(testSecret, time.Hour)
	otherMaker, _ := NewTokenMaker("another-secret-value-123", time.Hour)
	id := uuid.New()

	foreign, _ := otherMaker.Issue(id)
	expiredMaker, _ := NewTokenMaker(testSecret, time.Hour)
	expiredMaker.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := expiredMaker.Issue(id)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{InterviewID: id}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not-a-token"},
		{name: "wrong secret", token: foreign},
		{name: "expired", token: expired},
		{name: "unsigned", token: none},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := maker.Resolve(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("Resolve() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestNewTokenMakerRejectsShortSecret(t *testing.T) {
	if _, err := NewTokenMaker("short", time.Hour); err == nil {
		t.Fatal("NewTokenMaker() accepted a short secret")
	}
}
