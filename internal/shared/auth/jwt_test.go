package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.Claims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestValidateRoundTrip(t *testing.T) {
	v := NewJWTValidator(testSecret)
	token := signToken(t, &Claims{
		UserID:   "u1",
		Channels: []string{"private-orders", "chat.*"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSecret)

	claims, err := v.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != "u1" {
		t.Fatalf("user id = %q, want u1", claims.UserID)
	}
	if len(claims.Channels) != 2 || claims.Channels[0] != "private-orders" {
		t.Fatalf("channels = %v", claims.Channels)
	}
}

func TestValidateFallsBackToSubject(t *testing.T) {
	v := NewJWTValidator(testSecret)
	token := signToken(t, jwt.RegisteredClaims{
		Subject:   "u2",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, testSecret)

	claims, err := v.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != "u2" {
		t.Fatalf("user id = %q, want subject fallback", claims.UserID)
	}
}

func TestValidateRejectsMissingToken(t *testing.T) {
	v := NewJWTValidator(testSecret)
	if _, err := v.Validate("  "); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("err = %v, want ErrMissingToken", err)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	v := NewJWTValidator(testSecret)
	token := signToken(t, jwt.RegisteredClaims{Subject: "u1"}, "other-secret")
	if _, err := v.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	v := NewJWTValidator(testSecret)
	token := signToken(t, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}, testSecret)
	if _, err := v.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestValidateRejectsUnsignedToken(t *testing.T) {
	v := NewJWTValidator(testSecret)
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := v.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestValidateRequiresUser(t *testing.T) {
	v := NewJWTValidator(testSecret)
	token := signToken(t, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, testSecret)
	if _, err := v.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}
