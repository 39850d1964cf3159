package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSignVerify(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	signer := NewSigner([]byte(strings.Repeat("k", 32))).WithClock(func() time.Time { return now })

	tok, err := signer.Sign("handoff-1", now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	id, err := signer.Verify(tok)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if id != "handoff-1" {
		t.Errorf("Verify() = %q, want handoff-1", id)
	}
}

func TestVerifyRejects(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	key := []byte(strings.Repeat("k", 32))
	signer := NewSigner(key).WithClock(func() time.Time { return now })

	expired, _ := signer.Sign("h", now.Add(-time.Second))
	otherKey, _ := NewSigner([]byte(strings.Repeat("x", 32))).WithClock(func() time.Time { return now }).Sign("h", now.Add(time.Minute))
	valid, _ := signer.Sign("h", now.Add(time.Minute))

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "h",
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:  "h",
		Audience: jwt.ClaimStrings{audience},
	})
	forever, _ := noExpiry.SignedString(key)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"expired", expired},
		{"wrong key", otherKey},
		{"tampered", tamper(valid)},
		{"alg none", unsigned},
		{"no expiry", forever},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := signer.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

// tamper flips one character inside the signature.
func tamper(tok string) string {
	b := []byte(tok)
	i := len(b) - 10
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	return string(b)
}
