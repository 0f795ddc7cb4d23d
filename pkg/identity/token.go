package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// tokenHeader is the fixed JOSE header for issued tokens.
type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// TokenClaims are the claims carried by an issued bearer token.
type TokenClaims struct {
	Sub   string `json:"sub"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Iat   int64  `json:"iat"`
	Exp   int64  `json:"exp"`
}

// TokenVerifier issues and verifies HMAC-SHA256 signed bearer tokens.
// The zero value is not usable; construct with NewTokenVerifier.
type TokenVerifier struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenVerifier creates a verifier signing with the given secret.
// ttl bounds the validity of tokens minted by Issue (0 means 7 days,
// matching the account store's cookie lifetime).
func NewTokenVerifier(secret []byte, ttl time.Duration) (*TokenVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &TokenVerifier{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue mints a signed token for the identity.
func (v *TokenVerifier) Issue(id Identity) (string, error) {
	if id.ID == "" {
		return "", errors.New("identity id is required")
	}
	now := v.now().UTC()

	header, err := json.Marshal(tokenHeader{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", fmt.Errorf("marshal header: %w", err)
	}
	claims, err := json.Marshal(TokenClaims{
		Sub:   id.ID,
		Name:  id.Name,
		Email: id.Email,
		Iat:   now.Unix(),
		Exp:   now.Add(v.ttl).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	signing := base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(claims)
	sig := v.sign(signing)

	return signing + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Verify resolves a bearer token to the Identity embedded in its claims.
func (v *TokenVerifier) Verify(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, ErrUnauthenticated
	}

	parts := strings.Split(credential, ".")
	if len(parts) != 3 {
		return Identity{}, ErrUnauthenticated
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return Identity{}, ErrUnauthenticated
	}
	expected := v.sign(parts[0] + "." + parts[1])
	if subtle.ConstantTimeCompare(sig, expected) != 1 {
		return Identity{}, ErrUnauthenticated
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Identity{}, ErrUnauthenticated
	}
	var header tokenHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil || header.Alg != "HS256" {
		return Identity{}, ErrUnauthenticated
	}

	claimBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Identity{}, ErrUnauthenticated
	}
	var claims TokenClaims
	if err := json.Unmarshal(claimBytes, &claims); err != nil {
		return Identity{}, ErrUnauthenticated
	}

	if claims.Sub == "" || claims.Sub == AssistantID {
		return Identity{}, ErrUnauthenticated
	}
	if claims.Exp > 0 && v.now().UTC().Unix() >= claims.Exp {
		return Identity{}, ErrUnauthenticated
	}

	return Identity{ID: claims.Sub, Name: claims.Name, Email: claims.Email}, nil
}

func (v *TokenVerifier) sign(signing string) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(signing))
	return mac.Sum(nil)
}
