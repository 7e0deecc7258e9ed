// Package livekit mints room access tokens so callers can join the
// survey call room.
package livekit

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const defaultTTL = time.Hour

// TokenMinter signs LiveKit-compatible access tokens with an API key pair.
type TokenMinter struct {
	apiKey    string
	apiSecret string
}

// NewTokenMinter returns a minter for the given key pair. Configured returns
// false when either half is missing.
func NewTokenMinter(apiKey, apiSecret string) *TokenMinter {
	return &TokenMinter{apiKey: apiKey, apiSecret: apiSecret}
}

// Configured reports whether token minting is usable.
func (m *TokenMinter) Configured() bool {
	return m.apiKey != "" && m.apiSecret != ""
}

// Mint produces a signed JWT granting identity the right to join room and
// publish/subscribe audio. A non-positive ttl falls back to one hour.
func (m *TokenMinter) Mint(room, identity string, ttl time.Duration) (string, error) {
	if !m.Configured() {
		return "", fmt.Errorf("livekit api key/secret required")
	}
	if room == "" || identity == "" {
		return "", fmt.Errorf("room and identity required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate jti: %w", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"jti":  hex.EncodeToString(b),
		"iss":  m.apiKey,
		"sub":  identity,
		"name": identity,
		"nbf":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
		"video": map[string]any{
			"room":         room,
			"roomJoin":     true,
			"canPublish":   true,
			"canSubscribe": true,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.apiSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
