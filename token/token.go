// Package token issues room access tokens for the external media service.
//
// Tokens are HS256 JWTs in the LiveKit access-token layout: the API key is the
// issuer, the participant identity is the subject and the room permissions
// travel in the "video" claim. Nothing here touches relay state.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultTTL = 6 * time.Hour

var (
	ErrMissingParams = errors.New("missing identity or room")
	ErrNotConfigured = errors.New("token issuer not configured")
)

type VideoGrant struct {
	Room         string `json:"room,omitempty"`
	RoomJoin     bool   `json:"roomJoin,omitempty"`
	CanPublish   *bool  `json:"canPublish,omitempty"`
	CanSubscribe *bool  `json:"canSubscribe,omitempty"`
}

type Claims struct {
	Video *VideoGrant `json:"video,omitempty"`
	jwt.RegisteredClaims
}

type Issuer struct {
	apiKey string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(apiKey, apiSecret string, ttl time.Duration) (*Issuer, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, ErrNotConfigured
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{
		apiKey: apiKey,
		secret: []byte(apiSecret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue grants identity permission to join, publish and subscribe in room.
func (i *Issuer) Issue(identity, room string) (string, error) {
	if identity == "" || room == "" {
		return "", ErrMissingParams
	}

	allow := true
	now := i.now()
	claims := Claims{
		Video: &VideoGrant{
			Room:         room,
			RoomJoin:     true,
			CanPublish:   &allow,
			CanSubscribe: &allow,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   identity,
			ID:        identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token minted with the same key pair.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(i.apiKey), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
