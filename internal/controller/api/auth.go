// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the caller a daemon auth token was issued to. Scopes is
// carried for a future authorization layer; the stub middleware only checks
// that the token is valid and unexpired.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes,omitempty"`
}

// JWTAuthenticator verifies tokens signed with a single HS256 secret — the
// daemon auth token from config.LoadOrCreateDaemonToken. Unlike the
// teacher's internal/controller/auth.JWTConfig, there is no asymmetric-key
// mode: a single-operator daemon has no second party to hand a public key
// to, so EdDSA verification would never be exercised.
type JWTAuthenticator struct {
	Secret    []byte
	Issuer    string
	ClockSkew time.Duration
}

// NewJWTAuthenticator builds an authenticator keyed on secret (typically
// the daemon token itself, used as both bearer credential and signing key
// for tokens the daemon mints for itself).
func NewJWTAuthenticator(secret []byte) *JWTAuthenticator {
	return &JWTAuthenticator{Secret: secret, Issuer: "conductor", ClockSkew: 30 * time.Second}
}

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("token is empty")
	}

	parser := jwt.NewParser(jwt.WithLeeway(a.ClockSkew))
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return a.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if a.Issuer != "" && claims.Issuer != a.Issuer {
		return nil, fmt.Errorf("invalid issuer: expected %s, got %s", a.Issuer, claims.Issuer)
	}
	return claims, nil
}

// Issue mints a token for scopes, signed with a.Secret and expiring after
// ttl (or 24h if ttl is zero).
func (a *JWTAuthenticator) Issue(scopes []string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.Issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Scopes: scopes,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.Secret)
}
