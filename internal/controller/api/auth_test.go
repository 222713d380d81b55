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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestJWTAuthenticator_IssueAndAuthenticate(t *testing.T) {
	auth := NewJWTAuthenticator([]byte("test-secret"))

	token, err := auth.Issue([]string{"runs:read"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := auth.Authenticate(token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if len(claims.Scopes) != 1 || claims.Scopes[0] != "runs:read" {
		t.Errorf("expected scopes [runs:read], got %v", claims.Scopes)
	}
}

func TestJWTAuthenticator_RejectsWrongSecret(t *testing.T) {
	issuer := NewJWTAuthenticator([]byte("correct-secret"))
	token, err := issuer.Issue(nil, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	verifier := NewJWTAuthenticator([]byte("wrong-secret"))
	if _, err := verifier.Authenticate(token); err == nil {
		t.Error("expected authentication to fail with mismatched secret")
	}
}

func TestJWTAuthenticator_RejectsExpiredToken(t *testing.T) {
	auth := NewJWTAuthenticator([]byte("test-secret"))
	auth.ClockSkew = 0
	token, err := auth.Issue(nil, -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := auth.Authenticate(token); err == nil {
		t.Error("expected authentication to fail for an expired token")
	}
}

func TestMiddleware_RejectsMissingBearer(t *testing.T) {
	auth := NewJWTAuthenticator([]byte("test-secret"))
	handler := Middleware(auth, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_AllowsValidBearer(t *testing.T) {
	auth := NewJWTAuthenticator([]byte("test-secret"))
	token, err := auth.Issue([]string{"runs:read"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var sawClaims bool
	handler := Middleware(auth, func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := ClaimsFromContext(r.Context()); ok && len(claims.Scopes) == 1 {
			sawClaims = true
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !sawClaims {
		t.Error("expected handler to see claims via ClaimsFromContext")
	}
}
