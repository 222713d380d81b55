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

// Package api is the interface-only stub of a future HTTP run-management
// surface (list/start/cancel runs, stream audit events over a webhook or
// SSE connection, as the teacher's internal/controller/api does at much
// greater scale). No HTTP server is wired up here; RunManager documents the
// shape such a server would sit on top of, and Authenticator/Middleware
// give its auth layer something real to test against ahead of the
// transport existing.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/tombee/conductor/pkg/workflow"
)

// RunManager is the surface a future HTTP handler would call into to list,
// start, and inspect workflow runs. internal/controller/runner.Runner does
// not implement it (Runner exposes Run, Submit, and DryRun), and no adapter
// exists because nothing calls through this interface.
type RunManager interface {
	StartRun(ctx context.Context, workflowName string, inputs map[string]interface{}) (*workflow.WorkflowResult, error)
	GetRun(ctx context.Context, runID string) (*workflow.WorkflowResult, error)
	ListRuns(ctx context.Context) ([]*workflow.WorkflowResult, error)
}

// Authenticator verifies a bearer token extracted from an incoming
// request's Authorization header and returns the identity it names.
type Authenticator interface {
	Authenticate(tokenString string) (*Claims, error)
}

// bearerPrefix is the scheme Middleware strips before handing the token to
// an Authenticator.
const bearerPrefix = "Bearer "

// Middleware wraps next so it only runs once auth has verified a bearer
// token issued via config.LoadOrCreateDaemonToken, rejecting with 401
// otherwise. It is exercised by auth_test.go even though no handler chain
// calls it in production yet.
func Middleware(auth Authenticator, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		claims, err := auth.Authenticate(strings.TrimPrefix(header, bearerPrefix))
		if err != nil {
			http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
		next(w, r.WithContext(ctx))
	}
}

type claimsContextKey struct{}

// ClaimsFromContext returns the Claims Middleware attached to ctx, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*Claims)
	return claims, ok
}
