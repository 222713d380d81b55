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

package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/conductor/internal/audit"
	"github.com/tombee/conductor/internal/audit/sqlitestore"
)

func newVerifyCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <run_id>",
		Short: "Verify a run's audit log hash chain and print its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]

			matches, err := filepath.Glob(filepath.Join(a.workspace.LogsDir(), "*-"+runID+".audit.jsonl"))
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				return &exitError{exitValidationError, fmt.Errorf("no audit log found for run %q", runID)}
			}
			path := matches[0]
			workflowName := strings.TrimSuffix(filepath.Base(path), "-"+runID+".audit.jsonl")

			entries, err := audit.Load(path)
			if err != nil {
				return &exitError{exitValidationError, err}
			}

			valid, err := audit.VerifyIntegrity(entries)
			if err != nil {
				return &exitError{exitValidationError, err}
			}

			summary := audit.Summarize(workflowName, runID, entries)
			summary.IntegrityValid = valid

			out, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if !valid {
				return &exitError{exitWorkflowFailure, fmt.Errorf("audit log hash chain is broken for run %q", runID)}
			}
			return nil
		},
	}

	var (
		runID     string
		eventType string
		since     string
	)
	query := &cobra.Command{
		Use:   "query",
		Short: "Query the SQLite audit mirror by run, event type, or time range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlitestore.Open(a.workspace.AuditDBPath())
			if err != nil {
				return &exitError{exitValidationError, err}
			}
			defer store.Close()

			q := sqlitestore.Query{RunID: runID, EventType: eventType}
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return &exitError{exitValidationError, fmt.Errorf("--since must be RFC3339: %w", err)}
				}
				q.Since = t
			}

			entries, err := store.Find(cmd.Context(), q)
			if err != nil {
				return &exitError{exitValidationError, err}
			}

			out, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	query.Flags().StringVar(&runID, "run-id", "", "filter to one run")
	query.Flags().StringVar(&eventType, "event-type", "", "filter to one event type")
	query.Flags().StringVar(&since, "since", "", "only entries at or after this RFC3339 timestamp")
	cmd.AddCommand(query)

	return cmd
}
