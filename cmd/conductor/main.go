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

// Command conductor is the CLI entry point for the workflow engine: it
// loads and runs declarative workflow definitions, drives the trigger
// daemon, and inspects audit logs.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, injected via ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var workspaceRoot string

	// a is built empty here and populated in place by PersistentPreRunE
	// once cobra has parsed --workspace; every subcommand below closes
	// over this same pointer, so it sees the resolved workspace/config
	// by the time its RunE runs.
	a := &app{}

	root := &cobra.Command{
		Use:           "conductor",
		Short:         "Run and manage declarative, AI-native workflows",
		Version:       fmt.Sprintf("%s (%s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := newApp(workspaceRoot)
			if err != nil {
				return err
			}
			*a = *resolved
			return nil
		},
	}
	root.PersistentFlags().StringVar(&workspaceRoot, "workspace", "", "workspace root (defaults to $CONDUCTOR_HOME or ./workflows)")

	root.AddCommand(
		newListCommand(a),
		newRunCommand(a),
		newDaemonCommand(a),
		newEmitCommand(a),
		newVerifyCommand(a),
	)

	err := root.Execute()
	if a.tracer != nil {
		_ = a.tracer.Shutdown(context.Background())
	}

	if err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, "conductor:", ee.Error())
			return ee.code
		}
		fmt.Fprintln(os.Stderr, "conductor:", err.Error())
		return exitWorkflowFailure
	}
	return exitSuccess
}
