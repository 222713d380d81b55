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
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/conductor/internal/controller/runner"
	"github.com/tombee/conductor/internal/controller/trigger"
	conductorllm "github.com/tombee/conductor/internal/llm"
	"github.com/tombee/conductor/pkg/llm/cost"
	"github.com/tombee/conductor/pkg/tools/approval"
)

func newDaemonCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run and control the background trigger daemon",
	}
	var provider string
	start := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the foreground, watching cron and file-event triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			costStore := cost.NewMemoryStore()
			invoker, err := a.buildInvoker(provider, costStore, conductorllm.RunContext{})
			if err != nil {
				return &exitError{exitValidationError, err}
			}
			r, err := runner.New(runner.Config{
				LogsDir:         a.workspace.LogsDir(),
				CheckpointDir:   a.workspace.CheckpointsDir(),
				Approver:        approval.NewUnattendedApprover(nil),
				Invoker:         invoker,
				Logger:          a.log,
				Tracer:          a.tracer.Tracer(),
				AuditMirrorPath: a.workspace.AuditDBPath(),
			})
			if err != nil {
				return err
			}
			defer r.Close()
			mgr := trigger.NewManager(a.workspace.DefinitionsDir(), r, a.log)
			d := trigger.NewDaemon(trigger.DaemonConfig{
				PIDFile:    a.workspace.PIDFile(),
				StatusFile: a.workspace.StatusFile(),
				EventsDir:  a.workspace.EventsDir(),
			}, mgr, a.log)
			return d.Run(cmd.Context())
		},
	}
	start.Flags().StringVar(&provider, "provider", "", "provider instance name (defaults to config's default_provider)")

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Signal a running daemon to shut down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := readDaemonPID(a.workspace.PIDFile())
			if err != nil {
				return &exitError{exitDaemonNotRunning, err}
			}
			proc, err := os.FindProcess(pid)
			if err != nil {
				return &exitError{exitDaemonNotRunning, fmt.Errorf("daemon process %d not found: %w", pid, err)}
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				return &exitError{exitDaemonNotRunning, fmt.Errorf("failed to signal daemon process %d: %w", pid, err)}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent shutdown signal to daemon (pid %d)\n", pid)
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running and its trigger manager state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, pidErr := readDaemonPID(a.workspace.PIDFile())
			if pidErr != nil || !processAlive(pid) {
				return &exitError{exitDaemonNotRunning, fmt.Errorf("daemon is not running")}
			}
			data, err := os.ReadFile(a.workspace.StatusFile())
			if err != nil {
				return &exitError{exitDaemonNotRunning, fmt.Errorf("daemon status file unavailable: %w", err)}
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.AddCommand(start, stop, status)
	return cmd
}

func readDaemonPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, fmt.Errorf("daemon is not running: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", pidFile, err)
	}
	return pid, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
