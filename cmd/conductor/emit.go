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

	"github.com/spf13/cobra"

	"github.com/tombee/conductor/internal/controller/trigger"
)

func newEmitCommand(a *app) *cobra.Command {
	var data []string
	cmd := &cobra.Command{
		Use:   "emit <event>",
		Short: "Emit a named event for a running daemon's event-triggered workflows to pick up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseVars(data)
			if err != nil {
				return &exitError{exitValidationError, err}
			}
			if err := trigger.EmitEvent(a.workspace.EventsDir(), args[0], payload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "emitted event %q\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&data, "data", nil, "attach an event data field as key=value (repeatable)")
	return cmd
}
