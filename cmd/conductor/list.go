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
	"sort"

	"github.com/spf13/cobra"

	"github.com/tombee/conductor/pkg/workflow/loader"
)

func newListCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows registered under the workspace's definitions directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := loader.LoadWorkflowsDir(a.workspace.DefinitionsDir())
			if err != nil {
				return err
			}

			names := make([]string, 0, len(defs))
			for name := range defs {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				def := defs[name]
				fmt.Fprintf(cmd.OutOrStdout(), "%-30s trigger=%-8s steps=%d\n", name, def.Trigger.Type, len(def.Steps))
			}
			return nil
		},
	}
	return cmd
}
