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

package expression

import (
	"fmt"

	"github.com/itchyny/gojq"
)

// EvaluateToolConstraint runs a gojq filter against a tool call's
// structured parameters (e.g. {"command": "git status"}) and reports
// whether the call satisfies an allow_with_constraints entry's
// tool_constraints query, mirroring original_source/workflows/engine/
// permissions.py's PermissionEngine._check_constraints — but expressed as
// one general-purpose filter instead of a fixed paths/commands/patterns
// struct, so a profile can constrain on any field the caller passes.
//
// The query's result is truthy unless it is exactly `false` or `null`;
// this matches jq's own truthiness so a bare `.command | test("^git ")`
// behaves as expected without an explicit boolean cast.
func EvaluateToolConstraint(query string, params map[string]interface{}) (bool, error) {
	parsed, err := gojq.Parse(query)
	if err != nil {
		return false, fmt.Errorf("invalid tool constraint query %q: %w", query, err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return false, fmt.Errorf("failed to compile tool constraint query %q: %w", query, err)
	}

	input := make(map[string]interface{}, len(params))
	for k, v := range params {
		input[k] = v
	}

	iter := code.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if err, ok := v.(error); ok {
			return false, fmt.Errorf("tool constraint query %q failed: %w", query, err)
		}
		if v == false || v == nil {
			continue
		}
		return true, nil
	}
}
