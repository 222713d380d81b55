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

// Package loader parses workflow and permission-profile YAML documents and
// resolves permission profile inheritance, mirroring
// original_source/workflows/engine/parser.py.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	wferrors "github.com/tombee/conductor/pkg/errors"
	"github.com/tombee/conductor/pkg/workflow"
)

// LoadWorkflow reads and parses a workflow document from path, validating it
// against the structural rules in workflow.WorkflowDefinition.Validate.
func LoadWorkflow(path string) (*workflow.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", path, err)
	}
	return ParseWorkflow(data, filepath.Base(path))
}

// ParseWorkflow parses an already-read workflow document, validating it
// against the structural rules in workflow.WorkflowDefinition.Validate. name
// identifies the source for error messages (typically a file basename).
func ParseWorkflow(data []byte, name string) (*workflow.WorkflowDefinition, error) {
	var def workflow.WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &wferrors.ValidationError{
			Field:      name,
			Message:    fmt.Sprintf("invalid YAML: %s", err),
			Suggestion: "check indentation and quoting",
		}
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return &def, nil
}

// LoadWorkflowsDir loads every *.yaml/*.yml file directly under dir, keyed
// by workflow name.
func LoadWorkflowsDir(dir string) (map[string]*workflow.WorkflowDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*workflow.WorkflowDefinition{}, nil
		}
		return nil, fmt.Errorf("failed to read workflows directory: %w", err)
	}

	workflows := make(map[string]*workflow.WorkflowDefinition, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		def, err := LoadWorkflow(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		workflows[def.Name] = def
	}
	return workflows, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
