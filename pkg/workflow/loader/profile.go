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

// LoadPermissionProfile reads a single permission profile document from path.
func LoadPermissionProfile(path string) (*workflow.PermissionDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read permission profile %s: %w", path, err)
	}

	var def workflow.PermissionDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &wferrors.ValidationError{
			Field:   filepath.Base(path),
			Message: fmt.Sprintf("invalid YAML: %s", err),
		}
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &def, nil
}

// LoadPermissionProfilesDir loads every permission profile file in dir,
// keyed by profile name.
func LoadPermissionProfilesDir(dir string) (map[string]*workflow.PermissionDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*workflow.PermissionDefinition{}, nil
		}
		return nil, fmt.Errorf("failed to read permissions directory: %w", err)
	}

	profiles := make(map[string]*workflow.PermissionDefinition, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		def, err := LoadPermissionProfile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		profiles[def.Name] = def
	}
	return profiles, nil
}

// ResolveProfile follows a profile's Extends chain and returns the fully
// merged PermissionDefinition. Detects cycles via the chain of names
// visited so far.
//
// Merge rule (original_source/workflows/engine/parser.py's
// _merge_permissions): the four decision buckets (never_allow, always_allow,
// allow_with_constraints, ask_once) UNION across the chain, since any
// ancestor's grant or veto still applies. Every other field — paths,
// network, secrets, tools, shell, env, resource_limits — is "child wins
// when non-empty": a child profile that sets a dimension replaces the
// parent's value for it entirely; a child that leaves a dimension unset
// inherits the parent's.
func ResolveProfile(name string, profiles map[string]*workflow.PermissionDefinition) (*workflow.PermissionDefinition, error) {
	return resolveProfile(name, profiles, nil)
}

func resolveProfile(name string, profiles map[string]*workflow.PermissionDefinition, chain []string) (*workflow.PermissionDefinition, error) {
	for _, seen := range chain {
		if seen == name {
			return nil, &wferrors.CircularInheritanceError{Chain: append(append([]string{}, chain...), name)}
		}
	}
	chain = append(chain, name)

	def, ok := profiles[name]
	if !ok {
		return nil, &wferrors.ProfileNotFoundError{ProfileType: "permissions", Name: name}
	}

	if def.Extends == "" {
		return cloneDefinition(def), nil
	}

	parent, err := resolveProfile(def.Extends, profiles, chain)
	if err != nil {
		return nil, err
	}

	return mergeDefinitions(parent, def), nil
}

func cloneDefinition(def *workflow.PermissionDefinition) *workflow.PermissionDefinition {
	clone := *def
	return &clone
}

func mergeDefinitions(parent, child *workflow.PermissionDefinition) *workflow.PermissionDefinition {
	merged := &workflow.PermissionDefinition{
		Name:                 child.Name,
		Extends:              "",
		NeverAllow:           unionStrings(parent.NeverAllow, child.NeverAllow),
		AlwaysAllow:          unionStrings(parent.AlwaysAllow, child.AlwaysAllow),
		AllowWithConstraints: unionStrings(parent.AllowWithConstraints, child.AllowWithConstraints),
		AskOnce:              unionStrings(parent.AskOnce, child.AskOnce),
		Paths:                parent.Paths,
		Network:              parent.Network,
		Secrets:              parent.Secrets,
		Tools:                parent.Tools,
		Shell:                parent.Shell,
		Env:                  parent.Env,
		ResourceLimits:       parent.ResourceLimits,
		ToolConstraints:      parent.ToolConstraints,
	}

	if child.Paths != nil {
		merged.Paths = child.Paths
	}
	if child.Network != nil {
		merged.Network = child.Network
	}
	if child.Secrets != nil {
		merged.Secrets = child.Secrets
	}
	if child.Tools != nil {
		merged.Tools = child.Tools
	}
	if child.Shell != nil {
		merged.Shell = child.Shell
	}
	if child.Env != nil {
		merged.Env = child.Env
	}
	if child.ResourceLimits != nil {
		merged.ResourceLimits = child.ResourceLimits
	}
	if child.ToolConstraints != nil {
		merged.ToolConstraints = child.ToolConstraints
	}

	return merged
}

func unionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
