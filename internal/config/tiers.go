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

package config

import "fmt"

// ResolveTier returns the provider instance name and model name backing
// tierName (one of "fast", "balanced", "strategic") for the named provider.
// It falls back to DefaultProvider when providerName is empty.
func (c *Config) ResolveTier(providerName, tierName string) (provider, model string, err error) {
	if providerName == "" {
		providerName = c.DefaultProvider
	}
	pc, ok := c.Providers[providerName]
	if !ok {
		return "", "", fmt.Errorf("config: unknown provider %q", providerName)
	}

	switch tierName {
	case "fast":
		model = pc.Models.Fast
	case "balanced":
		model = pc.Models.Balanced
	case "strategic":
		model = pc.Models.Strategic
	default:
		return "", "", fmt.Errorf("config: unknown model tier %q", tierName)
	}
	if model == "" {
		return "", "", fmt.Errorf("config: provider %q has no model configured for tier %q", providerName, tierName)
	}
	return providerName, model, nil
}

// ListProviders returns the configured provider instance names.
func (c *Config) ListProviders() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	return names
}
