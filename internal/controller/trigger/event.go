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

package trigger

import (
	"strings"
	"sync"
)

// EventBus dispatches named events to workflows subscribed via trigger:
// { type: event, event: <name> }, mirroring
// original_source/workflows/engine/triggers.py's EventBus. Subscriptions of
// "*" match every event; a subscription ending in ".*" (e.g. "deploy.*")
// matches every event with that prefix; any other subscription matches
// exactly.
type EventBus struct {
	mu   sync.RWMutex
	subs map[string][]string // event name -> workflow names
}

// NewEventBus builds an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[string][]string)}
}

// Subscribe registers workflowName to fire whenever eventName is emitted.
func (b *EventBus) Subscribe(workflowName, eventName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventName] = append(b.subs[eventName], workflowName)
}

// Unsubscribe removes every subscription workflowName holds.
func (b *EventBus) Unsubscribe(workflowName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for event, names := range b.subs {
		kept := names[:0]
		for _, n := range names {
			if n != workflowName {
				kept = append(kept, n)
			}
		}
		b.subs[event] = kept
	}
}

// Matching returns the workflow names subscribed to eventName, including
// wildcard ("*") subscribers, deduplicated.
func (b *EventBus) Matching(eventName string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]bool)
	var matched []string
	add := func(names []string) {
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				matched = append(matched, n)
			}
		}
	}

	add(b.subs[eventName])
	add(b.subs["*"])
	for pattern, names := range b.subs {
		if pattern == eventName || pattern == "*" {
			continue
		}
		if strings.HasSuffix(pattern, ".*") && strings.HasPrefix(eventName, strings.TrimSuffix(pattern, "*")) {
			add(names)
		}
	}
	return matched
}

// Status summarizes subscription counts for the daemon status file.
func (b *EventBus) Status() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	status := make(map[string]int, len(b.subs))
	for event, names := range b.subs {
		status[event] = len(names)
	}
	return status
}
