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

package workflow

import (
	"time"

	"github.com/tombee/conductor/pkg/workflow/expression"
)

// LogEntry is one line of the run's ordered, in-memory execution log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Context is the single-threaded, per-run state: declared and assigned
// variables, recorded step results, token/cost accounting, and the ordered
// log. A run is cooperative and single-threaded; a parallel loop's
// iterations take turns under the loop's own mutex, so Context carries no
// internal locking.
type Context struct {
	RunID    string
	Workflow string

	variables   map[string]interface{}
	stepResults map[string]*StepResult

	tokens int64
	cost   float64

	logs []LogEntry

	startedAt time.Time
}

// NewContext creates an empty run context seeded with the workflow's
// variable defaults.
func NewContext(runID, workflowName string, vars []VariableDeclaration, inputs map[string]interface{}) *Context {
	c := &Context{
		RunID:       runID,
		Workflow:    workflowName,
		variables:   make(map[string]interface{}, len(vars)),
		stepResults: make(map[string]*StepResult),
		startedAt:   time.Now(),
	}

	for _, decl := range vars {
		if decl.Default != nil {
			c.variables[decl.Name] = decl.Default
		}
	}
	for k, v := range inputs {
		c.variables[k] = v
	}

	return c
}

// Set stores a variable, overwriting any existing value.
func (c *Context) Set(name string, value interface{}) {
	c.variables[name] = value
}

// StoreStepResult records a step's outcome, making it visible to later
// steps' conditions, interpolation, and Get/GetAll lookups.
func (c *Context) StoreStepResult(result *StepResult) {
	c.stepResults[result.StepName] = result
}

// Get resolves a name against variables first, falling back to step results
// of the same name. This is the lookup order original_source/context.py
// uses: a variable shadows a step result of the same name.
func (c *Context) Get(name string) (interface{}, bool) {
	if v, ok := c.variables[name]; ok {
		return v, true
	}
	if r, ok := c.stepResults[name]; ok {
		return r.Output, true
	}
	return nil, false
}

// GetAll returns a flat merge of variables and step results, with step
// results OVERRIDING variables of the same name — the opposite precedence
// from Get, and the precedence original_source/context.py's get_all() uses.
func (c *Context) GetAll() map[string]interface{} {
	merged := make(map[string]interface{}, len(c.variables)+len(c.stepResults))
	for k, v := range c.variables {
		merged[k] = v
	}
	for k, r := range c.stepResults {
		merged[k] = r.Output
	}
	return merged
}

// StepResults returns the raw per-step results, keyed by step name, for
// building the "steps.<name>.*" interpolation/condition namespace.
func (c *Context) StepResults() map[string]*StepResult {
	return c.stepResults
}

// Variables returns the raw variable map, for building the
// "variables.<name>" interpolation/condition namespace.
func (c *Context) Variables() map[string]interface{} {
	return c.variables
}

// AddUsage records tokens consumed and their cost under model, accumulating
// into the run's totals.
func (c *Context) AddUsage(model Model, tokens int64) {
	c.tokens += tokens
	c.cost += EstimateCost(model, tokens)
}

// Totals returns the run's accumulated token count and USD cost so far.
func (c *Context) Totals() (tokens int64, cost float64) {
	return c.tokens, c.cost
}

// Log appends an entry to the run's ordered, in-memory log.
func (c *Context) Log(level, message string) {
	c.logs = append(c.logs, LogEntry{Timestamp: time.Now(), Level: level, Message: message})
}

// Logs returns the run's ordered log entries.
func (c *Context) Logs() []LogEntry {
	return c.logs
}

// InterpolationLookup returns an expression.Lookup over this context's
// variables and step results, in built-ins-then-variables-then-steps
// precedence (built-ins are handled separately by expression.Interpolate).
func (c *Context) InterpolationLookup() expression.Lookup {
	stepsMap := make(map[string]interface{}, len(c.stepResults))
	for name, r := range c.stepResults {
		stepsMap[name] = map[string]interface{}{
			"output":     r.Output,
			"status":     string(r.Status),
			"confidence": r.Confidence,
			"error":      r.Error,
		}
	}

	return expression.MapLookup{Layers: []map[string]interface{}{
		c.variables,
		{"steps": stepsMap, "variables": c.variables},
	}}
}

// ExpressionContext builds the map expression.Evaluator.Evaluate/
// EvaluateCondition expects: inputs (aliased to variables) and steps.
func (c *Context) ExpressionContext() map[string]interface{} {
	stepsMap := make(map[string]interface{}, len(c.stepResults))
	for name, r := range c.stepResults {
		stepsMap[name] = map[string]interface{}{
			"output":     r.Output,
			"status":     string(r.Status),
			"confidence": r.Confidence,
			"error":      r.Error,
		}
	}

	ctx := map[string]interface{}{
		"inputs":    c.variables,
		"variables": c.variables,
		"steps":     stepsMap,
	}
	for k, v := range c.variables {
		if _, exists := ctx[k]; !exists {
			ctx[k] = v
		}
	}
	return ctx
}

// Checkpoint is the immutable snapshot persisted after every step, per the
// spec's checkpoint layout.
type Checkpoint struct {
	RunID            string                  `json:"run_id"`
	Workflow         string                  `json:"workflow"`
	CurrentStepIndex int                     `json:"current_step_index"`
	Variables        map[string]interface{}  `json:"variables"`
	StepResults      map[string]*StepResult  `json:"step_results"`
	Tokens           int64                   `json:"tokens"`
	Cost             float64                 `json:"cost"`
	Timestamp        time.Time               `json:"timestamp"`
}

// Snapshot captures the context's current state as a Checkpoint for
// persistence after currentStepIndex has completed.
func (c *Context) Snapshot(currentStepIndex int) *Checkpoint {
	vars := make(map[string]interface{}, len(c.variables))
	for k, v := range c.variables {
		vars[k] = v
	}
	results := make(map[string]*StepResult, len(c.stepResults))
	for k, v := range c.stepResults {
		results[k] = v
	}

	return &Checkpoint{
		RunID:            c.RunID,
		Workflow:         c.Workflow,
		CurrentStepIndex: currentStepIndex,
		Variables:        vars,
		StepResults:      results,
		Tokens:           c.tokens,
		Cost:             c.cost,
		Timestamp:        time.Now(),
	}
}

// Restore rebuilds a Context from a persisted Checkpoint, resuming a
// previously interrupted run.
func Restore(cp *Checkpoint) *Context {
	c := &Context{
		RunID:       cp.RunID,
		Workflow:    cp.Workflow,
		variables:   cp.Variables,
		stepResults: cp.StepResults,
		tokens:      cp.Tokens,
		cost:        cp.Cost,
		startedAt:   cp.Timestamp,
	}
	if c.variables == nil {
		c.variables = make(map[string]interface{})
	}
	if c.stepResults == nil {
		c.stepResults = make(map[string]*StepResult)
	}
	return c
}
