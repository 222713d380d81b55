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
	"context"
	"fmt"
	"sync"

	wferrors "github.com/tombee/conductor/pkg/errors"
)

// defaultMaxIterations bounds an until loop with no explicit max_iterations,
// so a condition that never turns true cannot hang a run forever.
const defaultMaxIterations = 100

// executeLoop expands a step with foreach and/or until into one executeOnce
// per iteration, storing each iteration's result under "<name>[<index>]" and
// a final aggregate under the step's own name. When step.Parallel is set,
// each foreach iteration gets its own goroutine, but a mutex lets only one
// execute at a time (they share the run context's item and index), so the
// iterations do not overlap and their order is not defined. until always
// runs sequentially, since each iteration's condition depends on the
// previous one's result.
func (e *StepExecutor) executeLoop(ctx context.Context, rc *Context, step *StepDefinition) (*StepResult, error) {
	limit := step.MaxIterations
	if limit <= 0 {
		limit = defaultMaxIterations
	}

	var items []interface{}
	if step.Foreach != "" {
		resolved, ok := rc.InterpolationLookup().Resolve(step.Foreach)
		if !ok {
			return nil, &wferrors.InterpolationError{Expression: step.Foreach, Reason: "foreach expression did not resolve to a value"}
		}
		list, err := toSlice(resolved)
		if err != nil {
			return nil, &wferrors.InterpolationError{Expression: step.Foreach, Reason: err.Error()}
		}
		items = list
		if len(items) > limit {
			items = items[:limit]
		}
	}

	var results []*StepResult
	var err error
	switch {
	case step.Foreach != "" && step.Parallel:
		results, err = e.runForeachParallel(ctx, rc, step, items)
	case step.Foreach != "":
		results, err = e.runForeachSequential(ctx, rc, step, items)
	default:
		results, err = e.runUntil(ctx, rc, step, limit)
	}

	aggregate := aggregateLoopResults(step.Name, results)
	rc.StoreStepResult(aggregate)
	if err != nil {
		return aggregate, err
	}
	return aggregate, nil
}

func (e *StepExecutor) runForeachSequential(ctx context.Context, rc *Context, step *StepDefinition, items []interface{}) ([]*StepResult, error) {
	results := make([]*StepResult, 0, len(items))
	for i, item := range items {
		rc.Set("item", item)
		rc.Set("index", i)
		iter := iterationStep(step, i)
		result, err := e.executeOnce(ctx, rc, iter)
		results = append(results, result)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (e *StepExecutor) runForeachParallel(ctx context.Context, rc *Context, step *StepDefinition, items []interface{}) ([]*StepResult, error) {
	results := make([]*StepResult, len(items))
	errs := make([]error, len(items))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item interface{}) {
			defer wg.Done()

			mu.Lock()
			rc.Set("item", item)
			rc.Set("index", i)
			iter := iterationStep(step, i)
			result, err := e.executeOnce(ctx, rc, iter)
			mu.Unlock()

			results[i] = result
			errs[i] = err
		}(i, item)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (e *StepExecutor) runUntil(ctx context.Context, rc *Context, step *StepDefinition, limit int) ([]*StepResult, error) {
	results := make([]*StepResult, 0, limit)
	for i := 0; i < limit; i++ {
		rc.Set("index", i)
		iter := iterationStep(step, i)
		result, err := e.executeOnce(ctx, rc, iter)
		results = append(results, result)
		if err != nil {
			return results, err
		}

		done, evalErr := e.eval.EvaluateCondition(step.Until, rc.ExpressionContext())
		if evalErr != nil {
			return results, &wferrors.ConditionEvaluationError{Condition: step.Until, Reason: evalErr.Error()}
		}
		if done {
			break
		}
	}
	return results, nil
}

// iterationStep returns a shallow copy of step, renamed for one loop
// iteration, so each iteration's StepResult is stored under its own key
// instead of overwriting its siblings'.
func iterationStep(step *StepDefinition, index int) *StepDefinition {
	clone := *step
	clone.Name = fmt.Sprintf("%s[%d]", step.Name, index)
	clone.Foreach = ""
	clone.Until = ""
	return &clone
}

// aggregateLoopResults rolls up a loop's per-iteration results into a single
// StepResult stored under the loop step's own name: success only if every
// iteration succeeded, totals summed across iterations.
func aggregateLoopResults(name string, results []*StepResult) *StepResult {
	agg := &StepResult{StepName: name, Status: StepSuccess}
	for _, r := range results {
		if r == nil {
			continue
		}
		agg.Attempts += r.Attempts
		agg.Duration += r.Duration
		agg.Tokens += r.Tokens
		agg.Cost += r.Cost
		if r.Status == StepFailed {
			agg.Status = StepFailed
			agg.Error = r.Error
		}
	}
	if len(results) == 0 {
		agg.Status = StepSkipped
	}
	return agg
}

// toSlice coerces a resolved foreach value into a generic slice, accepting
// both []interface{} (the common case from decoded YAML/JSON) and typed
// slices via a reflection-free switch over the shapes Interpolate's lookups
// actually produce.
func toSlice(v interface{}) ([]interface{}, error) {
	switch t := v.(type) {
	case []interface{}:
		return t, nil
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case []map[string]interface{}:
		out := make([]interface{}, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value is not a list (got %T)", v)
	}
}
