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

// Package llm holds the cost/usage record types shared by the step executor
// (which produces them from fixed per-model token rates, see
// pkg/workflow.EstimateCost) and pkg/llm/cost (which stores and aggregates
// the records that the provider adapter writes during `conductor run` and
// in the daemon).
package llm

import "time"

// CostAccuracy indicates how reliable a record's cost figure is.
type CostAccuracy string

const (
	// CostMeasured means the model reported exact token counts.
	CostMeasured CostAccuracy = "measured"
	// CostEstimated means the cost was derived from the fixed per-model rate table.
	CostEstimated CostAccuracy = "estimated"
	// CostUnavailable means no usable token count was available.
	CostUnavailable CostAccuracy = "unavailable"
)

// CostInfo is a cost figure paired with its accuracy.
type CostInfo struct {
	Amount   float64
	Currency string
	Accuracy CostAccuracy
	// Source indicates where this cost came from.
	Source string
}

// Common cost sources.
const (
	// SourceProvider indicates cost from provider API usage data.
	SourceProvider = "provider"
	// SourcePricingTable indicates cost calculated from local pricing config.
	SourcePricingTable = "pricing_table"
	// SourceEstimated indicates cost approximated via tokenizer/heuristic.
	SourceEstimated = "estimated"
)

// TokenUsage tracks token consumption for one step execution.
type TokenUsage struct {
	PromptTokens        int
	CompletionTokens    int
	TotalTokens         int
	CacheCreationTokens int
	CacheReadTokens     int
}

// CostRecord tracks the cost of a single step's model usage.
type CostRecord struct {
	ID         string
	RequestID  string
	RunID      string
	StepName   string
	WorkflowID string
	UserID     string
	Provider   string
	Model      string
	Timestamp  time.Time
	Duration   time.Duration
	Usage      TokenUsage
	Cost       *CostInfo
	Metadata   map[string]string
}

// CostAggregate holds aggregated cost and usage statistics over a set of
// CostRecords.
type CostAggregate struct {
	TotalCost                float64
	TotalRequests            int
	TotalTokens              int
	TotalPromptTokens        int
	TotalCompletionTokens    int
	TotalCacheCreationTokens int
	TotalCacheReadTokens     int
	Accuracy                 CostAccuracy
	AccuracyBreakdown        AccuracyBreakdown
}

// AccuracyBreakdown counts records by cost accuracy.
type AccuracyBreakdown struct {
	Measured    int
	Estimated   int
	Unavailable int
}
