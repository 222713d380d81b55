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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronScheduler_RegisterInvalidExpression(t *testing.T) {
	s := NewCronScheduler(func(string, map[string]interface{}) {})
	err := s.Register("bad-workflow", "not a cron expression")
	assert.Error(t, err)
}

func TestCronScheduler_RegisterComputesNextRun(t *testing.T) {
	s := NewCronScheduler(func(string, map[string]interface{}) {})
	require.NoError(t, s.Register("nightly", "0 0 * * *"))

	jobs := s.Schedule()
	require.Len(t, jobs, 1)
	assert.Equal(t, "nightly", jobs[0].WorkflowName)
	assert.True(t, jobs[0].NextRun.After(time.Now()))
	assert.True(t, jobs[0].Enabled)
}

func TestCronScheduler_CheckDueFiresAndReschedules(t *testing.T) {
	var fired []string
	s := NewCronScheduler(func(name string, data map[string]interface{}) {
		fired = append(fired, name)
	})
	require.NoError(t, s.Register("every-minute", "* * * * *"))

	job := s.jobs["every-minute"]
	due := job.NextRun

	s.checkDue(due)

	assert.Equal(t, []string{"every-minute"}, fired)
	assert.True(t, s.jobs["every-minute"].NextRun.After(due))
	assert.Equal(t, due, s.jobs["every-minute"].LastRun)
}

func TestCronScheduler_CheckDueSkipsNotYetDue(t *testing.T) {
	var fired []string
	s := NewCronScheduler(func(name string, data map[string]interface{}) {
		fired = append(fired, name)
	})
	require.NoError(t, s.Register("later", "0 0 1 1 *"))

	s.checkDue(time.Now())

	assert.Empty(t, fired)
}

func TestCronScheduler_Unregister(t *testing.T) {
	s := NewCronScheduler(func(string, map[string]interface{}) {})
	require.NoError(t, s.Register("nightly", "0 0 * * *"))

	s.Unregister("nightly")

	assert.Empty(t, s.Schedule())
}

func TestCronScheduler_StartStop(t *testing.T) {
	s := NewCronScheduler(func(string, map[string]interface{}) {})
	s.Start()
	s.Stop()
}
