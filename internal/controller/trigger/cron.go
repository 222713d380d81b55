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
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field cron expressions, matching the
// minute/hour/day/month/weekday fields original_source/workflows/engine/
// triggers.py's CronScheduler documents ("0 9 * * 1", "*/30 * * * *").
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronJob is one registered schedule.
type CronJob struct {
	WorkflowName string
	Expression   string
	NextRun      time.Time
	LastRun      time.Time
	Enabled      bool

	schedule cron.Schedule
}

// CronScheduler fires workflows on a cron schedule. Unlike the Python
// original's 60-second polling loop with a hand-rolled fallback parser, this
// ticks every 10 seconds and uses robfig/cron/v3's full schedule parser —
// a missed tick while the process is down is still skipped (at-most-once;
// there is no backfill).
type CronScheduler struct {
	mu        sync.Mutex
	jobs      map[string]*CronJob
	onTrigger func(workflowName string, data map[string]interface{})

	stop chan struct{}
	done chan struct{}
}

// NewCronScheduler builds a scheduler that calls onTrigger for each due job.
func NewCronScheduler(onTrigger func(workflowName string, data map[string]interface{})) *CronScheduler {
	return &CronScheduler{
		jobs:      make(map[string]*CronJob),
		onTrigger: onTrigger,
	}
}

// Register adds or replaces workflowName's cron schedule.
func (s *CronScheduler) Register(workflowName, expression string) error {
	schedule, err := cronParser.Parse(expression)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[workflowName] = &CronJob{
		WorkflowName: workflowName,
		Expression:   expression,
		NextRun:      schedule.Next(time.Now()),
		Enabled:      true,
		schedule:     schedule,
	}
	return nil
}

// Unregister removes workflowName's schedule, if any.
func (s *CronScheduler) Unregister(workflowName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, workflowName)
}

// Start begins the scheduler's check loop on a background goroutine.
func (s *CronScheduler) Start() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run()
}

// Stop halts the check loop and waits for it to exit.
func (s *CronScheduler) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
}

func (s *CronScheduler) run() {
	defer close(s.done)
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.checkDue(now)
		}
	}
}

func (s *CronScheduler) checkDue(now time.Time) {
	s.mu.Lock()
	var due []*CronJob
	for _, job := range s.jobs {
		if job.Enabled && !job.NextRun.After(now) {
			due = append(due, job)
			job.LastRun = now
			job.NextRun = job.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		s.onTrigger(job.WorkflowName, map[string]interface{}{"cron": job.Expression})
	}
}

// Schedule returns a snapshot of every registered job, for status reporting.
func (s *CronScheduler) Schedule() []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]CronJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	return jobs
}
