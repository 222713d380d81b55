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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// defaultEventRateLimit caps how fast the spooled-events directory is
// drained, so a burst of rapid `conductor emit` calls (or a misbehaving
// watched process) can't starve the cron/file-watch producers that also
// submit through the same Manager.
const defaultEventRateLimit = 20 // events/sec

// DaemonConfig locates a daemon's on-disk state: a PID file so `conductor
// daemon status` can tell a stale status file from a live process, a status
// file updated on an interval, and a directory `conductor emit` drops event
// files into for a separate CLI invocation to reach a running daemon,
// mirroring original_source/workflows/engine/triggers.py's WorkflowDaemon.
type DaemonConfig struct {
	PIDFile    string
	StatusFile string
	EventsDir  string

	// EventRateLimit caps spooled-event consumption in events/sec; zero
	// uses defaultEventRateLimit.
	EventRateLimit float64
}

// Daemon runs a Manager in the foreground, persisting PID/status files and
// draining an events directory for out-of-process Emit calls.
type Daemon struct {
	cfg     DaemonConfig
	manager *Manager
	log     *slog.Logger
	limiter *rate.Limiter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDaemon builds a Daemon around manager.
func NewDaemon(cfg DaemonConfig, manager *Manager, log *slog.Logger) *Daemon {
	if log == nil {
		log = slog.Default()
	}
	limit := cfg.EventRateLimit
	if limit <= 0 {
		limit = defaultEventRateLimit
	}
	return &Daemon{
		cfg:     cfg,
		manager: manager,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(limit), 1),
	}
}

// Run starts the manager and blocks until ctx is cancelled or Stop is
// called, writing the PID file on entry and removing it on exit.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.manager.LoadAll(); err != nil {
		return fmt.Errorf("failed to load workflows: %w", err)
	}
	if err := d.manager.Start(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	if err := d.writePID(); err != nil {
		return err
	}
	defer d.removePID()

	if d.cfg.EventsDir != "" {
		if err := os.MkdirAll(d.cfg.EventsDir, 0o755); err != nil {
			return fmt.Errorf("failed to create events directory: %w", err)
		}
		d.wg.Add(1)
		go d.drainEvents(runCtx)
	}

	d.wg.Add(1)
	go d.reportStatus(runCtx)

	d.writeStatus("running")
	<-runCtx.Done()

	d.wg.Wait()
	if err := d.manager.Stop(); err != nil {
		d.log.Error("failed to stop trigger manager", "error", err)
	}
	d.writeStatus("stopped")
	return nil
}

// Stop cancels a running Daemon's context, causing Run to return.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Daemon) writePID() error {
	if d.cfg.PIDFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(d.cfg.PIDFile), 0o755); err != nil {
		return fmt.Errorf("failed to create pid file directory: %w", err)
	}
	return os.WriteFile(d.cfg.PIDFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644)
}

func (d *Daemon) removePID() {
	if d.cfg.PIDFile == "" {
		return
	}
	_ = os.Remove(d.cfg.PIDFile)
}

func (d *Daemon) reportStatus(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.writeStatus("running")
		}
	}
}

func (d *Daemon) writeStatus(state string) {
	if d.cfg.StatusFile == "" {
		return
	}
	status := struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
		Manager   Status    `json:"manager"`
	}{
		Status:    state,
		Timestamp: time.Now(),
		Manager:   d.manager.Status(),
	}
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		d.log.Error("failed to marshal daemon status", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(d.cfg.StatusFile), 0o755); err != nil {
		d.log.Error("failed to create status file directory", "error", err)
		return
	}
	if err := os.WriteFile(d.cfg.StatusFile, data, 0o644); err != nil {
		d.log.Error("failed to write daemon status", "error", err)
	}
}

// emittedEvent is the file format EmitEvent writes and drainEvents consumes.
type emittedEvent struct {
	Name string                 `json:"name"`
	Data map[string]interface{} `json:"data"`
}

// EmitEvent writes an event file into eventsDir for a running daemon to
// pick up, the out-of-process half of `conductor emit`.
func EmitEvent(eventsDir, name string, data map[string]interface{}) error {
	if err := os.MkdirAll(eventsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create events directory: %w", err)
	}
	payload, err := json.Marshal(emittedEvent{Name: name, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	path := filepath.Join(eventsDir, fmt.Sprintf("%d-%s.json", time.Now().UnixNano(), sanitizeEventName(name)))
	return os.WriteFile(path, payload, 0o644)
}

func sanitizeEventName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r == '.' || r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		out = append(out, '_')
	}
	return string(out)
}

func (d *Daemon) drainEvents(ctx context.Context) {
	defer d.wg.Done()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.log.Error("failed to start events watcher", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(d.cfg.EventsDir); err != nil {
		d.log.Error("failed to watch events directory", "dir", d.cfg.EventsDir, "error", err)
		return
	}

	// Pick up any events dropped before the watcher started.
	d.consumeExisting(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			d.consumeFile(ctx, ev.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.log.Warn("events watcher error", "error", err)
		}
	}
}

func (d *Daemon) consumeExisting(ctx context.Context) {
	entries, err := os.ReadDir(d.cfg.EventsDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		d.consumeFile(ctx, filepath.Join(d.cfg.EventsDir, entry.Name()))
	}
}

func (d *Daemon) consumeFile(ctx context.Context, path string) {
	if err := d.limiter.Wait(ctx); err != nil {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	_ = os.Remove(path)

	var ev emittedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		d.log.Warn("failed to parse event file", "path", path, "error", err)
		return
	}

	d.manager.Emit(ctx, ev.Name, ev.Data)
}
