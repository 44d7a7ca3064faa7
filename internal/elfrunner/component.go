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

package elfrunner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tombee/steward/internal/crash"
	internallog "github.com/tombee/steward/internal/log"
	"github.com/tombee/steward/internal/model"
)

// CrashReporter receives reports for abnormally exited programs, keyed by
// the kernel object id of the main process.
type CrashReporter interface {
	AddReport(koid uint64, info crash.Info)
}

// ElfComponent is one running program: a job (the process group), the main
// process inside it, and optionally a lifecycle channel for graceful stop.
//
// Stop semantics:
//   - No lifecycle channel: the program gets no say, the job is killed
//     immediately.
//   - With a lifecycle channel: a stop request is sent first. If the main
//     process is critical and its handle is present, the job is only killed
//     after the process itself has terminated; otherwise the job is killed
//     once the channel's peer side closes.
//
// Kill is unconditional. It takes the job down even when the main process
// is critical; a warning is logged because the caller is bypassing the
// negotiated path.
type ElfComponent struct {
	url                 string
	moniker             string
	job                 *Job
	process             Process
	lifecycle           Lifecycle
	mainProcessCritical bool
	reporter            CrashReporter
	logger              *slog.Logger

	exit      chan model.ExitStatus
	closeOnce sync.Once

	mu      sync.Mutex
	stopped bool
}

// ComponentOptions configures an ElfComponent.
type ComponentOptions struct {
	// URL is the component URL, for diagnostics only.
	URL string

	// Moniker is the instance moniker string, for crash attribution.
	Moniker string

	// Reporter receives crash reports for abnormal exits. Optional.
	Reporter CrashReporter

	// Job is the process group. Required.
	Job *Job

	// Process is the handle to the main process. May be nil when the
	// launcher could not retain one.
	Process Process

	// Lifecycle is the graceful stop channel. Nil means stop is immediate.
	Lifecycle Lifecycle

	// MainProcessCritical marks the main process as critical.
	MainProcessCritical bool

	Logger *slog.Logger
}

// NewComponent assembles a running component from its parts. When a process
// handle is present, an exit watcher is started: it reports the process
// termination on Wait and reaps the rest of the job so nothing is leaked.
func NewComponent(opts ComponentOptions) (*ElfComponent, error) {
	if opts.Job == nil {
		return nil, fmt.Errorf("elfrunner: component requires a job")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &ElfComponent{
		url:                 opts.URL,
		moniker:             opts.Moniker,
		job:                 opts.Job,
		process:             opts.Process,
		lifecycle:           opts.Lifecycle,
		mainProcessCritical: opts.MainProcessCritical,
		reporter:            opts.Reporter,
		logger:              logger.With(internallog.URLKey, opts.URL),
		exit:                make(chan model.ExitStatus, 1),
	}
	if c.process != nil {
		go c.watchExit()
	}
	return c, nil
}

func (c *ElfComponent) watchExit() {
	<-c.process.Done()
	// The main process is gone; whatever is left of the group is orphaned.
	if err := c.job.Kill(); err != nil {
		c.logger.Warn("reaping job after main process exit", internallog.Error(err))
	}

	code := c.process.ExitCode()
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	// An abnormal exit we did not ask for is a crash; file a report so a
	// crash introspector can attribute the process to this component.
	if code != 0 && !stopped && c.reporter != nil {
		c.reporter.AddReport(uint64(c.process.Pid()), crash.Info{URL: c.url, Moniker: c.moniker})
	}

	c.closeOnce.Do(func() {
		c.exit <- model.ExitStatus{Code: code, Err: c.process.ExitErr()}
		close(c.exit)
	})
}

// markStopped records that termination was requested by the framework, so
// the resulting exit is not treated as a crash.
func (c *ElfComponent) markStopped() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

// URL returns the component URL the program was started from.
func (c *ElfComponent) URL() string { return c.url }

// Job returns the component's process group.
func (c *ElfComponent) Job() *Job { return c.job }

// Stop performs a graceful stop. The context bounds how long the program is
// given to stop itself; on expiry the job is killed anyway and the context
// error is returned.
func (c *ElfComponent) Stop(ctx context.Context) error {
	c.markStopped()
	if c.lifecycle == nil {
		c.logger.Debug("no lifecycle channel, killing job")
		return c.job.Kill()
	}

	if err := c.lifecycle.RequestStop(); err != nil {
		c.logger.Warn("stop request failed, killing job", internallog.Error(err))
		return c.job.Kill()
	}

	var done <-chan struct{}
	if c.mainProcessCritical && c.process != nil {
		// A critical main process must be allowed to terminate on its own;
		// killing the job out from under it defeats the point of the flag.
		done = c.process.Done()
	} else {
		done = c.lifecycle.PeerClosed()
	}

	select {
	case <-done:
		return c.job.Kill()
	case <-ctx.Done():
		c.logger.Warn("graceful stop expired, killing job")
		if err := c.job.Kill(); err != nil {
			return err
		}
		return ctx.Err()
	}
}

// Kill terminates the job immediately, bypassing any lifecycle negotiation
// and the critical flag.
func (c *ElfComponent) Kill() error {
	c.markStopped()
	if c.mainProcessCritical && c.lifecycle != nil {
		c.logger.Warn("killing job with a critical main process, skipping graceful stop")
	}
	return c.job.Kill()
}

// Wait returns a channel that delivers the main process exit status once
// and is then closed. Components without a process handle never deliver.
func (c *ElfComponent) Wait() <-chan model.ExitStatus { return c.exit }

// Close is the teardown safety net: it kills the job if nothing else has.
// Safe to call whether or not the component was stopped.
func (c *ElfComponent) Close() error {
	c.markStopped()
	return c.job.Kill()
}

var _ model.Program = (*ElfComponent)(nil)
