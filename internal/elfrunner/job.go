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

// Package elfrunner executes component programs as supervised OS process
// groups. A Job is the process group holding everything a program spawns;
// killing the job takes down the whole group, so no grandchild escapes
// supervision.
package elfrunner

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
)

// Job owns an OS process group. Kill is idempotent: the group is signalled
// at most once, and a group that already died out from under us is not an
// error.
type Job struct {
	pgid   int
	logger *slog.Logger

	mu     sync.Mutex
	killed bool
}

// NewJob wraps the process group led by pgid.
func NewJob(pgid int, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{pgid: pgid, logger: logger}
}

// Pgid returns the process group id.
func (j *Job) Pgid() int { return j.pgid }

// Kill sends SIGKILL to the whole process group. Subsequent calls are
// no-ops, and a group with no remaining processes is treated as already
// dead rather than a failure.
func (j *Job) Kill() error {
	j.mu.Lock()
	if j.killed {
		j.mu.Unlock()
		return nil
	}
	j.killed = true
	j.mu.Unlock()

	if err := syscall.Kill(-j.pgid, syscall.SIGKILL); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			j.logger.Debug("process group already gone", "pgid", j.pgid)
			return nil
		}
		return fmt.Errorf("killing process group %d: %w", j.pgid, err)
	}
	j.logger.Debug("killed process group", "pgid", j.pgid)
	return nil
}

// Killed reports whether Kill has been issued.
func (j *Job) Killed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.killed
}

// Process is a handle to a job's main process.
type Process interface {
	// Pid returns the process id.
	Pid() int

	// Signal delivers a signal to the process.
	Signal(sig syscall.Signal) error

	// Done is closed once the process has terminated.
	Done() <-chan struct{}

	// ExitCode is the process exit code, valid after Done is closed.
	ExitCode() int

	// ExitErr is the wait error, if any, valid after Done is closed.
	ExitErr() error
}

// Lifecycle is a graceful stop negotiation channel between the supervisor
// and a running program.
type Lifecycle interface {
	// RequestStop asks the program to shut itself down.
	RequestStop() error

	// PeerClosed is closed when the program's side of the negotiation has
	// gone away, signalling that the program is done stopping.
	PeerClosed() <-chan struct{}
}

// signalLifecycle negotiates stop via SIGTERM. The peer side is considered
// closed when the main process terminates.
type signalLifecycle struct {
	proc   Process
	logger *slog.Logger
}

func (l *signalLifecycle) RequestStop() error {
	if err := l.proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			l.logger.Debug("stop request to exited process", "pid", l.proc.Pid())
			return nil
		}
		return fmt.Errorf("requesting stop of pid %d: %w", l.proc.Pid(), err)
	}
	l.logger.Debug("requested graceful stop", "pid", l.proc.Pid())
	return nil
}

func (l *signalLifecycle) PeerClosed() <-chan struct{} { return l.proc.Done() }
