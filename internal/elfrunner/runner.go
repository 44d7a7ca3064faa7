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
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	internallog "github.com/tombee/steward/internal/log"
	"github.com/tombee/steward/internal/model"
)

// Runner launches component programs as new process groups. It implements
// model.Runner under the name "elf".
type Runner struct {
	logger   *slog.Logger
	reporter CrashReporter
}

// NewRunner creates the ELF runner.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: internallog.WithComponent(logger, "elfrunner")}
}

// WithCrashReporter makes the runner file a crash report whenever one of its
// programs exits abnormally without having been asked to stop.
func (r *Runner) WithCrashReporter(reporter CrashReporter) *Runner {
	r.reporter = reporter
	return r
}

// Start spawns the program declared in info as the leader of a fresh
// process group and returns the supervised component. The program's stdout
// and stderr are captured under the instance runtime directory when one is
// provided, and discarded otherwise.
func (r *Runner) Start(ctx context.Context, info model.StartInfo) (model.Program, error) {
	decl := info.Program
	if decl.Binary == "" {
		return nil, fmt.Errorf("elfrunner: %s declares no binary", info.Moniker)
	}

	logger := internallog.WithMoniker(r.logger, info.Moniker.String())

	cmd := exec.Command(decl.Binary, decl.Args...)
	cmd.Env = append(os.Environ(), decl.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdin = nil

	var logFile *os.File
	if info.RuntimeDir != "" {
		if err := os.MkdirAll(info.RuntimeDir, 0700); err != nil {
			return nil, fmt.Errorf("elfrunner: creating runtime dir for %s: %w", info.Moniker, err)
		}
		f, err := os.OpenFile(filepath.Join(info.RuntimeDir, "output.log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("elfrunner: opening output log for %s: %w", info.Moniker, err)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}
	if info.OutgoingDir != "" {
		if err := os.MkdirAll(info.OutgoingDir, 0700); err != nil {
			if logFile != nil {
				logFile.Close()
			}
			return nil, fmt.Errorf("elfrunner: creating outgoing dir for %s: %w", info.Moniker, err)
		}
		cmd.Env = append(cmd.Env, "STEWARD_OUTGOING_DIR="+info.OutgoingDir)
	}
	for _, entry := range info.Namespace {
		cmd.Env = append(cmd.Env, fmt.Sprintf("STEWARD_NS_%s=%s", envKey(entry.Path), entry.Source))
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("elfrunner: starting %s (%s): %w", info.Moniker, decl.Binary, err)
	}

	pid := cmd.Process.Pid
	logger.Info("launched program", "binary", decl.Binary, "pid", pid)

	proc := newOSProcess(cmd, logFile)
	job := NewJob(pid, logger)

	var lc Lifecycle
	if decl.Lifecycle == model.LifecycleSignal {
		lc = &signalLifecycle{proc: proc, logger: logger}
	}

	return NewComponent(ComponentOptions{
		URL:                 info.ResolvedURL,
		Moniker:             info.Moniker.String(),
		Reporter:            r.reporter,
		Job:                 job,
		Process:             proc,
		Lifecycle:           lc,
		MainProcessCritical: decl.MainProcessCritical,
		Logger:              logger,
	})
}

// envKey mangles a namespace path into an environment variable suffix.
func envKey(path string) string {
	out := make([]byte, 0, len(path))
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c-'a'+'A')
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// osProcess adapts an exec.Cmd to the Process interface. A single goroutine
// owns cmd.Wait; everyone else observes termination through Done.
type osProcess struct {
	cmd     *exec.Cmd
	logFile *os.File

	done chan struct{}

	mu       sync.Mutex
	exitCode int
	exitErr  error
}

func newOSProcess(cmd *exec.Cmd, logFile *os.File) *osProcess {
	p := &osProcess{cmd: cmd, logFile: logFile, done: make(chan struct{})}
	go p.reap()
	return p
}

func (p *osProcess) reap() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exitCode = p.cmd.ProcessState.ExitCode()
	if err != nil {
		if _, isExit := err.(*exec.ExitError); !isExit {
			p.exitErr = err
		}
	}
	p.mu.Unlock()

	if p.logFile != nil {
		p.logFile.Close()
	}
	close(p.done)
}

func (p *osProcess) Pid() int { return p.cmd.Process.Pid }

func (p *osProcess) Signal(sig syscall.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *osProcess) Done() <-chan struct{} { return p.done }

func (p *osProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *osProcess) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

var _ model.Runner = (*Runner)(nil)
