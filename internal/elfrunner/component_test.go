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
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProcess is a controllable Process.
type fakeProcess struct {
	pid  int
	done chan struct{}

	mu      sync.Mutex
	signals []syscall.Signal
	code    int
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) terminate(code int) {
	p.mu.Lock()
	p.code = code
	p.mu.Unlock()
	close(p.done)
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Signal(sig syscall.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, sig)
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

func (p *fakeProcess) ExitErr() error { return nil }

// fakeLifecycle records stop requests and lets the test close the peer.
type fakeLifecycle struct {
	stopped    chan struct{}
	stopOnce   sync.Once
	peerClosed chan struct{}
	peerOnce   sync.Once
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{
		stopped:    make(chan struct{}),
		peerClosed: make(chan struct{}),
	}
}

func (l *fakeLifecycle) RequestStop() error {
	l.stopOnce.Do(func() { close(l.stopped) })
	return nil
}

func (l *fakeLifecycle) PeerClosed() <-chan struct{} { return l.peerClosed }

func (l *fakeLifecycle) closePeer() {
	l.peerOnce.Do(func() { close(l.peerClosed) })
}

// testJob builds a Job whose pgid names no live process group, so a real
// kill degrades to the already-dead path. Kill bookkeeping still applies.
func testJob(t *testing.T) *Job {
	t.Helper()
	// Pid max on Linux is bounded well below this.
	return NewJob(1<<30 + 7, nil)
}

func TestStop_NoLifecycleKillsImmediately(t *testing.T) {
	job := testJob(t)
	c, err := NewComponent(ComponentOptions{Job: job})
	require.NoError(t, err)

	require.NoError(t, c.Stop(context.Background()))
	assert.True(t, job.Killed())
}

func TestStop_WaitsForPeerClose(t *testing.T) {
	job := testJob(t)
	lc := newFakeLifecycle()
	c, err := NewComponent(ComponentOptions{Job: job, Lifecycle: lc})
	require.NoError(t, err)

	stopErr := make(chan error, 1)
	go func() { stopErr <- c.Stop(context.Background()) }()

	<-lc.stopped
	assert.False(t, job.Killed(), "job must survive until the peer closes")

	lc.closePeer()
	require.NoError(t, <-stopErr)
	assert.True(t, job.Killed())
}

func TestStop_CriticalWaitsForProcessExit(t *testing.T) {
	job := testJob(t)
	lc := newFakeLifecycle()
	proc := newFakeProcess(1234)
	c, err := NewComponent(ComponentOptions{
		Job:                 job,
		Process:             proc,
		Lifecycle:           lc,
		MainProcessCritical: true,
	})
	require.NoError(t, err)

	stopErr := make(chan error, 1)
	go func() { stopErr <- c.Stop(context.Background()) }()

	<-lc.stopped
	// Peer close alone is not enough for a critical process.
	lc.closePeer()
	select {
	case err := <-stopErr:
		t.Fatalf("stop returned before process termination: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, job.Killed(), "job must outlive a critical process")

	proc.terminate(0)
	require.NoError(t, <-stopErr)
	assert.True(t, job.Killed())
}

func TestStop_ContextExpiryKillsAnyway(t *testing.T) {
	job := testJob(t)
	lc := newFakeLifecycle()
	c, err := NewComponent(ComponentOptions{Job: job, Lifecycle: lc})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = c.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, job.Killed(), "an expired grace period still takes the job down")
}

func TestKill_IsUnconditional(t *testing.T) {
	job := testJob(t)
	lc := newFakeLifecycle()
	proc := newFakeProcess(1234)
	c, err := NewComponent(ComponentOptions{
		Job:                 job,
		Process:             proc,
		Lifecycle:           lc,
		MainProcessCritical: true,
	})
	require.NoError(t, err)

	require.NoError(t, c.Kill())
	assert.True(t, job.Killed(), "kill must not negotiate, even for critical processes")

	select {
	case <-lc.stopped:
		t.Fatal("kill must not send a stop request")
	default:
	}
}

func TestWait_DeliversExitStatusOnce(t *testing.T) {
	job := testJob(t)
	proc := newFakeProcess(1234)
	c, err := NewComponent(ComponentOptions{Job: job, Process: proc})
	require.NoError(t, err)

	proc.terminate(42)

	status, ok := <-c.Wait()
	require.True(t, ok)
	assert.Equal(t, 42, status.Code)

	_, ok = <-c.Wait()
	assert.False(t, ok, "the exit channel is closed after delivery")
	assert.True(t, job.Killed(), "the exit watcher reaps the job")
}

func TestClose_KillsExactlyOnce(t *testing.T) {
	job := testJob(t)
	c, err := NewComponent(ComponentOptions{Job: job})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, job.Killed())
}

func TestJobKill_Idempotent(t *testing.T) {
	job := testJob(t)
	require.NoError(t, job.Kill())
	require.NoError(t, job.Kill())
	assert.True(t, job.Killed())
}
