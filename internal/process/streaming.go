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

package process

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"

	pkgerrors "github.com/cookflow/cook/pkg/errors"
)

// Stream carries the live stdout/stderr of a running process plus a channel
// that receives its final status once it exits. The runner drains the
// child's pipes into unbounded in-memory buffers, so the child never blocks
// on a slow reader; Stdout and Stderr return io.EOF once the child has
// closed its side.
type Stream struct {
	Stdout io.Reader
	Stderr io.Reader
	Status <-chan StatusResult

	cmd *exec.Cmd
}

// StatusResult is delivered on Stream.Status exactly once.
type StatusResult struct {
	Status   ExitStatus
	Duration time.Duration
	Err      error
}

// RunStreaming spawns the command and returns readers for its live stdout
// and stderr plus a channel yielding the final status. The runner drains
// the underlying pipes into in-memory buffers concurrently with the caller
// so the child is never blocked on a full OS pipe buffer.
func (r *OSRunner) RunStreaming(ctx context.Context, command Command) (*Stream, error) {
	start := time.Now()
	recordProcessStart(command.Program)

	runCtx := ctx
	var cancel context.CancelFunc
	if command.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, command.Timeout)
	}

	cmd := exec.Command(command.Program, command.Args...)
	configureCommand(cmd, command)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, pkgerrors.Wrap(err, "creating stdout pipe")
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, pkgerrors.Wrap(err, "creating stderr pipe")
	}
	if len(command.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(command.Stdin)
	}

	if err := cmd.Start(); err != nil {
		if cancel != nil {
			cancel()
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &pkgerrors.CommandNotFoundError{Program: command.Program}
		}
		return nil, pkgerrors.Wrapf(err, "spawning %s", command.Program)
	}

	stdoutBuf := newSyncBuffer()
	stderrBuf := newSyncBuffer()
	drainDone := make(chan struct{}, 2)
	go func() { io.Copy(stdoutBuf, stdoutPipe); stdoutBuf.closeWrite(); drainDone <- struct{}{} }()
	go func() { io.Copy(stderrBuf, stderrPipe); stderrBuf.closeWrite(); drainDone <- struct{}{} }()

	statusCh := make(chan StatusResult, 1)
	go func() {
		if cancel != nil {
			defer cancel()
		}
		waitErr := waitWithTimeout(runCtx, cmd, command.Timeout)
		<-drainDone
		<-drainDone
		duration := time.Since(start)

		if errors.Is(waitErr, context.DeadlineExceeded) {
			recordProcessTimeout(command.Program)
			recordProcessDuration(command.Program, ExitTimeout, duration.Seconds())
			statusCh <- StatusResult{
				Status:   ExitStatus{Kind: ExitTimeout},
				Duration: duration,
				Err:      &pkgerrors.ProcessTimeoutError{Program: command.Program, Duration: command.Timeout},
			}
			return
		}

		status := statusFromWaitError(waitErr)
		recordProcessDuration(command.Program, status.Kind, duration.Seconds())
		statusCh <- StatusResult{Status: status, Duration: duration}
	}()

	return &Stream{
		Stdout: stdoutBuf,
		Stderr: stderrBuf,
		Status: statusCh,
		cmd:    cmd,
	}, nil
}

// syncBuffer is a growable buffer with a blocking Read: it behaves like a
// pipe with an unbounded internal queue, so the drain goroutine that feeds
// it from the child's real stdout/stderr pipe never blocks on a slow
// consumer, while Read still blocks until data arrives or the writer side
// is closed (mirroring io.EOF semantics once the process exits).
type syncBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

func newSyncBuffer() *syncBuffer {
	b := &syncBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.buf.Write(p)
	s.cond.Broadcast()
	return n, err
}

func (s *syncBuffer) closeWrite() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}

func (s *syncBuffer) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.buf.Len() == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.buf.Len() == 0 && s.closed {
		return 0, io.EOF
	}
	return s.buf.Read(p)
}
