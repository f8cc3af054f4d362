package proc

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/leeineian/bardcast/sys"
)

// ExtractState tracks how far shutdown of an extraction process has escalated.
type ExtractState int

const (
	StateRunning ExtractState = iota
	StateInterruptSent
	StateTerminateSent
	StateKillSent
	StateReaped
)

func (s ExtractState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateInterruptSent:
		return "interrupt-sent"
	case StateTerminateSent:
		return "terminate-sent"
	case StateKillSent:
		return "kill-sent"
	case StateReaped:
		return "reaped"
	}
	return "unknown"
}

type signaler interface {
	Signal(os.Signal) error
}

// Extraction owns one running extractor child process.
type Extraction struct {
	pid            int
	proc           signaler
	stderr         *bytes.Buffer
	interruptGrace time.Duration
	terminateGrace time.Duration

	mu        sync.Mutex
	state     ExtractState
	cancelled bool
	timers    []*time.Timer
	err       error

	cancelOnce sync.Once
	done       chan struct{}
}

// newExtraction starts reaping immediately. wait must block until the process exits.
func newExtraction(pid int, p signaler, wait func() error, stderr *bytes.Buffer, interruptGrace, terminateGrace time.Duration) *Extraction {
	e := &Extraction{
		pid:            pid,
		proc:           p,
		stderr:         stderr,
		interruptGrace: interruptGrace,
		terminateGrace: terminateGrace,
		done:           make(chan struct{}),
	}
	sys.SafeGo(func() { e.reap(wait) })
	return e
}

func (e *Extraction) reap(wait func() error) {
	err := wait()

	e.mu.Lock()
	prev := e.state
	e.state = StateReaped
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = nil
	cancelled := e.cancelled
	if !cancelled && !isExpectedExit(err) {
		e.err = err
	}
	e.mu.Unlock()

	if e.err != nil {
		stderr := ""
		if e.stderr != nil {
			stderr = strings.TrimSpace(e.stderr.String())
		}
		sys.LogExtractor(sys.MsgExtractorFailed, e.err, stderr)
	}
	sys.LogExtractor(sys.MsgExtractorReaped, e.pid, prev)
	close(e.done)
}

// Cancel escalates interrupt, terminate and kill, with a grace window between
// each step. Calling it again, or after the process exited, does nothing.
func (e *Extraction) Cancel() {
	e.cancelOnce.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.state == StateReaped {
			return
		}
		e.cancelled = true
		e.signalLocked(os.Interrupt, StateInterruptSent)
		e.timers = append(e.timers,
			time.AfterFunc(e.interruptGrace, func() { e.escalate(syscall.SIGTERM, StateTerminateSent) }),
			time.AfterFunc(e.interruptGrace+e.terminateGrace, func() { e.escalate(os.Kill, StateKillSent) }),
		)
	})
}

func (e *Extraction) escalate(sig os.Signal, next ExtractState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state >= next {
		return
	}
	e.signalLocked(sig, next)
}

func (e *Extraction) signalLocked(sig os.Signal, next ExtractState) {
	e.state = next
	if err := e.proc.Signal(sig); err != nil {
		sys.LogDebug("signal %s to PID %d: %v", sig, e.pid, err)
		return
	}
	sys.LogExtractor(sys.MsgExtractorSignal, sig, e.pid)
}

// Wait blocks until the process is reaped. Failures after Cancel are not errors.
func (e *Extraction) Wait() error {
	<-e.done
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Extraction) Done() <-chan struct{} { return e.done }

func (e *Extraction) State() ExtractState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Extraction) Cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// isExpectedExit reports exits caused by the reader going away.
func isExpectedExit(err error) bool {
	if err == nil {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "signal: killed")
}
