package proc

import (
	"context"
	"io"
	"sync"
)

// Status is the playback state reported by a transport.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusBuffering
	StatusPlaying
	StatusPaused
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusBuffering:
		return "buffering"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Transport owns a single playable slot in a voice channel.
type Transport interface {
	Connect(ctx context.Context) error
	// Play blocks until the resource ends in Idle or Error. Playback
	// failures are logged, not returned.
	Play(ctx context.Context, title string, r io.Reader)
	Pause() error
	Resume() error
	Stop() error
	Status() Status
	Destroy(ctx context.Context)
}

// StatusHolder keeps the last observed status. Readers sample it.
type StatusHolder struct {
	mu       sync.Mutex
	status   Status
	onChange func(Status)
}

// OnChange registers the one callback invoked after each transition.
func (h *StatusHolder) OnChange(f func(Status)) {
	h.mu.Lock()
	h.onChange = f
	h.mu.Unlock()
}

func (h *StatusHolder) Set(s Status) {
	h.mu.Lock()
	changed := h.status != s
	h.status = s
	f := h.onChange
	h.mu.Unlock()

	if changed && f != nil {
		f(s)
	}
}

func (h *StatusHolder) Get() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}
