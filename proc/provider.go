package proc

import (
	"context"
	"io"
	"sync"
	"time"
)

var (
	OpusSilence     = []byte{0xf8, 0xff, 0xfe}
	SilenceDuration = 1 * time.Second
)

// FrameProvider feeds encoded opus frames to the voice connection. A nil
// frame marks the end of the stream; a second of silence follows before
// OnFinish fires.
type FrameProvider struct {
	ctx    context.Context
	frames chan []byte

	pauseMu sync.RWMutex
	// pauseCh is closed while playing.
	pauseCh chan struct{}
	paused  bool

	draining      bool
	silenceFrames int

	OnFinish     func()
	OnFirstFrame func()
	once         sync.Once
	firstOnce    sync.Once
}

func NewFrameProvider(ctx context.Context) *FrameProvider {
	ch := make(chan struct{})
	close(ch)
	return &FrameProvider{
		ctx:     ctx,
		frames:  make(chan []byte, 100),
		pauseCh: ch,
	}
}

func (p *FrameProvider) Close() {
	p.once.Do(func() {
		if p.OnFinish != nil {
			p.OnFinish()
		}
	})
}

func (p *FrameProvider) PushFrame(f []byte) {
	select {
	case p.frames <- f:
	case <-p.ctx.Done():
	}
}

func (p *FrameProvider) Pause() {
	p.pauseMu.Lock()
	defer p.pauseMu.Unlock()
	if !p.paused {
		p.paused = true
		p.pauseCh = make(chan struct{})
	}
}

func (p *FrameProvider) Resume() {
	p.pauseMu.Lock()
	defer p.pauseMu.Unlock()
	if p.paused {
		p.paused = false
		close(p.pauseCh)
	}
}

func (p *FrameProvider) ProvideOpusFrame() ([]byte, error) {
	p.pauseMu.RLock()
	pauseCh := p.pauseCh
	p.pauseMu.RUnlock()

	select {
	case <-pauseCh:
	case <-p.ctx.Done():
		p.Close()
		return nil, io.EOF
	}

	if p.draining {
		target := int(SilenceDuration.Milliseconds() / 20)
		if p.silenceFrames < target {
			p.silenceFrames++
			return OpusSilence, nil
		}
		p.Close()
		return nil, io.EOF
	}

	select {
	case f := <-p.frames:
		if f == nil {
			p.draining = true
			return OpusSilence, nil
		}
		p.firstOnce.Do(func() {
			if p.OnFirstFrame != nil {
				p.OnFirstFrame()
			}
		})
		return f, nil
	case <-p.ctx.Done():
		p.Close()
		return nil, io.EOF
	case <-time.After(500 * time.Millisecond):
		return OpusSilence, nil
	}
}
