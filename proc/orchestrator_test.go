package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/leeineian/bardcast/sys"
)

// scriptedTransport replays a fixed sequence of status samples, one per
// Status call, repeating the last one once exhausted.
type scriptedTransport struct {
	mu         sync.Mutex
	script     []Status
	pos        int
	sampled    []Status
	instant    bool
	connectErr error
	stopped    bool
	stopCh     chan struct{}
	plays      []string
	pauses     int
	resumes    int
	destroyed  bool
}

func (f *scriptedTransport) Connect(ctx context.Context) error { return f.connectErr }

func (f *scriptedTransport) Play(ctx context.Context, title string, r io.Reader) {
	f.mu.Lock()
	f.plays = append(f.plays, title)
	f.stopped = false
	stop := make(chan struct{})
	f.stopCh = stop
	f.mu.Unlock()

	if f.instant {
		return
	}
	select {
	case <-ctx.Done():
	case <-stop:
	}
}

func (f *scriptedTransport) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := StatusIdle
	switch {
	case f.stopped:
	case len(f.script) > 0:
		s = f.script[min(f.pos, len(f.script)-1)]
		f.pos++
	}
	f.sampled = append(f.sampled, s)
	return s
}

func (f *scriptedTransport) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	return nil
}

func (f *scriptedTransport) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
	return nil
}

func (f *scriptedTransport) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	if f.stopCh != nil {
		close(f.stopCh)
		f.stopCh = nil
	}
	return nil
}

func (f *scriptedTransport) Destroy(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
}

func (f *scriptedTransport) sawPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sampled {
		if s == StatusPlaying {
			return true
		}
	}
	return false
}

type mockResolver struct {
	mu        sync.Mutex
	missing   map[string]bool
	queries   []string
	cancelled int
}

func (m *mockResolver) Resolve(ctx context.Context, query string) (AudioSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)
	if m.missing[query] {
		return AudioSource{}, fmt.Errorf("%w: %s", sys.ErrNotFound, query)
	}
	return AudioSource{ID: query, Title: query, URL: watchURL + query}, nil
}

func (m *mockResolver) OpenStream(ctx context.Context, src AudioSource) (*Stream, error) {
	s, _ := newTestStream()
	return s, nil
}

func (m *mockResolver) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled++
}

type mockRecorder struct {
	mu       sync.Mutex
	outcomes []string
	ended    string
}

func (m *mockRecorder) StartSession(ctx context.Context, playlist string) (string, error) {
	return "session-1", nil
}

func (m *mockRecorder) EndSession(ctx context.Context, id, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = outcome
	return nil
}

func (m *mockRecorder) RecordPlay(ctx context.Context, sessionID string, position int, t sys.Track, sourceURL, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sessionID != "session-1" {
		return errors.New("wrong session")
	}
	m.outcomes = append(m.outcomes, outcome)
	return nil
}

func testSettings() sys.PlaybackSettings {
	return sys.PlaybackSettings{
		PollInterval:         sys.Duration{Duration: 2 * time.Millisecond},
		MaxConsecutiveErrors: 2,
	}
}

func playlistOf(names ...string) sys.Playlist {
	pl := sys.Playlist{Name: "Session"}
	for _, n := range names {
		pl.Tracks = append(pl.Tracks, sys.Track{Name: n})
	}
	return pl
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) count(s PlayerState) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.State == s {
			n++
		}
	}
	return n
}

func runWithTimeout(t *testing.T, o *Orchestrator, ctx context.Context, pl sys.Playlist) error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- o.Run(ctx, pl) }()
	select {
	case err := <-errCh:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return")
		return nil
	}
}

func TestOrchestratorAdvancesOnFallingEdge(t *testing.T) {
	tr := &scriptedTransport{script: []Status{
		StatusIdle, StatusBuffering, StatusPlaying, StatusIdle,
		StatusPlaying, StatusIdle,
	}}
	res := &mockResolver{}
	rec := &mockRecorder{}
	log := &eventLog{}

	o := NewOrchestrator(tr, res, rec, testSettings())
	o.OnEvent = log.add

	if err := runWithTimeout(t, o, context.Background(), playlistOf("one", "two")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := log.count(PlayerAdvancing); got != 2 {
		t.Errorf("advances = %d, want 2", got)
	}
	if len(tr.plays) != 2 {
		t.Errorf("plays = %v, want 2", tr.plays)
	}
	if o.State() != PlayerDone {
		t.Errorf("state = %s, want done", o.State())
	}
	if !tr.destroyed || res.cancelled == 0 {
		t.Errorf("terminal cleanup: destroyed=%v cancelled=%d", tr.destroyed, res.cancelled)
	}
	if len(rec.outcomes) != 2 || rec.outcomes[0] != sys.OutcomePlayed || rec.ended != "done" {
		t.Errorf("recorded %v / %q", rec.outcomes, rec.ended)
	}
}

func TestOrchestratorIgnoresRestingIdle(t *testing.T) {
	tr := &scriptedTransport{script: []Status{
		StatusIdle, StatusIdle, StatusIdle, StatusBuffering, StatusPlaying, StatusIdle,
	}}
	o := NewOrchestrator(tr, &mockResolver{}, nil, testSettings())

	if err := runWithTimeout(t, o, context.Background(), playlistOf("only")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if tr.pos < 6 {
		t.Errorf("advanced after %d samples, want the falling edge at sample 6", tr.pos)
	}
}

func TestOrchestratorSkipsNotFound(t *testing.T) {
	tr := &scriptedTransport{script: []Status{StatusBuffering, StatusPlaying, StatusIdle}}
	res := &mockResolver{missing: map[string]bool{"lost": true}}
	rec := &mockRecorder{}
	log := &eventLog{}
	o := NewOrchestrator(tr, res, rec, testSettings())
	o.OnEvent = log.add

	if err := runWithTimeout(t, o, context.Background(), playlistOf("lost", "found")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(tr.plays) != 1 || tr.plays[0] != "found" {
		t.Errorf("plays = %v, want [found]", tr.plays)
	}
	want := []string{sys.OutcomeNotFound, sys.OutcomePlayed}
	if len(rec.outcomes) != 2 || rec.outcomes[0] != want[0] || rec.outcomes[1] != want[1] {
		t.Errorf("outcomes = %v, want %v", rec.outcomes, want)
	}
	if log.count(PlayerAdvancing) != 2 {
		t.Errorf("advances = %d, want 2", log.count(PlayerAdvancing))
	}
}

func TestOrchestratorAbortsOnConsecutiveErrors(t *testing.T) {
	t.Run("error edges", func(t *testing.T) {
		tr := &scriptedTransport{script: []Status{
			StatusBuffering, StatusError, StatusBuffering, StatusError, StatusBuffering, StatusPlaying, StatusIdle,
		}}
		rec := &mockRecorder{}
		o := NewOrchestrator(tr, &mockResolver{}, rec, testSettings())

		err := runWithTimeout(t, o, context.Background(), playlistOf("a", "b", "c"))
		if err == nil {
			t.Fatal("Run() = nil, want abort")
		}
		if o.State() != PlayerAborted {
			t.Errorf("state = %s, want aborted", o.State())
		}
		if len(tr.plays) != 2 {
			t.Errorf("plays = %v, want 2 before abort", tr.plays)
		}
		if rec.ended != "aborted" {
			t.Errorf("session outcome = %q", rec.ended)
		}
	})

	t.Run("stale error resolved by play return", func(t *testing.T) {
		tr := &scriptedTransport{script: []Status{StatusError}, instant: true}
		o := NewOrchestrator(tr, &mockResolver{}, nil, testSettings())

		if err := runWithTimeout(t, o, context.Background(), playlistOf("a", "b", "c")); err == nil {
			t.Fatal("Run() = nil, want abort")
		}
		if len(tr.plays) != 2 {
			t.Errorf("plays = %v, want 2", tr.plays)
		}
	})

	t.Run("success resets the count", func(t *testing.T) {
		tr := &scriptedTransport{script: []Status{
			StatusBuffering, StatusError,
			StatusPlaying, StatusIdle,
			StatusBuffering, StatusError,
			StatusPlaying, StatusIdle,
		}}
		o := NewOrchestrator(tr, &mockResolver{}, nil, testSettings())
		if err := runWithTimeout(t, o, context.Background(), playlistOf("a", "b", "c", "d")); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	})
}

func TestOrchestratorCommands(t *testing.T) {
	tr := &scriptedTransport{script: []Status{StatusBuffering, StatusPlaying}}
	rec := &mockRecorder{}
	o := NewOrchestrator(tr, &mockResolver{}, rec, testSettings())

	if err := o.Pause(); !errors.Is(err, sys.ErrNotPlaying) {
		t.Fatalf("Pause() before start = %v, want ErrNotPlaying", err)
	}
	if err := o.Skip(); !errors.Is(err, sys.ErrNotPlaying) {
		t.Fatalf("Skip() before start = %v, want ErrNotPlaying", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- o.Run(ctx, playlistOf("first", "second")) }()

	deadline := time.Now().Add(5 * time.Second)
	for !(o.State() == PlayerPlaying && tr.sawPlaying()) {
		if time.Now().After(deadline) {
			t.Fatal("never reached Playing")
		}
		time.Sleep(time.Millisecond)
	}

	if err := o.Pause(); err != nil {
		t.Errorf("Pause() = %v", err)
	}
	if err := o.Resume(); err != nil {
		t.Errorf("Resume() = %v", err)
	}
	if err := o.Skip(); err != nil {
		t.Fatalf("Skip() = %v", err)
	}

	for {
		tr.mu.Lock()
		n := len(tr.plays)
		tr.mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("skip did not advance")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}

	if tr.pauses != 1 || tr.resumes != 1 {
		t.Errorf("pauses=%d resumes=%d", tr.pauses, tr.resumes)
	}
	if len(rec.outcomes) == 0 || rec.outcomes[0] != sys.OutcomeSkipped {
		t.Errorf("outcomes = %v, want first skipped", rec.outcomes)
	}
	if !tr.destroyed || o.State() != PlayerAborted {
		t.Errorf("destroyed=%v state=%s", tr.destroyed, o.State())
	}
}

func TestOrchestratorConnectFailure(t *testing.T) {
	tr := &scriptedTransport{connectErr: fmt.Errorf("%w: no gateway", sys.ErrConnectionFailed)}
	o := NewOrchestrator(tr, &mockResolver{}, nil, testSettings())

	err := runWithTimeout(t, o, context.Background(), playlistOf("a"))
	if !errors.Is(err, sys.ErrConnectionFailed) {
		t.Fatalf("Run() = %v, want ErrConnectionFailed", err)
	}
	if !tr.destroyed || len(tr.plays) != 0 || o.State() != PlayerAborted {
		t.Errorf("destroyed=%v plays=%v state=%s", tr.destroyed, tr.plays, o.State())
	}
}
