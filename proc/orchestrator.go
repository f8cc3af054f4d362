package proc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/leeineian/bardcast/sys"
)

// PlayerState is the orchestrator's position in a session.
type PlayerState int

const (
	PlayerIdle PlayerState = iota
	PlayerResolving
	PlayerPlaying
	PlayerAdvancing
	PlayerDone
	PlayerAborted
)

func (s PlayerState) String() string {
	switch s {
	case PlayerIdle:
		return "idle"
	case PlayerResolving:
		return "resolving"
	case PlayerPlaying:
		return "playing"
	case PlayerAdvancing:
		return "advancing"
	case PlayerDone:
		return "done"
	case PlayerAborted:
		return "aborted"
	}
	return "unknown"
}

// Terminal reports whether the session is over.
func (s PlayerState) Terminal() bool { return s == PlayerDone || s == PlayerAborted }

// SourceResolver is the part of Resolver the orchestrator drives.
type SourceResolver interface {
	Resolve(ctx context.Context, query string) (AudioSource, error)
	OpenStream(ctx context.Context, src AudioSource) (*Stream, error)
	Cancel()
}

// Recorder persists per-track outcomes. *sys.Database satisfies it.
type Recorder interface {
	StartSession(ctx context.Context, playlist string) (string, error)
	EndSession(ctx context.Context, id, outcome string) error
	RecordPlay(ctx context.Context, sessionID string, position int, t sys.Track, sourceURL, outcome string) error
}

// Event is published on every state or status change.
type Event struct {
	State  PlayerState
	Status Status
	Index  int
	Total  int
	Track  sys.Track
	Source AudioSource
	Notice string
}

var (
	_ Transport      = (*DiscordTransport)(nil)
	_ SourceResolver = (*Resolver)(nil)
	_ Recorder       = (*sys.Database)(nil)
)

type Orchestrator struct {
	transport    Transport
	resolver     SourceResolver
	recorder     Recorder
	pollInterval time.Duration
	maxErrors    int

	// OnEvent is called synchronously from the session goroutine.
	OnEvent func(Event)

	mu        sync.Mutex
	state     PlayerState
	index     int
	total     int
	skipped   bool
	sessionID string
}

func NewOrchestrator(t Transport, r SourceResolver, rec Recorder, s sys.PlaybackSettings) *Orchestrator {
	poll := s.PollInterval.Duration
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	return &Orchestrator{
		transport:    t,
		resolver:     r,
		recorder:     rec,
		pollInterval: poll,
		maxErrors:    s.MaxConsecutiveErrors,
	}
}

func (o *Orchestrator) State() PlayerState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Pause() error {
	return o.command(func() error { return o.transport.Pause() })
}

func (o *Orchestrator) Resume() error {
	return o.command(func() error { return o.transport.Resume() })
}

// Skip ends the current track early. The stop drives the transport to Idle,
// which advances through the same falling edge as a natural finish.
func (o *Orchestrator) Skip() error {
	return o.command(func() error {
		o.skipped = true
		return o.transport.Stop()
	})
}

func (o *Orchestrator) command(f func() error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != PlayerPlaying {
		return fmt.Errorf("%w: session is %s", sys.ErrNotPlaying, o.state)
	}
	return f()
}

// Run plays the playlist in order and returns when it is done or aborted.
func (o *Orchestrator) Run(ctx context.Context, pl sys.Playlist) error {
	o.mu.Lock()
	o.state, o.index, o.total = PlayerIdle, 0, len(pl.Tracks)
	o.mu.Unlock()

	o.sessionID = o.startSession(ctx, pl.Name)
	final := PlayerAborted
	defer func() { o.finish(final) }()

	o.emit(Event{State: PlayerIdle, Status: StatusConnecting, Notice: sys.MsgPlayerConnecting})
	if err := o.transport.Connect(ctx); err != nil {
		return err
	}
	o.emit(Event{State: PlayerIdle, Status: StatusIdle, Notice: sys.MsgPlayerReady})

	prev := StatusIdle
	errorsInRow := 0
	for i, track := range pl.Tracks {
		outcome, err := o.playTrack(ctx, i, track, &prev)
		if err != nil {
			return err
		}

		if outcome == sys.OutcomeError {
			errorsInRow++
			if o.maxErrors > 0 && errorsInRow >= o.maxErrors {
				sys.LogPlayer(sys.MsgPlayerAbortErrors, errorsInRow)
				return fmt.Errorf("%w: %d consecutive transport errors", sys.ErrConnectionFailed, errorsInRow)
			}
		} else {
			errorsInRow = 0
		}

		o.setState(PlayerAdvancing)
		o.emit(Event{State: PlayerAdvancing, Index: i, Total: len(pl.Tracks), Track: track})
	}

	final = PlayerDone
	return nil
}

// playTrack resolves, opens and plays one track. prev carries the last
// sampled status across tracks so only a real Playing to Idle edge counts.
func (o *Orchestrator) playTrack(ctx context.Context, i int, track sys.Track, prev *Status) (string, error) {
	o.mu.Lock()
	o.state, o.index, o.skipped = PlayerResolving, i, false
	total := o.total
	o.mu.Unlock()

	query := track.Query()
	o.emit(Event{State: PlayerResolving, Index: i, Total: total, Track: track})

	src, err := o.resolver.Resolve(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		notice := fmt.Sprintf(sys.MsgPlayerNotFound, query)
		sys.LogPlayer("%s: %v", notice, err)
		o.emit(Event{State: PlayerResolving, Index: i, Total: total, Track: track, Notice: notice})
		o.record(ctx, i, track, "", sys.OutcomeNotFound)
		return sys.OutcomeNotFound, nil
	}

	o.resolver.Cancel()
	stream, err := o.resolver.OpenStream(ctx, src)
	if err != nil {
		notice := fmt.Sprintf(sys.MsgPlayerStreamFail, query, err)
		sys.LogPlayer("%s", notice)
		o.emit(Event{State: PlayerResolving, Index: i, Total: total, Track: track, Source: src, Notice: notice})
		o.record(ctx, i, track, src.URL, sys.OutcomeError)
		return sys.OutcomeError, nil
	}

	o.setState(PlayerPlaying)
	sys.LogPlayer(sys.MsgPlayerNowPlaying, i+1, total, src.Title)
	o.emit(Event{State: PlayerPlaying, Status: *prev, Index: i, Total: total, Track: track, Source: src})

	playCtx, cancel := context.WithCancel(ctx)
	playDone := make(chan struct{})
	sys.SafeGo(func() {
		defer close(playDone)
		o.transport.Play(playCtx, src.Title, stream)
	})
	defer func() {
		cancel()
		<-playDone
	}()

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	outcome := ""
	for outcome == "" {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			cur := o.transport.Status()
			last := *prev
			*prev = cur
			if cur != last {
				o.emit(Event{State: PlayerPlaying, Status: cur, Index: i, Total: total, Track: track, Source: src, Notice: StatusNotice(cur)})
			}
			switch {
			case last == StatusPlaying && cur == StatusIdle:
				outcome = o.finishedOutcome()
			case cur == StatusError && last != StatusError:
				outcome = sys.OutcomeError
			}
		case <-playDone:
			cur := o.transport.Status()
			*prev = cur
			if cur == StatusError {
				outcome = sys.OutcomeError
			} else {
				outcome = o.finishedOutcome()
			}
		}
	}

	if outcome == sys.OutcomeError {
		sys.LogPlayer(sys.MsgPlayerTrackError, query)
	}
	o.record(ctx, i, track, src.URL, outcome)
	return outcome, nil
}

func (o *Orchestrator) finishedOutcome() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.skipped {
		return sys.OutcomeSkipped
	}
	return sys.OutcomePlayed
}

func (o *Orchestrator) finish(final PlayerState) {
	o.setState(final)
	o.resolver.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o.transport.Destroy(ctx)

	notice := sys.MsgPlayerDone
	outcome := "done"
	if final == PlayerAborted {
		notice = sys.MsgPlayerAborted
		outcome = "aborted"
	}
	sys.LogPlayer("%s", notice)
	if o.recorder != nil && o.sessionID != "" {
		if err := o.recorder.EndSession(ctx, o.sessionID, outcome); err != nil {
			sys.LogPlayer(sys.MsgDatabaseRecordFail, err)
		}
	}
	o.emit(Event{State: final, Index: o.index, Total: o.total, Notice: notice})
}

func (o *Orchestrator) startSession(ctx context.Context, name string) string {
	if o.recorder == nil {
		return ""
	}
	id, err := o.recorder.StartSession(ctx, name)
	if err != nil {
		sys.LogPlayer(sys.MsgDatabaseRecordFail, err)
		return ""
	}
	return id
}

func (o *Orchestrator) record(ctx context.Context, i int, t sys.Track, url, outcome string) {
	if o.recorder == nil || o.sessionID == "" {
		return
	}
	if err := o.recorder.RecordPlay(context.WithoutCancel(ctx), o.sessionID, i, t, url, outcome); err != nil && !errors.Is(err, context.Canceled) {
		sys.LogPlayer(sys.MsgDatabaseRecordFail, err)
	}
}

func (o *Orchestrator) setState(s PlayerState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) emit(e Event) {
	if o.OnEvent != nil {
		o.OnEvent(e)
	}
}

// StatusNotice is the operator-facing line for a transport status.
func StatusNotice(s Status) string {
	switch s {
	case StatusConnecting:
		return sys.MsgPlayerConnecting
	case StatusBuffering:
		return sys.MsgPlayerBuffering
	case StatusPlaying:
		return sys.MsgPlayerPlaying
	case StatusPaused:
		return sys.MsgPlayerPaused
	case StatusIdle:
		return sys.MsgPlayerReady
	}
	return ""
}
