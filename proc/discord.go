package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/godave/golibdave"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/bardcast/sys"
)

const (
	readyTimeout = 30 * time.Second
	// Discord rejects voice channel statuses longer than this.
	maxVoiceStatus = 500
)

// DiscordTransport streams opus audio into one voice channel.
type DiscordTransport struct {
	cfg    *sys.Config
	status StatusHolder

	client    *bot.Client
	conn      voice.Conn
	channelID snowflake.ID
	guildID   snowflake.ID
	ready     chan struct{}
	readyOnce sync.Once

	mu       sync.Mutex
	played   bool
	provider *FrameProvider
	cancel   context.CancelFunc
}

func NewDiscordTransport(cfg *sys.Config) *DiscordTransport {
	return &DiscordTransport{cfg: cfg, ready: make(chan struct{})}
}

// OnStatus registers the callback fired on every status transition.
func (d *DiscordTransport) OnStatus(f func(Status)) { d.status.OnChange(f) }

func (d *DiscordTransport) Status() Status { return d.status.Get() }

// Connect opens the gateway, looks up the channel's guild and joins voice.
func (d *DiscordTransport) Connect(ctx context.Context) error {
	if err := d.cfg.RequireDiscord(); err != nil {
		return err
	}
	channelID, err := snowflake.Parse(d.cfg.VoiceChannelID)
	if err != nil {
		return fmt.Errorf("%w: invalid channel id %q", sys.ErrConnectionFailed, d.cfg.VoiceChannelID)
	}
	d.channelID = channelID
	d.status.Set(StatusConnecting)

	client, err := disgo.New(d.cfg.DiscordToken,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(gateway.IntentGuilds, gateway.IntentGuildVoiceStates),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagVoiceStates),
		),
		bot.WithVoiceManagerConfigOpts(
			voice.WithDaveSessionCreateFunc(golibdave.NewSession),
		),
		bot.WithEventListenerFunc(d.onReady),
		bot.WithLogger(slog.Default()),
	)
	if err != nil {
		d.status.Set(StatusError)
		return fmt.Errorf("%w: %v", sys.ErrConnectionFailed, err)
	}
	d.mu.Lock()
	d.client = client
	d.mu.Unlock()

	if err := client.OpenGateway(ctx); err != nil {
		d.status.Set(StatusError)
		return fmt.Errorf("%w: gateway: %v", sys.ErrConnectionFailed, err)
	}

	select {
	case <-d.ready:
	case <-time.After(readyTimeout):
		d.status.Set(StatusError)
		return fmt.Errorf("%w: gateway not ready after %v", sys.ErrConnectionFailed, readyTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	ch, err := client.Rest.GetChannel(channelID)
	if err != nil {
		d.status.Set(StatusError)
		return fmt.Errorf("%w: channel %s: %v", sys.ErrConnectionFailed, channelID, err)
	}
	gc, ok := ch.(discord.GuildChannel)
	if !ok {
		d.status.Set(StatusError)
		return fmt.Errorf("%w: channel %s is not in a guild", sys.ErrConnectionFailed, channelID)
	}
	d.guildID = gc.GuildID()

	if err := d.join(ctx, client); err != nil {
		d.status.Set(StatusError)
		return err
	}
	d.status.Set(StatusIdle)
	return nil
}

func (d *DiscordTransport) onReady(e *events.Ready) {
	sys.LogVoice(sys.MsgVoiceReady, e.User.Username)
	d.readyOnce.Do(func() { close(d.ready) })
}

func (d *DiscordTransport) join(ctx context.Context, client *bot.Client) error {
	sys.LogVoice(sys.MsgVoiceConnecting, d.channelID, d.guildID)
	conn := client.VoiceManager.CreateConn(d.guildID)
	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	retries := max(d.cfg.Settings.Playback.ConnectRetries, 1)
	var lastErr error
	for i := range retries {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * time.Second
			sys.LogVoice(sys.MsgVoiceRetry, backoff, i+1, retries)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = conn.Open(ctx, d.channelID, false, false); lastErr == nil {
			return nil
		}
	}

	sys.LogVoice(sys.MsgVoiceConnectFail, retries, lastErr)
	d.mu.Lock()
	d.conn = nil
	d.mu.Unlock()
	conn.Close(ctx)
	return fmt.Errorf("%w: %v", sys.ErrConnectionFailed, lastErr)
}

// Play streams r until it ends or Stop is called. Closable readers are
// closed when playback ends.
func (d *DiscordTransport) Play(ctx context.Context, title string, r io.Reader) {
	d.mu.Lock()
	if d.conn == nil {
		d.mu.Unlock()
		sys.LogVoice(sys.MsgVoicePlaybackError, sys.ErrNotInitialized)
		d.status.Set(StatusError)
		return
	}
	playCtx, cancel := context.WithCancel(ctx)
	p := NewFrameProvider(playCtx)
	done := make(chan struct{})
	p.OnFinish = func() { close(done) }
	p.OnFirstFrame = func() {
		if playCtx.Err() == nil && d.status.Get() == StatusBuffering {
			d.status.Set(StatusPlaying)
		}
	}
	d.provider = p
	d.cancel = cancel
	d.played = true
	client := d.client
	d.mu.Unlock()

	d.status.Set(StatusBuffering)
	d.setChannelStatus(client, voiceStatus(title))

	var (
		frames int64
		runErr error
	)
	transcoded := make(chan struct{})
	sys.SafeGo(func() {
		defer close(transcoded)
		defer p.PushFrame(nil)
		t := NewTranscoder()
		defer t.Close()
		if err := t.Open(r); err != nil {
			runErr = err
			return
		}
		frames, runErr = t.Run(playCtx, p.PushFrame)
	})

	d.setProviderSafe(playCtx, p)
	d.setSpeakingSafe(playCtx, voice.SpeakingFlagMicrophone)

	stopped := false
	select {
	case <-done:
	case <-playCtx.Done():
		stopped = true
	}
	cancel()
	if c, ok := r.(io.Closer); ok {
		c.Close()
	}
	<-transcoded

	d.setProviderSafe(context.Background(), nil)
	d.setSpeakingSafe(context.Background(), 0)

	switch {
	case stopped:
		d.status.Set(StatusIdle)
	case runErr != nil && !errors.Is(runErr, context.Canceled):
		sys.LogVoice(sys.MsgVoiceTranscoderFail, title, runErr)
		d.status.Set(StatusError)
	case frames == 0:
		sys.LogVoice(sys.MsgVoicePlaybackError, "stream produced no audio")
		d.status.Set(StatusError)
	default:
		sys.LogVoice(sys.MsgVoicePlaybackDone)
		d.status.Set(StatusIdle)
	}
}

func (d *DiscordTransport) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.played {
		return sys.ErrNotInitialized
	}
	d.provider.Pause()
	if s := d.status.Get(); s == StatusPlaying || s == StatusBuffering {
		d.status.Set(StatusPaused)
	}
	return nil
}

func (d *DiscordTransport) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.played {
		return sys.ErrNotInitialized
	}
	d.provider.Resume()
	if d.status.Get() == StatusPaused {
		d.status.Set(StatusPlaying)
	}
	return nil
}

func (d *DiscordTransport) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.played {
		return sys.ErrNotInitialized
	}
	d.provider.Resume()
	d.cancel()
	return nil
}

// Destroy leaves the channel and closes the gateway. Safe on a partial connect.
func (d *DiscordTransport) Destroy(ctx context.Context) {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	conn, client := d.conn, d.client
	d.conn, d.client = nil, nil
	d.mu.Unlock()

	if conn != nil {
		d.setChannelStatus(client, "")
		conn.Close(ctx)
	}
	if client != nil {
		client.Close(ctx)
	}
}

// voiceStatus is the channel status shown while title plays.
func voiceStatus(title string) string {
	return sys.TruncateWithPreserve(title, maxVoiceStatus, "♪ ", "")
}

func (d *DiscordTransport) setChannelStatus(client *bot.Client, status string) {
	if client == nil || d.channelID == 0 {
		return
	}
	route := rest.NewEndpoint(http.MethodPut, "/channels/"+d.channelID.String()+"/voice-status")
	if err := client.Rest.Do(route.Compile(nil), map[string]string{"status": status}, nil); err != nil {
		sys.LogVoice(sys.MsgVoiceStatusFail, err)
	}
}

func (d *DiscordTransport) setProviderSafe(ctx context.Context, p voice.OpusFrameProvider) {
	for i := range 3 {
		if d.trySetProvider(p) {
			return
		}
		if i < 2 {
			select {
			case <-time.After(150 * time.Millisecond):
			case <-ctx.Done():
				return
			}
		}
	}
	sys.LogVoice(sys.MsgVoiceProviderRetry)
}

func (d *DiscordTransport) trySetProvider(p voice.OpusFrameProvider) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	conn := d.voiceConn()
	if conn == nil {
		return false
	}
	conn.SetOpusFrameProvider(p)
	return true
}

func (d *DiscordTransport) setSpeakingSafe(ctx context.Context, flags voice.SpeakingFlags) {
	for i := range 3 {
		if d.trySetSpeaking(ctx, flags) {
			return
		}
		if i < 2 {
			select {
			case <-time.After(150 * time.Millisecond):
			case <-ctx.Done():
				return
			}
		}
	}
	sys.LogVoice(sys.MsgVoiceSpeakingRetry)
}

func (d *DiscordTransport) trySetSpeaking(ctx context.Context, flags voice.SpeakingFlags) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	conn := d.voiceConn()
	if conn == nil {
		return false
	}
	return conn.SetSpeaking(ctx, flags) == nil
}

func (d *DiscordTransport) voiceConn() voice.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn
}
