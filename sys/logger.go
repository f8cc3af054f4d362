package sys

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const LevelFatal = slog.LevelError + 4

var (
	infoColor      = color.New(color.FgHiBlack)
	warnColor      = color.New(color.FgHiYellow)
	errorColor     = color.New(color.FgHiRed)
	fatalColor     = color.New(color.FgHiRed, color.Bold)
	voiceColor     = color.New(color.FgHiMagenta)
	extractorColor = color.New(color.FgHiBlue)
	playerColor    = color.New(color.FgHiGreen)
	curateColor    = color.New(color.FgHiCyan)
	storeColor     = color.New(color.FgHiBlack)
	databaseColor  = color.New(color.FgHiBlack)
	healthColor    = color.New(color.FgHiYellow)

	logFile *os.File
	logMu   sync.Mutex
)

// LogOptions selects where records go.
type LogOptions struct {
	Silent bool
	// File, when set, receives every record.
	File string
	// Console writes to stdout. Off while the TUI owns the terminal.
	Console bool
}

func init() {
	InitLogger(LogOptions{Console: true})
}

// InitLogger installs the colourised handler as the slog default.
func InitLogger(opts LogOptions) {
	logMu.Lock()
	defer logMu.Unlock()

	level := slog.LevelInfo
	if strings.ToLower(os.Getenv("DEBUG")) == "true" {
		level = slog.LevelDebug
	}

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var writers []io.Writer
	if opts.Console {
		writers = append(writers, os.Stdout)
	}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", opts.File, err)
		} else {
			logFile = f
			writers = append(writers, f)
		}
	}

	var w io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		w = writers[0]
	default:
		w = io.MultiWriter(writers...)
	}

	color.NoColor = false

	slog.SetDefault(slog.New(NewLogHandler(w, &LogHandlerOptions{
		Silent: opts.Silent,
		Level:  level,
	})))
}

// CloseLogger flushes the log file, if any.
func CloseLogger() {
	logMu.Lock()
	defer logMu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func LogInfo(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...))
}

func LogWarn(format string, v ...any) {
	slog.Warn(fmt.Sprintf(format, v...))
}

func LogError(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...))
}

func LogDebug(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...))
}

func LogFatal(format string, v ...any) {
	slog.Log(context.Background(), LevelFatal, fmt.Sprintf(format, v...))
	CloseLogger()
	os.Exit(1)
}

func LogVoice(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "voice"))
}

func LogExtractor(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "extractor"))
}

func LogPlayer(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "player"))
}

func LogCurate(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "curate"))
}

func LogStore(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "store"))
}

func LogDatabase(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "database"))
}

func LogHealth(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "health"))
}

// --- Custom Slog Handler ---

type LogHandlerOptions struct {
	Silent bool
	Level  slog.Leveler
}

type LogHandler struct {
	w    io.Writer
	opts *LogHandlerOptions
	mu   *sync.Mutex
}

func NewLogHandler(w io.Writer, opts *LogHandlerOptions) *LogHandler {
	if opts == nil {
		opts = &LogHandlerOptions{Level: slog.LevelInfo}
	}
	return &LogHandler{w: w, opts: opts, mu: &sync.Mutex{}}
}

func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.opts.Silent {
		return false
	}
	return level >= h.opts.Level.Level()
}

func (h *LogHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.opts.Silent {
		return nil
	}

	levelStr, levelColor := levelStyle(r.Level)

	component := ""
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = strings.ToUpper(a.Value.String())
			return false
		}
		return true
	})

	fmt.Fprintf(h.w, "%s", time.Now().Format("15:04:05"))

	if component != "" {
		if levelStr != "INFO" {
			fmt.Fprintf(h.w, " %s", levelColor.Sprintf("[%s]", levelStr))
		}
		fmt.Fprintf(h.w, " %s\n", colorizeWithResets(componentColor(component), fmt.Sprintf("[%s] %s", component, r.Message)))
		return nil
	}

	fmt.Fprintf(h.w, " %s\n", colorizeWithResets(levelColor, fmt.Sprintf("[%s] %s", levelStr, r.Message)))
	return nil
}

func (h *LogHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *LogHandler) WithGroup(_ string) slog.Handler      { return h }

func levelStyle(l slog.Level) (string, *color.Color) {
	switch {
	case l >= LevelFatal:
		return "FATAL", fatalColor
	case l >= slog.LevelError:
		return "ERROR", errorColor
	case l >= slog.LevelWarn:
		return "WARN", warnColor
	case l >= slog.LevelInfo:
		return "INFO", infoColor
	default:
		return "DEBUG", infoColor
	}
}

func componentColor(name string) *color.Color {
	switch name {
	case "VOICE":
		return voiceColor
	case "EXTRACTOR":
		return extractorColor
	case "PLAYER":
		return playerColor
	case "CURATE":
		return curateColor
	case "STORE":
		return storeColor
	case "DATABASE":
		return databaseColor
	case "HEALTH":
		return healthColor
	default:
		return color.New(color.FgCyan)
	}
}

// colorizeWithResets re-applies the outer colour after every reset code in text,
// so nested colouring inside a component line keeps the component colour.
func colorizeWithResets(c *color.Color, text string) string {
	if !strings.Contains(text, "\x1b[0m") {
		return c.Sprint(text)
	}

	marker := "@@@MSG@@@"
	wrapped := c.Sprint(marker)
	idx := strings.Index(wrapped, marker)
	if idx <= 0 {
		return text
	}
	startSeq := wrapped[:idx]

	return c.Sprint(strings.ReplaceAll(text, "\x1b[0m", "\x1b[0m"+startSeq))
}

// @config
const (
	MsgConfigFailedToLoad  = "failed to load config: %w"
	MsgConfigSettingsRead  = "failed to read settings %s: %w"
	MsgConfigSettingsParse = "failed to parse settings %s: %w"
)

// @database
const (
	MsgDatabaseInitSuccess = "Database initialized successfully"
	MsgDatabaseTableError  = "failed to create table: %w"
	MsgDatabasePragmaError = "failed to set pragma %s: %w"
	MsgDatabaseRecordFail  = "Failed to record play: %v"
)

// @store
const (
	MsgStoreSaved        = "Saved playlist %q to %s"
	MsgStoreCreatedDir   = "Created playlist folder %s"
	ErrStoreMissingName  = "playlist JSON must have a name"
	ErrStoreMissingTrack = "playlist JSON must have a tracks array"
)

// @curate
const (
	MsgCurateStart         = "Curating %q (%d candidates, max %d, %s)"
	MsgCurateResolved      = "Resolved %q to %s"
	MsgCurateUnresolved    = "Dropped %q: no search hit"
	MsgCurateDuplicate     = "Dropped duplicate %s"
	MsgCurateUnavailable   = "Dropped %s: %v"
	MsgCurateBelowPop      = "Dropped %s: popularity %d below %d"
	MsgCurateDone          = "Curated %q: %d tracks"
	MsgCurateTagFail       = "Tag lookup failed for %s: %v"
	MsgCurateSearchFail    = "Search failed for %q: %v"
	MsgCurateAuthorizeFail = "failed to authorize metadata provider: %w"
)

// @extractor
const (
	MsgExtractorStart     = "Started extraction (PID %d): %s"
	MsgExtractorSignal    = "Sent %s to PID %d"
	MsgExtractorReaped    = "Extraction PID %d reaped (%s)"
	MsgExtractorFailed    = "Extraction failed: %v, stderr: %s"
	MsgExtractorNotFound  = "yt-dlp binary not found"
	MsgExtractorSearching = "Searching %s: %s"
)

// @voice
const (
	MsgVoiceConnecting     = "Joining channel %s in guild %s"
	MsgVoiceRetry          = "Retrying voice connection in %v (Attempt %d/%d)"
	MsgVoiceConnectFail    = "Failed to connect to voice after %d attempts: %v"
	MsgVoiceReady          = "Discord client ready as %s"
	MsgVoicePlaybackError  = "Playback error (swallowed): %v"
	MsgVoicePlaybackDone   = "Playback finished"
	MsgVoiceProviderRetry  = "Exhausted retries for SetOpusFrameProvider"
	MsgVoiceSpeakingRetry  = "Exhausted retries for SetSpeaking"
	MsgVoiceTranscoderFail = "Transcoder %s failed: %v"
	MsgVoiceStatusFail     = "Failed to set voice channel status: %v"
)

// @player
const (
	MsgPlayerConnecting  = "Connecting"
	MsgPlayerBuffering   = "Buffering audio"
	MsgPlayerPlaying     = "Playing"
	MsgPlayerPaused      = "Paused"
	MsgPlayerReady       = "Ready to play"
	MsgPlayerNotFound    = "No source found for %q, skipping"
	MsgPlayerStreamFail  = "Could not open stream for %q: %v"
	MsgPlayerTrackError  = "Transport error on %q, advancing"
	MsgPlayerAbortErrors = "Aborting after %d consecutive transport errors"
	MsgPlayerNowPlaying  = "Now playing %d/%d: %s"
	MsgPlayerDone        = "Playlist finished"
	MsgPlayerAborted     = "Session aborted"
)

// @health
const (
	MsgHealthChecking = "Checking %s..."
	MsgHealthOK       = "%s: OK"
	MsgHealthFail     = "%s: ERROR %v"
)
