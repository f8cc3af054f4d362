package proc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/leeineian/bardcast/sys"
	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
)

const watchURL = "https://www.youtube.com/watch?v="

// AudioSource is one playable remote video.
type AudioSource struct {
	ID    string
	Title string
	URL   string
}

// Searcher finds candidate sources, best match first.
type Searcher interface {
	Search(ctx context.Context, query string) ([]AudioSource, error)
}

// Stream is the extractor's stdout. Closing it cancels the process.
type Stream struct {
	r   *io.PipeReader
	ext *Extraction
}

func (s *Stream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *Stream) Close() error {
	s.ext.Cancel()
	return s.r.Close()
}

func (s *Stream) Extraction() *Extraction { return s.ext }

type launchFunc func(ctx context.Context, url string) (*Stream, error)

// Resolver turns a text query into one source and owns its extraction process.
type Resolver struct {
	cfg      *sys.Config
	searcher Searcher
	launch   launchFunc

	mu     sync.Mutex
	active *Stream
}

func NewResolver(cfg *sys.Config) *Resolver {
	r := &Resolver{cfg: cfg, searcher: NewSearcher(cfg)}
	r.launch = r.launchYtdlp
	return r
}

// NewSearcher picks the backend configured in extractor.backend.
func NewSearcher(cfg *sys.Config) Searcher {
	switch cfg.Settings.Extractor.Backend {
	case sys.BackendYtsearch:
		return ytsearchBackend{}
	case sys.BackendYtmusic:
		return ytmusicBackend{}
	}
	return ytdlpBackend{cfg: cfg}
}

// Resolve runs exactly one search and trusts its first result.
func (r *Resolver) Resolve(ctx context.Context, query string) (AudioSource, error) {
	sys.LogExtractor(sys.MsgExtractorSearching, r.cfg.Settings.Extractor.Backend, query)
	results, err := r.searcher.Search(ctx, query)
	if err != nil {
		return AudioSource{}, err
	}
	if len(results) == 0 {
		return AudioSource{}, fmt.Errorf("%w: %s", sys.ErrNotFound, query)
	}
	return results[0], nil
}

// OpenStream starts extraction for src. A previous stream must be cancelled first.
func (r *Resolver) OpenStream(ctx context.Context, src AudioSource) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		select {
		case <-r.active.ext.Done():
		default:
			if !r.active.ext.Cancelled() {
				return nil, sys.ErrStreamActive
			}
		}
	}

	s, err := r.launch(ctx, src.URL)
	if err != nil {
		return nil, err
	}
	r.active = s
	return s, nil
}

// Cancel stops the active extraction, if any.
func (r *Resolver) Cancel() {
	r.mu.Lock()
	s := r.active
	r.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

// HealthCheck verifies the extractor binary runs.
func (r *Resolver) HealthCheck(ctx context.Context) error {
	bin := r.cfg.Settings.Extractor.Binary
	path, err := exec.LookPath(bin)
	if err != nil {
		return fmt.Errorf("%w: %s", sys.ErrToolUnavailable, sys.MsgExtractorNotFound)
	}
	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return fmt.Errorf("%w: %s --version: %v", sys.ErrToolUnavailable, bin, err)
	}
	sys.LogDebug("%s %s", bin, strings.TrimSpace(string(out)))
	return nil
}

func (r *Resolver) launchYtdlp(ctx context.Context, url string) (*Stream, error) {
	ext := r.cfg.Settings.Extractor

	args := append(buildYtdlpArgs(), "--hls-prefer-native", "--ignore-config")
	execCmd := newYtdlp(r.cfg).
		Format("bestaudio[ext=webm]/bestaudio/best").
		Output("-").
		NoSimulate().
		NoPart().
		NoPlaylist().
		BuildCommand(context.WithoutCancel(ctx), append(args, url)...)

	pr, pw := io.Pipe()
	var stderr bytes.Buffer
	execCmd.Stdout = pw
	execCmd.Stderr = &stderr
	execCmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	if p := r.cfg.YoutubeProxy; p != "" {
		execCmd.Env = append(execCmd.Env, "http_proxy="+p, "https_proxy="+p, "all_proxy="+p)
	}
	execCmd.WaitDelay = time.Second

	if err := execCmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("%w: %v", sys.ErrToolUnavailable, err)
	}
	sys.LogExtractor(sys.MsgExtractorStart, execCmd.Process.Pid, url)

	wait := func() error {
		err := execCmd.Wait()
		pw.Close()
		return err
	}
	e := newExtraction(execCmd.Process.Pid, execCmd.Process, wait, &stderr, ext.InterruptGrace.Duration, ext.TerminateGrace.Duration)
	return &Stream{r: pr, ext: e}, nil
}

func newYtdlp(cfg *sys.Config) *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings()
	if cfg.Settings.Extractor.Binary != "" {
		cmd.SetExecutable(cfg.Settings.Extractor.Binary)
	}
	if cfg.YoutubeProxy != "" {
		cmd.Proxy(cfg.YoutubeProxy)
	}
	return cmd
}

var (
	jsOnce       sync.Once
	cachedJSArgs []string
)

func buildYtdlpArgs() []string {
	jsOnce.Do(func() {
		for _, rt := range []string{"node", "deno", "quickjs"} {
			if path, err := exec.LookPath(rt); err == nil {
				cachedJSArgs = append(cachedJSArgs, "--js-runtimes", rt+":"+path)
				break
			}
		}
	})

	args := append([]string(nil), cachedJSArgs...)
	return append(args,
		"--no-playlist",
		"--extractor-args", "youtube:player_client=android,web",
		"--socket-timeout", "30",
		"--retries", "20",
	)
}

type ytdlpBackend struct{ cfg *sys.Config }

func (b ytdlpBackend) Search(ctx context.Context, query string) ([]AudioSource, error) {
	res, err := newYtdlp(b.cfg).
		FlatPlaylist().
		Print("%(id)s\t%(title)s").
		PlaylistItems("1-1").
		IgnoreConfig().
		Run(ctx, append(buildYtdlpArgs(), "ytsearch1:"+query)...)
	if err != nil {
		return nil, fmt.Errorf("%w: yt-dlp search: %v", sys.ErrProvider, err)
	}
	return parseSearchOutput(res.Stdout), nil
}

// parseSearchOutput reads "id\ttitle" lines.
func parseSearchOutput(out string) []AudioSource {
	var sources []AudioSource
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		id, title, ok := strings.Cut(line, "\t")
		id = strings.TrimSpace(id)
		if !ok || id == "" || id == "NA" {
			continue
		}
		sources = append(sources, AudioSource{ID: id, Title: title, URL: watchURL + id})
	}
	return sources
}

type ytsearchBackend struct{}

func (ytsearchBackend) Search(ctx context.Context, query string) ([]AudioSource, error) {
	r, err := ytsearch.NewClient(nil).Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: ytsearch: %v", sys.ErrProvider, err)
	}
	var sources []AudioSource
	for _, v := range r.Results {
		if v.VideoID == "" {
			continue
		}
		sources = append(sources, AudioSource{ID: v.VideoID, Title: v.Title, URL: watchURL + v.VideoID})
	}
	return sources, nil
}

// ytmusicBackend runs the library search, which takes no context, on its own
// goroutine so a cancelled resolve returns at once.
type ytmusicBackend struct {
	search func(query string) ([]AudioSource, error)
}

func (b ytmusicBackend) Search(ctx context.Context, query string) ([]AudioSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	search := b.search
	if search == nil {
		search = searchYtmusic
	}

	type result struct {
		sources []AudioSource
		err     error
	}
	done := make(chan result, 1)
	sys.SafeGo(func() {
		sources, err := search(query)
		done <- result{sources, err}
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.sources, r.err
	}
}

func searchYtmusic(query string) ([]AudioSource, error) {
	r, err := ytmusic.TrackSearch(query).Next()
	if err != nil {
		return nil, fmt.Errorf("%w: ytmusic: %v", sys.ErrProvider, err)
	}
	var sources []AudioSource
	for _, v := range r.Tracks {
		if v.VideoID == "" {
			continue
		}
		title := v.Title
		if len(v.Artists) > 0 {
			title += " - " + v.Artists[0].Name
		}
		sources = append(sources, AudioSource{ID: v.VideoID, Title: title, URL: watchURL + v.VideoID})
	}
	return sources, nil
}
