package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/leeineian/bardcast/proc"
	"github.com/leeineian/bardcast/sys"
)

const maxNotices = 6

// playlistItem is one row of the picker.
type playlistItem struct {
	file   string
	label  string
	tracks int
}

func (i playlistItem) Title() string       { return i.label }
func (i playlistItem) Description() string { return fmt.Sprintf("%s · %s", i.file, countLabel(i.tracks)) }
func (i playlistItem) FilterValue() string { return i.label }

type playlistsLoadedMsg struct {
	items []list.Item
	err   error
}

type playlistOpenedMsg struct {
	playlist sys.Playlist
	err      error
}

type playerEventMsg struct{ event proc.Event }

type playerDoneMsg struct{ err error }

// session is one running playback driven from the player view.
type session struct {
	cancel context.CancelFunc
	orch   *proc.Orchestrator
	events chan proc.Event
	done   chan error

	// finished closes once Run has returned and the transport is torn down.
	finished chan struct{}
}

func (m *Model) loadPlaylists() tea.Cmd {
	store := m.deps.Store
	return func() tea.Msg {
		files, err := store.List()
		if err != nil {
			return playlistsLoadedMsg{err: err}
		}
		items := make([]list.Item, 0, len(files))
		for _, f := range files {
			pl, err := store.Load(f)
			if err != nil {
				sys.LogWarn("skipping unreadable playlist %s: %v", f, err)
				continue
			}
			items = append(items, playlistItem{file: f, label: sys.Label(pl.Name, pl.Tags), tracks: len(pl.Tracks)})
		}
		return playlistsLoadedMsg{items: items}
	}
}

func (m *Model) onPlaylistsLoaded(msg playlistsLoadedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.showResult("", msg.err)
		return m, nil
	}
	if len(msg.items) == 0 {
		m.showResult(fmt.Sprintf("No playlists in %s yet. Generate one first.", m.deps.Store.Dir()), nil)
		return m, nil
	}
	m.picker.Title = "Pick a playlist"
	m.view = PickerView
	return m, m.picker.SetItems(msg.items)
}

func (m *Model) handlePickerKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.picker.FilterState() != list.Filtering {
		switch {
		case key.Matches(msg, m.keys.back):
			m.resetToMenu()
			return m, nil
		case key.Matches(msg, m.keys.enter):
			item, ok := m.picker.SelectedItem().(playlistItem)
			if !ok {
				return m, nil
			}
			m.view = WorkingView
			m.working = fmt.Sprintf("Opening %s...", item.label)
			store := m.deps.Store
			return m, func() tea.Msg {
				pl, err := store.Load(item.file)
				return playlistOpenedMsg{playlist: pl, err: err}
			}
		}
	}

	var cmd tea.Cmd
	m.picker, cmd = m.picker.Update(msg)
	return m, cmd
}

func (m *Model) onPlaylistOpened(msg playlistOpenedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.showResult("", msg.err)
		return m, nil
	}
	if m.deps.NewPlayer == nil {
		m.showResult("", fmt.Errorf("%w: playback is not configured", sys.ErrMissingCredentials))
		return m, nil
	}

	ctx, cancel := context.WithCancel(m.ctx)
	s := &session{
		cancel: cancel,
		orch:   m.deps.NewPlayer(),
		events: make(chan proc.Event, 32),
		done:   make(chan error, 1),

		finished: make(chan struct{}),
	}
	s.orch.OnEvent = func(e proc.Event) {
		select {
		case s.events <- e:
		case <-ctx.Done():
		}
	}

	m.session = s
	m.view = PlayerView
	m.nowTitle = ""
	m.status = sys.MsgPlayerConnecting
	m.notices = nil

	pl := msg.playlist
	sys.SafeGo(func() {
		defer close(s.finished)
		s.done <- s.orch.Run(ctx, pl)
	})
	return m, s.wait()
}

// wait delivers the next event, or the session result once Run returns.
func (s *session) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case e := <-s.events:
			return playerEventMsg{event: e}
		case err := <-s.done:
			return playerDoneMsg{err: err}
		}
	}
}

// Wait blocks until the running session has released the voice connection,
// or timeout passes. It reports whether teardown completed.
func (m *Model) Wait(timeout time.Duration) bool {
	s := m.session
	if s == nil || s.finished == nil {
		return true
	}
	select {
	case <-s.finished:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (m *Model) onPlayerEvent(msg playerEventMsg) (tea.Model, tea.Cmd) {
	if m.session == nil {
		return m, nil
	}
	e := msg.event
	if e.Total > 0 && e.Track.Name != "" {
		m.nowTitle = fmt.Sprintf("[%d/%d] %s", e.Index+1, e.Total, trackLine(e.Track))
	}
	status := proc.StatusNotice(e.Status)
	if e.State == proc.PlayerIdle || e.State == proc.PlayerPlaying {
		m.status = status
	}
	if e.Notice != "" && e.Notice != status {
		m.pushNotice(e.Notice)
	}
	return m, m.session.wait()
}

func (m *Model) onPlayerDone(msg playerDoneMsg) (tea.Model, tea.Cmd) {
	if m.session != nil {
		m.session.cancel()
	}
	m.session = nil
	switch {
	case errors.Is(msg.err, context.Canceled):
		m.showResult(sys.MsgPlayerAborted, nil)
	case msg.err != nil:
		m.showResult("", msg.err)
	default:
		m.showResult(sys.MsgPlayerDone, nil)
	}
	return m, nil
}

func (m *Model) handlePlayerKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.session == nil {
		return m, nil
	}
	var err error
	switch {
	case key.Matches(msg, m.keys.pause):
		err = m.session.orch.Pause()
	case key.Matches(msg, m.keys.resume):
		err = m.session.orch.Resume()
	case key.Matches(msg, m.keys.skip):
		err = m.session.orch.Skip()
	case key.Matches(msg, m.keys.abort, m.keys.back):
		m.pushNotice("Stopping session...")
		m.session.cancel()
	}
	if err != nil {
		m.pushNotice(err.Error())
	}
	return m, nil
}

func (m *Model) pushNotice(s string) {
	m.notices = append(m.notices, s)
	if len(m.notices) > maxNotices {
		m.notices = m.notices[len(m.notices)-maxNotices:]
	}
}

func (m *Model) playerView() string {
	var b strings.Builder
	if m.nowTitle != "" {
		title := m.nowTitle
		if m.width > 8 {
			title = sys.TruncateCenter(title, m.width-4)
		}
		b.WriteString(styles.ok.Render("♪ " + title))
	} else {
		b.WriteString(styles.muted.Render("Waiting for the first track..."))
	}
	b.WriteString("\n" + styles.warn.Render(m.status) + "\n\n")
	for _, n := range m.notices {
		b.WriteString(styles.muted.Render(n) + "\n")
	}
	b.WriteString("\n" + m.help.ShortHelpView(m.keys.playerHelp()))
	return b.String()
}

func trackLine(t sys.Track) string {
	if len(t.Artists) == 0 {
		return t.Name
	}
	return t.Name + " - " + strings.Join(t.Artists, ", ")
}
