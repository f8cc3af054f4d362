package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/leeineian/bardcast/curate"
	"github.com/leeineian/bardcast/proc"
	"github.com/leeineian/bardcast/sys"
)

// ViewState represents the current screen.
type ViewState int

const (
	MenuView ViewState = iota
	FormView
	PromptView
	PasteView
	WorkingView
	PickerView
	PlayerView
	ResultView
)

const (
	menuGenerate = "Generate playlist"
	menuStream   = "Stream playlist"
	menuExit     = "Exit"
)

var menuItems = []string{menuGenerate, menuStream, menuExit}

// Deps are the components the TUI drives.
type Deps struct {
	Store *sys.Store
	// Prompter is nil when templates or the campaign config failed to load;
	// PrompterErr then says why.
	Prompter    *sys.Prompter
	PrompterErr error
	Curator     *curate.Curator
	NewPlayer   func() *proc.Orchestrator
}

// Model is the bubbletea root model.
type Model struct {
	ctx  context.Context
	deps Deps
	view ViewState

	width, height int
	help          help.Model
	keys          keyMap

	cursor int

	// generate flow
	fieldIndex int
	answers    map[string]string
	input      textinput.Model
	prompt     string
	copied     bool
	maxTracks  int
	paste      textarea.Model

	// stream flow
	picker   list.Model
	session  *session
	nowTitle string
	status   string
	notices  []string

	working string
	result  string
	err     error
}

func NewModel(ctx context.Context, deps Deps) *Model {
	ta := textarea.New()
	ta.Placeholder = `{"name": "...", "tracks": [...]}`
	ta.ShowLineNumbers = false
	ta.CharLimit = 0

	return &Model{
		ctx:    ctx,
		deps:   deps,
		view:   MenuView,
		help:   help.New(),
		keys:   newKeyMap(),
		input:  textinput.New(),
		paste:  ta,
		picker: list.New(nil, list.NewDefaultDelegate(), 0, 0),
	}
}

func (m *Model) Init() tea.Cmd { return nil }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.picker.SetSize(msg.Width-4, msg.Height-6)
		m.paste.SetWidth(max(msg.Width-6, 20))
		m.paste.SetHeight(max(msg.Height-10, 5))
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.quit) {
			if m.session != nil {
				m.session.cancel()
			}
			return m, tea.Quit
		}
		switch m.view {
		case MenuView:
			return m.handleMenuKeys(msg)
		case FormView:
			return m.handleFormKeys(msg)
		case PromptView:
			return m.handlePromptKeys(msg)
		case PasteView:
			return m.handlePasteKeys(msg)
		case PickerView:
			return m.handlePickerKeys(msg)
		case PlayerView:
			return m.handlePlayerKeys(msg)
		case ResultView:
			if key.Matches(msg, m.keys.enter, m.keys.back) {
				m.resetToMenu()
			}
			return m, nil
		}

	case promptRenderedMsg:
		return m.onPromptRendered(msg)
	case curatedMsg:
		return m.onCurated(msg)
	case playlistsLoadedMsg:
		return m.onPlaylistsLoaded(msg)
	case playlistOpenedMsg:
		return m.onPlaylistOpened(msg)
	case playerEventMsg:
		return m.onPlayerEvent(msg)
	case playerDoneMsg:
		return m.onPlayerDone(msg)
	}
	return m, nil
}

func (m *Model) handleMenuKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.up):
		m.cursor = (m.cursor + len(menuItems) - 1) % len(menuItems)
	case key.Matches(msg, m.keys.down):
		m.cursor = (m.cursor + 1) % len(menuItems)
	case key.Matches(msg, m.keys.enter):
		switch menuItems[m.cursor] {
		case menuGenerate:
			return m.startGenerate()
		case menuStream:
			m.view = WorkingView
			m.working = "Loading playlists..."
			return m, m.loadPlaylists()
		case menuExit:
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *Model) resetToMenu() {
	m.view = MenuView
	m.err = nil
	m.result = ""
	m.working = ""
	m.notices = nil
	m.session = nil
}

func (m *Model) showResult(text string, err error) {
	m.view = ResultView
	m.result = text
	m.err = err
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(styles.title.Render("bardcast"))
	b.WriteString("\n")

	switch m.view {
	case MenuView:
		for i, item := range menuItems {
			if i == m.cursor {
				b.WriteString(styles.cursor.Render("> " + item))
			} else {
				b.WriteString("  " + item)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n" + m.help.ShortHelpView(m.keys.menuHelp()))
	case FormView:
		b.WriteString(m.formView())
	case PromptView:
		b.WriteString(m.promptView())
	case PasteView:
		b.WriteString(m.pasteView())
	case WorkingView:
		b.WriteString(styles.warn.Render(m.working))
	case PickerView:
		b.WriteString(m.picker.View())
	case PlayerView:
		b.WriteString(m.playerView())
	case ResultView:
		if m.err != nil {
			b.WriteString(styles.err.Render("Error: " + m.err.Error()))
		} else {
			b.WriteString(styles.ok.Render(m.result))
		}
		b.WriteString("\n\n" + styles.muted.Render("enter: back to menu"))
	}
	return b.String() + "\n"
}

func countLabel(n int) string {
	if n == 1 {
		return "1 track"
	}
	return fmt.Sprintf("%d tracks", n)
}
