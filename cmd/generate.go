package cmd

import (
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/leeineian/bardcast/sys"
)

var clipboardWriteAll = clipboard.WriteAll

type promptRenderedMsg struct {
	prompt    string
	maxTracks int
	copied    bool
	err       error
}

type curatedMsg struct {
	playlist sys.Playlist
	path     string
	err      error
}

func (m *Model) startGenerate() (tea.Model, tea.Cmd) {
	if m.deps.Prompter == nil {
		m.showResult("", fmt.Errorf("prompt templates unavailable: %w", m.deps.PrompterErr))
		return m, nil
	}
	m.view = FormView
	m.fieldIndex = 0
	m.answers = make(map[string]string, len(sys.PlaylistForm))
	m.focusField()
	return m, nil
}

func (m *Model) focusField() {
	f := sys.PlaylistForm[m.fieldIndex]
	m.input.Reset()
	m.input.Placeholder = f.Default
	m.input.Focus()
}

func (m *Model) handleFormKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.back):
		m.input.Blur()
		m.resetToMenu()
		return m, nil
	case key.Matches(msg, m.keys.enter):
		f := sys.PlaylistForm[m.fieldIndex]
		m.answers[f.Name] = m.input.Value()
		m.fieldIndex++
		if m.fieldIndex < len(sys.PlaylistForm) {
			m.focusField()
			return m, nil
		}
		m.input.Blur()
		m.view = WorkingView
		m.working = "Rendering prompt..."
		return m, m.renderPrompt()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) renderPrompt() tea.Cmd {
	answers := m.answers
	prompter := m.deps.Prompter
	return func() tea.Msg {
		vars, n, err := sys.FormVars(answers)
		if err != nil {
			return promptRenderedMsg{err: err}
		}
		text, err := prompter.Render(sys.CampaignTemplateID, vars)
		if err != nil {
			return promptRenderedMsg{err: err}
		}
		copied := true
		if err := clipboardWriteAll(text); err != nil {
			sys.LogWarn("failed to copy prompt to clipboard: %v", err)
			copied = false
		}
		return promptRenderedMsg{prompt: text, maxTracks: n, copied: copied}
	}
}

func (m *Model) onPromptRendered(msg promptRenderedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.showResult("", msg.err)
		return m, nil
	}
	m.prompt = msg.prompt
	m.maxTracks = msg.maxTracks
	m.copied = msg.copied
	m.view = PromptView
	return m, nil
}

func (m *Model) handlePromptKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.back):
		m.resetToMenu()
	case key.Matches(msg, m.keys.enter):
		m.view = PasteView
		m.err = nil
		m.paste.Reset()
		return m, m.paste.Focus()
	}
	return m, nil
}

func (m *Model) handlePasteKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.back):
		m.paste.Blur()
		m.resetToMenu()
		return m, nil
	case key.Matches(msg, m.keys.submit):
		pl, err := sys.ParsePlaylist([]byte(strings.TrimSpace(m.paste.Value())))
		if err != nil {
			m.err = err
			return m, nil
		}
		m.paste.Blur()
		m.view = WorkingView
		m.working = fmt.Sprintf("Curating %q (%s)...", pl.Name, countLabel(len(pl.Tracks)))
		return m, m.curate(pl)
	}

	var cmd tea.Cmd
	m.paste, cmd = m.paste.Update(msg)
	return m, cmd
}

func (m *Model) curate(pl sys.Playlist) tea.Cmd {
	ctx, curator, store, maxTracks := m.ctx, m.deps.Curator, m.deps.Store, m.maxTracks
	return func() tea.Msg {
		out, err := curator.Curate(ctx, pl, maxTracks)
		if err != nil {
			return curatedMsg{err: err}
		}
		path, err := store.Save(out)
		return curatedMsg{playlist: out, path: path, err: err}
	}
}

func (m *Model) onCurated(msg curatedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.showResult("", msg.err)
		return m, nil
	}
	m.showResult(fmt.Sprintf("Saved %q with %s to %s", msg.playlist.Name, countLabel(len(msg.playlist.Tracks)), msg.path), nil)
	return m, nil
}

func (m *Model) formView() string {
	f := sys.PlaylistForm[m.fieldIndex]
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", styles.muted.Render(fmt.Sprintf("[%d/%d]", m.fieldIndex+1, len(sys.PlaylistForm))), f.Label)
	b.WriteString(m.input.View())
	b.WriteString("\n\n" + m.help.ShortHelpView(m.keys.formHelp()))
	return b.String()
}

func (m *Model) promptView() string {
	var b strings.Builder
	if m.copied {
		b.WriteString(styles.ok.Render("Prompt copied to clipboard."))
	} else {
		b.WriteString(styles.warn.Render("Clipboard unavailable; copy the prompt below."))
	}
	b.WriteString("\n\n")
	width := 80
	if m.width > 8 {
		width = m.width - 6
	}
	b.WriteString(styles.box.Width(width).Render(m.prompt))
	b.WriteString("\n\n" + styles.muted.Render("Run it in your LLM, then press enter to paste the JSON reply."))
	return b.String()
}

func (m *Model) pasteView() string {
	var b strings.Builder
	b.WriteString("Paste the playlist JSON:\n\n")
	b.WriteString(m.paste.View())
	if m.err != nil {
		b.WriteString("\n" + styles.err.Render(m.err.Error()))
	}
	b.WriteString("\n\n" + m.help.ShortHelpView(m.keys.pasteHelp()))
	return b.String()
}
