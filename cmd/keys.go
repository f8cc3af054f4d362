package cmd

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the TUI.
type keyMap struct {
	up     key.Binding
	down   key.Binding
	enter  key.Binding
	back   key.Binding
	submit key.Binding
	pause  key.Binding
	resume key.Binding
	skip   key.Binding
	abort  key.Binding
	quit   key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		enter:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select")),
		back:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		submit: key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "submit")),
		pause:  key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause")),
		resume: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "resume")),
		skip:   key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "skip")),
		abort:  key.NewBinding(key.WithKeys("q"), key.WithHelp("q", "stop session")),
		quit:   key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

func (k keyMap) menuHelp() []key.Binding   { return []key.Binding{k.up, k.down, k.enter, k.quit} }
func (k keyMap) formHelp() []key.Binding   { return []key.Binding{k.enter, k.back} }
func (k keyMap) pasteHelp() []key.Binding  { return []key.Binding{k.submit, k.back} }
func (k keyMap) playerHelp() []key.Binding { return []key.Binding{k.pause, k.resume, k.skip, k.abort} }
