package tui

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	Write     key.Binding
	PickYear  key.Binding
	PickMonth key.Binding
	Tab       key.Binding
	Dismiss   key.Binding
	Retry     key.Binding
	Confirm   key.Binding
	Cancel    key.Binding
	Help      key.Binding
	Quit      key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Write: key.NewBinding(
			key.WithKeys("w", "enter"),
			key.WithHelp("w/enter", "write"),
		),
		PickYear: key.NewBinding(
			key.WithKeys("y"),
			key.WithHelp("y", "pick year"),
		),
		PickMonth: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "pick month"),
		),
		Tab: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "calendar/entries"),
		),
		Dismiss: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "dismiss"),
		),
		Retry: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "retry"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("y", "Y"),
			key.WithHelp("y", "yes"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("n", "N", "esc"),
			key.WithHelp("n", "no"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}
