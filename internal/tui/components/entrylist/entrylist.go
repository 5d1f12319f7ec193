package entrylist

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/julianstephens/daybook/internal/constants"
	"github.com/julianstephens/daybook/internal/models"
	"github.com/julianstephens/daybook/internal/utils"
)

type DeleteEntryMsg struct {
	ID string
}

// OpenEntryMsg jumps the calendar to the entry's date.
type OpenEntryMsg struct {
	DateKey string
}

type Item struct {
	Entry models.Entry
}

func (i Item) Title() string {
	label := i.Entry.DateKey
	if t, err := time.Parse(constants.DateFormat, i.Entry.DateKey); err == nil {
		label = utils.FormatDisplay(t)
	}
	title := fmt.Sprintf("%s  %s", label, i.Entry.Headline())
	if i.Entry.Pending() {
		title += "  (saving…)"
	}
	return title
}

func (i Item) Description() string {
	return i.Entry.Excerpt(60)
}

func (i Item) FilterValue() string { return i.Entry.DateKey + " " + i.Entry.Headline() }

type KeyMap struct {
	Open   key.Binding
	Delete key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Open: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "open day"),
		),
		Delete: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "delete"),
		),
	}
}

// Model lists every entry newest first.
type Model struct {
	list list.Model
	keys KeyMap
}

func New(entries []models.Entry, width, height int) Model {
	l := list.New(items(entries), list.NewDefaultDelegate(), width, height)
	l.Title = "Entries"
	l.SetShowTitle(false)
	l.SetShowHelp(false)
	l.SetStatusBarItemName("entry", "entries")

	keys := DefaultKeyMap()
	l.AdditionalShortHelpKeys = func() []key.Binding {
		return []key.Binding{keys.Open, keys.Delete}
	}
	l.AdditionalFullHelpKeys = func() []key.Binding {
		return []key.Binding{keys.Open, keys.Delete}
	}

	return Model{
		list: l,
		keys: keys,
	}
}

func items(entries []models.Entry) []list.Item {
	out := make([]list.Item, len(entries))
	for i, e := range entries {
		out[i] = Item{Entry: e}
	}
	return out
}

func (m *Model) SetEntries(entries []models.Entry) {
	m.list.SetItems(items(entries))
}

func (m Model) Len() int {
	return len(m.list.Items())
}

// Filtering reports whether the filter input owns the keyboard.
func (m Model) Filtering() bool {
	return m.list.FilterState() == list.Filtering
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Don't match if we're filtering
		if m.list.FilterState() == list.Filtering {
			break
		}

		switch {
		case key.Matches(msg, m.keys.Open):
			if item, ok := m.list.SelectedItem().(Item); ok {
				return m, func() tea.Msg {
					return OpenEntryMsg{DateKey: item.Entry.DateKey}
				}
			}
		case key.Matches(msg, m.keys.Delete):
			if item, ok := m.list.SelectedItem().(Item); ok {
				return m, func() tea.Msg {
					return DeleteEntryMsg{ID: item.Entry.ID}
				}
			}
		}
	}

	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if len(m.list.Items()) == 0 {
		return "No entries yet. Press w to write one."
	}
	return m.list.View()
}

func (m *Model) SetSize(width, height int) {
	m.list.SetSize(width, height)
}
