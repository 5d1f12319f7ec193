package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/julianstephens/daybook/internal/utils"
)

// SelectDateMsg asks the diary to move its selection to Date.
type SelectDateMsg struct {
	Date time.Time
}

type KeyMap struct {
	Left      key.Binding
	Right     key.Binding
	Up        key.Binding
	Down      key.Binding
	PrevMonth key.Binding
	NextMonth key.Binding
	Today     key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Left: key.NewBinding(
			key.WithKeys("left", "h"),
			key.WithHelp("←/h", "prev day"),
		),
		Right: key.NewBinding(
			key.WithKeys("right", "l"),
			key.WithHelp("→/l", "next day"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "prev week"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "next week"),
		),
		PrevMonth: key.NewBinding(
			key.WithKeys("["),
			key.WithHelp("[", "prev month"),
		),
		NextMonth: key.NewBinding(
			key.WithKeys("]"),
			key.WithHelp("]", "next month"),
		),
		Today: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "today"),
		),
	}
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	weekdayStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("205")).
			Bold(true)

	todayStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Underline(true)

	markedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))
)

// Model renders one month around the selected date. Days with at least one
// entry are marked.
type Model struct {
	selected time.Time
	today    time.Time
	marked   map[string]bool
	keys     KeyMap
}

func New(selected, today time.Time) Model {
	return Model{
		selected: utils.StartOfDay(selected),
		today:    utils.StartOfDay(today),
		marked:   map[string]bool{},
		keys:     DefaultKeyMap(),
	}
}

func (m *Model) SetSelected(t time.Time) {
	m.selected = utils.StartOfDay(t)
}

func (m *Model) SetToday(t time.Time) {
	m.today = utils.StartOfDay(t)
}

// SetMarked replaces the set of date keys that have entries.
func (m *Model) SetMarked(keys map[string]bool) {
	if keys == nil {
		keys = map[string]bool{}
	}
	m.marked = keys
}

func (m Model) Selected() time.Time {
	return m.selected
}

func (m Model) KeyMap() KeyMap {
	return m.keys
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	var target time.Time
	switch {
	case key.Matches(keyMsg, m.keys.Left):
		target = m.selected.AddDate(0, 0, -1)
	case key.Matches(keyMsg, m.keys.Right):
		target = m.selected.AddDate(0, 0, 1)
	case key.Matches(keyMsg, m.keys.Up):
		target = m.selected.AddDate(0, 0, -7)
	case key.Matches(keyMsg, m.keys.Down):
		target = m.selected.AddDate(0, 0, 7)
	case key.Matches(keyMsg, m.keys.PrevMonth):
		target = ShiftMonth(m.selected, -1)
	case key.Matches(keyMsg, m.keys.NextMonth):
		target = ShiftMonth(m.selected, 1)
	case key.Matches(keyMsg, m.keys.Today):
		target = m.today
	default:
		return m, nil
	}

	m.selected = target
	return m, func() tea.Msg {
		return SelectDateMsg{Date: target}
	}
}

// ShiftMonth moves t by delta months, clamping the day to the target month.
func ShiftMonth(t time.Time, delta int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(delta), 1, 0, 0, 0, 0, t.Location())
	day := min(t.Day(), utils.DaysIn(first.Year(), first.Month()))
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, t.Location())
}

func (m Model) View() string {
	year, month := m.selected.Year(), m.selected.Month()

	var b strings.Builder
	title := fmt.Sprintf("%s %d", month, year)
	b.WriteString(headerStyle.Render(lipgloss.PlaceHorizontal(28, lipgloss.Center, title)))
	b.WriteString("\n")
	b.WriteString(weekdayStyle.Render(" Su  Mo  Tu  We  Th  Fr  Sa "))
	b.WriteString("\n")

	for _, week := range utils.MonthGrid(year, month) {
		for _, day := range week {
			b.WriteString(m.cell(year, month, day))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) cell(year int, month time.Month, day int) string {
	if day == 0 {
		return "    "
	}

	date := time.Date(year, month, day, 0, 0, 0, 0, m.selected.Location())
	mark := " "
	if m.marked[utils.DeriveKey(date)] {
		mark = "•"
	}
	text := fmt.Sprintf(" %2d%s", day, mark)

	switch {
	case day == m.selected.Day():
		return selectedStyle.Render(text)
	case utils.DeriveKey(date) == utils.DeriveKey(m.today):
		return todayStyle.Render(text)
	case mark != " ":
		return markedStyle.Render(text)
	}
	return text
}
