package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/julianstephens/daybook/internal/constants"
	"github.com/julianstephens/daybook/internal/diary"
	"github.com/julianstephens/daybook/internal/session"
	"github.com/julianstephens/daybook/internal/tui/components/calendar"
	"github.com/julianstephens/daybook/internal/tui/components/entrylist"
)

type Model struct {
	session   *session.Session
	views     <-chan diary.ViewModel
	stopWatch func()
	now       func() time.Time

	state         constants.SessionState
	previousState constants.SessionState
	keys          KeyMap
	help          help.Model
	spinner       spinner.Model
	calendar      calendar.Model
	entries       entrylist.Model
	day           viewport.Model

	vm            diary.ViewModel
	opening       bool
	openErr       error
	form          *huh.Form
	composeForm   *ComposeFormModel
	pickForm      *PickFormModel
	entryToDelete string
	quitting      bool
	width         int
	height        int
}

// NewModel watches the session's diary. The diary is opened by Init.
func NewModel(s *session.Session) Model {
	views, stop := s.Core.Watch()
	now := func() time.Time { return time.Now().In(s.Core.Location()) }

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = warningStyle

	vm := s.Core.View()
	m := Model{
		session:   s,
		views:     views,
		stopWatch: stop,
		now:       now,
		state:     constants.StateCalendar,
		keys:      DefaultKeyMap(),
		help:      help.New(),
		spinner:   sp,
		calendar:  calendar.New(vm.SelectedDate, now()),
		entries:   entrylist.New(nil, 0, 0),
		day:       newDayViewport(),
		vm:        vm,
		opening:   true,
	}
	m.apply(vm)
	return m
}

func (m Model) ShortHelp() []key.Binding {
	cal := m.calendar.KeyMap()
	keys := []key.Binding{m.keys.Tab, m.keys.Quit, m.keys.Help}
	switch m.state {
	case constants.StateCalendar:
		keys = append(keys, cal.Left, cal.Right, m.keys.Write)
	case constants.StateEntries:
		keys = append(keys, entrylist.DefaultKeyMap().Open, entrylist.DefaultKeyMap().Delete)
	}
	if m.vm.Notice != nil {
		keys = append(keys, m.keys.Dismiss)
	}
	if m.failure() != nil {
		keys = append(keys, m.keys.Retry)
	}
	return keys
}

func (m Model) FullHelp() [][]key.Binding {
	cal := m.calendar.KeyMap()
	global := []key.Binding{m.keys.Tab, m.keys.Quit, m.keys.Help, m.keys.Dismiss, m.keys.Retry}
	navigation := []key.Binding{cal.Left, cal.Right, cal.Up, cal.Down, cal.PrevMonth, cal.NextMonth, cal.Today}
	actions := []key.Binding{m.keys.Write, m.keys.PickYear, m.keys.PickMonth}
	if m.state == constants.StateEntries {
		list := entrylist.DefaultKeyMap()
		actions = []key.Binding{list.Open, list.Delete}
	}
	return [][]key.Binding{global, navigation, actions}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, openCmd(m.session), waitForView(m.views))
}

// apply copies a published view into the components.
func (m *Model) apply(vm diary.ViewModel) {
	m.vm = vm
	if !vm.SelectedDate.IsZero() {
		m.calendar.SetSelected(vm.SelectedDate)
	}
	m.calendar.SetToday(m.now())
	m.calendar.SetMarked(vm.DateKeys())
	m.entries.SetEntries(vm.OrderedEntries)
	m.day.SetContent(renderDay(vm.EntryForSelectedDate))
}

// ViewModel returns the latest view the model has applied.
func (m Model) ViewModel() diary.ViewModel {
	return m.vm
}

func (m Model) State() constants.SessionState {
	return m.state
}

// failure is the error keeping the diary from going live. A failed Start
// can leave the core unauthenticated, so openErr counts too.
func (m Model) failure() error {
	if m.vm.Status == diary.StatusError {
		return m.vm.Err
	}
	if !m.opening && m.openErr != nil {
		return m.openErr
	}
	return nil
}

// newDayViewport scrolls only with the page keys; arrows belong to the calendar.
func newDayViewport() viewport.Model {
	vp := viewport.New(0, 0)
	vp.KeyMap = viewport.KeyMap{
		PageDown: key.NewBinding(key.WithKeys("pgdown")),
		PageUp:   key.NewBinding(key.WithKeys("pgup")),
	}
	return vp
}
