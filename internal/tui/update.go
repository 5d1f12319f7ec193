package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/julianstephens/daybook/internal/constants"
	"github.com/julianstephens/daybook/internal/diary"
	"github.com/julianstephens/daybook/internal/logger"
	"github.com/julianstephens/daybook/internal/session"
	"github.com/julianstephens/daybook/internal/tui/components/calendar"
	"github.com/julianstephens/daybook/internal/tui/components/entrylist"
	"github.com/julianstephens/daybook/internal/utils"
)

const openTimeout = 30 * time.Second

type openedMsg struct {
	err error
}

type viewMsg struct {
	vm diary.ViewModel
}

type mutationMsg struct {
	op  string
	err error
}

func openCmd(s *session.Session) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
		defer cancel()
		return openedMsg{err: s.Start(ctx)}
	}
}

// waitForView blocks on the next published view. It is re-armed after every
// view so the model always renders the newest one.
func waitForView(views <-chan diary.ViewModel) tea.Cmd {
	return func() tea.Msg {
		vm, ok := <-views
		if !ok {
			return nil
		}
		return viewMsg{vm: vm}
	}
}

func createCmd(core *diary.Core, fm ComposeFormModel) tea.Cmd {
	return func() tea.Msg {
		_, err := core.Create(context.Background(), fm.Text, fm.Date, diary.WithTitle(strings.TrimSpace(fm.Title)))
		return mutationMsg{op: "create", err: err}
	}
}

func deleteCmd(core *diary.Core, id string) tea.Cmd {
	return func() tea.Msg {
		return mutationMsg{op: "delete", err: core.Delete(context.Background(), id)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case viewMsg:
		m.apply(msg.vm)
		return m, waitForView(m.views)

	case openedMsg:
		m.opening = false
		m.openErr = msg.err
		if msg.err != nil {
			logger.Warn("Failed to open diary", "error", msg.err)
		}
		return m, nil

	case mutationMsg:
		// The core already published the failure as a notice
		if msg.err != nil {
			logger.Debug("Diary mutation failed", "op", msg.op, "error", msg.err)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case calendar.SelectDateMsg:
		m.session.Core.SelectDate(msg.Date)
		return m, nil

	case entrylist.OpenEntryMsg:
		if t, err := utils.ParseKey(msg.DateKey, m.session.Core.Location()); err == nil {
			m.calendar.SetSelected(t)
			m.session.Core.SelectDate(t)
			m.state = constants.StateCalendar
		}
		return m, nil

	case entrylist.DeleteEntryMsg:
		m.entryToDelete = msg.ID
		m.previousState = m.state
		m.state = constants.StateConfirmDelete
		return m, nil
	}

	switch m.state {
	case constants.StateCompose, constants.StatePickYear, constants.StatePickMonth:
		return m.updateForm(msg)
	case constants.StateConfirmDelete:
		return m.updateConfirmDelete(msg)
	}

	if keyMsg, ok := msg.(tea.KeyMsg); ok && !m.entries.Filtering() {
		if handled, cmd := m.handleGlobalKeys(keyMsg); handled {
			return m, cmd
		}
	}

	switch m.state {
	case constants.StateEntries:
		var cmd tea.Cmd
		m.entries, cmd = m.entries.Update(msg)
		return m, cmd
	default:
		return m.updateCalendar(msg)
	}
}

func (m *Model) handleGlobalKeys(msg tea.KeyMsg) (bool, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		m.stopWatch()
		return true, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return true, nil
	case key.Matches(msg, m.keys.Tab):
		if m.state == constants.StateEntries {
			m.state = constants.StateCalendar
		} else {
			m.state = constants.StateEntries
		}
		return true, nil
	case key.Matches(msg, m.keys.Dismiss):
		if m.vm.Notice == nil {
			return false, nil
		}
		m.session.Core.DismissNotice()
		return true, nil
	case key.Matches(msg, m.keys.Retry):
		if m.failure() == nil || m.opening {
			return false, nil
		}
		m.opening = true
		m.openErr = nil
		return true, tea.Batch(m.spinner.Tick, openCmd(m.session))
	}
	return false, nil
}

func (m Model) updateCalendar(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		selected := m.calendar.Selected()
		switch {
		case key.Matches(keyMsg, m.keys.Write):
			if m.vm.Status != diary.StatusReady {
				return m, nil
			}
			m.composeForm = &ComposeFormModel{Date: selected}
			m.form = NewComposeForm(m.composeForm)
			return m.openForm(constants.StateCompose)
		case key.Matches(keyMsg, m.keys.PickYear):
			m.pickForm = &PickFormModel{Year: selected.Year(), Month: selected.Month()}
			m.form = NewYearForm(m.pickForm)
			return m.openForm(constants.StatePickYear)
		case key.Matches(keyMsg, m.keys.PickMonth):
			m.pickForm = &PickFormModel{Year: selected.Year(), Month: selected.Month()}
			m.form = NewMonthForm(m.pickForm)
			return m.openForm(constants.StatePickMonth)
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.calendar, cmd = m.calendar.Update(msg)
	cmds = append(cmds, cmd)
	m.day, cmd = m.day.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) openForm(state constants.SessionState) (tea.Model, tea.Cmd) {
	m.previousState = m.state
	m.state = state
	if m.width > 0 {
		m.form = m.form.WithWidth(m.width - 4)
	}
	return m, m.form.Init()
}

func (m *Model) closeForm() {
	m.state = m.previousState
	m.form = nil
	m.composeForm = nil
	m.pickForm = nil
}

func (m Model) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && msg.Type == tea.KeyEsc {
		m.closeForm()
		return m, nil
	}

	var cmds []tea.Cmd
	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}
	cmds = append(cmds, cmd)

	switch m.form.State {
	case huh.StateCompleted:
		cmds = append(cmds, m.submitForm())
		m.closeForm()
	case huh.StateAborted:
		m.closeForm()
	}
	return m, tea.Batch(cmds...)
}

// submitForm applies a completed form. Picking a year or month keeps the
// selected day, clamped to the new month.
func (m *Model) submitForm() tea.Cmd {
	selected := m.calendar.Selected()
	switch m.state {
	case constants.StateCompose:
		return createCmd(m.session.Core, *m.composeForm)
	case constants.StatePickYear:
		m.selectDate(utils.WithYear(selected, m.pickForm.Year))
	case constants.StatePickMonth:
		m.selectDate(utils.WithMonth(selected, m.pickForm.Month))
	}
	return nil
}

func (m *Model) selectDate(t time.Time) {
	m.calendar.SetSelected(t)
	m.session.Core.SelectDate(t)
}

func (m Model) updateConfirmDelete(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(keyMsg, m.keys.Confirm):
		id := m.entryToDelete
		m.entryToDelete = ""
		m.state = m.previousState
		return m, deleteCmd(m.session.Core, id)
	case key.Matches(keyMsg, m.keys.Cancel):
		m.entryToDelete = ""
		m.state = m.previousState
	}
	return m, nil
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width

	h, v := docStyle.GetFrameSize()
	// Adjust height for header, notice and help
	bodyHeight := height - 6
	m.entries.SetSize(width-h, bodyHeight-v)
	m.day.Width = max(width-h-calendarWidth-2, 20)
	m.day.Height = max(bodyHeight-v-todayCardHeight, 3)
}
