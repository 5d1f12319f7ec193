package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/julianstephens/daybook/internal/constants"
	"github.com/julianstephens/daybook/internal/diary"
	"github.com/julianstephens/daybook/internal/models"
	"github.com/julianstephens/daybook/internal/utils"
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.state {
	case constants.StateCompose, constants.StatePickYear, constants.StatePickMonth:
		content = docStyle.Render(m.form.View())
	case constants.StateConfirmDelete:
		content = m.viewConfirmDelete()
	case constants.StateEntries:
		content = docStyle.Render(m.entries.View())
	default:
		content = m.viewCalendar()
	}

	parts := []string{m.viewHeader()}
	if banner := m.viewBanner(); banner != "" {
		parts = append(parts, banner)
	}
	if notice := m.viewNotice(); notice != "" {
		parts = append(parts, notice)
	}
	parts = append(parts, content, m.help.View(m))

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) viewHeader() string {
	var tabs []string
	for i, title := range []string{"Calendar", "Entries"} {
		state := constants.SessionState(i)
		if m.state == state || (state == constants.StateCalendar && m.state != constants.StateEntries) {
			tabs = append(tabs, activeTabStyle.Render(title))
		} else {
			tabs = append(tabs, inactiveTabStyle.Render(title))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, append(tabs, "  ", m.viewStatus())...)
}

func (m Model) viewStatus() string {
	switch {
	case m.failure() != nil:
		return dangerStyle.Render("✗ offline")
	case m.vm.Status == diary.StatusReady:
		return liveStyle.Render("● live")
	default:
		return m.spinner.View() + warningStyle.Render(" opening diary...")
	}
}

func (m Model) viewBanner() string {
	err := m.failure()
	if err == nil {
		return ""
	}
	return dangerStyle.Render(fmt.Sprintf("Could not open your diary: %v", err)) +
		mutedStyle.Render("  [r] retry")
}

func (m Model) viewNotice() string {
	if m.vm.Notice == nil {
		return ""
	}
	return warningStyle.Render(fmt.Sprintf("! %v", m.vm.Notice)) + mutedStyle.Render("  [esc] dismiss")
}

func (m Model) viewCalendar() string {
	cal := panelStyle.Width(calendarWidth).Render(m.calendar.View())

	selected := m.calendar.Selected()
	day := panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		headlineStyle.Render(utils.FormatDisplay(selected)),
		m.day.View(),
	))

	top := lipgloss.JoinHorizontal(lipgloss.Top, cal, " ", day)
	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left, top, m.viewToday()))
}

// viewToday is the card for today's entry, whatever date is selected.
func (m Model) viewToday() string {
	today := m.now()
	entry, ok := m.vm.EntryFor(utils.DeriveKey(today))
	if !ok {
		entry = utils.PlaceholderFor(today)
	}

	lines := []string{
		mutedStyle.Render("Today, " + utils.FormatDisplay(today)),
		headlineStyle.Render(entry.Headline()),
	}
	if excerpt := entry.Excerpt(constants.ExcerptLength); excerpt != "" {
		lines = append(lines, excerpt)
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) viewConfirmDelete() string {
	label := m.entryToDelete
	for _, e := range m.vm.OrderedEntries {
		if e.ID == m.entryToDelete {
			label = fmt.Sprintf("%s (%s)", e.Headline(), e.DateKey)
			break
		}
	}

	return lipgloss.Place(m.width, m.height-4,
		lipgloss.Center, lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Center,
			dangerStyle.Render("Are you sure you want to delete this entry?"),
			label,
			"",
			"[y] Yes",
			"[n] No",
		),
	)
}

// renderDay formats the entry shown for the selected date.
func renderDay(e models.Entry) string {
	if e.Placeholder {
		return mutedStyle.Render(e.Headline()) + "\n\n" + "Nothing written yet. Press w to write."
	}

	var b strings.Builder
	b.WriteString(headlineStyle.Render(e.Headline()))
	if e.Pending() {
		b.WriteString(warningStyle.Render("  saving…"))
	}
	b.WriteString("\n\n")
	b.WriteString(e.Text)
	return b.String()
}
