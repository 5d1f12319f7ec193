package tui

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/julianstephens/daybook/internal/utils"
)

type ComposeFormModel struct {
	Date  time.Time
	Title string
	Text  string
}

type PickFormModel struct {
	Year  int
	Month time.Month
}

// NewComposeForm creates the form for writing an entry on fm.Date
func NewComposeForm(fm *ComposeFormModel) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("New entry").
				Description(utils.FormatDisplay(fm.Date)),
			huh.NewInput().
				Title("Title").
				Description("Optional. The first line of the entry is used otherwise.").
				Value(&fm.Title),
			huh.NewText().
				Title("Entry").
				Value(&fm.Text).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("an entry needs some text")
					}
					return nil
				}),
		),
	).WithTheme(huh.ThemeDracula())
}

// NewYearForm offers the years around fm.Year
func NewYearForm(fm *PickFormModel) *huh.Form {
	years := utils.YearOptions(fm.Year)
	options := make([]huh.Option[int], 0, len(years))
	for _, y := range years {
		options = append(options, huh.NewOption(strconv.Itoa(y), y))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title("Year").
				Options(options...).
				Value(&fm.Year),
		),
	).WithTheme(huh.ThemeDracula())
}

func NewMonthForm(fm *PickFormModel) *huh.Form {
	months := utils.MonthOptions()
	options := make([]huh.Option[time.Month], 0, len(months))
	for _, m := range months {
		options = append(options, huh.NewOption(m.String(), m))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[time.Month]().
				Title("Month").
				Options(options...).
				Value(&fm.Month),
		),
	).WithTheme(huh.ThemeDracula())
}
