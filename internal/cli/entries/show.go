// Package entries holds the commands that read and write diary entries.
package entries

import (
	"context"
	"fmt"
	"strings"

	"github.com/julianstephens/daybook/internal/cli"
	"github.com/julianstephens/daybook/internal/constants"
	"github.com/julianstephens/daybook/internal/models"
	"github.com/julianstephens/daybook/internal/utils"
)

const (
	seedTitle = constants.SeedTitle
	seedText  = constants.SeedText
)

type DayCmd struct {
	Date string `arg:"" optional:"" help:"Date as YYYY-MM-DD or a phrase like 'last friday'." default:"today"`
}

func (c *DayCmd) Run(ctx *cli.Context) error {
	date, err := ctx.ParseDate(c.Date)
	if err != nil {
		return err
	}

	if _, err := ctx.Open(context.Background()); err != nil {
		return err
	}
	defer ctx.Session.Close()

	ctx.Session.Core.SelectDate(date)
	printEntry(ctx, ctx.Session.Core.View().EntryForSelectedDate)
	return nil
}

// TodayCmd prints the today card.
type TodayCmd struct{}

func (c *TodayCmd) Run(ctx *cli.Context) error {
	vm, err := ctx.Open(context.Background())
	if err != nil {
		return err
	}
	defer ctx.Session.Close()

	today := ctx.Today()
	entry, ok := vm.EntryFor(utils.DeriveKey(today))
	if !ok {
		entry = utils.PlaceholderFor(today)
	}
	ctx.Printf("Today, %s\n", utils.FormatDisplay(today))
	ctx.Println(entry.Headline())
	if !entry.Placeholder {
		ctx.Println(entry.Excerpt(constants.ExcerptLength))
	}
	return nil
}

type ListCmd struct {
	Limit int    `short:"n" help:"Show at most this many entries (0 for all)." default:"0"`
	Year  int    `help:"Only entries from this year."`
	Month string `help:"Only entries from this month (YYYY-MM)."`
}

func (c *ListCmd) Run(ctx *cli.Context) error {
	vm, err := ctx.Open(context.Background())
	if err != nil {
		return err
	}
	defer ctx.Session.Close()

	var shown []models.Entry
	for _, e := range vm.OrderedEntries {
		if c.Year != 0 && !strings.HasPrefix(e.DateKey, fmt.Sprintf("%04d-", c.Year)) {
			continue
		}
		if c.Month != "" && !strings.HasPrefix(e.DateKey, c.Month+"-") {
			continue
		}
		shown = append(shown, e)
		if c.Limit > 0 && len(shown) == c.Limit {
			break
		}
	}

	if len(shown) == 0 {
		ctx.Println("No entries yet. Write one with 'daybook write'.")
		return nil
	}
	for _, e := range shown {
		ctx.Println(cli.FormatEntry(e))
	}
	return nil
}

type YearsCmd struct{}

func (c *YearsCmd) Run(ctx *cli.Context) error {
	vm, err := ctx.Open(context.Background())
	if err != nil {
		return err
	}
	defer ctx.Session.Close()

	counts := map[int]int{}
	for key := range vm.DateKeys() {
		var y int
		if _, err := fmt.Sscanf(key, "%04d-", &y); err == nil {
			counts[y]++
		}
	}

	current := ctx.Today().Year()
	for _, y := range utils.YearOptions(current) {
		marker := " "
		if y == current {
			marker = "*"
		}
		ctx.Printf("%s %d  %d day(s) written\n", marker, y, counts[y])
	}
	return nil
}

func printEntry(ctx *cli.Context, e models.Entry) {
	ctx.Println(e.Headline())
	if e.Placeholder {
		return
	}
	ctx.Println(strings.Repeat("-", 40))
	ctx.Println(e.Text)
	ctx.Println()
	ctx.Println(cli.FormatEntry(e))
}
