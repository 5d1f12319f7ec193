package entries

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/julianstephens/daybook/internal/cli"
	"github.com/julianstephens/daybook/internal/diary"
	"github.com/julianstephens/daybook/internal/utils"
)

// stdin is swapped in tests.
var stdin io.Reader = os.Stdin

type WriteCmd struct {
	Text  string `arg:"" optional:"" help:"Entry text. Read from stdin when omitted or '-'."`
	Title string `short:"t" help:"Optional title."`
	Date  string `short:"d" help:"Date as YYYY-MM-DD or a phrase like 'yesterday'." default:"today"`
}

func (c *WriteCmd) Run(ctx *cli.Context) error {
	text := c.Text
	if text == "" || text == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("failed to read entry from stdin: %w", err)
		}
		text = string(data)
	}
	text = strings.TrimRight(text, "\n")

	date, err := ctx.ParseDate(c.Date)
	if err != nil {
		return err
	}

	bg := context.Background()
	if _, err := ctx.Open(bg); err != nil {
		return err
	}
	defer ctx.Session.Close()

	var opts []diary.EntryOption
	if c.Title != "" {
		opts = append(opts, diary.WithTitle(c.Title))
	}
	id, err := ctx.Session.Core.Create(bg, text, date, opts...)
	if err != nil {
		return err
	}

	ctx.Printf("✓ Saved entry for %s (%s)\n", utils.FormatDisplay(date), id)
	return nil
}

type SeedTodayCmd struct{}

func (c *SeedTodayCmd) Run(ctx *cli.Context) error {
	bg := context.Background()
	vm, err := ctx.Open(bg)
	if err != nil {
		return err
	}
	defer ctx.Session.Close()

	today := ctx.Today()
	if e, ok := vm.EntryFor(utils.DeriveKey(today)); ok {
		ctx.Printf("Today already has an entry: %s\n", e.Headline())
		return nil
	}

	id, err := ctx.Session.Core.Create(bg, seedText, today, diary.WithTitle(seedTitle))
	if err != nil {
		return err
	}
	ctx.Printf("✓ Seeded today's entry (%s)\n", id)
	return nil
}
