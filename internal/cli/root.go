package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/julianstephens/daybook/internal/config"
	"github.com/julianstephens/daybook/internal/constants"
	"github.com/julianstephens/daybook/internal/diary"
	"github.com/julianstephens/daybook/internal/models"
	"github.com/julianstephens/daybook/internal/session"
	"github.com/julianstephens/daybook/internal/utils"
)

// readyTimeout bounds how long one-shot commands wait for the first snapshot.
const readyTimeout = 15 * time.Second

type Context struct {
	Session *session.Session
	Out     io.Writer
	Now     func() time.Time
}

func NewContext(s *session.Session) *Context {
	return &Context{Session: s, Out: os.Stdout, Now: time.Now}
}

func (c *Context) Config() *config.Config {
	return &c.Session.Config
}

func (c *Context) Printf(format string, args ...interface{}) {
	fmt.Fprintf(c.Out, format, args...)
}

func (c *Context) Println(args ...interface{}) {
	fmt.Fprintln(c.Out, args...)
}

// Open starts the session and waits for the first snapshot.
func (c *Context) Open(ctx context.Context) (diary.ViewModel, error) {
	if err := c.Session.Start(ctx); err != nil {
		return diary.ViewModel{}, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	return c.Session.Core.Ready(waitCtx)
}

// Today is midnight today in the configured timezone.
func (c *Context) Today() time.Time {
	return utils.StartOfDay(c.Now().In(c.Session.Core.Location()))
}

// ParseDate accepts a YYYY-MM-DD key or a natural phrase such as
// "yesterday" or "last friday". Empty means today.
func (c *Context) ParseDate(input string) (time.Time, error) {
	if strings.EqualFold(strings.TrimSpace(input), "today") {
		return c.Today(), nil
	}
	return utils.ParseNaturalDate(input, c.Now().In(c.Session.Core.Location()))
}

// FormatEntry renders one entry as a list line.
func FormatEntry(e models.Entry) string {
	when := "saving..."
	if e.CreatedAt != nil {
		when = e.CreatedAt.Local().Format("2006-01-02 15:04")
	}
	key, err := time.Parse(constants.DateFormat, e.DateKey)
	label := e.DateKey
	if err == nil {
		label = utils.FormatDisplay(key)
	}
	return fmt.Sprintf("%s  %-24s  %s  (%s)", label, truncate(e.Headline(), 24), shortID(e.ID), when)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
