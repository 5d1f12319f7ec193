package system

import (
	"fmt"

	"github.com/julianstephens/daybook/internal/cli"
)

// versioned is implemented by the SQL-backed stores.
type versioned interface {
	Migrate(logFn func(string)) (int, error)
	SchemaVersion() (current, latest int, err error)
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(ctx *cli.Context) error {
	store, ok := ctx.Session.Store.(versioned)
	if !ok {
		return fmt.Errorf("migrate command only supports SQLite and PostgreSQL storage, not %s", ctx.Config().Kind())
	}
	defer ctx.Session.Close()

	count, err := store.Migrate(func(msg string) {
		ctx.Println(msg)
	})
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if count == 0 {
		ctx.Println("No migrations to apply. Database is up to date.")
	} else {
		ctx.Printf("\nSuccessfully applied %d migration(s).\n", count)
	}
	return nil
}
