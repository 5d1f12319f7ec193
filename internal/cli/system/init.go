package system

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/julianstephens/daybook/internal/cli"
	"github.com/julianstephens/daybook/internal/config"
)

type InitCmd struct {
	Force bool `help:"Delete an existing SQLite database before initialization."`
}

func (c *InitCmd) Run(ctx *cli.Context) error {
	cfg := ctx.Config()

	if c.Force {
		if cfg.Kind() != config.StoreSQLite {
			return fmt.Errorf("--force only applies to SQLite storage, not %s", cfg.Kind())
		}
		if err := removeDatabase(ctx, cfg.StorePath()); err != nil {
			return err
		}
	}

	if err := ctx.Session.Store.Init(context.Background()); err != nil {
		return fmt.Errorf("failed to initialize %s storage: %w", cfg.Kind(), err)
	}
	defer ctx.Session.Close()

	ctx.Printf("Initialized daybook storage at: %s\n", ctx.Session.Store.Describe())
	return nil
}

func removeDatabase(ctx *cli.Context, dbPath string) error {
	if _, err := os.Stat(dbPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to access existing database: %w", err)
	}

	// Release any handle before the file goes away.
	if err := ctx.Session.Store.Close(); err != nil {
		return fmt.Errorf("failed to close existing database: %w", err)
	}
	for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete existing database: %w", err)
		}
	}
	ctx.Printf("Deleted existing database at: %s\n", dbPath)
	return nil
}
