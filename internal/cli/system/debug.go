package system

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/julianstephens/daybook/internal/cli"
	"github.com/julianstephens/daybook/internal/config"
	"github.com/julianstephens/daybook/internal/models"
	"github.com/julianstephens/daybook/internal/utils"
)

type DebugCmd struct {
	Store     DebugStoreCmd     `cmd:"" help:"Show the resolved store."`
	Config    DebugConfigCmd    `cmd:"" help:"Dump the effective configuration as JSON."`
	DumpEntry DebugDumpEntryCmd `cmd:"" help:"Dump one entry as JSON."`
	DumpDay   DebugDumpDayCmd   `cmd:"" help:"Dump every stored entry for a day as JSON, duplicates included."`
}

func printJSON(ctx *cli.Context, v interface{}) error {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	ctx.Println(string(jsonBytes))
	return nil
}

type DebugStoreCmd struct{}

func (cmd *DebugStoreCmd) Run(ctx *cli.Context) error {
	cfg := ctx.Config()
	output := map[string]string{
		"kind":     cfg.Kind().String(),
		"describe": ctx.Session.Store.Describe(),
	}
	if cfg.Kind() == config.StoreSQLite {
		output["path"] = cfg.StorePath()
	}
	return printJSON(ctx, output)
}

type DebugConfigCmd struct{}

func (cmd *DebugConfigCmd) Run(ctx *cli.Context) error {
	cfg := *ctx.Config()
	for _, secret := range []*string{&cfg.Credential, &cfg.SigningKey, &cfg.Secret} {
		if *secret != "" {
			*secret = "****"
		}
	}
	if cfg.Kind() == config.StorePostgres {
		cfg.Store = maskPassword(cfg.Store)
	}
	return printJSON(ctx, cfg)
}

type DebugDumpEntryCmd struct {
	ID string `arg:"" help:"ID of the entry to dump."`
}

func (cmd *DebugDumpEntryCmd) Run(ctx *cli.Context) error {
	vm, err := ctx.Open(context.Background())
	if err != nil {
		return err
	}
	defer ctx.Session.Close()

	for _, e := range vm.OrderedEntries {
		if e.ID == cmd.ID {
			return printJSON(ctx, e)
		}
	}
	return fmt.Errorf("entry not found: %s", cmd.ID)
}

type DebugDumpDayCmd struct {
	Date string `arg:"" help:"Day to dump (YYYY-MM-DD or 'today')."`
}

func (cmd *DebugDumpDayCmd) Run(ctx *cli.Context) error {
	date, err := ctx.ParseDate(cmd.Date)
	if err != nil {
		return err
	}

	vm, err := ctx.Open(context.Background())
	if err != nil {
		return err
	}
	defer ctx.Session.Close()

	key := utils.DeriveKey(date)
	day := []models.Entry{}
	for _, e := range vm.OrderedEntries {
		if e.DateKey == key {
			day = append(day, e)
		}
	}
	return printJSON(ctx, day)
}
