package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/julianstephens/daybook/internal/cli"
	"github.com/julianstephens/daybook/internal/cli/backups"
	"github.com/julianstephens/daybook/internal/cli/entries"
	"github.com/julianstephens/daybook/internal/cli/system"
	"github.com/julianstephens/daybook/internal/config"
	"github.com/julianstephens/daybook/internal/constants"
	"github.com/julianstephens/daybook/internal/logger"
	"github.com/julianstephens/daybook/internal/session"
)

var CLI struct {
	Version kong.VersionFlag
	Config  config.Config `embed:""`

	Tui       system.TuiCmd        `cmd:"" help:"Open the calendar." default:"1"`
	Write     entries.WriteCmd     `cmd:"" help:"Write an entry."`
	Today     entries.TodayCmd     `cmd:"" help:"Show today's entry."`
	Day       entries.DayCmd       `cmd:"" help:"Show the entry for a day."`
	List      entries.ListCmd      `cmd:"" help:"List entries, newest first."`
	Years     entries.YearsCmd     `cmd:"" help:"Show how many days were written per year."`
	Delete    entries.DeleteCmd    `cmd:"" help:"Delete an entry."`
	SeedToday entries.SeedTodayCmd `cmd:"" help:"Create a starter entry for today if it has none."`
	Export    entries.ExportCmd    `cmd:"" help:"Export every entry."`

	Init     system.InitCmd     `cmd:"" help:"Initialize daybook storage."`
	Migrate  system.MigrateCmd  `cmd:"" help:"Run database migrations."`
	Backup   backups.BackupCmd  `cmd:"" help:"Back up or restore the SQLite database."`
	Doctor   system.DoctorCmd   `cmd:"" help:"Run health checks and diagnostics."`
	Serve    system.ServeCmd    `cmd:"" help:"Share the store with other local processes."`
	Identity system.IdentityCmd `cmd:"" help:"Show or manage the diary identity."`
	Keyring  system.KeyringCmd  `cmd:"" help:"Manage credentials in the OS keyring."`
	Debug    system.DebugCmd    `cmd:"" help:"Debug commands for troubleshooting."`
}

func main() {
	resolver, err := config.FileResolver(config.FilePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := kong.Parse(&CLI,
		kong.Name(constants.AppName),
		kong.Description("A private diary with a calendar view"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		config.Vars(),
		kong.Vars{"version": constants.Version},
		kong.Resolvers(resolver),
	)

	cfg := CLI.Config
	ctx.FatalIfErrorf(cfg.Validate())

	if err := logger.Init(cfg.Logger()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logger: %v\n", err)
	}
	defer logger.Close()

	s, err := session.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := ctx.Run(cli.NewContext(s)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logger.Close()
		os.Exit(1)
	}
}
