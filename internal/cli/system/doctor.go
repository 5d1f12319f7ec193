package system

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/julianstephens/daybook/internal/cli"
	"github.com/julianstephens/daybook/internal/keyring"
	"github.com/julianstephens/daybook/internal/lockfile"
)

// nowFunc is swapped in tests.
var nowFunc = time.Now

type DoctorCmd struct{}

func (cmd *DoctorCmd) Run(ctx *cli.Context) error {
	ctx.Println("Running diagnostics...")
	ctx.Println()
	defer ctx.Session.Close()

	bg := context.Background()
	hasError := false

	fail := func(name string, err error) {
		ctx.Printf("❌ %s: FAIL\n", name)
		ctx.Printf("   Error: %v\n", err)
		hasError = true
	}
	skip := func(name, why string) {
		ctx.Printf("⊘ %s: SKIPPED (%s)\n", name, why)
	}

	// Check 1: store reachable
	storeReachable := false
	if err := ctx.Session.Load(bg); err != nil {
		fail("Store reachable", err)
	} else {
		ctx.Printf("✓ Store reachable: OK (%s)\n", ctx.Session.Store.Describe())
		storeReachable = true
	}

	// Checks 2 and 3: schema version and migrations
	store, versionedStore := ctx.Session.Store.(versioned)
	switch {
	case !storeReachable:
		skip("Schema version", "store not reachable")
		skip("Migrations complete", "store not reachable")
	case !versionedStore:
		skip("Schema version", ctx.Config().Kind().String()+" has no schema")
		skip("Migrations complete", ctx.Config().Kind().String()+" has no schema")
	default:
		current, latest, err := store.SchemaVersion()
		if err != nil {
			fail("Schema version", err)
			skip("Migrations complete", "schema version unknown")
			break
		}
		if err := checkSchemaVersion(current, latest); err != nil {
			fail("Schema version", err)
		} else {
			ctx.Printf("✓ Schema version: OK (%d)\n", current)
		}
		if err := checkMigrationsComplete(current, latest); err != nil {
			fail("Migrations complete", err)
		} else {
			ctx.Printf("✓ Migrations complete: OK\n")
		}
	}

	// Check 4: clock and timezone
	if err := checkClockTimezone(ctx); err != nil {
		fail("Clock/timezone", err)
	} else {
		ctx.Printf("✓ Clock/timezone: OK (%s)\n", ctx.Config().Timezone)
	}

	// Check 5: keyring (warning only, anonymous identities fall back to ephemeral ones)
	if keyring.IsAvailable() {
		ctx.Printf("✓ OS keyring: OK\n")
	} else {
		ctx.Printf("⚠ OS keyring: WARNING\n")
		ctx.Printf("   keyring unavailable, anonymous identities will not persist\n")
	}

	// Check 6: identity and diary subscription
	if storeReachable {
		if err := checkDiary(bg, ctx); err != nil {
			fail("Diary subscription", err)
		}
	} else {
		skip("Diary subscription", "store not reachable")
	}

	// Check 7: local server (informational)
	if info, err := lockfile.Find(); err == nil {
		ctx.Printf("✓ Local server: running (port %d, pid %d)\n", info.Port, info.PID)
	} else if errors.Is(err, lockfile.ErrNotRunning) {
		ctx.Printf("ℹ Local server: not running\n")
	} else {
		ctx.Printf("⚠ Local server: WARNING\n")
		ctx.Printf("   %v\n", err)
	}

	ctx.Println()
	if hasError {
		ctx.Println("Diagnostics completed with errors.")
		return fmt.Errorf("one or more health checks failed")
	}

	ctx.Println("All diagnostics passed!")
	return nil
}

func checkSchemaVersion(current, latest int) error {
	if current > latest {
		return fmt.Errorf("database schema version (%d) is newer than supported version (%d)", current, latest)
	}
	return nil
}

func checkMigrationsComplete(current, latest int) error {
	if current < latest {
		return fmt.Errorf("migrations incomplete: current version %d, latest version %d (run 'daybook migrate')", current, latest)
	}
	return nil
}

func checkClockTimezone(ctx *cli.Context) error {
	now := nowFunc()
	if now.Year() < 2020 || now.Year() > 2100 {
		return fmt.Errorf("system time appears incorrect: %s", now.Format(time.RFC3339))
	}
	if _, err := ctx.Config().Location(); err != nil {
		return err
	}
	return nil
}

func checkDiary(bg context.Context, ctx *cli.Context) error {
	if err := ctx.Session.Open(bg); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()

	vm, err := ctx.Session.Core.Ready(waitCtx)
	if err != nil {
		return err
	}
	who := ctx.Session.Who()
	kind := "fixed"
	switch {
	case who.Anonymous:
		kind = "anonymous"
	case who.Token != "":
		kind = "token"
	}
	ctx.Printf("✓ Diary subscription: OK (%s identity, %d entries)\n", kind, len(vm.OrderedEntries))
	return nil
}
