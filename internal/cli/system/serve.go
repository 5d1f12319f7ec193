package system

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/julianstephens/daybook/internal/cli"
	"github.com/julianstephens/daybook/internal/config"
	"github.com/julianstephens/daybook/internal/lockfile"
	"github.com/julianstephens/daybook/internal/logger"
	"github.com/julianstephens/daybook/internal/server"
)

// ServeCmd shares the configured store with other processes over HTTP and
// websockets until interrupted.
type ServeCmd struct {
	Addr string `help:"Listen address." default:"127.0.0.1:7317"`
}

func (c *ServeCmd) Run(ctx *cli.Context) error {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.serve(runCtx, ctx, nil)
}

// serve blocks until runCtx is done. ready, when set, is called once the
// server is listening and the lockfile is written.
func (c *ServeCmd) serve(runCtx context.Context, ctx *cli.Context, ready func(*server.Server)) error {
	cfg := ctx.Config()
	if cfg.Kind() == config.StoreRemote {
		return fmt.Errorf("serve needs a local store, %q is already a server", cfg.Store)
	}
	defer ctx.Session.Close()

	if err := ctx.Session.Load(runCtx); err != nil {
		return err
	}

	secret := cfg.Secret
	if secret == "" {
		var err error
		if secret, err = lockfile.NewSecret(); err != nil {
			return err
		}
	}

	srv, err := server.New(server.Config{
		Addr:       c.Addr,
		Secret:     secret,
		SigningKey: ctx.Session.SigningKey(),
		Store:      ctx.Session.Store,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	path, err := lockfile.Write(srv.Port(), secret)
	if err != nil {
		_ = srv.Stop()
		return fmt.Errorf("failed to write lockfile: %w", err)
	}
	defer func() {
		if err := lockfile.Remove(path); err != nil {
			logger.Warn("Failed to remove lockfile", "path", path, "error", err)
		}
	}()

	ctx.Printf("✓ Serving %s on %s\n", ctx.Session.Store.Describe(), srv.Addr())
	ctx.Println("  Connect from this machine with: daybook --store local")
	if ready != nil {
		ready(srv)
	}

	<-runCtx.Done()
	ctx.Println("Shutting down...")
	return srv.Stop()
}
