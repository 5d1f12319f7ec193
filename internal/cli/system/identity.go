package system

import (
	"context"
	"fmt"
	"time"

	"github.com/julianstephens/daybook/internal/cli"
	"github.com/julianstephens/daybook/internal/identity"
	"github.com/julianstephens/daybook/internal/storage"
)

type IdentityCmd struct {
	Show  IdentityShowCmd  `cmd:"" default:"1" help:"Show the identity whose diary is opened."`
	Reset IdentityResetCmd `cmd:"" help:"Forget the stored anonymous identity."`
	Token IdentityTokenCmd `cmd:"" help:"Issue a bootstrap token for an identity."`
}

type IdentityShowCmd struct{}

func (c *IdentityShowCmd) Run(ctx *cli.Context) error {
	who, err := ctx.Session.Identity.Resolve(context.Background())
	if err != nil {
		return err
	}

	switch {
	case who.Anonymous:
		ctx.Printf("Anonymous identity: %s\n", who.ID)
	case who.Token != "":
		ctx.Printf("Token identity: %s\n", who.ID)
	default:
		ctx.Printf("Fixed identity: %s\n", who.ID)
	}
	ctx.Printf("Collection: %s\n", storage.Scope{Namespace: ctx.Config().Namespace, Identity: who.ID}.Path())
	return nil
}

type IdentityResetCmd struct{}

func (c *IdentityResetCmd) Run(ctx *cli.Context) error {
	if err := identity.Reset(); err != nil {
		return fmt.Errorf("failed to reset identity: %w", err)
	}
	ctx.Println("✓ Anonymous identity forgotten")
	ctx.Println("  A new one is minted on the next run. Entries written under the old one stay in the store.")
	return nil
}

type IdentityTokenCmd struct {
	Subject string        `arg:"" optional:"" help:"Identity to issue for. Defaults to the current identity."`
	TTL     time.Duration `help:"Token lifetime, 0 for no expiry." default:"720h"`
}

func (c *IdentityTokenCmd) Run(ctx *cli.Context) error {
	key := ctx.Session.SigningKey()
	if len(key) == 0 {
		return fmt.Errorf("issuing tokens needs --signing-key or DAYBOOK_SIGNING_KEY")
	}

	subject := c.Subject
	if subject == "" {
		who, err := ctx.Session.Identity.Resolve(context.Background())
		if err != nil {
			return err
		}
		subject = who.ID
	}

	raw, err := identity.Issue(key, subject, c.TTL)
	if err != nil {
		return err
	}
	ctx.Println(raw)
	return nil
}
