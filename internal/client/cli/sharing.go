package cli

import (
	"context"

	"github.com/dmitrijs2005/sharekeeper/internal/api"
	"github.com/dmitrijs2005/sharekeeper/internal/client/services"
	"github.com/urfave/cli/v2"
)

// Access prints the access records of a secret.
func (a *App) Access(ctx context.Context, s *services.Session, cCtx *cli.Context) error {
	in, err := args(cCtx, "<secret-id>")
	if err != nil {
		return err
	}
	records, err := a.vault.Access(ctx, s, in[0])
	if err != nil {
		return err
	}
	conns, err := a.vault.Connections(ctx, s)
	if err != nil {
		return err
	}
	emails := make(map[string]string, len(conns)+1)
	emails[s.AccountID] = s.Email
	for _, c := range conns {
		emails[c.AccountID] = c.Email
	}

	t := a.table("RECIPIENT", "STATUS", "UPDATED")
	for _, r := range records {
		who := "invite:" + r.Recipient.ID
		if r.Recipient.Kind == api.RecipientAccount {
			who = r.Recipient.ID
			if e, ok := emails[who]; ok {
				who = e
			}
		}
		t.Append([]string{who, r.Status, r.UpdatedAt.Local().Format("2006-01-02 15:04")})
	}
	t.Render()
	return nil
}

// Connections prints the accounts this account can share with directly.
func (a *App) Connections(ctx context.Context, s *services.Session, _ *cli.Context) error {
	conns, err := a.vault.Connections(ctx, s)
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		a.hint("No connections yet, run 'invite create <contact>' to invite someone")
		return nil
	}
	t := a.table("EMAIL", "ACCOUNT")
	for _, c := range conns {
		t.Append([]string{c.Email, c.AccountID})
	}
	t.Render()
	return nil
}

type ownerFunc func(v services.VaultService, ctx context.Context, s *services.Session, id, target string) (*api.AccessRecord, error)

// owner adapts a manager action on (secret, recipient).
func (a *App) owner(fn ownerFunc) cli.ActionFunc {
	return a.withSession(func(ctx context.Context, s *services.Session, cCtx *cli.Context) error {
		in, err := args(cCtx, "<secret-id>", "<recipient>")
		if err != nil {
			return err
		}
		rec, err := fn(a.vault, ctx, s, in[0], in[1])
		if err != nil {
			return err
		}
		a.success("%s is now %s", in[1], rec.Status)
		return nil
	})
}

type selfFunc func(v services.VaultService, ctx context.Context, s *services.Session, id string) (*api.AccessRecord, error)

// self adapts a recipient action on the caller's own record.
func (a *App) self(fn selfFunc) cli.ActionFunc {
	return a.withSession(func(ctx context.Context, s *services.Session, cCtx *cli.Context) error {
		in, err := args(cCtx, "<secret-id>")
		if err != nil {
			return err
		}
		rec, err := fn(a.vault, ctx, s, in[0])
		if err != nil {
			return err
		}
		a.success("Access to %s is now %s", in[0], rec.Status)
		return nil
	})
}

// Revoke removes a recipient's record in any state.
func (a *App) Revoke(ctx context.Context, s *services.Session, cCtx *cli.Context) error {
	in, err := args(cCtx, "<secret-id>", "<recipient>")
	if err != nil {
		return err
	}
	if err := a.vault.Revoke(ctx, s, in[0], in[1]); err != nil {
		return err
	}
	a.success("Access of %s revoked", in[1])
	return nil
}

// Leave drops the caller's access to a shared secret.
func (a *App) Leave(ctx context.Context, s *services.Session, cCtx *cli.Context) error {
	in, err := args(cCtx, "<secret-id>")
	if err != nil {
		return err
	}
	if err := a.vault.Leave(ctx, s, in[0]); err != nil {
		return err
	}
	a.success("You left %s", in[0])
	return nil
}

func (a *App) sharingCommands() []*cli.Command {
	const recipient = "<secret-id> <email|account-id|invite:<id>>"
	return []*cli.Command{
		{Name: "access", Usage: "show who can see a secret", ArgsUsage: "<secret-id>", Action: a.withSession(a.Access)},
		{Name: "connections", Usage: "list accounts you can share with", Action: a.withSession(a.Connections)},

		{Name: "preview", Usage: "let a recipient see the preview", ArgsUsage: recipient, Action: a.owner(services.VaultService.Preview)},
		{Name: "offer", Usage: "offer the credentials to a recipient", ArgsUsage: recipient, Action: a.owner(services.VaultService.Offer)},
		{Name: "approve", Usage: "grant a pending request", ArgsUsage: recipient, Action: a.owner(services.VaultService.Approve)},
		{Name: "deny", Usage: "decline a pending request", ArgsUsage: recipient, Action: a.owner(services.VaultService.Deny)},
		{Name: "retract", Usage: "withdraw a pending offer", ArgsUsage: recipient, Action: a.owner(services.VaultService.Retract)},
		{Name: "reset", Usage: "return a rejected or denied recipient to preview", ArgsUsage: recipient, Action: a.owner(services.VaultService.Reset)},
		{Name: "revoke", Usage: "remove a recipient", ArgsUsage: recipient, Action: a.withSession(a.Revoke)},

		{Name: "accept", Usage: "accept an offer", ArgsUsage: "<secret-id>", Action: a.self(services.VaultService.Accept)},
		{Name: "reject", Usage: "reject an offer", ArgsUsage: "<secret-id>", Action: a.self(services.VaultService.Reject)},
		{Name: "request", Usage: "ask for the credentials of a previewed secret", ArgsUsage: "<secret-id>", Action: a.self(services.VaultService.Request)},
		{Name: "leave", Usage: "give up access to a shared secret", ArgsUsage: "<secret-id>", Action: a.withSession(a.Leave)},
	}
}
