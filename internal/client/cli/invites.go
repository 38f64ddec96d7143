package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/sharekeeper/internal/client/services"
	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
)

// CreateInvite creates an invite for a contact and prints the code to send
// them. The code carries the link key, so it must travel out of band.
func (a *App) CreateInvite(ctx context.Context, s *services.Session, cCtx *cli.Context) error {
	in, err := args(cCtx, "<contact>")
	if err != nil {
		return err
	}
	inv, code, err := a.vault.CreateInvite(ctx, s, in[0])
	if err != nil {
		return err
	}
	a.success("Invite %s created for %s, valid until %s", inv.ID, inv.Contact, inv.ExpiresAt.Local().Format("2006-01-02 15:04"))
	fmt.Fprintf(a.out, "\n  %s\n\n", color.YellowString(code))
	a.hint("Send the code to %s, then share with 'preview <secret-id> invite:%s'", inv.Contact, inv.ID)
	return nil
}

// ListInvites prints the invites this account created.
func (a *App) ListInvites(ctx context.Context, s *services.Session, _ *cli.Context) error {
	invites, err := a.vault.ListInvites(ctx, s)
	if err != nil {
		return err
	}
	t := a.table("ID", "CONTACT", "STATUS", "EXPIRES")
	for _, inv := range invites {
		t.Append([]string{inv.ID, inv.Contact, inv.Status, inv.ExpiresAt.Local().Format("2006-01-02 15:04")})
	}
	t.Render()
	return nil
}

// LookupInvite shows who sent an invite and what it carries.
func (a *App) LookupInvite(ctx context.Context, s *services.Session, cCtx *cli.Context) error {
	in, err := args(cCtx, "<code>")
	if err != nil {
		return err
	}
	p, err := a.vault.LookupInvite(ctx, s, in[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Invite from %s, %d secret(s) waiting\n", p.InviterEmail, len(p.Records))
	for _, r := range p.Records {
		fmt.Fprintf(a.out, "  %s  %s\n", r.SecretID, r.Status)
	}
	a.hint("Run 'invite claim <code>' to accept it")
	return nil
}

// ClaimInvite moves every invite-addressed record to this account.
func (a *App) ClaimInvite(ctx context.Context, s *services.Session, cCtx *cli.Context) error {
	in, err := args(cCtx, "<code>")
	if err != nil {
		return err
	}
	records, err := a.vault.ClaimInvite(ctx, s, in[0])
	if err != nil {
		return err
	}
	a.success("Invite claimed, %d secret(s) shared with you", len(records))
	return nil
}

// ExpireInvite ends an invite before it is claimed.
func (a *App) ExpireInvite(ctx context.Context, s *services.Session, cCtx *cli.Context) error {
	in, err := args(cCtx, "<invite-id>")
	if err != nil {
		return err
	}
	if err := a.vault.ExpireInvite(ctx, s, in[0]); err != nil {
		return err
	}
	a.success("Invite %s expired", in[0])
	return nil
}

func (a *App) inviteCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "invite",
			Usage: "share with people who have no account yet",
			Subcommands: []*cli.Command{
				{Name: "create", Usage: "invite a contact", ArgsUsage: "<contact>", Action: a.withSession(a.CreateInvite)},
				{Name: "list", Usage: "list your invites", Action: a.withSession(a.ListInvites)},
				{Name: "lookup", Usage: "inspect a received invite", ArgsUsage: "<code>", Action: a.withSession(a.LookupInvite)},
				{Name: "claim", Usage: "accept a received invite", ArgsUsage: "<code>", Action: a.withSession(a.ClaimInvite)},
				{Name: "expire", Usage: "cancel an invite", ArgsUsage: "<invite-id>", Action: a.withSession(a.ExpireInvite)},
			},
		},
	}
}
