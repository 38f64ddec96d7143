package cli

import (
	"context"

	"github.com/dmitrijs2005/sharekeeper/internal/client/services"
	"github.com/dmitrijs2005/sharekeeper/internal/filex"
	"github.com/urfave/cli/v2"
)

const flagDir = "dir"

// Attach encrypts a local file and uploads it as the secret's attachment,
// replacing any previous one.
func (a *App) Attach(ctx context.Context, s *services.Session, cCtx *cli.Context) error {
	in, err := args(cCtx, "<secret-id>", "<path>")
	if err != nil {
		return err
	}
	if err := a.vault.Attach(ctx, s, in[0], in[1]); err != nil {
		return err
	}
	a.success("%s attached to %s", in[1], in[0])
	return nil
}

// Download decrypts the attachment of a secret into --dir, by default
// ./download.
func (a *App) Download(ctx context.Context, s *services.Session, cCtx *cli.Context) error {
	in, err := args(cCtx, "<secret-id>")
	if err != nil {
		return err
	}
	dir := cCtx.String(flagDir)
	if dir == "" {
		if dir, err = filex.EnsureSubdDir("download"); err != nil {
			return err
		}
	}
	path, err := a.vault.Download(ctx, s, in[0], dir)
	if err != nil {
		return err
	}
	a.success("File saved to %s", path)
	return nil
}

func (a *App) fileCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:      "attach",
			Usage:     "upload an encrypted file to a secret you manage",
			ArgsUsage: "<secret-id> <path>",
			Action:    a.withSession(a.Attach),
		},
		{
			Name:      "download",
			Usage:     "download and decrypt the file of a secret",
			ArgsUsage: "<secret-id>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: flagDir, Usage: "directory to save the file in"},
			},
			Action: a.withSession(a.Download),
		},
	}
}
