package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/sharekeeper/internal/client/models"
	"github.com/dmitrijs2005/sharekeeper/internal/client/services"
	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

const flagSharePreviews = "share-previews"

// table starts a borderless table on the app output.
func (a *App) table(header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(a.out)
	t.SetHeader(header)
	t.SetBorder(false)
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(false)
	t.SetNoWhiteSpace(true)
	t.SetTablePadding("  ")
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return t
}

// args returns the n positional arguments of cCtx or a usage error.
func args(cCtx *cli.Context, names ...string) ([]string, error) {
	if cCtx.NArg() < len(names) {
		return nil, fmt.Errorf("%w: usage: %s %s", common.ErrValidation, cCtx.Command.Name, strings.Join(names, " "))
	}
	return cCtx.Args().Slice()[:len(names)], nil
}

// withSession wraps a command action that needs the signed-in session.
func (a *App) withSession(fn func(ctx context.Context, s *services.Session, cCtx *cli.Context) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		s, err := a.ensureSession(cCtx.Context)
		if err != nil {
			return err
		}
		return fn(cCtx.Context, s, cCtx)
	}
}

func title(v services.SecretView) string {
	if v.Preview == nil {
		return "(locked)"
	}
	return v.Preview.Title
}

func kind(v services.SecretView) string {
	if v.Preview == nil {
		return "?"
	}
	return string(v.Preview.Type)
}

// List prints every secret the account manages or was shared.
func (a *App) List(ctx context.Context, s *services.Session, _ *cli.Context) error {
	secrets, err := a.vault.ListSecrets(ctx, s)
	if err != nil {
		return err
	}
	if len(secrets) == 0 {
		a.hint("No secrets yet, run 'add' to create one")
		return nil
	}
	t := a.table("ID", "STATUS", "TYPE", "TITLE", "UPDATED")
	for _, v := range secrets {
		t.Append([]string{v.ID, v.Status, kind(v), title(v), v.UpdatedAt.Local().Format("2006-01-02 15:04")})
	}
	t.Render()
	return nil
}

// Show prints the preview of a secret and, when the account holds the
// credentials key, the credentials.
func (a *App) Show(ctx context.Context, s *services.Session, cCtx *cli.Context) error {
	in, err := args(cCtx, "<secret-id>")
	if err != nil {
		return err
	}
	view, creds, err := a.vault.ShowSecret(ctx, s, in[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s [%s]\n", title(*view), kind(*view))
	fmt.Fprintf(a.out, "status: %s\n", view.Status)
	if view.Preview != nil {
		for _, md := range view.Preview.Metadata {
			fmt.Fprintf(a.out, "%s: %s\n", md.Name, md.Value)
		}
	}
	if creds == nil {
		a.hint("Credentials are not shared with you, run 'request %s' to ask for them", view.ID)
		return nil
	}
	x, err := creds.Unwrap()
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "---")
	fmt.Fprintln(a.out, models.Render(x))
	if _, ok := x.(models.BinaryFile); ok {
		a.hint("Run 'download %s' to fetch the file", view.ID)
	}
	return nil
}

// preview prompts for the title and metadata of a secret of type t.
// Empty answers keep the fields of current.
func (a *App) preview(t models.SecretType, current *models.Preview) (models.Preview, error) {
	p := models.Preview{Type: t}
	if current != nil {
		p = *current
	}

	prompt := "Enter title"
	if p.Title != "" {
		prompt = fmt.Sprintf("Enter title [%s]", p.Title)
	}
	title, err := GetSimpleText(a.reader, prompt, a.out)
	if err != nil {
		return p, fmt.Errorf("get title: %w", err)
	}
	if title != "" {
		p.Title = title
	}
	if p.Title == "" {
		return p, fmt.Errorf("%w: title is required", common.ErrValidation)
	}

	lines, err := GetMetadata(a.reader, a.out)
	if err != nil {
		return p, err
	}
	if len(lines) > 0 {
		md, err := models.MetadataFromString(lines)
		if err != nil {
			return p, err
		}
		p.Metadata = md
	}
	return p, nil
}

// text prompts for one field, keeping current on an empty answer.
func (a *App) text(prompt, current string) (string, error) {
	if current != "" {
		prompt = fmt.Sprintf("%s [%s]", prompt, current)
	}
	v, err := GetSimpleText(a.reader, prompt, a.out)
	if err != nil || v == "" {
		return current, err
	}
	return v, nil
}

// details prompts for the credentials of type t. Fields of current are
// offered as defaults.
func (a *App) details(t models.SecretType, current any) (models.TypedSecret, error) {
	switch t {
	case models.SecretTypeLogin:
		l, _ := current.(models.Login)
		var err error
		if l.Username, err = a.text("Enter username", l.Username); err != nil {
			return nil, err
		}
		pw, err := getPassword(a.out, "Enter password (empty keeps the current one)")
		if err != nil {
			return nil, err
		}
		if len(pw) > 0 {
			l.Password = string(pw)
			common.WipeByteArray(pw)
		}
		if l.URL, err = a.text("Enter URL", l.URL); err != nil {
			return nil, err
		}
		return l, nil

	case models.SecretTypeNote:
		n, _ := current.(models.Note)
		text, err := GetMultiline(a.reader, "Enter note text (double Enter to finish):", a.out)
		if err != nil {
			return nil, err
		}
		if text != "" {
			n.Text = text
		}
		return n, nil

	case models.SecretTypeCreditCard:
		c, _ := current.(models.CreditCard)
		var err error
		if c.Number, err = a.text("Enter card number", c.Number); err != nil {
			return nil, err
		}
		if c.Expiration, err = a.text("Enter expiration", c.Expiration); err != nil {
			return nil, err
		}
		if c.CVV, err = a.text("Enter CVV", c.CVV); err != nil {
			return nil, err
		}
		if c.Holder, err = a.text("Enter card holder", c.Holder); err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: cannot edit %s secrets here", common.ErrValidation, t)
}

// add creates a secret of type t from prompted values.
func (a *App) add(t models.SecretType) cli.ActionFunc {
	return a.withSession(func(ctx context.Context, s *services.Session, cCtx *cli.Context) error {
		p, err := a.preview(t, nil)
		if err != nil {
			return err
		}
		d, err := a.details(t, nil)
		if err != nil {
			return err
		}
		c, err := models.NewCredentials(d)
		if err != nil {
			return err
		}
		v, err := a.vault.CreateSecret(ctx, s, p, c, cCtx.Bool(flagSharePreviews))
		if err != nil {
			return err
		}
		a.success("Secret %s created", v.ID)
		return nil
	})
}

// AddFile creates a binaryfile secret and uploads the encrypted file.
func (a *App) AddFile(ctx context.Context, s *services.Session, cCtx *cli.Context) error {
	in, err := args(cCtx, "<path>")
	if err != nil {
		return err
	}
	fi, err := os.Stat(in[0])
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("%w: %s is a directory", common.ErrValidation, in[0])
	}

	p, err := a.preview(models.SecretTypeBinaryFile, &models.Preview{
		Type:  models.SecretTypeBinaryFile,
		Title: filepath.Base(in[0]),
	})
	if err != nil {
		return err
	}
	c, err := models.NewCredentials(models.BinaryFile{Name: filepath.Base(in[0]), Size: fi.Size()})
	if err != nil {
		return err
	}
	v, err := a.vault.CreateSecret(ctx, s, p, c, cCtx.Bool(flagSharePreviews))
	if err != nil {
		return err
	}
	if err := a.vault.Attach(ctx, s, v.ID, in[0]); err != nil {
		return fmt.Errorf("secret %s created, upload failed: %w", v.ID, err)
	}
	a.success("Secret %s created, %d bytes uploaded", v.ID, fi.Size())
	return nil
}

// Edit re-prompts every field of a secret, keeping the ones left empty.
func (a *App) Edit(ctx context.Context, s *services.Session, cCtx *cli.Context) error {
	in, err := args(cCtx, "<secret-id>")
	if err != nil {
		return err
	}
	view, creds, err := a.vault.ShowSecret(ctx, s, in[0])
	if err != nil {
		return err
	}
	if view.Preview == nil || creds == nil {
		return services.ErrNoAccess
	}
	current, err := creds.Unwrap()
	if err != nil {
		return err
	}

	p, err := a.preview(view.Preview.Type, view.Preview)
	if err != nil {
		return err
	}
	next := *creds
	if view.Preview.Type != models.SecretTypeBinaryFile {
		d, err := a.details(view.Preview.Type, current)
		if err != nil {
			return err
		}
		if next, err = models.NewCredentials(d); err != nil {
			return err
		}
	}

	share := view.SharePreviews
	if cCtx.IsSet(flagSharePreviews) {
		share = cCtx.Bool(flagSharePreviews)
	}
	if err := a.vault.UpdateSecret(ctx, s, view.ID, p, next, share); err != nil {
		return err
	}
	a.success("Secret %s updated", view.ID)
	return nil
}

// Delete removes a managed secret together with every access record.
func (a *App) Delete(ctx context.Context, s *services.Session, cCtx *cli.Context) error {
	in, err := args(cCtx, "<secret-id>")
	if err != nil {
		return err
	}
	if err := a.vault.DeleteSecret(ctx, s, in[0]); err != nil {
		return err
	}
	a.success("Secret %s deleted", in[0])
	return nil
}

func (a *App) secretCommands() []*cli.Command {
	shareFlag := func() cli.Flag {
		return &cli.BoolFlag{Name: flagSharePreviews, Usage: "show the preview to every connection"}
	}
	return []*cli.Command{
		{
			Name:    "list",
			Aliases: []string{"l", "ls"},
			Usage:   "list secrets",
			Action:  a.withSession(a.List),
		},
		{
			Name:      "show",
			Usage:     "show a secret",
			ArgsUsage: "<secret-id>",
			Action:    a.withSession(a.Show),
		},
		{
			Name:  "add",
			Usage: "create a secret",
			Subcommands: []*cli.Command{
				{Name: "login", Usage: "site credentials", Flags: []cli.Flag{shareFlag()}, Action: a.add(models.SecretTypeLogin)},
				{Name: "note", Usage: "free-form text", Flags: []cli.Flag{shareFlag()}, Action: a.add(models.SecretTypeNote)},
				{Name: "card", Usage: "payment card", Flags: []cli.Flag{shareFlag()}, Action: a.add(models.SecretTypeCreditCard)},
				{Name: "file", Usage: "encrypted file attachment", ArgsUsage: "<path>", Flags: []cli.Flag{shareFlag()}, Action: a.withSession(a.AddFile)},
			},
		},
		{
			Name:      "edit",
			Usage:     "change a secret you manage",
			ArgsUsage: "<secret-id>",
			Flags:     []cli.Flag{shareFlag()},
			Action:    a.withSession(a.Edit),
		},
		{
			Name:      "delete",
			Aliases:   []string{"rm"},
			Usage:     "delete a secret you manage",
			ArgsUsage: "<secret-id>",
			Action:    a.withSession(a.Delete),
		},
	}
}
