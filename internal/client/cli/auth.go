package cli

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/sharekeeper/internal/client/client"
	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/urfave/cli/v2"
)

var errPasswordMismatch = errors.New("passwords do not match")

// newPassword prompts for a password twice.
func (a *App) newPassword(prompt string) ([]byte, error) {
	pw, err := getPassword(a.out, prompt)
	if err != nil {
		return nil, err
	}
	again, err := getPassword(a.out, "Repeat password")
	if err != nil {
		common.WipeByteArray(pw)
		return nil, err
	}
	defer common.WipeByteArray(again)
	if len(pw) == 0 || !bytes.Equal(pw, again) {
		common.WipeByteArray(pw)
		return nil, errPasswordMismatch
	}
	return pw, nil
}

// email returns the first argument, or prompts with def as the default.
func (a *App) email(cCtx *cli.Context, def string) (string, error) {
	if e := cCtx.Args().First(); e != "" {
		return e, nil
	}
	prompt := "Enter email"
	if def != "" {
		prompt = fmt.Sprintf("Enter email [%s]", def)
	}
	e, err := GetSimpleText(a.reader, prompt, a.out)
	if err != nil {
		return "", err
	}
	if e == "" {
		e = def
	}
	if e == "" {
		return "", fmt.Errorf("%w: email is required", common.ErrValidation)
	}
	return e, nil
}

// Register creates an account. The password never leaves this process;
// only values derived from it are sent.
func (a *App) Register(cCtx *cli.Context) error {
	ctx := cCtx.Context
	email, err := a.email(cCtx, "")
	if err != nil {
		return err
	}
	password, err := a.newPassword("Choose a password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.auth.Register(ctx, email, password); err != nil {
		return err
	}
	a.success("Account %s created", common.NormalizeEmail(email))
	a.hint("Run 'login' to sign in")
	return nil
}

// Login runs the SRP handshake and caches the session on this machine.
func (a *App) Login(cCtx *cli.Context) error {
	ctx := cCtx.Context
	cached, err := a.auth.CachedEmail(ctx)
	if err != nil && !errors.Is(err, client.ErrNoCachedSession) {
		return err
	}
	email, err := a.email(cCtx, cached)
	if err != nil {
		return err
	}
	password, err := getPassword(a.out, "Password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	s, err := a.auth.Login(ctx, email, password)
	if err != nil {
		if client.IsUnavailable(err) {
			a.setMode(ModeOffline)
		}
		return err
	}
	a.setSession(s)
	a.setMode(ModeOnline)
	a.success("Logged in as %s", s.Email)
	return nil
}

// Logout ends the session on the server and forgets it locally.
func (a *App) Logout(cCtx *cli.Context) error {
	err := a.auth.Logout(cCtx.Context)
	a.setSession(nil)
	if err != nil {
		return fmt.Errorf("local session dropped, server sign-out failed: %w", err)
	}
	a.success("Logged out")
	return nil
}

// ChangePassword re-derives every password-bound value. Other sessions of
// the account end.
func (a *App) ChangePassword(cCtx *cli.Context) error {
	ctx := cCtx.Context
	s, err := a.ensureSession(ctx)
	if err != nil {
		return err
	}
	password, err := a.newPassword("New password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	next, err := a.auth.ChangePassword(ctx, s, password)
	if err != nil {
		return err
	}
	a.setSession(next)
	a.success("Password changed, other sessions were signed out")
	return nil
}

func (a *App) authCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:      "register",
			Usage:     "create an account",
			ArgsUsage: "[email]",
			Action:    a.Register,
		},
		{
			Name:      "login",
			Usage:     "sign in and cache the session on this machine",
			ArgsUsage: "[email]",
			Action:    a.Login,
		},
		{
			Name:   "logout",
			Usage:  "end the session",
			Action: a.Logout,
		},
		{
			Name:   "passwd",
			Usage:  "change the account password",
			Action: a.ChangePassword,
		},
	}
}
