package cli

import (
	"context"
	"io"
	"os"

	"github.com/dmitrijs2005/sharekeeper/internal/client/config"
	"github.com/dmitrijs2005/sharekeeper/internal/logging"
	"github.com/urfave/cli/v2"
)

// commands is the full command tree shared by argv and the shell.
func (a *App) commands() []*cli.Command {
	var cmds []*cli.Command
	cmds = append(cmds, a.authCommands()...)
	cmds = append(cmds, a.secretCommands()...)
	cmds = append(cmds, a.sharingCommands()...)
	cmds = append(cmds, a.inviteCommands()...)
	cmds = append(cmds, a.fileCommands()...)
	return cmds
}

// NewCLI builds the sharekeeper command-line application. Without a
// command it starts the interactive shell. Outside the shell, commands that
// need the session unlock the cached one with the password.
func NewCLI(in io.Reader, out io.Writer) *cli.App {
	a := newApp(in, out)

	shell := &cli.Command{
		Name:   "shell",
		Usage:  "start the interactive shell",
		Action: a.Shell,
	}

	return &cli.App{
		Name:           "sharekeeper",
		Usage:          "share secrets end-to-end encrypted",
		Flags:          config.Flags(),
		Writer:         out,
		ErrWriter:      os.Stderr,
		DefaultCommand: shell.Name,
		Commands:       append(a.commands(), shell),
		Before: func(cCtx *cli.Context) error {
			cfg, err := config.Load(cCtx)
			if err != nil {
				return err
			}
			logger := logging.New(os.Stderr, logging.Options{Level: cfg.LogLevel})
			return a.init(cCtx.Context, cfg, logger)
		},
		After: func(cCtx *cli.Context) error {
			return a.Close(context.WithoutCancel(cCtx.Context))
		},
	}
}
