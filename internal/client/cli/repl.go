package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// dispatchFunc runs one shell line split into words.
type dispatchFunc func(ctx context.Context, args []string) error

// runREPL starts a simple read–eval–print loop for the sharekeeper shell.
//
// It reads a line from reader, splits it into words and hands them to
// dispatch, which runs the matching command. Commands prompt on the same
// reader. Errors are printed and the loop goes on. The loop exits on EOF,
// when ctx is done, or when the user types "exit" or "quit".
func runREPL(ctx context.Context, dispatch dispatchFunc, statusFn func() string, reader *bufio.Reader) {
	for {
		if ctx.Err() != nil {
			return
		}
		printlnFn(fmt.Sprintf("sk %s> ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "exit", "quit":
			printlnFn("Bye!")
			return
		case "shell":
			printlnFn("Already in the shell")
			continue
		}

		if err := dispatch(ctx, parts); err != nil {
			printlnFn(color.RedString("✗"), err.Error())
		}
	}
}

// shellApp is the command tree the shell dispatches to. It shares the
// process session, so one login serves every later line.
func (a *App) shellApp() *cli.App {
	return &cli.App{
		Name:            "sharekeeper",
		Usage:           "sharekeeper shell",
		Writer:          a.out,
		ErrWriter:       a.out,
		Commands:        a.commands(),
		ExitErrHandler:  func(*cli.Context, error) {},
		CommandNotFound: func(_ *cli.Context, name string) {
			fmt.Fprintf(a.out, "Unknown command: %s (type 'help' for commands)\n", name)
		},
	}
}

// dispatch runs one shell line on a fresh command tree.
func (a *App) dispatch(ctx context.Context, args []string) error {
	app := a.shellApp()
	return app.RunContext(ctx, append([]string{app.Name}, args...))
}

// Shell starts the interactive shell with a background connectivity
// watcher. It blocks until the user exits.
func (a *App) Shell(cCtx *cli.Context) error {
	ctx, cancel := context.WithCancel(cCtx.Context)
	defer cancel()

	fmt.Fprintln(a.out, "sharekeeper shell (type 'help' for commands)")
	if a.checkInterval > 0 {
		go a.StartOnlineStatusWatcher(ctx, a.checkInterval)
	}

	runREPL(ctx, a.dispatch, a.status, a.reader)
	return nil
}
