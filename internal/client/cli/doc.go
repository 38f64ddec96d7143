// Package cli provides the sharekeeper command-line client.
//
// Every operation is a urfave/cli command. Run without a command, the
// binary starts an interactive shell that dispatches each line to the same
// command tree, keeps one unlocked session for the whole run, and watches
// server reachability in the background.
//
// Outside the shell each invocation is its own process: commands that need
// the account keys ask for the password and reopen the session cached by
// the last login.
package cli
