package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	guard(ctx context.Context) bool
	touch()
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Status(ctx context.Context) error
	Events(ctx context.Context) error
	Refresh(ctx context.Context) error
	Continue(ctx context.Context) error
	Retry(ctx context.Context) error
	Confirm(ctx context.Context) error
	Away(ctx context.Context) error
	Back(ctx context.Context) error
	Init(ctx context.Context) error
}

// guarded commands act on the current session and run only while its
// stored credential is whole.
var guarded = map[string]bool{
	"status":   true,
	"refresh":  true,
	"continue": true,
	"retry":    true,
	"away":     true,
	"back":     true,
	"logout":   true,
}

// runREPL starts a simple read–eval–print loop for the sessionkeeper CLI.
//
// It reads a line from reader, parses the first token as the command, and
// dispatches to methods on 'a'. Session commands are first checked by
// a.guard. Every command except continue, away and back counts as user
// activity. The loop exits on EOF or when the user
// types "exit" or "quit".
//
// Prompt & Commands
//
//	Not logged in:
//	  - help           — show available commands
//	  - login          — authenticate
//	  - init           — re-check cluster readiness
//	  - ok             — acknowledge a session error
//	  - events         — show the session journal
//	  - exit | quit    — leave the program
//
//	Logged in:
//	  - help           — show available commands
//	  - status         — show session state
//	  - refresh        — refresh the token now
//	  - continue       — stay signed in after the inactivity warning
//	  - retry | ok     — act on a session error
//	  - away | back    — pause or resume inactivity tracking
//	  - events         — show the session journal
//	  - logout         — log out
//	  - exit | quit    — leave the program
//
// Any errors returned by command handlers are ignored here; handlers report
// them to the user themselves. This keeps the REPL loop resilient and
// focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("sk %s> ", statusFn()))
		line, err := reader.ReadString('\n')
		parts := strings.Fields(line)
		if len(parts) == 0 {
			if err != nil {
				return
			}
			continue
		}
		cmd := parts[0]

		if guarded[cmd] && !a.guard(ctx) {
			if err != nil {
				return
			}
			continue
		}

		switch cmd {
		case "continue", "away", "back":
		default:
			a.touch()
		}

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: status, refresh, continue, retry, ok, away, back, events, logout, exit")
			} else {
				printlnFn("Available commands: login, init, ok, events, exit")
			}

		case "login":
			_ = a.Login(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "status":
			_ = a.Status(ctx)

		case "events":
			_ = a.Events(ctx)

		case "refresh":
			_ = a.Refresh(ctx)

		case "continue":
			_ = a.Continue(ctx)

		case "retry":
			_ = a.Retry(ctx)

		case "ok":
			_ = a.Confirm(ctx)

		case "away":
			_ = a.Away(ctx)

		case "back":
			_ = a.Back(ctx)

		case "init":
			_ = a.Init(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			return
		}
	}
}
