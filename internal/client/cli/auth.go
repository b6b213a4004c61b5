package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/activity"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/client"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/gate"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
)

// askUsername and askPassword are swapped in tests.
var askUsername = promptUsername
var askPassword = promptPassword

// Login prompts the user for credentials and tries to authenticate.
//
// On success the gate moves to the dashboard, the coordinator starts
// refreshing and the activity monitor starts. The password is securely
// wiped before returning.
func (a *App) Login(ctx context.Context) error {
	switch a.gate.State() {
	case gate.StateAuthenticated:
		printlnFn("Already signed in.")
		return nil
	case gate.StateClusterNotReady:
		printlnFn("The cluster is not ready yet. Type 'init' to check again.")
		return nil
	}

	userName, err := askUsername(a.reader, a.out)
	if err != nil {
		if errors.Is(err, errNoUsername) {
			printlnFn("Login cancelled: no username given.")
		}
		return err
	}

	password, err := askPassword(a.out)
	if err != nil {
		if errors.Is(err, errNoPassword) {
			printlnFn("Login cancelled: empty password.")
		}
		return err
	}
	defer common.WipeByteArray(password)

	c, err := a.auth.Login(ctx, userName, password)
	if err != nil {
		switch {
		case errors.Is(err, client.ErrUnauthorized):
			printlnFn("Login unsuccessful: wrong username or password.")
		case errors.Is(err, client.ErrUnavailable):
			printlnFn("Login unsuccessful: server unavailable.")
		default:
			printlnFn(fmt.Sprintf("Login unsuccessful: %s", err))
		}
		return err
	}

	if err := a.gate.Authenticated(ctx); err != nil {
		printlnFn(fmt.Sprintf("Login unsuccessful: %s", err))
		return err
	}
	a.startSession(ctx)

	if c.FirstLogin {
		printlnFn("This is your first login. Please change your password.")
	}
	return nil
}

// Logout ends the session on the server and locally, and logs out the
// other sessions sharing the relay.
func (a *App) Logout(ctx context.Context) error {
	if mon := a.currentMonitor(); mon != nil {
		mon.Logout(ctx, activity.ReasonManual)
		return nil
	}
	a.gate.Logout(ctx, activity.ReasonManual)
	return nil
}
