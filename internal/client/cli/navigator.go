package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
)

var screens = map[string]string{
	common.RouteLogin:       "== Sign in ==\nType 'login' to sign in.",
	common.RouteDashboard:   "== Dashboard ==\nYou are signed in. Type 'help' for commands.",
	common.RouteClusterInit: "== Cluster initialization ==\nThe cluster is not ready yet. Type 'init' to check again.",
}

// screenNavigator prints the screen for a route. Repeated navigation to
// the current route prints nothing.
type screenNavigator struct {
	mu    sync.Mutex
	out   io.Writer
	route string
}

func newNavigator(out io.Writer) *screenNavigator {
	return &screenNavigator{out: out}
}

func (n *screenNavigator) GoTo(route string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.route == route {
		return
	}
	n.route = route

	screen, ok := screens[route]
	if !ok {
		screen = "== " + route + " =="
	}
	fmt.Fprintln(n.out, screen)
}

func (n *screenNavigator) Route() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.route
}
