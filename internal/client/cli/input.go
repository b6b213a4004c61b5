package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"golang.org/x/term"
)

const maxPromptAttempts = 3

var (
	errNoUsername = errors.New("no username given")
	errNoPassword = errors.New("no password given")
)

// termReadPassword reads from the terminal without echo. Tests replace it.
var termReadPassword = term.ReadPassword

// promptUsername asks for a username until a non-blank one is entered,
// giving up after maxPromptAttempts. A last line cut short by EOF still
// counts.
func promptUsername(reader *bufio.Reader, w io.Writer) (string, error) {
	for range maxPromptAttempts {
		if _, err := fmt.Fprint(w, "Username\n> "); err != nil {
			return "", err
		}
		line, err := reader.ReadString('\n')
		name := strings.TrimSpace(line)
		if name != "" {
			return name, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", errNoUsername
}

// promptPassword reads a password without echo. An empty password is not
// sent to the server. The caller wipes the result.
func promptPassword(w io.Writer) ([]byte, error) {
	if _, err := fmt.Fprint(w, "Password: "); err != nil {
		return nil, err
	}
	pw, err := termReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		common.WipeByteArray(pw)
		return nil, err
	}
	if len(pw) == 0 {
		return nil, errNoPassword
	}
	return pw, nil
}
