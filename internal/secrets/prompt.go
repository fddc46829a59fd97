package secrets

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// PromptCredentials interactively reads a username and password pair.
// The password is read without echo.
func PromptCredentials(key string) (*Credentials, error) {
	fmt.Fprintf(os.Stderr, "Username for %q: ", key)
	reader := bufio.NewReader(os.Stdin)
	username, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read username: %w", err)
	}
	username = strings.TrimSpace(username)

	password, err := promptPassword(fmt.Sprintf("Password for %q: ", key))
	if err != nil {
		return nil, err
	}
	confirm, err := promptPassword(fmt.Sprintf("Confirm password for %q: ", key))
	if err != nil {
		return nil, err
	}
	if password != confirm {
		return nil, fmt.Errorf("passwords do not match")
	}

	return &Credentials{Username: username, Password: password}, nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	// Read from the controlling terminal when available so prompts work
	// even with redirected stdin
	fd := int(os.Stdin.Fd())
	tty, err := os.Open("/dev/tty")
	if err == nil {
		defer tty.Close()
		fd = int(tty.Fd())
	}

	passwordBytes, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(passwordBytes), nil
}
