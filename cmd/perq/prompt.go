package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const cvvEnvVar = "PERQ_CARD_CVV"

// readSecret resolves a value that must not appear in shell history. The
// environment variable wins; otherwise the operator is prompted on the
// terminal without echo.
func readSecret(envVar, label string, prompt io.Writer) (string, error) {
	if value, ok := os.LookupEnv(envVar); ok {
		if strings.TrimSpace(value) == "" {
			return "", fmt.Errorf("%s is set but empty", envVar)
		}
		return value, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%s required; set %s or run interactively", label, envVar)
	}
	fmt.Fprintf(prompt, "Enter %s: ", label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", label, err)
	}
	value := strings.TrimSpace(string(raw))
	if value == "" {
		return "", errors.New(label + " cannot be empty")
	}
	return value, nil
}
