package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// SecretEnv is read when --secret is not given.
const SecretEnv = "OBSEAL_SECRET"

var stdin = bufio.NewReader(os.Stdin)

// readSecret returns the secret from the flag, the environment, or a prompt,
// in that order.
func readSecret(flagValue string, confirm bool) ([]byte, error) {
	if flagValue != "" {
		return []byte(flagValue), nil
	}
	if v := os.Getenv(SecretEnv); v != "" {
		return []byte(v), nil
	}

	secret, err := promptSecret("Secret: ")
	if err != nil {
		return nil, fmt.Errorf("read secret: %w", err)
	}

	if confirm {
		again, err := promptSecret("Repeat secret: ")
		if err != nil {
			return nil, fmt.Errorf("read secret: %w", err)
		}
		match := string(secret) == string(again)
		clear(again)
		if !match {
			clear(secret)
			return nil, errors.New("secrets do not match")
		}
	}

	return secret, nil
}

func promptSecret(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := stdin.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		return []byte(strings.TrimRight(line, "\r\n")), nil
	}

	fmt.Fprint(os.Stderr, prompt)

	// Read without echo
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return nil, err
	}
	return secret, nil
}

// confirmDestination asks before each save. An empty answer or "y" keeps the
// suggested name, "n" declines, anything else is used as the new name.
func confirmDestination() func(ctx context.Context, suggested string) (string, bool, error) {
	var mu sync.Mutex

	return func(ctx context.Context, suggested string) (string, bool, error) {
		mu.Lock()
		defer mu.Unlock()

		fmt.Fprintf(os.Stderr, "Save as %s? [Y/n/other name] ", suggested)
		line, err := stdin.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", false, err
		}

		answer := strings.TrimSpace(line)
		switch strings.ToLower(answer) {
		case "", "y", "yes":
			return suggested, true, nil
		case "n", "no":
			return "", false, nil
		default:
			return answer, true, nil
		}
	}
}
