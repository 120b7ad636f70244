package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"lexwrite/api/internal/client"
)

// readPassword is swapped out in tests.
var readPassword = term.ReadPassword

// env is everything a command touches outside its arguments.
type env struct {
	apiURL      string
	sessionPath string
	in          io.Reader
	out         io.Writer
}

func defaultEnv() *env {
	apiURL := os.Getenv("LEXWRITE_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8787"
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return &env{
		apiURL:      apiURL,
		sessionPath: filepath.Join(dir, "lexwrite", "session.json"),
		in:          os.Stdin,
		out:         os.Stdout,
	}
}

func (e *env) loadSession() (client.Session, error) {
	raw, err := os.ReadFile(e.sessionPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return client.Session{}, nil
		}
		return client.Session{}, fmt.Errorf("read session: %w", err)
	}
	var s client.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return client.Session{}, fmt.Errorf("parse session: %w", err)
	}
	return s, nil
}

func (e *env) saveSession(s client.Session) error {
	if err := os.MkdirAll(filepath.Dir(e.sessionPath), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(e.sessionPath, raw, 0o600)
}

func (e *env) clearSession() error {
	if err := os.Remove(e.sessionPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// authedClient returns a client carrying the stored token.
func (e *env) authedClient() (*client.Client, error) {
	s, err := e.loadSession()
	if err != nil {
		return nil, err
	}
	if s.AccessToken == "" {
		return nil, errors.New("not logged in, run `lexctl login`")
	}
	c := client.New(e.apiURL)
	c.SetToken(s.AccessToken)
	return c, nil
}

func (e *env) promptPassword() (string, error) {
	fmt.Fprint(e.out, "Password: ")
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(e.out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(string(pw)), nil
}
