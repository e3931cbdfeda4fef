package sharyctlapp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shary-app/sharycore/pkg/keys"
	"golang.org/x/term"
)

// readPassword reads the password from --password-file, or prompts on the
// terminal. The caller wipes the result.
func (c *Config) readPassword() ([]byte, error) {
	if c.PasswordFile != "" {
		path, err := expandPath(c.PasswordFile)
		if err != nil {
			return nil, err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		pw := bytes.Clone(bytes.TrimRight(b, "\r\n"))
		keys.Wipe(b)
		return nonEmpty(pw)
	}

	rt := c.runtime
	fmt.Fprintf(rt.stderr, "Password: ")
	// If stdin is not a terminal, read a line without disabling echo.
	f, ok := rt.stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		line, err := bufio.NewReader(rt.stdin).ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		return nonEmpty(bytes.TrimRight(line, "\r\n"))
	}
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(rt.stderr)
	if err != nil {
		return nil, err
	}
	return nonEmpty(b)
}

// checkPasswordSource fails when both the password prompt and the command
// input would read a piped stdin.
func (c *Config) checkPasswordSource(inPath string) error {
	if c.PasswordFile != "" || !isStdio(inPath) {
		return nil
	}
	if f, ok := c.runtime.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return errors.New("input is read from stdin; pass the password with --password-file or the input with --in")
}

func nonEmpty(pw []byte) ([]byte, error) {
	if len(pw) == 0 {
		return nil, errors.New("empty password")
	}
	return pw, nil
}
