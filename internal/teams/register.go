package teams

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrSecretMismatch = errors.New("secrets do not match")

// Register reads a secret and its confirmation, one per line, and adds team to the store.
func Register(s *FileStore, team string, in io.Reader) error {
	team = strings.TrimSpace(team)
	if team == "" {
		return errors.New("team is required")
	}
	if strings.ContainsAny(team, "\r\n") {
		return fmt.Errorf("team %q: line breaks are not allowed", team)
	}
	if s.Exists(team) {
		return ErrTeamExists
	}

	br := bufio.NewReader(in)
	secret, err := readSecret(br)
	if err != nil {
		return err
	}
	confirm, err := readSecret(br)
	if err != nil {
		return err
	}
	if secret != confirm {
		return ErrSecretMismatch
	}
	return s.Add(team, secret)
}

func readSecret(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read secret: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("secret is required")
	}
	return line, nil
}
