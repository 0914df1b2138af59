// Package teams answers team logins from a passwd file or a Postgres snapshot.
package teams

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/park285/fray/internal/obslog"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var ErrTeamExists = errors.New("team already registered")

// FileStore reads "team<TAB>secret" lines, both fields percent-encoded. The file is re-read
// when its mtime moves, checked at most once per second.
type FileStore struct {
	path string
	now  func() time.Time

	mu       sync.Mutex
	secrets  map[string]string
	modTime  time.Time
	checked  time.Time
	loadedOK bool
}

func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, now: time.Now, secrets: map[string]string{}}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(true); err != nil {
		return nil, err
	}
	return s, nil
}

// Check reports whether secret matches team.
func (s *FileStore) Check(team, secret string) bool {
	s.mu.Lock()
	if now := s.now(); now.Sub(s.checked) >= time.Second {
		if err := s.reloadLocked(false); err != nil {
			obslog.L().Warn("passwd_reload_failed", zap.String("path", s.path), zap.Error(err))
		}
	}
	want, ok := s.secrets[team]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(secret)) == 1
}

// Exists reports whether team has a passwd entry.
func (s *FileStore) Exists(team string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.secrets[team]
	return ok
}

// Len returns the number of registered teams.
func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.secrets)
}

// Add registers a team. The append holds an exclusive lock on the file so concurrent
// registrations from other processes do not interleave.
func (s *FileStore) Add(team, secret string) error {
	team = strings.TrimSpace(team)
	if team == "" || secret == "" {
		return errors.New("team and secret are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(true); err != nil {
		return err
	}
	if _, ok := s.secrets[team]; ok {
		return ErrTeamExists
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open passwd: %w", err)
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock passwd: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if _, err := fmt.Fprintf(f, "%s\t%s\n", url.PathEscape(team), url.PathEscape(secret)); err != nil {
		return fmt.Errorf("write passwd: %w", err)
	}
	s.secrets[team] = secret
	obslog.L().Info("team_added", zap.String("team", team))
	return nil
}

func (s *FileStore) reloadLocked(force bool) error {
	s.checked = s.now()
	st, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		// 파일이 없으면 빈 목록으로 둔다.
		s.secrets = map[string]string{}
		s.modTime = time.Time{}
		s.loadedOK = true
		return nil
	}
	if err != nil {
		return err
	}
	if !force && s.loadedOK && st.ModTime().Equal(s.modTime) {
		return nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	secrets, err := parsePasswd(f)
	if err != nil {
		return fmt.Errorf("%s: %w", s.path, err)
	}
	s.secrets = secrets
	s.modTime = st.ModTime()
	s.loadedOK = true
	obslog.L().Info("passwd_loaded", zap.String("path", s.path), zap.Int("teams", len(secrets)))
	return nil
}

func parsePasswd(f *os.File) (map[string]string, error) {
	out := make(map[string]string)
	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rawTeam, rawSecret, ok := strings.Cut(line, "\t")
		if !ok {
			return nil, fmt.Errorf("line %d: missing tab", n)
		}
		team, err := url.PathUnescape(rawTeam)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		secret, err := url.PathUnescape(rawSecret)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		out[team] = secret
	}
	return out, sc.Err()
}
