// Package flagd is the scoring authority link: a client the arena uses to report the flag
// holder, and the daemon side that records holders and turns them into points.
package flagd

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const authSep = ":::"

var (
	ErrBadAuthLine  = errors.New("Invalid command")
	ErrBadAuthToken = errors.New("Invalid password")
)

// Password is the hex HMAC-SHA256 of category under key.
func Password(key, category string) string {
	m := hmac.New(sha256.New, []byte(key))
	m.Write([]byte(category))
	return hex.EncodeToString(m.Sum(nil))
}

// AuthLine builds the first line a game server sends: "category:::password".
func AuthLine(key, category string) string {
	return category + authSep + Password(key, category)
}

// CheckAuth validates an auth line and returns its category.
func CheckAuth(key, line string) (string, error) {
	cat, token, ok := strings.Cut(strings.TrimSpace(line), authSep)
	if !ok || cat == "" || strings.Contains(token, authSep) {
		return "", ErrBadAuthLine
	}
	want := Password(key, cat)
	if !hmac.Equal([]byte(strings.ToLower(token)), []byte(want)) {
		return "", ErrBadAuthToken
	}
	return cat, nil
}
