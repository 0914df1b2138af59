// Package games holds the match types the server can run.
package games

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/park285/fray/internal/arena"
)

// ErrInvalidMove wraps every rejected match command.
var ErrInvalidMove = errors.New("invalid move")

var registry = map[string]arena.Rules{
	Roshambo{}.Name(): Roshambo{},
	Lowball{}.Name():  Lowball{},
}

// Lookup returns the rules registered under name (case-insensitive).
func Lookup(name string) (arena.Rules, error) {
	r, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown game %q (have: %s)", name, strings.Join(Names(), ", "))
	}
	return r, nil
}

// Names lists registered games in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
