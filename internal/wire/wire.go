// Package wire encodes and decodes the line protocol spoken by contest clients.
//
// Every line is a JSON array. Inbound: ["name", arg...]. Outbound: ["OK", payload],
// ["ERR", message], ["WIN"] or ["LOSE"].
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyLine   = errors.New("empty command")
	ErrNotArray    = errors.New("command must be a JSON array")
	ErrBadName     = errors.New("command name must be a non-empty string")
	ErrBadArgument = errors.New("command arguments must be strings, numbers or booleans")
)

// Command is one decoded inbound line. Name is lower-cased.
type Command struct {
	Name string
	Args []string
}

// Arg returns the i-th argument or "" when absent.
func (c Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Decode parses one line (without its terminator).
func Decode(line []byte) (Command, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Command{}, ErrEmptyLine
	}
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrNotArray, err)
	}
	if len(raw) == 0 {
		return Command{}, ErrEmptyLine
	}
	name, ok := raw[0].(string)
	name = strings.ToLower(strings.TrimSpace(name))
	if !ok || name == "" {
		return Command{}, ErrBadName
	}
	cmd := Command{Name: name}
	for _, v := range raw[1:] {
		switch a := v.(type) {
		case string:
			cmd.Args = append(cmd.Args, a)
		case json.Number:
			cmd.Args = append(cmd.Args, a.String())
		case bool:
			if a {
				cmd.Args = append(cmd.Args, "true")
			} else {
				cmd.Args = append(cmd.Args, "false")
			}
		default:
			return Command{}, ErrBadArgument
		}
	}
	return cmd, nil
}

// Reply is one outbound frame.
type Reply []any

const (
	TagOK   = "OK"
	TagErr  = "ERR"
	TagWin  = "WIN"
	TagLose = "LOSE"
)

func OK(payload any) Reply { return Reply{TagOK, payload} }
func Err(msg string) Reply { return Reply{TagErr, msg} }
func Win() Reply           { return Reply{TagWin} }
func Lose() Reply          { return Reply{TagLose} }

// Tag returns the reply kind ("OK", "ERR", ...).
func (r Reply) Tag() string {
	if len(r) == 0 {
		return ""
	}
	s, _ := r[0].(string)
	return s
}

// Payload returns the second element, if any.
func (r Reply) Payload() any {
	if len(r) < 2 {
		return nil
	}
	return r[1]
}

// Encode renders the reply as a newline-terminated JSON line.
func Encode(r Reply) ([]byte, error) {
	b, err := json.Marshal([]any(r))
	if err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}
	return append(b, '\n'), nil
}

// EncodeCommand renders a client command line; used by clients and tests.
func EncodeCommand(name string, args ...any) ([]byte, error) {
	v := append([]any{name}, args...)
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	return append(b, '\n'), nil
}

// DecodeReply parses an outbound frame; used by clients and tests.
func DecodeReply(line []byte) (Reply, error) {
	var r []any
	if err := json.Unmarshal(bytes.TrimSpace(line), &r); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if len(r) == 0 {
		return nil, ErrEmptyLine
	}
	return Reply(r), nil
}
