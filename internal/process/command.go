package process

import "strings"

// Command is a program and its arguments. No shell is involved.
type Command struct {
	Program string
	Args    []string
	// Dir is the working directory; empty means the caller's.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
}

// String renders the command the way a POSIX shell would accept it.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quote(c.Program))
	for _, a := range c.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

const shellSafe = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_./=:@%+,"

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.Trim(s, shellSafe) == "" {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
