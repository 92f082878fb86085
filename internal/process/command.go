package process

import (
	"io"
	"strings"
)

// Command is an argument vector for an external program. Arguments are
// passed to the program verbatim; no shell is involved.
type Command struct {
	Program string   // Executable path or name resolved via PATH
	Args    []string // Arguments, excluding the program itself
	Dir     string   // Working directory (empty: inherit)
}

// Argv returns the full argument vector including the program.
func (c Command) Argv() []string {
	argv := make([]string, 0, len(c.Args)+1)
	argv = append(argv, c.Program)
	return append(argv, c.Args...)
}

// String renders the command as a shell-quoted line for logs and dry runs.
func (c Command) String() string {
	argv := c.Argv()
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = quote(a)
	}
	return strings.Join(quoted, " ")
}

// Redirect holds optional destinations for a process's output streams.
// Stdout and Stderr may name the same file, in which case both streams are
// interleaved into it.
type Redirect struct {
	Stdout string
	Stderr string
	// Tee additionally receives both streams. It must be safe for
	// concurrent writes when Stdout and Stderr differ.
	Tee io.Writer
}

// Paths returns the distinct non-empty redirect targets.
func (r Redirect) Paths() []string {
	var paths []string
	if r.Stdout != "" {
		paths = append(paths, r.Stdout)
	}
	if r.Stderr != "" && r.Stderr != r.Stdout {
		paths = append(paths, r.Stderr)
	}
	return paths
}

const safeChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_./=:,+%@"

func quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !strings.ContainsRune(safeChars, r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
