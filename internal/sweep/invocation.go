package sweep

import (
	"strconv"

	"github.com/aristath/sweeprun/internal/process"
)

// Override is one simulator setting override, passed as "path=type=value".
type Override struct {
	Path  string
	Type  string
	Value string
}

func (o Override) String() string {
	return o.Path + "=" + o.Type + "=" + o.Value
}

// StringOverride overrides a string setting.
func StringOverride(path, value string) Override {
	return Override{Path: path, Type: "string", Value: value}
}

// FloatOverride overrides a float setting with a preformatted value.
func FloatOverride(path, value string) Override {
	return Override{Path: path, Type: "float", Value: value}
}

// BoolOverride overrides a bool setting.
func BoolOverride(path string, value bool) Override {
	return Override{Path: path, Type: "bool", Value: strconv.FormatBool(value)}
}

// SimInvocation is a supersim run: a settings file plus overrides applied
// on top of it in order.
type SimInvocation struct {
	Binary    string
	Settings  string
	Overrides []Override
}

// Command serializes the invocation into an argument vector.
func (s SimInvocation) Command() process.Command {
	args := make([]string, 0, len(s.Overrides)+1)
	args = append(args, s.Settings)
	for _, o := range s.Overrides {
		args = append(args, o.String())
	}
	return process.Command{Program: s.Binary, Args: args}
}
