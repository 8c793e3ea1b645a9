package repl

import (
	"sort"
	"strings"
)

// Completer matches command names by prefix.
type Completer struct {
	commands []string
}

// NewCompleter creates a Completer over names.
func NewCompleter(names ...string) *Completer {
	c := &Completer{commands: append([]string(nil), names...)}
	sort.Strings(c.commands)
	return c
}

// Add registers more names.
func (c *Completer) Add(names ...string) {
	c.commands = append(c.commands, names...)
	sort.Strings(c.commands)
}

// Complete returns the names starting with prefix, in order.
func (c *Completer) Complete(prefix string) []string {
	var out []string
	for _, name := range c.commands {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out
}
