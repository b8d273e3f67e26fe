package config

import (
	"strconv"
	"strings"
	"time"
)

type entry struct {
	required bool
	mapper   func(*Map, *Node) error
	seen     bool
}

// Map binds directives inside a config Block onto Go variables, the same
// Custom/String/Bool/... shape as maddy's config.Map, trimmed down to what
// ashpost's directive set needs.
type Map struct {
	Block        *Node
	allowUnknown bool
	entries      map[string]*entry
	order        []string
}

func NewMap(block *Node) *Map {
	return &Map{Block: block, entries: map[string]*entry{}}
}

func (m *Map) AllowUnknown() { m.allowUnknown = true }

// Custom registers a directive handler. mapper is invoked once per matching
// child node found in Block.
func (m *Map) Custom(name string, required bool, mapper func(*Map, *Node) error) {
	e := &entry{required: required, mapper: mapper}
	m.entries[name] = e
	m.order = append(m.order, name)
}

func (m *Map) String(name string, required bool, def string, store *string) {
	*store = def
	m.Custom(name, required, func(m *Map, n *Node) error {
		if len(n.Args) != 1 {
			return NodeErr(n, "%s: expected exactly one argument", name)
		}
		*store = n.Args[0]
		return nil
	})
}

func (m *Map) StringList(name string, required bool, store *[]string) {
	m.Custom(name, required, func(m *Map, n *Node) error {
		*store = append(*store, n.Args...)
		return nil
	})
}

func (m *Map) Bool(name string, def bool, store *bool) {
	*store = def
	m.Custom(name, false, func(m *Map, n *Node) error {
		if len(n.Args) == 0 {
			*store = true
			return nil
		}
		b, err := strconv.ParseBool(n.Args[0])
		if err != nil {
			return NodeErr(n, "%s: %v", name, err)
		}
		*store = b
		return nil
	})
}

func (m *Map) Int(name string, def int, store *int) {
	*store = def
	m.Custom(name, false, func(m *Map, n *Node) error {
		if len(n.Args) != 1 {
			return NodeErr(n, "%s: expected exactly one argument", name)
		}
		v, err := strconv.Atoi(n.Args[0])
		if err != nil {
			return NodeErr(n, "%s: %v", name, err)
		}
		*store = v
		return nil
	})
}

func (m *Map) Duration(name string, def time.Duration, store *time.Duration) {
	*store = def
	m.Custom(name, false, func(m *Map, n *Node) error {
		if len(n.Args) == 0 {
			return NodeErr(n, "%s: at least one argument is required", name)
		}
		d, err := time.ParseDuration(strings.Join(n.Args, ""))
		if err != nil {
			return NodeErr(n, "%s: %v", name, err)
		}
		*store = d
		return nil
	})
}

// Process walks Block's children, dispatching each to its registered
// handler. Directives with no registered handler are returned as unmatched
// unless AllowUnknown was never called, in which case they are an error.
func (m *Map) Process() (unmatched []Node, err error) {
	if m.Block == nil {
		return nil, nil
	}
	for _, child := range m.Block.Children {
		e, ok := m.entries[child.Name]
		if !ok {
			if !m.allowUnknown {
				return nil, NodeErr(&child, "unknown directive %q", child.Name)
			}
			unmatched = append(unmatched, child)
			continue
		}
		child := child
		if err := e.mapper(m, &child); err != nil {
			return nil, err
		}
		e.seen = true
	}

	for _, name := range m.order {
		e := m.entries[name]
		if e.required && !e.seen {
			return nil, NodeErr(m.Block, "missing required directive %q", name)
		}
	}
	return unmatched, nil
}
