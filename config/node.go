// Package config implements ashpost's own directive-block configuration
// language, modeled on maddy's Maddyfile parser:
//
//	name arg0 arg1 {
//	    child0 value
//	    child1 value
//	}
//
// It is intentionally small (no macros, snippets, or imports) since
// ashpost only needs a handful of top-level directives, but keeps a Node
// shape and a Map binding idiom (one handler closure per directive) for
// readable directive handlers.
package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Node is a single parsed directive or block.
type Node struct {
	Name     string
	Args     []string
	Children []Node
	File     string
	Line     int
}

// NodeErr formats an error, prefixed with the node's source location when
// known.
func NodeErr(node *Node, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if node == nil || node.File == "" {
		return fmt.Errorf("%s", msg)
	}
	return fmt.Errorf("%s:%d: %s", node.File, node.Line, msg)
}

// Read parses the whole of r as a top-level list of nodes.
func Read(r io.Reader, location string) ([]Node, error) {
	lines, err := tokenizeLines(r)
	if err != nil {
		return nil, err
	}
	p := &parser{lines: lines, file: location}
	nodes, err := p.readBlock()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.lines) {
		return nil, fmt.Errorf("%s:%d: unexpected }", location, p.lines[p.pos].num)
	}
	return nodes, nil
}

type tokenLine struct {
	num    int
	tokens []string
}

// tokenizeLines splits the input into non-empty, comment-stripped,
// whitespace-tokenized lines. '#' starts a line comment; double-quoted
// tokens may contain spaces.
func tokenizeLines(r io.Reader) ([]tokenLine, error) {
	scanner := bufio.NewScanner(r)
	var out []tokenLine
	num := 0
	for scanner.Scan() {
		num++
		toks, err := tokenizeLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", num, err)
		}
		if len(toks) == 0 {
			continue
		}
		out = append(out, tokenLine{num: num, tokens: toks})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func tokenizeLine(line string) ([]string, error) {
	var toks []string
	var cur strings.Builder
	inQuotes := false
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		switch {
		case ch == '"':
			inQuotes = !inQuotes
		case ch == '#' && !inQuotes:
			flush()
			return toks, nil
		case ch == '{' && !inQuotes:
			flush()
			toks = append(toks, "{")
		case ch == '}' && !inQuotes:
			flush()
			toks = append(toks, "}")
		case (ch == ' ' || ch == '\t') && !inQuotes:
			flush()
		default:
			cur.WriteRune(ch)
		}
	}
	if inQuotes {
		return nil, fmt.Errorf("unterminated quoted string")
	}
	flush()
	return toks, nil
}

type parser struct {
	lines []tokenLine
	pos   int
	file  string
}

// readBlock reads sibling nodes until it consumes a line whose only token is
// "}" (which it swallows and returns for), or runs out of input.
func (p *parser) readBlock() ([]Node, error) {
	var nodes []Node
	for p.pos < len(p.lines) {
		line := p.lines[p.pos]
		if len(line.tokens) == 1 && line.tokens[0] == "}" {
			p.pos++
			return nodes, nil
		}

		node, err := p.readNode(line)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (p *parser) readNode(line tokenLine) (Node, error) {
	p.pos++
	toks := line.tokens
	node := Node{File: p.file, Line: line.num, Name: toks[0]}

	rest := toks[1:]
	if len(rest) > 0 && rest[len(rest)-1] == "{" {
		node.Args = rest[:len(rest)-1]
		children, err := p.readBlock()
		if err != nil {
			return node, err
		}
		node.Children = children
		return node, nil
	}

	for _, t := range rest {
		if t == "{" || t == "}" {
			return node, fmt.Errorf("%s:%d: unexpected %q", p.file, line.num, t)
		}
	}
	node.Args = rest
	return node, nil
}
