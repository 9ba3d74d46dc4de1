// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package urlutil

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Pattern is one entry of a Patterns list. It is either a literal (a full
// URL or a root-relative path) or a regular expression.
type Pattern struct {
	literal string
	re      *regexp.Regexp
}

// Literal returns a Pattern matching a full URL or a root-relative path
// exactly.
func Literal(s string) Pattern { return Pattern{literal: s} }

// Regexp returns a Pattern matching any destination re matches.
func Regexp(re *regexp.Regexp) Pattern { return Pattern{re: re} }

// MustRegexp compiles expr and returns a Pattern for it. It panics when expr
// does not compile.
func MustRegexp(expr string) Pattern { return Regexp(regexp.MustCompile(expr)) }

// String returns the literal or the regular expression source.
func (p Pattern) String() string {
	if p.re != nil {
		return p.re.String()
	}
	return p.literal
}

func (p Pattern) match(dest, origin string) bool {
	if p.re != nil {
		return p.re.MatchString(dest)
	}
	if p.literal == "" {
		return false
	}
	return Resolve(origin, p.literal) == dest
}

// Patterns describes the set of destinations a provider applies to. All
// matches every destination; otherwise List is consulted in order. The zero
// value matches nothing.
type Patterns struct {
	All  bool
	List []Pattern
}

// MatchAll returns Patterns that match every destination.
func MatchAll() Patterns { return Patterns{All: true} }

// NewPatterns returns Patterns for the given list.
func NewPatterns(p ...Pattern) Patterns { return Patterns{List: p} }

// Empty reports whether p can never match.
func (p Patterns) Empty() bool { return !p.All && len(p.List) == 0 }

// Match reports whether dest matches p. Root-relative literals are resolved
// against origin before comparing.
func Match(dest, origin string, p Patterns) bool {
	if p.All {
		return true
	}
	for _, pat := range p.List {
		if pat.match(dest, origin) {
			return true
		}
	}
	return false
}

// UnmarshalYAML accepts a boolean, or a sequence whose entries are either
// strings or mappings of the form {regex: <expr>}.
func (p *Patterns) UnmarshalYAML(node *yaml.Node) error {
	const op = "urlutil.(Patterns).UnmarshalYAML"
	switch node.Kind {
	case yaml.ScalarNode:
		var all bool
		if err := node.Decode(&all); err != nil {
			return fmt.Errorf("%s: line %d: expected a boolean or a list: %w", op, node.Line, err)
		}
		*p = Patterns{All: all}
		return nil
	case yaml.SequenceNode:
		list := make([]Pattern, 0, len(node.Content))
		for _, entry := range node.Content {
			switch entry.Kind {
			case yaml.ScalarNode:
				list = append(list, Literal(entry.Value))
			case yaml.MappingNode:
				var m struct {
					Regex string `yaml:"regex"`
				}
				if err := entry.Decode(&m); err != nil {
					return fmt.Errorf("%s: line %d: %w", op, entry.Line, err)
				}
				re, err := regexp.Compile(m.Regex)
				if err != nil {
					return fmt.Errorf("%s: line %d: invalid regex %q: %w", op, entry.Line, m.Regex, err)
				}
				list = append(list, Regexp(re))
			default:
				return fmt.Errorf("%s: line %d: unsupported pattern entry", op, entry.Line)
			}
		}
		*p = Patterns{List: list}
		return nil
	default:
		return fmt.Errorf("%s: line %d: expected a boolean or a list", op, node.Line)
	}
}

// MarshalYAML is the inverse of UnmarshalYAML.
func (p Patterns) MarshalYAML() (interface{}, error) {
	if p.All || len(p.List) == 0 {
		return p.All, nil
	}
	out := make([]interface{}, 0, len(p.List))
	for _, pat := range p.List {
		if pat.re != nil {
			out = append(out, map[string]string{"regex": pat.re.String()})
			continue
		}
		out = append(out, pat.literal)
	}
	return out, nil
}
