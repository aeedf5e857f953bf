package state

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aretw0/mcpecho/pkg/domain"
)

// MaxPatternLength bounds enumeration patterns.
const MaxPatternLength = 256

// Pattern is a compiled key glob. '*' matches zero or more characters and
// every other character matches itself. The whole key must match.
type Pattern struct {
	raw   string
	parts []string
}

// CompilePattern validates p and prepares it for matching.
// An empty pattern is treated as "*".
func CompilePattern(p string) (*Pattern, error) {
	if p == "" {
		p = "*"
	}
	if len(p) > MaxPatternLength {
		return nil, fmt.Errorf("%w: longer than %d bytes", domain.ErrInvalidPattern, MaxPatternLength)
	}
	if !utf8.ValidString(p) {
		return nil, fmt.Errorf("%w: not valid UTF-8", domain.ErrInvalidPattern)
	}
	for i, r := range p {
		if unicode.IsControl(r) {
			return nil, fmt.Errorf("%w: control character at offset %d", domain.ErrInvalidPattern, i)
		}
	}
	return &Pattern{raw: p, parts: strings.Split(p, "*")}, nil
}

// String returns the source pattern.
func (p *Pattern) String() string {
	return p.raw
}

// Match reports whether key matches the whole pattern.
func (p *Pattern) Match(key string) bool {
	if len(p.parts) == 1 {
		return key == p.parts[0]
	}

	head := p.parts[0]
	if !strings.HasPrefix(key, head) {
		return false
	}
	rest := key[len(head):]

	// Leftmost placement of each inner literal leaves the most room for the tail.
	for _, lit := range p.parts[1 : len(p.parts)-1] {
		i := strings.Index(rest, lit)
		if i < 0 {
			return false
		}
		rest = rest[i+len(lit):]
	}

	return strings.HasSuffix(rest, p.parts[len(p.parts)-1])
}

// Filter returns the keys that match, preserving order.
func (p *Pattern) Filter(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if p.Match(k) {
			out = append(out, k)
		}
	}
	return out
}
