// Package pattern compiles route patterns into matchers. A pattern is a
// "/"-separated sequence of literal segments, ":name" parameters and an
// optional terminal "*" wildcard that captures the remaining path.
package pattern

import (
	"regexp"
	"strconv"
	"strings"

	"httpkit/internal/httperr"
)

// remainderGroup names the regexp group holding the wildcard capture.
// Parameter names starting and ending with "__" are reserved for it.
const remainderGroup = "__rest__"

var paramName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Pattern is a compiled route pattern.
type Pattern struct {
	raw      string
	re       *regexp.Regexp
	wildcard bool
	params   map[string]string // regexp group name -> parameter name
}

// Match is a successful pattern match: captured parameters plus the
// remainder consumed by a trailing wildcard, if any.
type Match struct {
	Params       map[string]string
	Remainder    string
	HasRemainder bool
}

// Normalize collapses runs of "/" and strips a single leading and
// trailing slash, so "////foo///bar/" becomes "foo/bar".
func Normalize(path string) string {
	var b strings.Builder
	b.Grow(len(path))
	prevSlash := false
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
			b.WriteByte('/')
			continue
		}
		prevSlash = false
		b.WriteByte(path[i])
	}
	s := b.String()
	s = strings.TrimPrefix(s, "/")
	s = strings.TrimSuffix(s, "/")
	return s
}

// Compile builds a matcher from raw. Invalid patterns (duplicate or
// reserved parameter names, a wildcard that is not the final segment, bad
// parameter characters) fail with an invariant error.
func Compile(raw string) (*Pattern, error) {
	normalized := Normalize(raw)

	var expr strings.Builder
	expr.WriteString("^")

	wildcard := false
	seen := map[string]bool{}
	// Parameter names may contain "-", which regexp group names cannot,
	// so each parameter gets a positional group name.
	groups := map[string]string{}

	if normalized != "" {
		segments := strings.Split(normalized, "/")
		for i, seg := range segments {
			switch {
			case seg == "*":
				if i != len(segments)-1 {
					return nil, httperr.Invariant("wildcard in %q must be the final segment", raw)
				}
				wildcard = true
				if i == 0 {
					expr.WriteString("(?P<" + remainderGroup + ">.*)")
				} else {
					expr.WriteString("(?:/(?P<" + remainderGroup + ">.*))?")
				}
			case strings.HasPrefix(seg, ":"):
				name := seg[1:]
				if !paramName.MatchString(name) {
					return nil, httperr.Invariant("bad parameter name %q in %q", name, raw)
				}
				if strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__") {
					return nil, httperr.Invariant("parameter name %q in %q is reserved", name, raw)
				}
				if seen[name] {
					return nil, httperr.Invariant("duplicate parameter name %q in %q", name, raw)
				}
				seen[name] = true
				if i > 0 {
					expr.WriteString("/")
				}
				group := "p" + strconv.Itoa(len(groups))
				groups[group] = name
				expr.WriteString("(?P<" + group + ">[^/]+)")
			default:
				if i > 0 {
					expr.WriteString("/")
				}
				expr.WriteString(regexp.QuoteMeta(seg))
			}
		}
	}

	expr.WriteString("$")
	re, err := regexp.Compile(expr.String())
	if err != nil {
		return nil, httperr.Invariant("pattern %q does not compile: %v", raw, err)
	}
	return &Pattern{raw: raw, re: re, wildcard: wildcard, params: groups}, nil
}

// MustCompile is Compile that panics on error. Route registration treats
// a bad pattern as a programmer error.
func MustCompile(raw string) *Pattern {
	p, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the original pattern text.
func (p *Pattern) String() string { return p.raw }

// Wildcard reports whether the pattern ends in "*".
func (p *Pattern) Wildcard() bool { return p.wildcard }

// Match tests path against the pattern. The path is normalized the same
// way the pattern was, so Match(p) and Match(Normalize(p)) agree.
func (p *Pattern) Match(path string) (*Match, bool) {
	sub := p.re.FindStringSubmatch(Normalize(path))
	if sub == nil {
		return nil, false
	}

	m := &Match{Params: make(map[string]string)}
	for i, name := range p.re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		if name == remainderGroup {
			m.Remainder = sub[i]
			m.HasRemainder = p.wildcard
			continue
		}
		m.Params[p.params[name]] = sub[i]
	}
	return m, true
}
