// Package uri parses origin-form request targets.
package uri

import (
	"strings"

	"httpkit/internal/httperr"
)

// URI is a parsed origin-form request target. Query values are
// percent-decoded; keys are kept raw. Duplicate query keys overwrite, so
// the last occurrence wins.
type URI struct {
	Path     string
	Query    map[string]string
	Fragment string
}

// Parse splits an origin-form target into path, query and fragment.
// Only targets beginning with "/" are accepted.
func Parse(target string) (*URI, error) {
	if target == "" || !strings.HasPrefix(target, "/") {
		return nil, httperr.Syntax(httperr.SourceRequestLine, "request target %q is not origin-form", target)
	}

	rest := target
	u := &URI{Query: make(map[string]string)}

	if path, frag, ok := strings.Cut(rest, "#"); ok {
		u.Fragment = frag
		rest = path
	}
	if path, query, ok := strings.Cut(rest, "?"); ok {
		rest = path
		if err := u.parseQuery(query); err != nil {
			return nil, err
		}
	}

	u.Path = rest
	return u, nil
}

func (u *URI) parseQuery(query string) error {
	if query == "" {
		return nil
	}
	for _, pair := range strings.Split(query, "&") {
		if strings.Count(pair, "=") != 1 {
			return httperr.Syntax(httperr.SourceRequestLine, "query pair %q needs exactly one '='", pair)
		}
		key, raw, _ := strings.Cut(pair, "=")
		value, err := percentDecode(raw)
		if err != nil {
			return err
		}
		u.Query[key] = value
	}
	return nil
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func percentDecode(s string) (string, error) {
	if !strings.ContainsRune(s, '%') {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", httperr.Syntax(httperr.SourceRequestLine, "truncated percent escape in %q", s)
		}
		hi, ok1 := fromHex(s[i+1])
		lo, ok2 := fromHex(s[i+2])
		if !ok1 || !ok2 {
			return "", httperr.Syntax(httperr.SourceRequestLine, "bad percent escape in %q", s)
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), nil
}
