package middleware

import (
	"context"
	"errors"
	"strings"

	"httpkit/internal/pattern"
	"httpkit/internal/request"
	"httpkit/internal/response"
	"httpkit/internal/router"
)

var errTruncatedEscape = errors.New("httpkit: bad percent escape in cookie value")

// BagKeyCookies is the user-bag key the decoded cookie map is published
// under.
const BagKeyCookies = "cookies"

// Cookies decodes the Cookie request header into a map[string]string in
// the user bag. Values are percent-decoded; undecodable or nameless
// pairs are dropped rather than failing the request.
func Cookies() router.HandlerFunc {
	return func(ctx context.Context, m *pattern.Match, req *request.Request, res *response.Writer) (bool, error) {
		cookies := make(map[string]string)
		for _, raw := range req.Headers.Values("cookie") {
			for _, pair := range strings.Split(raw, ";") {
				name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
				if !ok || name == "" {
					continue
				}
				decoded, err := percentDecode(value)
				if err != nil {
					continue
				}
				cookies[name] = decoded
			}
		}
		req.Put(BagKeyCookies, cookies)
		return true, nil
	}
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
			return "", errTruncatedEscape
		}
		hi, ok1 := fromHex(s[i+1])
		lo, ok2 := fromHex(s[i+2])
		if !ok1 || !ok2 {
			return "", errTruncatedEscape
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), nil
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
