// Package headers implements the header multi-map shared by requests and
// responses. Keys are folded to lowercase; values for the same key keep
// their insertion order.
package headers

import (
	"strings"
	"unicode"

	"httpkit/internal/httperr"
)

const (
	headerSeparator = ":"
	crlf            = "\r\n"
)

func isValidFieldChar(r rune) bool {
	return unicode.IsLetter(r) ||
		unicode.IsDigit(r) ||
		strings.ContainsRune("!#$%&'*+-.^_`|~", r)
}

func isValidFieldName(name string) bool {
	if len(name) == 0 {
		return false
	}
	for _, r := range name {
		if !isValidFieldChar(r) {
			return false
		}
	}
	return true
}

// Headers is a case-insensitive multi-map. Keys are stored lowercase and
// iterate in first-insertion order; values per key keep insertion order.
type Headers struct {
	keys []string
	m    map[string][]string
}

func New() *Headers {
	return &Headers{m: make(map[string][]string)}
}

// Add appends value under key.
func (h *Headers) Add(key, value string) {
	k := strings.ToLower(key)
	if _, ok := h.m[k]; !ok {
		h.keys = append(h.keys, k)
	}
	h.m[k] = append(h.m[k], value)
}

// Set replaces every value under key with the single given value.
func (h *Headers) Set(key, value string) {
	k := strings.ToLower(key)
	if _, ok := h.m[k]; !ok {
		h.keys = append(h.keys, k)
	}
	h.m[k] = []string{value}
}

// Get returns the first value under key.
func (h *Headers) Get(key string) (string, bool) {
	vs := h.m[strings.ToLower(key)]
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Values returns every value under key in insertion order.
func (h *Headers) Values(key string) []string {
	return h.m[strings.ToLower(key)]
}

// Index returns the i-th value under key.
func (h *Headers) Index(key string, i int) (string, bool) {
	vs := h.m[strings.ToLower(key)]
	if i < 0 || i >= len(vs) {
		return "", false
	}
	return vs[i], true
}

// Has reports whether key is present.
func (h *Headers) Has(key string) bool {
	_, ok := h.m[strings.ToLower(key)]
	return ok
}

// Del removes key and all its values.
func (h *Headers) Del(key string) {
	k := strings.ToLower(key)
	if _, ok := h.m[k]; !ok {
		return
	}
	delete(h.m, k)
	for i, existing := range h.keys {
		if existing == k {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of distinct keys.
func (h *Headers) Len() int { return len(h.keys) }

// Each calls fn for every key/value pair: keys in first-insertion order,
// values per key in insertion order.
func (h *Headers) Each(fn func(key, value string)) {
	for _, k := range h.keys {
		for _, v := range h.m[k] {
			fn(k, v)
		}
	}
}

// Clone returns a deep copy.
func (h *Headers) Clone() *Headers {
	c := New()
	h.Each(c.Add)
	return c
}

// Parse consumes at most one header line from data. It returns the number
// of bytes consumed; done is true once the empty line terminating the
// header block has been consumed. A zero count with done false means more
// data is needed.
func (h *Headers) Parse(data []byte) (n int, done bool, err error) {
	if strings.HasPrefix(string(data), crlf) {
		return 2, true, nil
	}

	lineEnd := strings.Index(string(data), crlf)
	if lineEnd == -1 {
		return 0, false, nil
	}

	line := string(data[:lineEnd])
	colonIdx := strings.Index(line, headerSeparator)
	if colonIdx <= 0 {
		return 0, false, httperr.Syntax(httperr.SourceRequestHeaders, "malformed header line %q", line)
	}
	if strings.HasSuffix(line[:colonIdx], " ") {
		return 0, false, httperr.Syntax(httperr.SourceRequestHeaders, "whitespace before colon in %q", line)
	}

	key := strings.TrimSpace(line[:colonIdx])
	if !isValidFieldName(key) {
		return 0, false, httperr.Syntax(httperr.SourceRequestHeaders, "invalid header field name %q", key)
	}

	// The value starts after the first colon only; embedded colons stay.
	value := strings.TrimSpace(line[colonIdx+1:])
	if value == "" {
		return 0, false, httperr.Syntax(httperr.SourceRequestHeaders, "empty value for header %q", key)
	}

	h.Add(key, value)
	return lineEnd + 2, false, nil
}
