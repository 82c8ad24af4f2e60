package headers

import (
	"strconv"
	"strings"

	"github.com/samber/lo"

	"httpkit/internal/httperr"
)

// RangeSpec is one from-to pair of a Range header. A nil bound is open,
// as in "bytes=500-" or "bytes=-500".
type RangeSpec struct {
	From *int64
	To   *int64
}

// Range is a decoded Range header. Only the bytes unit is recognized.
type Range struct {
	Unit  string
	Specs []RangeSpec
}

func syntaxValue(format string, args ...any) error {
	return httperr.Syntax(httperr.SourceHeaderValue, format, args...)
}

// ParseRange decodes "bytes=from-to[,from-to]*". Either bound of a pair
// may be empty, but not both.
func ParseRange(v string) (Range, error) {
	unit, rest, ok := strings.Cut(v, "=")
	if !ok {
		return Range{}, syntaxValue("range %q missing unit separator", v)
	}
	unit = strings.ToLower(strings.TrimSpace(unit))
	if unit != "bytes" {
		return Range{}, syntaxValue("unrecognized range unit %q", unit)
	}

	r := Range{Unit: unit}
	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		from, to, ok := strings.Cut(part, "-")
		if !ok {
			return Range{}, syntaxValue("range spec %q missing dash", part)
		}
		if from == "" && to == "" {
			return Range{}, syntaxValue("range spec %q has no bounds", part)
		}
		var spec RangeSpec
		if from != "" {
			n, err := strconv.ParseInt(from, 10, 64)
			if err != nil {
				return Range{}, syntaxValue("bad range start %q", from)
			}
			spec.From = &n
		}
		if to != "" {
			n, err := strconv.ParseInt(to, 10, 64)
			if err != nil {
				return Range{}, syntaxValue("bad range end %q", to)
			}
			spec.To = &n
		}
		r.Specs = append(r.Specs, spec)
	}
	return r, nil
}

// ContentRange is a decoded Content-Range header. SizeKnown is false for
// the "*" total.
type ContentRange struct {
	Unit      string
	Start     int64
	End       int64
	Size      int64
	SizeKnown bool
}

// ParseContentRange decodes "bytes start-end/(size|*)".
func ParseContentRange(v string) (ContentRange, error) {
	unit, rest, ok := strings.Cut(strings.TrimSpace(v), " ")
	if !ok {
		return ContentRange{}, syntaxValue("content-range %q missing unit", v)
	}
	unit = strings.ToLower(unit)
	if unit != "bytes" {
		return ContentRange{}, syntaxValue("unrecognized content-range unit %q", unit)
	}

	span, total, ok := strings.Cut(rest, "/")
	if !ok {
		return ContentRange{}, syntaxValue("content-range %q missing total", v)
	}
	startStr, endStr, ok := strings.Cut(span, "-")
	if !ok {
		return ContentRange{}, syntaxValue("content-range span %q missing dash", span)
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return ContentRange{}, syntaxValue("bad content-range start %q", startStr)
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return ContentRange{}, syntaxValue("bad content-range end %q", endStr)
	}

	cr := ContentRange{Unit: unit, Start: start, End: end}
	if total != "*" {
		size, err := strconv.ParseInt(total, 10, 64)
		if err != nil {
			return ContentRange{}, syntaxValue("bad content-range size %q", total)
		}
		cr.Size = size
		cr.SizeKnown = true
	}
	return cr, nil
}

// Tokens splits a comma-separated header value into trimmed, lowercased
// elements, dropping empties. Used for Content-Encoding, Transfer-Encoding,
// Accept-Encoding and Connection.
func Tokens(v string) []string {
	return lo.FilterMap(strings.Split(v, ","), func(t string, _ int) (string, bool) {
		t = strings.ToLower(strings.TrimSpace(t))
		return t, t != ""
	})
}

// TokenList reads the header under key and merges every value's tokens.
func (h *Headers) TokenList(key string) []string {
	return lo.FlatMap(h.Values(key), func(v string, _ int) []string {
		return Tokens(v)
	})
}

// HasToken reports whether token appears in the comma-separated header
// under key.
func (h *Headers) HasToken(key, token string) bool {
	return lo.Contains(h.TokenList(key), strings.ToLower(token))
}

// ContentType is a decoded Content-Type header. Charset and Boundary are
// empty when the parameter is absent.
type ContentType struct {
	MediaType string
	Charset   string
	Boundary  string
}

// ParseContentType decodes a media type with up to two parameters. Only
// the charset and boundary parameter keys are recognized.
func ParseContentType(v string) (ContentType, error) {
	parts := strings.Split(v, ";")
	if len(parts) > 3 {
		return ContentType{}, syntaxValue("content-type %q has too many parameters", v)
	}

	ct := ContentType{MediaType: strings.ToLower(strings.TrimSpace(parts[0]))}
	if ct.MediaType == "" {
		return ContentType{}, syntaxValue("content-type %q has empty media type", v)
	}

	for _, param := range parts[1:] {
		key, val, ok := strings.Cut(param, "=")
		if !ok {
			return ContentType{}, syntaxValue("content-type parameter %q missing '='", param)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		switch key {
		case "charset":
			ct.Charset = val
		case "boundary":
			ct.Boundary = val
		default:
			return ContentType{}, syntaxValue("unknown content-type parameter %q", key)
		}
	}
	return ct, nil
}

// ContentLength reads and validates the Content-Length header. The second
// return is false when the header is absent.
func (h *Headers) ContentLength() (int64, bool, error) {
	v, ok := h.Get("content-length")
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0, true, syntaxValue("bad content-length %q", v)
	}
	return n, true, nil
}
