package middleware

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"httpkit/internal/pattern"
	"httpkit/internal/request"
	"httpkit/internal/response"
	"httpkit/internal/router"
)

// Static serves files under root from the wildcard remainder of the
// matched pattern. Missing files fall through to the rest of the chain;
// traversal outside root is refused the same way.
func Static(root string) router.HandlerFunc {
	return func(ctx context.Context, m *pattern.Match, req *request.Request, res *response.Writer) (bool, error) {
		rel := m.Remainder
		if !m.HasRemainder {
			rel = strings.TrimPrefix(req.URI.Path, "/")
		}

		clean := path.Clean("/" + rel)
		if strings.Contains(clean, "..") {
			return true, nil
		}
		target := filepath.Join(root, filepath.FromSlash(clean))

		info, err := os.Stat(target)
		if err != nil || info.IsDir() {
			return true, nil
		}
		if err := res.File(target, 200); err != nil {
			return false, err
		}
		return false, nil
	}
}
