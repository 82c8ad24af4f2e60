package response

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"

	"httpkit/internal/httperr"
)

// mediaTypes maps file extensions to Content-Type values for File.
var mediaTypes = map[string]string{
	".html": "text/html",
	".txt":  "text/plain",
	".jpg":  "image/jpeg",
	".css":  "text/css",
	".js":   "text/javascript",
	".mp4":  "video/mp4",
}

const defaultMediaType = "application/octet-stream"

// MediaTypeForExt returns the media type for a file extension.
func MediaTypeForExt(ext string) string {
	if mt, ok := mediaTypes[strings.ToLower(ext)]; ok {
		return mt
	}
	return defaultMediaType
}

// Buffer sends a complete in-memory payload with the given status and
// media type. Without transforms attached this goes out fixed-length.
func (w *Writer) Buffer(status int, mediaType string, body []byte) error {
	if err := w.WriteStatus(status); err != nil {
		return err
	}
	if !w.headerKeyWritten("content-type") {
		if err := w.WriteHeader("content-type", mediaType); err != nil {
			return err
		}
	}
	w.SetBodySize(int64(len(body)))
	if _, err := w.WriteBody(body); err != nil {
		return err
	}
	return w.EndBody()
}

// Text sends a plain-text response.
func (w *Writer) Text(status int, body string) error {
	return w.Buffer(status, "text/plain; charset=utf-8", []byte(body))
}

// HTML sends an HTML response.
func (w *Writer) HTML(status int, body string) error {
	return w.Buffer(status, "text/html; charset=utf-8", []byte(body))
}

// JSON marshals v and sends it as application/json.
func (w *Writer) JSON(status int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.Buffer(status, "application/json; charset=utf-8", b)
}

// Redirect sends an empty redirect response with a Location header.
func (w *Writer) Redirect(location string, status int) error {
	if err := w.WriteStatus(status); err != nil {
		return err
	}
	if err := w.WriteHeader("location", location); err != nil {
		return err
	}
	w.SetBodySize(0)
	return w.EndBody()
}

// Render executes an HTML template into the body. Template output has no
// known size, so the response goes out chunked.
func (w *Writer) Render(t *template.Template, data any, status int) error {
	if err := w.WriteStatus(status); err != nil {
		return err
	}
	if !w.headerKeyWritten("content-type") {
		if err := w.WriteHeader("content-type", "text/html; charset=utf-8"); err != nil {
			return err
		}
	}
	if err := w.BeginBody(); err != nil {
		return err
	}
	if w.excludeBody {
		return nil
	}
	if err := t.Execute(bodyWriter{w}, data); err != nil {
		return err
	}
	return w.EndBody()
}

// bodyWriter adapts WriteBody to io.Writer for template execution.
type bodyWriter struct{ w *Writer }

func (bw bodyWriter) Write(p []byte) (int, error) { return bw.w.WriteBody(p) }

// fileCopyChunk is the read size used when streaming file contents.
const fileCopyChunk = 32 * 1024

// File streams the file at path. The size learned from stat enables
// fixed-length transmission when no transform is stacked; the media type
// comes from the extension. Body-suppressed responses still get the
// headers a GET would have produced.
func (w *Writer) File(path string, status int) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("httpkit: %s is a directory", path)
	}

	if err := w.WriteStatus(status); err != nil {
		return err
	}
	if !w.headerKeyWritten("content-type") {
		if err := w.WriteHeader("content-type", MediaTypeForExt(filepath.Ext(path))); err != nil {
			return err
		}
	}
	w.SetBodySize(info.Size())

	if err := w.BeginBody(); err != nil {
		return err
	}
	if w.excludeBody {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return httperr.Network(err)
	}
	defer f.Close()

	buf := make([]byte, fileCopyChunk)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := w.WriteBody(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return httperr.Network(rerr)
		}
	}
	return w.EndBody()
}
