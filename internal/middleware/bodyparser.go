package middleware

import (
	"context"
	"encoding/json"

	"httpkit/internal/headers"
	"httpkit/internal/httperr"
	"httpkit/internal/pattern"
	"httpkit/internal/request"
	"httpkit/internal/response"
	"httpkit/internal/router"
)

// BagKeyJSON is the user-bag key the decoded JSON body is published
// under.
const BagKeyJSON = "json"

// BodyJSON installs a buffered body sized by Content-Length, waits for
// it to saturate, and publishes the decoded JSON value in the request's
// user bag. Requests without a JSON content type or without a body pass
// through.
func BodyJSON() router.HandlerFunc {
	return func(ctx context.Context, m *pattern.Match, req *request.Request, res *response.Writer) (bool, error) {
		ctVal, ok := req.Headers.Get("content-type")
		if !ok {
			return true, nil
		}
		ct, err := headers.ParseContentType(ctVal)
		if err != nil || ct.MediaType != "application/json" {
			return true, nil
		}

		n, present, err := req.Headers.ContentLength()
		if err != nil {
			return false, err
		}
		if !present || n == 0 {
			return true, nil
		}

		body := request.NewBufferedBody(int(n))
		if err := req.SetBody(body); err != nil {
			return false, err
		}
		if err := req.WaitBody(); err != nil {
			return false, err
		}

		var v any
		if err := json.Unmarshal(body.Bytes(), &v); err != nil {
			return false, httperr.Syntax(httperr.SourceRequestBody, "invalid JSON body: %v", err)
		}
		req.Put(BagKeyJSON, v)
		return true, nil
	}
}
