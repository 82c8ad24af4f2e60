package middleware

import (
	"context"
	"io"
	"time"

	"github.com/samber/lo"

	"httpkit/internal/pattern"
	"httpkit/internal/request"
	"httpkit/internal/response"
	"httpkit/internal/router"
	"httpkit/internal/util"
)

// Snapshot is one cached response: status, the replayable header pairs
// and the body bytes as the handler produced them (before transforms).
type Snapshot struct {
	Status  int
	Headers [][2]string
	Body    []byte
}

// Per-connection headers are never replayed from the cache; the tap
// subscriber filters them, not the writer.
var uncachedHeaders = []string{"server", "date", "connection", "transfer-encoding", "content-length"}

// Cache serves GET responses from store and fills it on misses by
// tapping the response's status and header events and teeing body bytes
// through a passthrough transform. Only 200 responses are stored.
func Cache(store *util.TTLCache[string, *Snapshot], ttl time.Duration) router.HandlerFunc {
	return func(ctx context.Context, m *pattern.Match, req *request.Request, res *response.Writer) (bool, error) {
		if req.Method != request.MethodGet {
			return true, nil
		}

		key := string(req.Method) + " " + req.Target
		if snap, ok := store.Get(key); ok {
			return false, replay(res, snap)
		}

		snap := &Snapshot{}
		res.OnStatus(func(code int, phrase string) {
			snap.Status = code
		})
		res.OnHeader(func(k, v string) {
			if lo.Contains(uncachedHeaders, k) {
				return
			}
			snap.Headers = append(snap.Headers, [2]string{k, v})
		})
		if err := res.PushTransform(func(next io.Writer) (response.Transform, error) {
			return &teeTransform{next: next, snap: snap, store: store, key: key, ttl: ttl}, nil
		}); err != nil {
			return false, err
		}
		return true, nil
	}
}

func replay(res *response.Writer, snap *Snapshot) error {
	if err := res.WriteStatus(snap.Status); err != nil {
		return err
	}
	for _, h := range snap.Headers {
		if err := res.WriteHeader(h[0], h[1]); err != nil {
			return err
		}
	}
	res.SetBodySize(int64(len(snap.Body)))
	if _, err := res.WriteBody(snap.Body); err != nil {
		return err
	}
	return res.EndBody()
}

// teeTransform duplicates body bytes into the snapshot while passing
// them on; the snapshot is committed when the body finishes.
type teeTransform struct {
	next  io.Writer
	snap  *Snapshot
	store *util.TTLCache[string, *Snapshot]
	key   string
	ttl   time.Duration
}

func (t *teeTransform) Write(p []byte) (int, error) {
	t.snap.Body = append(t.snap.Body, p...)
	return t.next.Write(p)
}

func (t *teeTransform) Close() error {
	if t.snap.Status == 200 {
		t.store.Put(t.key, t.snap, t.ttl)
	}
	return nil
}
