package server

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"httpkit/internal/httperr"
	"httpkit/internal/request"
	"httpkit/internal/response"
)

const badRequestPage = `<html>
  <head><title>400 Bad Request</title></head>
  <body><h1>Bad Request</h1><p>The request could not be parsed.</p></body>
</html>`

const versionPage = `<html>
  <head><title>505 HTTP Version Not Supported</title></head>
  <body><h1>HTTP Version Not Supported</h1><p>Only HTTP/1.1 is served here.</p></body>
</html>`

// handle serves one connection: parse a request to its headers, run the
// router, finish the response, then reset the parser for the next
// pipelined request. A new request never starts parsing before the
// prior response is finished.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	log := s.sessionLogger(conn)
	ctx := context.Background()

	req := request.New()
	req.Bind(conn)
	req.RemoteAddr = conn.RemoteAddr().String()

	for s.state.Load() {
		if err := req.WaitHeaders(); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			s.respondError(conn, log, err)
			return
		}

		log.Debug("request parsed",
			zap.String("method", string(req.Method)),
			zap.String("target", req.Target))

		res := response.NewWriter(conn, response.WithServerIdent(s.ident()))
		if req.Method == request.MethodHead {
			res.SetExcludeBody(true)
		}
		if req.Headers.HasToken("connection", "close") {
			res.SetKeepAlive(false)
		}

		if _, err := s.router.Handle(ctx, req, res); err != nil {
			if res.State() > response.StateWritingStatus {
				// Committed responses cannot be rewritten.
				log.Error("dispatch failed mid-response", zap.Error(err))
				return
			}
			s.respondError(conn, log, err)
			return
		}

		if err := s.finishResponse(res); err != nil {
			log.Error("finishing response failed", zap.Error(err))
			return
		}
		if err := req.Finish(); err != nil {
			log.Error("draining request failed", zap.Error(err))
			return
		}

		if !res.KeepAlive() {
			return
		}
		if err := req.Next(); err != nil {
			s.respondError(conn, log, err)
			return
		}
	}
}

// finishResponse completes whatever the handlers left unfinished. A
// response still awaiting its status line means no rule claimed the
// request.
func (s *Server) finishResponse(res *response.Writer) error {
	switch res.State() {
	case response.StateFinished:
		return nil
	case response.StateWritingStatus:
		return res.Text(404, "Not found\n")
	default:
		return res.EndBody()
	}
}

// respondError maps an error to a wire response where one is still
// possible, then tears the transport down.
func (s *Server) respondError(conn net.Conn, log *zap.Logger, err error) {
	if se, ok := httperr.IsSyntax(err); ok {
		log.Warn("malformed request", zap.String("source", string(se.Source)), zap.Error(err))
		s.writeErrorPage(conn, log, 400, badRequestPage)
		return
	}
	if ve, ok := httperr.IsVersion(err); ok {
		log.Warn("unsupported version", zap.String("token", ve.Token))
		s.writeErrorPage(conn, log, 505, versionPage)
		return
	}
	if httperr.IsNetwork(err) {
		log.Error("network failure", zap.Error(err))
		return
	}
	log.Error("connection torn down", zap.Error(err))
}

func (s *Server) writeErrorPage(conn net.Conn, log *zap.Logger, status int, page string) {
	res := response.NewWriter(conn, response.WithServerIdent(s.ident()))
	res.SetKeepAlive(false)
	if err := res.HTML(status, page); err != nil {
		log.Error("error page write failed", zap.Error(err))
	}
}

func (s *Server) ident() string {
	if s.serverIdent != "" {
		return s.serverIdent
	}
	return ""
}

// sessionLogger derives the per-connection logging context. Error logs
// carry the remote address and port.
func (s *Server) sessionLogger(conn net.Conn) *zap.Logger {
	remote := conn.RemoteAddr()
	return s.log.With(
		zap.String("conn_id", uuid.NewString()),
		zap.String("remote_network", remote.Network()),
		zap.String("remote_addr", remote.String()),
	)
}
