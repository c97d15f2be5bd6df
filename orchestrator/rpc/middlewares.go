package rpc

import (
	"context"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"connectrpc.com/connect"
	connectcors "connectrpc.com/cors"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// accessLog writes one line per HTTP request. Probes and metric scrapes
// under /server/ only show up at debug level.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			ev := Logger.Info()
			switch {
			case ww.Status() >= http.StatusInternalServerError:
				ev = Logger.Warn()
			case strings.HasPrefix(r.URL.Path, "/server/"):
				ev = Logger.Debug()
			}
			ev.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Str("remote", r.RemoteAddr).
				Dur("took", time.Since(start)).
				Msg("http")
		}()
		next.ServeHTTP(ww, r)
	})
}

// panicGuard answers 500 for a panic outside a Connect handler, which
// connect.WithRecover already covers.
func panicGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if p == http.ErrAbortHandler {
				panic(p)
			}
			Logger.Error().
				Interface("panic", p).
				Str("path", r.URL.Path).
				Bytes("stack", debug.Stack()).
				Msg("HTTP handler panicked")
			w.WriteHeader(http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// withCORS allows browser clients to speak Connect, gRPC-Web and gRPC.
// Credentials are only allowed for an explicit origin list.
func withCORS(origins []string, next http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   connectcors.AllowedMethods(),
		AllowedHeaders:   connectcors.AllowedHeaders(),
		ExposedHeaders:   connectcors.ExposedHeaders(),
		AllowCredentials: !slices.Contains(origins, "*"),
		MaxAge:           int((2 * time.Hour).Seconds()),
	}).Handler(next)
}

// callLog logs every procedure call. Transactions log at info, queries at
// debug, failures at warn with the Connect code the client received.
func callLog() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			procedure := req.Spec().Procedure
			ev := Logger.Debug()
			switch {
			case err != nil:
				ev = Logger.Warn().Err(err).Stringer("code", connect.CodeOf(err))
			case mutates(procedure):
				ev = Logger.Info()
			}
			ev.
				Str("request_id", middleware.GetReqID(ctx)).
				Str("procedure", procedure).
				Str("protocol", req.Peer().Protocol).
				Dur("took", time.Since(start)).
				Msg("rpc")
			return resp, err
		}
	}
}

// mutates reports whether a procedure commits a transaction.
func mutates(procedure string) bool {
	switch procedure {
	case WrapAndSendProcedure, FundProcedure, RelayProcedure, RouterProcedure, CustodyProcedure, UnwrapProcedure:
		return true
	}
	return false
}

// errorCodes gives every failed call a Connect code, see connectError.
func errorCodes() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			resp, err := next(ctx, req)
			if err != nil {
				return nil, connectError(err)
			}
			return resp, nil
		}
	}
}
