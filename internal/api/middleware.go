package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/signalsfoundry/gridplanner/internal/logging"
)

// OperationIDHeader carries the operation id in both directions.
const OperationIDHeader = "X-Operation-ID"

// operationID adopts the caller's operation id, or mints one, and attaches
// an annotated logger to the request context.
func (s *Server) operationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if incoming := r.Header.Get(OperationIDHeader); incoming != "" {
			ctx = logging.ContextWithOperationID(ctx, incoming)
		}
		ctx, reqLog := logging.WithOperationLogger(ctx, s.log.With(
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
		))
		ctx = logging.ContextWithLogger(ctx, reqLog)
		w.Header().Set(OperationIDHeader, logging.OperationIDFromContext(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// instrument logs and records every request against its route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, r.Method, ww.Status(), elapsed)
		}
		logging.FromContext(r.Context(), s.log).Debug(r.Context(), "request served",
			logging.String("route", route),
			logging.Int("status", ww.Status()),
			logging.Duration("elapsed", elapsed),
		)
	})
}
