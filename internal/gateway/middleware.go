package gateway

import (
	"errors"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/yanizio/appgate/internal/metrics"
	"github.com/yanizio/appgate/internal/requestinfo"
	"github.com/yanizio/appgate/internal/tenant"
)

// withTenant leases the tenant connection for the request host and
// releases it when the handler returns.
func (s *Server) withTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.opts.Cache.Acquire(r.Context(), r.Host)
		switch {
		case err == nil:
		case errors.Is(err, tenant.ErrNotFound):
			writeStatus(w, http.StatusNotFound)
			return
		default:
			s.logger(r).Warn("tenant unavailable", zap.String("host", r.Host), zap.Error(err))
			writeStatus(w, http.StatusServiceUnavailable)
			return
		}
		defer conn.Release()

		next.ServeHTTP(w, r.WithContext(tenant.WithConn(r.Context(), conn)))
	})
}

// accessLog writes one line per request and observes RequestDuration.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		elapsed := time.Since(start)
		metrics.RequestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("host", r.Host),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", elapsed),
		}
		if ri := requestinfo.FromContext(r.Context()); ri != nil {
			fields = append(fields, zap.Object("client", ri))
		}
		s.log.Info("request", fields...)
	})
}

// recoverer turns a handler panic into the generic 500 body.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger(r).Error("handler panic",
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			writeStatus(w, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// logger returns s.log tagged with the request id when one is known.
func (s *Server) logger(r *http.Request) *zap.Logger {
	if ri := requestinfo.FromContext(r.Context()); ri != nil {
		return s.log.With(zap.String("request_id", ri.RequestID))
	}
	return s.log
}
