package rest

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/alarm-monitor/internal/logger"
)

const (
	requestIDHeader = "X-Request-ID"
	corsMaxAge      = 3600
)

var errHijackUnsupported = errors.New("response writer does not support hijacking")

// requestID assigns a request id, echoes it in the response and adds it to the context logger.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(requestIDHeader, id)

		ctx := logger.WithKV(r.Context(), "request_id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withLogger puts the server logger into the request context.
func withLogger(base context.Context) func(http.Handler) http.Handler {
	l := logger.FromContext(base)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(logger.ToContext(r.Context(), l)))
		})
	}
}

// accessLog logs every completed request.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			start   = time.Now()
			wrapped = &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		)

		next.ServeHTTP(wrapped, r)

		logger.DebugKV(r.Context(), "Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", r.RemoteAddr)
	})
}

// recovery converts handler panics into 500 responses.
func recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler { //nolint:errorlint,err113 // Sentinel panic value of net/http.
					panic(rec)
				}

				logger.ErrorKV(r.Context(), "Panic recovered",
					"panic", rec,
					"path", r.URL.Path,
					"stack", string(debug.Stack()))

				sendError(w, http.StatusInternalServerError, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// cors answers preflight requests and sets CORS headers for allowed origins.
func cors(allowedOrigins []string) func(http.Handler) http.Handler {
	var (
		anyOrigin = slices.Contains(allowedOrigins, "*")
		methods   = strings.Join([]string{http.MethodGet, http.MethodDelete, http.MethodOptions}, ", ")
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && (anyOrigin || slices.Contains(allowedOrigins, origin)) {
				header := w.Header()
				header.Set("Access-Control-Allow-Origin", origin)
				header.Set("Access-Control-Allow-Methods", methods)
				header.Set("Access-Control-Allow-Headers", "Content-Type, "+requestIDHeader)
				header.Set("Access-Control-Max-Age", strconv.Itoa(corsMaxAge))
				header.Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the response status and keeps streaming and
// hijacking available to the wrapped handlers.
type statusRecorder struct {
	http.ResponseWriter

	// status is the code passed to WriteHeader.
	status int
	// wroteHeader reports whether WriteHeader already ran.
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}

	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true

	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if flusher, ok := s.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errHijackUnsupported
	}

	s.status = http.StatusSwitchingProtocols

	return hijacker.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
