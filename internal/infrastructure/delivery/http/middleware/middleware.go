// Package middleware holds the HTTP middlewares of the API.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	"vidgrab/internal/auth"
	"vidgrab/internal/consts"
	"vidgrab/internal/errs"
	"vidgrab/internal/infrastructure/delivery/http/response"
	"vidgrab/internal/observability"

	"github.com/google/uuid"
)

type contextKey string

// RequestIDKey holds the request id in the request context.
const RequestIDKey contextKey = "requestID"

const (
	HeaderXRequestID       = "X-Request-ID"
	HeaderAuthorization    = "Authorization"
	HeaderWWWAuthenticate  = "WWW-Authenticate"
	HeaderOrigin           = "Origin"
	HeaderVary             = "Vary"
	HeaderAllowOrigin      = "Access-Control-Allow-Origin"
	HeaderAllowMethods     = "Access-Control-Allow-Methods"
	HeaderAllowHeaders     = "Access-Control-Allow-Headers"
	HeaderAllowCredentials = "Access-Control-Allow-Credentials"
	HeaderExposeHeaders    = "Access-Control-Expose-Headers"
	HeaderMaxAge           = "Access-Control-Max-Age"
	HeaderRequestMethod    = "Access-Control-Request-Method"
	HeaderRequestHeaders   = "Access-Control-Request-Headers"

	maxRequestIDLen = 128
	corsMaxAge      = 10 * time.Minute
)

// RequestLog is the request summary the Logger middleware writes.
type RequestLog struct {
	Method        string `json:"method"`
	URI           string `json:"uri"`
	RemoteAddr    string `json:"remote_addr"`
	Proto         string `json:"proto"`
	ContentLength int64  `json:"content_length"`
	Status        int    `json:"status"`
	Bytes         int64  `json:"bytes"`
	Duration      string `json:"duration"`
}

// RequestIDFromContext returns the id set by RequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)

	return id
}

// Recoverer turns a panic into a 500 unless the response already started.
func Recoverer(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := wrap(w)

			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}

				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}

				log.ErrorContext(r.Context(), "panic recovered",
					slog.Any("panic", rvr),
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("stack", string(debug.Stack())))

				if !rw.wroteHeader {
					response.InternalServerError(rw, consts.RespInternalError, fmt.Errorf("%v", rvr))
				}
			}()

			next.ServeHTTP(rw, r)
		})
	}
}

// RequestID reuses a sane incoming X-Request-ID or generates one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderXRequestID)
		if reqID == "" || len(reqID) > maxRequestIDLen || strings.ContainsFunc(reqID, func(r rune) bool { return r < ' ' || r > '~' }) {
			reqID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), RequestIDKey, reqID)
		w.Header().Set(HeaderXRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger logs every request once it finished.
func Logger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)

			next.ServeHTTP(rw, r)

			level := slog.LevelInfo
			if rw.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}

			log.LogAttrs(r.Context(), level, "http request",
				slog.String("request_id", RequestIDFromContext(r.Context())),
				slog.Any("request", RequestLog{
					Method:        r.Method,
					URI:           r.RequestURI,
					RemoteAddr:    r.RemoteAddr,
					Proto:         r.Proto,
					ContentLength: r.ContentLength,
					Status:        rw.statusCode(),
					Bytes:         rw.bytes,
					Duration:      time.Since(start).String(),
				}))
		})
	}
}

// Metrics records count, latency and size per route pattern. It must run
// right before the mux so that r.Pattern is visible after the call.
func Metrics(m *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)

			next.ServeHTTP(rw, r)

			pattern := r.Pattern
			if pattern == "" {
				pattern = "unmatched"
			}

			m.RecordHTTPRequest(r.Method, pattern, rw.statusCode(), time.Since(start), rw.bytes)
		})
	}
}

// CORS allows the listed origins; "*" allows any.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowAny := slices.Contains(origins, "*")
	methods := strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", ")
	exposed := strings.Join([]string{HeaderXRequestID, "Content-Disposition", "Content-Length"}, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get(HeaderOrigin)
			if origin == "" {
				next.ServeHTTP(w, r)

				return
			}

			h := w.Header()
			h.Add(HeaderVary, HeaderOrigin)

			if !allowAny && !slices.Contains(origins, origin) {
				next.ServeHTTP(w, r)

				return
			}

			if allowAny {
				h.Set(HeaderAllowOrigin, "*")
			} else {
				h.Set(HeaderAllowOrigin, origin)
				h.Set(HeaderAllowCredentials, "true")
			}

			h.Set(HeaderExposeHeaders, exposed)

			if r.Method == http.MethodOptions && r.Header.Get(HeaderRequestMethod) != "" {
				h.Set(HeaderAllowMethods, methods)

				if reqHeaders := r.Header.Get(HeaderRequestHeaders); reqHeaders != "" {
					h.Set(HeaderAllowHeaders, reqHeaders)
				}

				h.Set(HeaderMaxAge, strconv.Itoa(int(corsMaxAge.Seconds())))
				w.WriteHeader(http.StatusNoContent)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Verifier checks bearer tokens.
type Verifier interface {
	Verify(token string) (auth.Principal, error)
}

// Authenticate rejects requests without a valid bearer token with 401 and
// stores the principal in the context.
func Authenticate(log *slog.Logger, v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				unauthorized(w, errs.ErrUnauthorized)

				return
			}

			p, err := v.Verify(token)
			if err != nil {
				log.InfoContext(r.Context(), "token rejected",
					slog.String("request_id", RequestIDFromContext(r.Context())), slog.Any("error", err))
				unauthorized(w, errs.ErrUnauthorized)

				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get(HeaderAuthorization), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)

	return token, token != ""
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set(HeaderWWWAuthenticate, "Bearer")
	response.Unauthorized(w, consts.RespUnauthorized, err)
}

// Limiter admits or rejects one request for key.
type Limiter interface {
	Allow(key string) bool
}

// RateLimit answers 429 once a client exceeds its budget. Authenticated
// clients are keyed by username, others by remote IP.
func RateLimit(l Limiter, m *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(ClientKey(r)) {
				m.RecordRateLimited()
				w.Header().Set("Retry-After", "60")
				response.TooManyRequests(w, consts.RespRateLimited, errs.ErrRateLimited)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey identifies the caller for rate limiting.
func ClientKey(r *http.Request) string {
	if p, ok := auth.FromContext(r.Context()); ok {
		return "user:" + p.Username
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	return "ip:" + host
}
