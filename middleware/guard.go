package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/session"
)

type requestContextKey struct{}

// RequestFromContext returns the pipeline request attached by Guard.
func RequestFromContext(ctx context.Context) (*authcore.Request, bool) {
	req, ok := ctx.Value(requestContextKey{}).(*authcore.Request)
	return req, ok
}

// Options tune how requests are translated into pipeline calls.
type Options struct {
	// TrustForwardedFor takes the client IP from the first X-Forwarded-For
	// hop. Enable only behind a proxy that overwrites the header.
	TrustForwardedFor bool
	// RequestIDHeader is echoed into the pipeline when present.
	// Defaults to X-Request-ID.
	RequestIDHeader string
}

// Carrier reads credentials from cookies first, then headers.
type Carrier struct {
	r *http.Request
}

var _ session.Carrier = Carrier{}

func NewCarrier(r *http.Request) Carrier { return Carrier{r: r} }

func (c Carrier) Get(key string) string {
	if ck, err := c.r.Cookie(key); err == nil && ck.Value != "" {
		return ck.Value
	}
	return c.r.Header.Get(key)
}

// ErrHandlerStatus is the kind of a handler failure whose status has no
// matching engine error kind.
var ErrHandlerStatus = errors.New("handler failed")

// Guard runs op through engine.RunPipeline for every request. next is the
// pipeline handler stage; a failure in an earlier stage is answered with the
// status from StatusFor and next is never called. A handler that answers
// with a status of 400 or above fails the handler stage, so the audit entry
// carries the error passed to WriteError or one derived from the status.
func Guard(engine *authcore.Engine, op authcore.Operation, opts Options) func(http.Handler) http.Handler {
	if opts.RequestIDHeader == "" {
		opts.RequestIDHeader = "X-Request-ID"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeError(w, http.StatusUnauthorized, authcore.ReasonNoCredential)
				return
			}
			ctx := RequestContext(r, opts)

			served := false
			err := engine.RunPipeline(ctx, op, NewCarrier(r), func(ctx context.Context, req *authcore.Request) error {
				served = true
				w.Header().Set(opts.RequestIDHeader, req.RequestID)
				ctx = context.WithValue(ctx, requestContextKey{}, req)
				rec := &statusRecorder{ResponseWriter: w}
				next.ServeHTTP(rec, r.WithContext(ctx))
				return rec.failure()
			})
			if err != nil && !served {
				writeError(w, StatusFor(err), reasonFor(err))
			}
		})
	}
}

// RequestContext copies client IP, user agent and request ID from r into
// the context read by the engine.
func RequestContext(r *http.Request, opts Options) context.Context {
	ctx := r.Context()
	ctx = authcore.WithClientIP(ctx, clientIP(r, opts.TrustForwardedFor))
	ctx = authcore.WithUserAgent(ctx, r.UserAgent())
	header := opts.RequestIDHeader
	if header == "" {
		header = "X-Request-ID"
	}
	if id := strings.TrimSpace(r.Header.Get(header)); id != "" {
		ctx = authcore.WithRequestID(ctx, id)
	}
	return ctx
}

func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// StatusFor maps an engine error to an HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	switch authcore.KindOf(err) {
	case authcore.ErrAuthentication:
		return http.StatusUnauthorized
	case authcore.ErrAuthorization:
		return http.StatusForbidden
	case authcore.ErrValidation:
		return http.StatusUnprocessableEntity
	case authcore.ErrRateLimited:
		return http.StatusTooManyRequests
	case authcore.ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func reasonFor(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return authcore.ReasonCancelled
	}
	if r := authcore.ReasonOf(err); r != "" {
		return r
	}
	return authcore.ReasonInternal
}

// WriteError answers with the status and reason of err. Inside Guard the
// error is also reported as the handler stage result.
func WriteError(w http.ResponseWriter, err error) {
	if rec, ok := w.(*statusRecorder); ok && rec.err == nil {
		rec.err = err
	}
	writeError(w, StatusFor(err), reasonFor(err))
}

func writeError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reason})
}

// statusRecorder captures the status written by the handler stage.
type statusRecorder struct {
	http.ResponseWriter
	status int
	err    error
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *statusRecorder) failure() error {
	if r.status < http.StatusBadRequest {
		return nil
	}
	if r.err != nil {
		return r.err
	}
	return statusError(r.status)
}

// statusError builds the handler stage error for a status written without
// WriteError.
func statusError(status int) *authcore.Error {
	reason := strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	if reason == "" {
		reason = authcore.ReasonInternal
	}
	var kind error
	switch {
	case status == http.StatusUnauthorized:
		kind = authcore.ErrAuthentication
	case status == http.StatusForbidden:
		kind = authcore.ErrAuthorization
	case status == http.StatusTooManyRequests:
		kind = authcore.ErrRateLimited
	case status == http.StatusServiceUnavailable:
		kind = authcore.ErrUnavailable
	case status < http.StatusInternalServerError:
		kind = authcore.ErrValidation
	default:
		kind = ErrHandlerStatus
	}
	return &authcore.Error{Kind: kind, Reason: reason}
}
