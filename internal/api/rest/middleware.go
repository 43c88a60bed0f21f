package rest

import (
	"log"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/passkeyme/passkeyme-server/internal/platform/id"
	"github.com/passkeyme/passkeyme-server/internal/platform/requestctx"
)

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.statusCode = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestID assigns a correlation ID to each request, honoring one the
// caller already set.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			generated, err := id.NewID()
			if err == nil {
				requestID = generated
			}
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(requestctx.WithRequestID(r.Context(), requestID)))
	})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		log.Printf("%s %s %d %s request_id=%s",
			r.Method, r.URL.Path, recorder.statusCode,
			time.Since(start).Round(time.Millisecond),
			requestctx.RequestIDFromContext(r.Context()))

		if recorder.statusCode >= http.StatusInternalServerError {
			sentry.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("path", r.URL.Path)
				scope.SetTag("request_id", requestctx.RequestIDFromContext(r.Context()))
				sentry.CaptureMessage("server error response")
			})
		}
	})
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				sentry.WithScope(func(scope *sentry.Scope) {
					scope.SetExtra("panic", rec)
					scope.SetExtra("stack", string(debug.Stack()))
					sentry.CaptureMessage("panic in request")
				})
				log.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				writeError(w, r, errInternal("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
