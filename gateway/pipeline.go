package gateway

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/HongGunKR/CoE-Backend/metric"
	"github.com/HongGunKR/CoE-Backend/pkg/scrub"
)

const (
	// bodySnippetLimit bounds the logged request body excerpt
	bodySnippetLimit = 500

	// bodyCaptureLimit bounds how much of a request body is buffered
	// for inspection; larger bodies pass through untouched
	bodyCaptureLimit = 1 << 20
)

// Interceptor wraps the HTTP surface with the request processing
// pipeline: forwarded-prefix rewriting, POST body inspection, and
// scanner-noise-aware access logging.
type Interceptor struct {
	logger     *slog.Logger
	metrics    *metric.Metrics
	bodyLogger *rate.Limiter
}

// InterceptorOption configures an Interceptor
type InterceptorOption func(*Interceptor)

// WithInterceptorLogger sets the access and body log destination
func WithInterceptorLogger(logger *slog.Logger) InterceptorOption {
	return func(i *Interceptor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithInterceptorMetrics sets the metric sink for request outcomes
func WithInterceptorMetrics(m *metric.Metrics) InterceptorOption {
	return func(i *Interceptor) {
		i.metrics = m
	}
}

// WithBodyLogRate bounds how many body snippets are logged per second.
// Body inspection still runs on every request; only the log line is
// dropped when the limit is hit.
func WithBodyLogRate(perSecond float64, burst int) InterceptorOption {
	return func(i *Interceptor) {
		if perSecond > 0 && burst > 0 {
			i.bodyLogger = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// NewInterceptor creates the request pipeline
func NewInterceptor(opts ...InterceptorOption) *Interceptor {
	i := &Interceptor{
		logger:     slog.Default(),
		bodyLogger: rate.NewLimiter(rate.Limit(10), 20),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// statusRecorder captures the status code written by the wrapped handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Wrap applies the pipeline around next
func (i *Interceptor) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rewriteForwardedPrefix(r)

		if r.Method == http.MethodPost {
			i.inspectBody(r)
		}

		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r)
		duration := time.Since(start)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		if i.metrics != nil {
			i.metrics.RecordRequest(r.Method, strconv.Itoa(rec.status), duration)
		}

		if IsScannerNoise(r.Method, r.URL.Path, rec.status) {
			if i.metrics != nil {
				i.metrics.SuppressedLogs.Inc()
			}
			return
		}

		i.logger.Info("Request: " + r.Method + " " + r.URL.Path +
			" - Client: " + clientHost(r))
		i.logger.Info("Status: " + strconv.Itoa(rec.status) + " - Time: " +
			strconv.FormatFloat(duration.Seconds(), 'f', 3, 64) + "s")
	})
}

// rewriteForwardedPrefix strips the reverse proxy's mount prefix so
// routes match the paths the application registered
func rewriteForwardedPrefix(r *http.Request) {
	prefix := r.Header.Get("X-Forwarded-Prefix")
	if prefix == "" || prefix == "/" {
		return
	}
	prefix = strings.TrimSuffix(prefix, "/")
	if strings.HasPrefix(r.URL.Path, prefix) {
		trimmed := strings.TrimPrefix(r.URL.Path, prefix)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
	}
}

// clientHost extracts the peer address for access logging
func clientHost(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// replayBody prepends buffered bytes back onto a partially read body
type replayBody struct {
	io.Reader
	io.Closer
}

// inspectBody buffers a POST body, masks sensitive data, and logs a
// bounded excerpt together with a summary of what was masked. The
// original body is restored for the downstream handler; payloads over
// the capture limit pass through with only their prefix buffered.
func (i *Interceptor) inspectBody(r *http.Request) {
	if r.Body == nil {
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, bodyCaptureLimit+1))
	r.Body = replayBody{
		Reader: io.MultiReader(bytes.NewReader(data), r.Body),
		Closer: r.Body,
	}
	if err != nil {
		i.logger.Warn("could not read request body",
			"path", r.URL.Path, "error", err)
		return
	}

	if len(data) == 0 {
		return
	}
	if len(data) > bodyCaptureLimit {
		i.logger.Warn("request body not inspected",
			"path", r.URL.Path, "reason", "exceeds capture limit")
		return
	}
	if !utf8.Valid(data) {
		i.logger.Warn("request body not inspected",
			"path", r.URL.Path, "reason", "not valid utf-8")
		return
	}

	masked, matches := scrub.Scrub(string(data))
	if i.metrics != nil {
		for _, m := range matches {
			i.metrics.PIIMatches.WithLabelValues(m.Type).Inc()
		}
	}

	if !i.bodyLogger.Allow() {
		return
	}

	attrs := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"body", truncate(masked, bodySnippetLimit),
	}
	if types := scrub.Types(matches); len(types) > 0 {
		attrs = append(attrs, "masked_types", strings.Join(types, ","))
	}
	i.logger.Info("request body", attrs...)
}

// truncate bounds s to at most limit runes
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
