package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	apperrors "socialhub/internal/errors"
	"socialhub/internal/httputil"
	"socialhub/internal/metrics"
	"socialhub/internal/privacy"
	"socialhub/internal/service"
	"socialhub/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// routeLabel returns the mux path template so metric labels and logs never
// carry contact ids or account ids from the URL
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// requestID reuses a well-formed incoming X-Request-ID or generates one
func requestID(r *http.Request) string {
	if id := r.Header.Get(tracing.RequestIDHeader); validRequestID.MatchString(id) {
		return id
	}
	return tracing.GenerateRequestID()
}

// ObservabilityMiddleware adds request ids, a server span, metrics and
// access logging. Register it with mux.Router.Use so the route is known.
func ObservabilityMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := routeLabel(r)
			reqID := requestID(r)
			clientIP := httputil.GetClientIP(r)

			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracing.StartSpan(ctx, r.Method+" "+route,
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("client.address", clientIP),
				attribute.String("user_agent.original", r.Header.Get("User-Agent")),
				attribute.String("request.id", reqID),
			)
			defer span.End()

			ctx = tracing.WithRequestID(ctx, reqID)
			ctx = tracing.WithStartTime(ctx, start)
			ctx = apperrors.WithRequestID(ctx, reqID)
			if traceID := tracing.TraceID(ctx); traceID != "" {
				ctx = apperrors.WithTraceID(ctx, traceID)
			}
			r = r.WithContext(ctx)

			w.Header().Set(tracing.RequestIDHeader, reqID)
			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

			metrics.AddToCounter("http_requests_active", 1, nil, "Currently active HTTP requests")
			defer metrics.AddToCounter("http_requests_active", -1, nil, "Currently active HTTP requests")

			next.ServeHTTP(wrapper, r)

			duration := tracing.Duration(ctx)
			status := strconv.Itoa(wrapper.statusCode)

			tracing.AddSpanAttributes(ctx,
				attribute.Int("http.response.status_code", wrapper.statusCode),
				attribute.Int64("http.response.body.size", wrapper.responseSize),
			)
			if wrapper.statusCode >= 500 {
				tracing.SetSpanStatus(ctx, codes.Error, fmt.Sprintf("HTTP %d", wrapper.statusCode))
			}

			labels := map[string]string{"method": r.Method, "route": route, "status_code": status}
			metrics.IncrementCounter("http_requests_total", labels, "HTTP requests by route and status")
			metrics.RecordTimer("http_request_duration", duration, map[string]string{"method": r.Method, "route": route}, "HTTP request duration")

			logLevel := logrus.InfoLevel
			switch {
			case wrapper.statusCode >= 500:
				logLevel = logrus.ErrorLevel
			case wrapper.statusCode >= 400:
				logLevel = logrus.WarnLevel
			case route == "/health" || route == "/metrics":
				logLevel = logrus.DebugLevel
			}

			logger.WithFields(logrus.Fields{
				service.LogFieldRequestID:  reqID,
				service.LogFieldTraceID:    tracing.TraceID(ctx),
				service.LogFieldMethod:     r.Method,
				service.LogFieldRoute:      route,
				service.LogFieldStatusCode: wrapper.statusCode,
				service.LogFieldDuration:   duration.Milliseconds(),
				service.LogFieldRemoteIP:   clientIP,
				service.LogFieldSize:       wrapper.responseSize,
			}).Log(logLevel, "HTTP request completed")
		})
	}
}

// WebhookObservabilityMiddleware counts and logs inbound webhook deliveries
// for one platform
func WebhookObservabilityMiddleware(logger *logrus.Logger, platform string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			tracing.AddSpanAttributes(r.Context(), attribute.String("webhook.platform", platform))

			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			duration := time.Since(start)
			result := "ok"
			if wrapper.statusCode >= 400 {
				result = "rejected"
			}
			metrics.IncrementCounter("webhook_requests_total", map[string]string{
				"platform": platform,
				"method":   r.Method,
				"result":   result,
			}, "Webhook requests by platform and result")
			metrics.RecordTimer("webhook_ack_duration", duration, map[string]string{"platform": platform}, "Time to acknowledge a webhook")

			fields := privacy.MaskSensitiveFields(map[string]interface{}{
				service.LogFieldRequestID:  tracing.GetRequestID(r.Context()),
				service.LogFieldService:    "webhook",
				service.LogFieldPlatform:   platform,
				service.LogFieldMethod:     r.Method,
				service.LogFieldStatusCode: wrapper.statusCode,
				service.LogFieldDuration:   duration.Milliseconds(),
				"url":                      r.URL.String(),
			})

			level := logrus.DebugLevel
			if wrapper.statusCode >= 400 {
				level = logrus.WarnLevel
			}
			logger.WithFields(logrus.Fields(fields)).Log(level, "Webhook request acknowledged")
		})
	}
}

// responseWrapper captures status and size. It forwards Hijack and Unwrap
// so websocket upgrades still work behind it.
type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
	wroteHeader  bool
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(n)
	return n, err
}

func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (rw *responseWrapper) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWrapper) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
