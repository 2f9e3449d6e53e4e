package middleware

import (
	"net/http"
	"strings"

	"socialhub/internal/constants"
	"socialhub/internal/httputil"
	"socialhub/internal/privacy"
	"socialhub/internal/service"
	"socialhub/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// DetailedLoggingConfig controls what gets logged in verbose mode
type DetailedLoggingConfig struct {
	LogRequestHeaders bool
	SensitiveHeaders  []string
	SkipRoutes        []string
}

// DefaultDetailedLoggingConfig logs headers with secrets masked
func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders: true,
		SensitiveHeaders: []string{
			"authorization", "x-api-key", "cookie", "set-cookie",
			strings.ToLower(constants.WebhookSignatureHeader),
		},
		SkipRoutes: []string{"/metrics", "/health", "/ws"},
	}
}

// DetailedLoggingMiddleware logs request details at debug level. Secret
// headers and query parameters are masked. Bodies are never logged.
func DetailedLoggingMiddleware(logger *logrus.Logger, config DetailedLoggingConfig) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := routeLabel(r)
			for _, skip := range config.SkipRoutes {
				if route == skip {
					next.ServeHTTP(w, r)
					return
				}
			}
			if logger.IsLevelEnabled(logrus.DebugLevel) {
				logRequestDetails(logger, r, route, config)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func logRequestDetails(logger *logrus.Logger, r *http.Request, route string, config DetailedLoggingConfig) {
	fields := logrus.Fields{
		service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
		service.LogFieldMethod:    r.Method,
		service.LogFieldRoute:     route,
		service.LogFieldRemoteIP:  httputil.GetClientIP(r),
		service.LogFieldUserAgent: r.UserAgent(),
		"query":                   privacy.MaskURL("?" + r.URL.RawQuery),
		"content_length":          r.ContentLength,
	}

	if config.LogRequestHeaders {
		headers := make(map[string]string, len(r.Header))
		for name, values := range r.Header {
			if isSensitiveHeader(name, config.SensitiveHeaders) {
				headers[name] = "***MASKED***"
			} else {
				headers[name] = strings.Join(values, ", ")
			}
		}
		fields["request_headers"] = headers
	}

	logger.WithFields(fields).Debug("Detailed request logging")
}

func isSensitiveHeader(headerName string, sensitiveHeaders []string) bool {
	for _, sensitive := range sensitiveHeaders {
		if strings.EqualFold(sensitive, headerName) {
			return true
		}
	}
	return false
}
