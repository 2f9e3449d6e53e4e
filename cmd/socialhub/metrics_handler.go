package main

import (
	"encoding/json"
	"net/http"

	"socialhub/internal/metrics"
	"socialhub/internal/service"
	"socialhub/internal/tracing"

	"github.com/sirupsen/logrus"
)

// handleMetrics serves the metrics registry as JSON, or in Prometheus text
// exposition format with ?format=prometheus
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := s.logger.WithFields(logrus.Fields{
			service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
			service.LogFieldEndpoint:  "/metrics",
		})

		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		if r.URL.Query().Get("format") == "prometheus" {
			w.Header().Set("Content-Type", "text/plain; version=0.0.4")
			if err := metrics.GetRegistry().WritePrometheus(w); err != nil {
				logger.WithError(err).Error("Failed to write prometheus metrics")
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(metrics.GetAllMetrics()); err != nil {
			logger.WithError(err).Error("Failed to encode metrics response")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}
