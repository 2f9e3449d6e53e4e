package notify

import (
	"context"
	"net/http"
	"time"

	"socialhub/internal/constants"
	"socialhub/internal/httputil"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler streams hub events to websocket clients as JSON messages
type WebSocketHandler struct {
	hub            *Hub
	logger         *logrus.Logger
	originPatterns []string
	writeTimeout   time.Duration
	pingInterval   time.Duration
}

func NewWebSocketHandler(hub *Hub, originPatterns []string, logger *logrus.Logger) *WebSocketHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &WebSocketHandler{
		hub:            hub,
		logger:         logger,
		originPatterns: originPatterns,
		writeTimeout:   time.Duration(constants.DefaultWSWriteTimeoutSec) * time.Second,
		pingInterval:   time.Duration(constants.DefaultWSPingIntervalSec) * time.Second,
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.hub.Subscribe()
	if !ok {
		http.Error(w, "Too many live update subscribers", http.StatusServiceUnavailable)
		return
	}
	defer h.hub.Unsubscribe(sub)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"remote_ip": httputil.GetClientIP(r),
			"error":     err.Error(),
		}).Warn("Websocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	logger := h.logger.WithFields(logrus.Fields{
		"subscriber_id": sub.ID,
		"remote_ip":     httputil.GetClientIP(r),
	})
	logger.Debug("Live update subscriber connected")

	// Clients only listen; CloseRead handles control frames and cancels ctx on close.
	ctx := conn.CloseRead(r.Context())

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Live update subscriber disconnected")
			return
		case event, open := <-sub.C:
			if !open {
				logger.Warn("Live update subscriber dropped")
				conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
				return
			}
			if err := h.write(ctx, conn, event); err != nil {
				logger.WithError(err).Debug("Live update write failed")
				return
			}
		case <-ping.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.WithError(err).Debug("Live update ping failed")
				return
			}
		}
	}
}

func (h *WebSocketHandler) write(ctx context.Context, conn *websocket.Conn, event Event) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, event)
}
