package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/vesaa/hostpulse/internal/models"
	"go.uber.org/zap"
)

const (
	minStreamInterval = time.Second
	maxStreamInterval = time.Minute
	writeWait         = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStream upgrades to a WebSocket and pushes an ephemeral reading every
// interval. Nothing is persisted.
//
//	GET /metrics/stream?interval=5
func (s *Server) handleStream(c *gin.Context) {
	interval := s.stream
	if raw := c.Query("interval"); raw != "" {
		secs, err := strconv.Atoi(raw)
		d := time.Duration(secs) * time.Second
		if err != nil || d < minStreamInterval || d > maxStreamInterval {
			c.JSON(http.StatusBadRequest, gin.H{"error": "interval must be between 1 and 60 seconds"})
			return
		}
		interval = d
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Drain client frames; a read error means the peer went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.pushReading(ctx, conn); err != nil {
			s.log.Debug("stream closed", zap.Error(err))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pushReading writes one reading, or an error frame if sampling failed.
// Only write errors end the stream.
func (s *Server) pushReading(ctx context.Context, conn *websocket.Conn) error {
	r, err := s.svc.ReadCurrent(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err != nil {
		return conn.WriteJSON(gin.H{"error": err.Error()})
	}
	return conn.WriteJSON(models.ResponseFromReading(r))
}
