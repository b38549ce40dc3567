package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/auth"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultStreamBuffer = 16
	streamPingInterval  = 30 * time.Second
	streamWriteTimeout  = 10 * time.Second
	streamReadLimit     = 4096
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Sessions travel as bearer tokens, not cookies.
	CheckOrigin: func(*http.Request) bool { return true },
}

// frameQueue sits between a store subscription and one websocket writer.
// Offer never blocks; a full queue drops the frame.
type frameQueue struct {
	frames  chan kvstore.StreamFrame
	dropped atomic.Int64
}

func newFrameQueue(size int) *frameQueue {
	if size <= 0 {
		size = defaultStreamBuffer
	}
	return &frameQueue{frames: make(chan kvstore.StreamFrame, size)}
}

func (q *frameQueue) Offer(frame kvstore.StreamFrame) bool {
	select {
	case q.frames <- frame:
		return true
	default:
		q.dropped.Add(1)
		streamFramesDropped.Inc()
		return false
	}
}

func (q *frameQueue) Dropped() int64 {
	return q.dropped.Load()
}

func (h *httpHandler) handleStream(c *gin.Context) {
	path, ok := h.resolvePath(c, c.Query(kvstore.StreamPathParameter), auth.CanRead)
	if !ok {
		return
	}

	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("stream upgrade failed", zap.String("path", path.String()), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	queue := newFrameQueue(h.streamBuffer)
	unsubscribe, err := h.store.Subscribe(ctx, path, func(value json.RawMessage) {
		queue.Offer(kvstore.StreamFrame{Path: path.String(), Value: value})
	})
	if err != nil {
		h.logger.Error("stream subscribe failed", zap.String("path", path.String()), zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(streamWriteTimeout))
		return
	}
	defer unsubscribe()

	streamConnections.Inc()
	defer streamConnections.Dec()

	go discardIncoming(conn, cancel)
	h.pumpFrames(ctx, conn, queue, path)

	if dropped := queue.Dropped(); dropped > 0 {
		h.logger.Info("stream dropped frames for a slow consumer",
			zap.String("path", path.String()),
			zap.Int64("dropped", dropped),
		)
	}
}

// discardIncoming keeps control frames flowing and cancels the stream once the peer goes away.
func discardIncoming(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(streamReadLimit)
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *httpHandler) pumpFrames(ctx context.Context, conn *websocket.Conn, queue *frameQueue, path kvstore.Path) {
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(streamWriteTimeout))
			return
		case frame := <-queue.frames:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(frame); err != nil {
				h.logger.Debug("stream write failed", zap.String("path", path.String()), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		}
	}
}
