package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/showdown-backend/internal/engine"
	"github.com/DoyleJ11/showdown-backend/internal/presence"
	"github.com/DoyleJ11/showdown-backend/pkg/types"
)

const (
	writeTimeout      = 3 * time.Second
	disconnectTimeout = 5 * time.Second
)

// Dispatcher is what a connection talks to.
type Dispatcher interface {
	Dispatch(ctx context.Context, connID string, msg types.ClientMessage) types.Ack
	Disconnect(ctx context.Context, connID, reason string) error
}

type Options struct {
	// ReadTimeout bounds the wait for the next client frame. Clients are
	// expected to heartbeat well inside it.
	ReadTimeout    time.Duration
	OriginPatterns []string
}

func Handler(d Dispatcher, tr *presence.Tracker, log *zap.Logger, opts Options) http.HandlerFunc {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		connID := uuid.NewString()
		clog := log.With(zap.String("conn_id", connID))
		pc := tr.Register(connID, time.Now())
		clog.Debug("connection opened")

		reason := "transport close"
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
			defer cancel()
			if err := d.Disconnect(ctx, connID, reason); err != nil {
				clog.Error("disconnect", zap.Error(err))
			}
			tr.Unregister(connID)
			clog.Debug("connection closed", zap.String("reason", reason))
		}()

		// Writer goroutine. It owns every write so acks and broadcasts keep
		// their queue order.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for payload := range pc.Send {
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				err := conn.Write(ctx, websocket.MessageText, payload)
				cancel()
				if err != nil {
					writeCancel()
					return
				}
			}
		}()

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(writeCtx, opts.ReadTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					reason = "client closed"
				default:
					if errors.Is(err, context.DeadlineExceeded) {
						reason = "read timeout"
					}
				}
				return
			}

			var cm types.ClientMessage
			var ack types.Ack
			if err := json.Unmarshal(data, &cm); err != nil {
				ack = types.Fail(engine.ErrBadRequest)
			} else {
				ack = d.Dispatch(r.Context(), connID, cm)
			}
			if !respond(tr, clog, connID, cm.RequestID, ack) {
				// A lost ack is never silent: the client reconnects and refetches.
				reason = "ack dropped"
				conn.CloseNow()
				return
			}
		}
	}
}

// respond queues an acknowledgment and reports whether it was accepted.
func respond(tr *presence.Tracker, log *zap.Logger, connID, requestID string, ack types.Ack) bool {
	payload, err := types.EncodeAck(requestID, ack)
	if err != nil {
		log.Error("encode ack", zap.Error(err))
		return false
	}
	if !tr.Send(connID, payload) {
		log.Warn("ack not queued, closing connection", zap.String("request_id", requestID))
		return false
	}
	return true
}
