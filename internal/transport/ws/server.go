// Package ws is the websocket transport: one reader loop and one writer
// goroutine per connection, with all validation and routing delegated to
// the gate.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"emberhall.gg/internal/gate"
)

const (
	// outQueueSize bounds how far a slow client can fall behind before
	// frames are dropped and it has to full-sync.
	outQueueSize = 256

	writeTimeout = 5 * time.Second
	readTimeout  = 90 * time.Second
)

type Server struct {
	gate *gate.Gate
	log  zerolog.Logger

	upgrader websocket.Upgrader
}

func NewServer(g *gate.Gate, log zerolog.Logger) *Server {
	return &Server{
		gate: g,
		log:  log.With().Str("comp", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		client := &gate.Client{Out: make(chan []byte, outQueueSize)}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine: sole writer on the connection.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-client.Out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			s.gate.HandleMessage(ctx, client, msg)
		}

		s.gate.Disconnected(client)
		if client.ParticipantID != "" {
			s.log.Debug().Str("participant", client.ParticipantID).Msg("connection closed")
		}
	}
}
