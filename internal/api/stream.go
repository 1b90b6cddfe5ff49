package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/signalsfoundry/gridplanner/internal/logging"
	"github.com/signalsfoundry/gridplanner/internal/session"
)

const (
	writeWait  = 10 * time.Second
	streamSize = 16
)

// StreamMessage is one frame on the session stream. Every frame carries
// the full session snapshot taken after the triggering event.
type StreamMessage struct {
	Type      string            `json:"type"` // "snapshot", "ping"
	Event     session.EventKind `json:"event,omitempty"`
	Session   *session.Snapshot `json:"session,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// handleStream upgrades to a websocket and pushes a snapshot on connect
// and after every session event until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context(), s.log)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn(r.Context(), "websocket upgrade failed",
			logging.String("remote_addr", r.RemoteAddr),
			logging.Err(err),
		)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// Every frame is a full snapshot, so overflow is dropped.
	events := make(chan session.EventKind, streamSize)
	unsubscribe := s.session.Subscribe(func(ev session.Event) {
		select {
		case events <- ev.Kind:
		default:
		}
	})
	defer unsubscribe()

	go s.drainClient(conn, cancel)

	log.Info(ctx, "stream client connected", logging.String("remote_addr", r.RemoteAddr))
	defer log.Info(ctx, "stream client disconnected", logging.String("remote_addr", r.RemoteAddr))

	if err := s.sendSnapshot(conn, ""); err != nil {
		return
	}

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case kind := <-events:
			if err := s.sendSnapshot(conn, kind); err != nil {
				log.Debug(ctx, "stream write failed", logging.Err(err))
				return
			}
		case <-ping.C:
			msg := StreamMessage{Type: "ping", Timestamp: time.Now()}
			if err := writeJSON(conn, msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) sendSnapshot(conn *websocket.Conn, kind session.EventKind) error {
	snap := s.session.Snapshot()
	return writeJSON(conn, StreamMessage{
		Type:      "snapshot",
		Event:     kind,
		Session:   &snap,
		Timestamp: time.Now(),
	})
}

// drainClient reads and discards client frames so control messages are
// processed, and cancels the stream once the connection closes.
func (s *Server) drainClient(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, msg StreamMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}
