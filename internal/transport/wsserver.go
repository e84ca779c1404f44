package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/glasskit/composerlink/internal/scene"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // local IPC endpoint
}

// Server binds websocket connections to a compositor Service. Each connection
// carries at most one listener registration, mirroring the one-registration-
// per-process contract on the client side.
type Server struct {
	svc       Service
	threshold int
	logger    *zap.Logger
}

func NewServer(svc Service, compressionThreshold int, logger *zap.Logger) *Server {
	return &Server{svc: svc, threshold: compressionThreshold, logger: logger}
}

// HandleWS upgrades the request and serves the channel until the peer
// disconnects.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	codec, err := newFrameCodec(s.threshold)
	if err != nil {
		s.logger.Error("frame codec init failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		codec.Close()
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := &session{
		srv:    s,
		conn:   conn,
		codec:  codec,
		connID: uuid.New().String(),
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
	s.logger.Info("channel connected",
		zap.String("connID", sess.connID),
		zap.String("remoteAddr", r.RemoteAddr),
	)
	go sess.writePump()
	sess.readPump()
}

// session is one connected client channel. It implements UpdateSink so the
// service can push updates straight at the connection.
type session struct {
	srv    *Server
	conn   *websocket.Conn
	codec  *frameCodec
	connID string
	send   chan []byte

	mu         sync.Mutex
	registered bool

	closed    chan struct{}
	closeOnce sync.Once
}

func (sess *session) close() {
	sess.closeOnce.Do(func() {
		close(sess.closed)
		sess.conn.Close()
	})
}

// OnStateUpdate pushes one update frame to the peer. A full send buffer drops
// the frame; the ack flow lets the service coalesce for slow peers.
func (sess *session) OnStateUpdate(u scene.StateUpdate) {
	msg, err := sess.codec.Encode(frame{Kind: frameUpdate, Seq: oneWaySeq, Payload: scene.EncodeUpdate(&u)})
	if err != nil {
		sess.srv.logger.Warn("encoding update failed", zap.Error(err))
		return
	}
	select {
	case sess.send <- msg:
	case <-sess.closed:
	default:
		sess.srv.logger.Debug("update dropped, peer send buffer full",
			zap.String("connID", sess.connID),
			zap.Int64("sequenceID", u.SequenceID),
		)
	}
}

func (sess *session) readPump() {
	defer func() {
		sess.close()
		sess.mu.Lock()
		registered := sess.registered
		sess.registered = false
		sess.mu.Unlock()
		if registered {
			// Peer vanished without unregistering.
			if err := sess.srv.svc.RemoveUpdateListener(sess); err != nil {
				sess.srv.logger.Debug("cleanup unregister failed", zap.Error(err))
			}
		}
		sess.srv.logger.Info("channel disconnected", zap.String("connID", sess.connID))
	}()

	sess.conn.SetReadLimit(maxMessageSize)
	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.srv.logger.Debug("websocket read error",
					zap.String("connID", sess.connID),
					zap.Error(err),
				)
			}
			return
		}
		f, err := sess.codec.Decode(msg)
		if err != nil {
			sess.srv.logger.Warn("dropping undecodable frame",
				zap.String("connID", sess.connID),
				zap.Error(err),
			)
			continue
		}
		sess.handleFrame(f)
	}
}

func (sess *session) handleFrame(f frame) {
	switch f.Kind {
	case frameApply:
		code, msg := applyOK, ""
		if err := sess.applyPayload(f.Payload); err != nil {
			code, msg = 1, err.Error()
		}
		sess.reply(frame{Kind: frameApplyReply, Seq: f.Seq, Payload: encodeApplyReply(code, msg)})

	case frameApplyOneWay:
		if err := sess.applyPayload(f.Payload); err != nil {
			// Fire-and-forget: nothing goes back to the peer.
			sess.srv.logger.Debug("oneway apply failed",
				zap.String("connID", sess.connID),
				zap.Error(err),
			)
		}

	case frameAddListener:
		id := UnassignedListenerID
		info, err := sess.srv.svc.AddUpdateListener(sess)
		if err != nil {
			sess.srv.logger.Warn("listener registration failed",
				zap.String("connID", sess.connID),
				zap.Error(err),
			)
		} else {
			id = info.ListenerID
			sess.mu.Lock()
			sess.registered = true
			sess.mu.Unlock()
		}
		sess.reply(frame{Kind: frameAddListenerReply, Seq: f.Seq, Payload: encodeListenerReply(id)})

	case frameRemoveListener:
		sess.mu.Lock()
		sess.registered = false
		sess.mu.Unlock()
		if err := sess.srv.svc.RemoveUpdateListener(sess); err != nil {
			sess.srv.logger.Debug("unregister failed", zap.Error(err))
		}
		sess.reply(frame{Kind: frameRemoveListenerReply, Seq: f.Seq})

	case frameAck:
		seq, listenerID, err := decodeAck(f.Payload)
		if err != nil {
			sess.srv.logger.Warn("dropping malformed ack", zap.Error(err))
			return
		}
		sess.srv.svc.AckUpdateReceived(seq, listenerID)

	default:
		sess.srv.logger.Warn("unexpected frame kind from client", zap.Uint8("kind", f.Kind))
	}
}

func (sess *session) applyPayload(payload []byte) error {
	b, err := scene.DecodeBatch(payload)
	if err != nil {
		return err
	}
	return sess.srv.svc.ApplyBatch(context.Background(), b)
}

func (sess *session) reply(f frame) {
	msg, err := sess.codec.Encode(f)
	if err != nil {
		sess.srv.logger.Error("encoding reply failed", zap.Error(err))
		return
	}
	select {
	case sess.send <- msg:
	case <-sess.closed:
	}
}

func (sess *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.close()
	}()

	for {
		select {
		case <-sess.closed:
			return
		case msg := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				sess.srv.logger.Debug("websocket write error",
					zap.String("connID", sess.connID),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
