package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/glasskit/composerlink/internal/scene"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = maxFramePayload + frameHeaderSize

	// Send buffer size per connection.
	sendBufferSize = 256
)

// UnassignedListenerID is the sentinel carried in a registration reply when
// the service could not register the listener.
const UnassignedListenerID int64 = -1

// WSConn is the client half of the websocket channel. It implements Composer.
// Update frames pushed by the service are delivered, one at a time and in
// arrival order, to the sink registered via AddUpdateListener. Delivery runs
// on its own goroutine so a sink blocking on a client-side lock can never
// stall the read pump and the call replies it carries.
type WSConn struct {
	conn   *websocket.Conn
	codec  *frameCodec
	logger *zap.Logger

	send    chan []byte
	updates chan scene.StateUpdate

	mu      sync.Mutex
	pending map[uint64]chan frame
	nextSeq uint64
	sink    UpdateSink

	closed    chan struct{}
	closeOnce sync.Once
}

// DialWS connects to a compositor websocket endpoint.
func DialWS(ctx context.Context, url string, compressionThreshold int, logger *zap.Logger) (*WSConn, error) {
	codec, err := newFrameCodec(compressionThreshold)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		codec.Close()
		return nil, fmt.Errorf("%w: dial %s: %v", ErrChannelDown, url, err)
	}

	c := &WSConn{
		conn:    conn,
		codec:   codec,
		logger:  logger,
		send:    make(chan []byte, sendBufferSize),
		updates: make(chan scene.StateUpdate, sendBufferSize),
		pending: make(map[uint64]chan frame),
		closed:  make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()
	go c.deliverPump()
	return c, nil
}

// Close tears the connection down. In-flight blocking calls fail with
// ErrChannelDown.
func (c *WSConn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

func (c *WSConn) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		f, err := c.codec.Decode(msg)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		switch f.Kind {
		case frameUpdate:
			c.dispatchUpdate(f.Payload)
		case frameApplyReply, frameAddListenerReply, frameRemoveListenerReply:
			c.resolve(f)
		default:
			c.logger.Warn("unexpected frame kind from service", zap.Uint8("kind", f.Kind))
		}
	}
}

// dispatchUpdate decodes one pushed update and hands it to the delivery
// goroutine. The read pump never waits here: if the delivery backlog is full
// the update is dropped and the ack flow lets the service resend the newest
// state.
func (c *WSConn) dispatchUpdate(payload []byte) {
	u, err := scene.DecodeUpdate(payload)
	if err != nil {
		c.logger.Warn("dropping malformed state update", zap.Error(err))
		return
	}
	select {
	case c.updates <- *u:
	case <-c.closed:
	default:
		c.logger.Warn("update dropped, delivery backlog full",
			zap.Int64("sequenceID", u.SequenceID),
		)
	}
}

// deliverPump feeds queued updates to the registered sink one at a time, in
// arrival order. A sink sees update N return before N+1 is delivered. Running
// delivery apart from the read pump keeps call replies flowing while a sink
// blocks, e.g. on a registry mutex held across a reconnect round-trip.
func (c *WSConn) deliverPump() {
	for {
		select {
		case <-c.closed:
			return
		case u := <-c.updates:
			c.mu.Lock()
			sink := c.sink
			c.mu.Unlock()
			if sink != nil {
				sink.OnStateUpdate(u)
			}
		}
	}
}

func (c *WSConn) resolve(f frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.Seq]
	if ok {
		delete(c.pending, f.Seq)
	}
	c.mu.Unlock()
	if ok {
		ch <- f
	}
}

func (c *WSConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				c.logger.Debug("websocket write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// call sends a frame and blocks for its correlated reply.
func (c *WSConn) call(ctx context.Context, kind uint8, payload []byte) (frame, error) {
	c.mu.Lock()
	c.nextSeq++
	seq := c.nextSeq
	ch := make(chan frame, 1)
	c.pending[seq] = ch
	c.mu.Unlock()

	drop := func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}

	msg, err := c.codec.Encode(frame{Kind: kind, Seq: seq, Payload: payload})
	if err != nil {
		drop()
		return frame{}, err
	}

	select {
	case c.send <- msg:
	case <-c.closed:
		drop()
		return frame{}, ErrChannelDown
	case <-ctx.Done():
		drop()
		return frame{}, ctx.Err()
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-c.closed:
		drop()
		return frame{}, ErrChannelDown
	case <-ctx.Done():
		drop()
		return frame{}, ctx.Err()
	}
}

func (c *WSConn) Apply(ctx context.Context, b *scene.TransactionBatch) error {
	reply, err := c.call(ctx, frameApply, scene.EncodeBatch(b))
	if err != nil {
		return err
	}
	code, msg, err := decodeApplyReply(reply.Payload)
	if err != nil {
		return err
	}
	if code != applyOK {
		return &ApplyError{Code: code, Message: msg}
	}
	return nil
}

func (c *WSConn) ApplyOneWay(b *scene.TransactionBatch) error {
	msg, err := c.codec.Encode(frame{Kind: frameApplyOneWay, Seq: oneWaySeq, Payload: scene.EncodeBatch(b)})
	if err != nil {
		return err
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.closed:
		return ErrChannelDown
	default:
		return fmt.Errorf("%w: send buffer full", ErrChannelDown)
	}
}

func (c *WSConn) AddUpdateListener(sink UpdateSink) (ListenerInfo, error) {
	reply, err := c.call(context.Background(), frameAddListener, nil)
	if err != nil {
		return ListenerInfo{}, err
	}
	id, err := decodeListenerReply(reply.Payload)
	if err != nil {
		return ListenerInfo{}, err
	}
	if id == UnassignedListenerID {
		return ListenerInfo{}, fmt.Errorf("%w: registration refused", ErrListenerUnknown)
	}
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
	return ListenerInfo{ListenerID: id, Publisher: &wsPublisher{conn: c}}, nil
}

func (c *WSConn) RemoveUpdateListener(sink UpdateSink) error {
	c.mu.Lock()
	c.sink = nil
	c.mu.Unlock()
	_, err := c.call(context.Background(), frameRemoveListener, nil)
	return err
}

// wsPublisher sends acknowledgement frames back over the owning connection.
// Acks are best-effort: a full send buffer drops the ack rather than blocking
// the delivery path.
type wsPublisher struct {
	conn *WSConn
}

func (p *wsPublisher) AckUpdateReceived(sequenceID, listenerID int64) {
	msg, err := p.conn.codec.Encode(frame{Kind: frameAck, Seq: oneWaySeq, Payload: encodeAck(sequenceID, listenerID)})
	if err != nil {
		p.conn.logger.Warn("encoding ack failed", zap.Error(err))
		return
	}
	select {
	case p.conn.send <- msg:
	case <-p.conn.closed:
	default:
		p.conn.logger.Warn("ack dropped, send buffer full",
			zap.Int64("sequenceID", sequenceID),
			zap.Int64("listenerID", listenerID),
		)
	}
}
