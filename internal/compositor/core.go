// Package compositor implements the service half of the protocol: it applies
// transaction batches in per-token submission order and publishes
// sequence-stamped state updates to registered listeners with ack-based
// coalescing for slow peers.
package compositor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/glasskit/composerlink/internal/scene"
	"github.com/glasskit/composerlink/internal/transport"
	"github.com/glasskit/composerlink/internal/wire"
)

// maxDesiredPresentAhead caps how far in the future a requested present time
// may lie; later times are clamped to now at apply time.
const maxDesiredPresentAhead = time.Second

// maxUnackedUpdates bounds how many updates a listener may leave
// unacknowledged before further publishes to it are coalesced to the newest.
const maxUnackedUpdates = 8

var ErrNotRegistered = errors.New("compositor: listener not registered")

type listenerEntry struct {
	id       int64
	sink     transport.UpdateSink
	lastSent int64
	lastAck  int64
	// dirty marks that a publish was withheld while the listener was over its
	// unacked budget; the newest update is delivered when an ack frees room.
	dirty bool
}

type windowEntry struct {
	info scene.WindowInfo
}

// Core is the compositor service state. It implements transport.Service.
type Core struct {
	logger *zap.Logger

	mu             sync.Mutex
	windows        map[uint64]*windowEntry // keyed by layer id
	listeners      []*listenerEntry        // ordered by id
	nextListenerID int64
	seq            int64
	lastUpdate     scene.StateUpdate
	appliedByToken map[[16]byte][]uint64
	now            func() time.Time
}

func NewCore(logger *zap.Logger) *Core {
	return &Core{
		logger:         logger,
		windows:        make(map[uint64]*windowEntry),
		appliedByToken: make(map[[16]byte][]uint64),
		now:            time.Now,
	}
}

// ApplyBatch applies b's fragments to the window table. Batches sharing an
// apply token are applied in arrival order; the desired present time is
// clamped, never reordered on.
func (c *Core) ApplyBatch(_ context.Context, b *scene.TransactionBatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !b.IsAutoTimestamp {
		limit := c.now().Add(maxDesiredPresentAhead).UnixNano()
		if b.DesiredPresentTime > limit {
			c.logger.Debug("clamping desired present time",
				zap.Uint64("batchID", b.ID),
				zap.Int64("requested", b.DesiredPresentTime),
			)
			b.DesiredPresentTime = c.now().UnixNano()
		}
	}

	for i := range b.ComposerStates {
		c.applyComposerState(&b.ComposerStates[i])
	}
	// Display fragments only matter to the hardware pipeline, which is outside
	// this core; they are validated by decode and otherwise dropped here.

	token := b.ApplyToken.Bytes()
	c.appliedByToken[token] = append(c.appliedByToken[token], b.ID)
	return nil
}

func (c *Core) applyComposerState(s *scene.ComposerState) {
	w, ok := c.windows[s.LayerID]
	if !ok {
		w = &windowEntry{info: scene.WindowInfo{
			Token:   wire.HandleFromBytes([16]byte(uuid.New())),
			LayerID: s.LayerID,
			Visible: true,
		}}
		c.windows[s.LayerID] = w
	}
	if s.What&scene.ChangeCrop != 0 {
		w.info.Frame = s.Crop
	}
	if s.What&scene.ChangeFlags != 0 {
		w.info.Visible = s.Flags&scene.LayerFlagHidden == 0
	}
}

// AppliedOrder returns the batch ids applied so far on one ordering stream.
func (c *Core) AppliedOrder(token [16]byte) []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, len(c.appliedByToken[token]))
	copy(out, c.appliedByToken[token])
	return out
}

// AddUpdateListener registers sink and returns its assigned id together with
// the ack surface.
func (c *Core) AddUpdateListener(sink transport.UpdateSink) (transport.ListenerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextListenerID++
	entry := &listenerEntry{id: c.nextListenerID, sink: sink, lastAck: c.seq, lastSent: c.seq}
	c.listeners = append(c.listeners, entry)
	c.logger.Info("listener registered", zap.Int64("listenerID", entry.id))
	return transport.ListenerInfo{ListenerID: entry.id, Publisher: &corePublisher{core: c}}, nil
}

// RemoveUpdateListener drops the registration for sink, matched by identity.
func (c *Core) RemoveUpdateListener(sink transport.UpdateSink) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, entry := range c.listeners {
		if entry.sink == sink {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			c.logger.Info("listener unregistered", zap.Int64("listenerID", entry.id))
			return nil
		}
	}
	return ErrNotRegistered
}

// AckUpdateReceived records delivery confirmation. An unknown listener id is
// an expected teardown race and is dropped silently.
func (c *Core) AckUpdateReceived(sequenceID, listenerID int64) {
	var resend *listenerEntry
	var update scene.StateUpdate

	c.mu.Lock()
	for _, entry := range c.listeners {
		if entry.id != listenerID {
			continue
		}
		if sequenceID > entry.lastAck {
			entry.lastAck = sequenceID
		}
		if entry.dirty && entry.lastSent-entry.lastAck < maxUnackedUpdates {
			entry.dirty = false
			entry.lastSent = c.lastUpdate.SequenceID
			resend = entry
			update = c.lastUpdate.Clone()
		}
		break
	}
	c.mu.Unlock()

	if resend != nil {
		resend.sink.OnStateUpdate(update)
	}
}

// PublishUpdate stamps the next sequence id onto the current window state and
// delivers it to every registered listener, one listener at a time. Listeners
// over their unacked budget are skipped and caught up on their next ack.
func (c *Core) PublishUpdate() scene.StateUpdate {
	c.mu.Lock()
	c.seq++
	update := scene.StateUpdate{
		SequenceID: c.seq,
		Timestamp:  c.now().UnixNano(),
		Windows:    c.snapshotWindowsLocked(),
	}
	c.lastUpdate = update

	targets := make([]*listenerEntry, 0, len(c.listeners))
	for _, entry := range c.listeners {
		if entry.lastSent-entry.lastAck >= maxUnackedUpdates {
			entry.dirty = true
			c.logger.Debug("coalescing update for slow listener",
				zap.Int64("listenerID", entry.id),
				zap.Int64("lastAck", entry.lastAck),
			)
			continue
		}
		entry.lastSent = update.SequenceID
		targets = append(targets, entry)
	}
	c.mu.Unlock()

	for _, entry := range targets {
		entry.sink.OnStateUpdate(update.Clone())
	}
	return update
}

func (c *Core) snapshotWindowsLocked() []scene.WindowInfo {
	ids := make([]uint64, 0, len(c.windows))
	for id := range c.windows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]scene.WindowInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.windows[id].info)
	}
	return out
}

// DropListeners simulates a service restart by discarding every registration.
// Clients are expected to Reconnect.
func (c *Core) DropListeners() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = nil
	c.logger.Warn("dropped all listener registrations")
}

// ListenerCount reports the number of registered listeners.
func (c *Core) ListenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// corePublisher is the in-process ack surface. Recording an ack is a map
// update under the core lock; it never blocks the delivery path.
type corePublisher struct {
	core *Core
}

func (p *corePublisher) AckUpdateReceived(sequenceID, listenerID int64) {
	p.core.AckUpdateReceived(sequenceID, listenerID)
}
