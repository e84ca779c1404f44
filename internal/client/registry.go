package client

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/glasskit/composerlink/internal/scene"
	"github.com/glasskit/composerlink/internal/transport"
)

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry, created lazily on first use and
// never destroyed. On the default registry a failed remote registration is
// fatal to the process: without it no consumer in the process can receive
// state updates. Tests should construct isolated registries with NewRegistry.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(zap.L())
		defaultRegistry.fatalOnRegisterFailure = true
	})
	return defaultRegistry
}

// Registry is the single local representative registered with the remote
// publisher. It fans each incoming update out to the locally registered
// listeners, deduplicated by identity, and acknowledges receipt.
//
// One mutex guards the listener set, the publisher handle, the listener id
// and the cached update. Delivery happens outside the lock so a slow listener
// cannot stall registry mutation.
type Registry struct {
	logger                 *zap.Logger
	fatalOnRegisterFailure bool

	mu         sync.Mutex
	listeners  map[transport.UpdateSink]struct{}
	publisher  transport.Publisher
	listenerID int64
	lastUpdate scene.StateUpdate
}

// NewRegistry returns an isolated registry. Listener values must be
// comparable; identity decides deduplication.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:     logger,
		listeners:  make(map[transport.UpdateSink]struct{}),
		listenerID: transport.UnassignedListenerID,
	}
}

// AddListener registers listener locally. The transition from zero to one
// local listener synchronously registers the registry with the compositor;
// every listener after that shares the single remote registration. The most
// recently cached update is returned (a copy, possibly the initial empty
// value) so a new listener need not wait for the next push.
func (r *Registry) AddListener(listener transport.UpdateSink, composer transport.Composer) (scene.StateUpdate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.listeners[listener]; ok {
		return r.lastUpdate.Clone(), nil
	}

	if len(r.listeners) == 0 {
		info, err := composer.AddUpdateListener(r)
		if err != nil {
			if r.fatalOnRegisterFailure {
				// No degraded mode: without this registration the process can
				// never deliver state updates to any consumer.
				r.logger.Fatal("cannot register state update listener", zap.Error(err))
			}
			return scene.StateUpdate{}, fmt.Errorf("registering with compositor: %w", err)
		}
		r.publisher = info.Publisher
		r.listenerID = info.ListenerID
		r.logger.Info("registered with compositor", zap.Int64("listenerID", r.listenerID))
	}

	r.listeners[listener] = struct{}{}
	return r.lastUpdate.Clone(), nil
}

// RemoveListener drops listener. When the last local listener goes, the
// remote registration is torn down and the cached update is cleared so a
// listener that rejoins much later cannot observe stale state.
func (r *Registry) RemoveListener(listener transport.UpdateSink, composer transport.Composer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.listeners, listener)
	if len(r.listeners) > 0 {
		return nil
	}

	if err := composer.RemoveUpdateListener(r); err != nil {
		r.logger.Warn("failed to unregister from compositor", zap.Error(err))
		return err
	}

	r.lastUpdate = scene.StateUpdate{}
	r.publisher = nil
	r.listenerID = transport.UnassignedListenerID
	r.logger.Info("unregistered from compositor")
	return nil
}

// OnStateUpdate is invoked by the remote publisher, possibly concurrently
// with AddListener/RemoveListener. The listener set, publisher and id are
// snapshotted and the cache replaced under the lock; delivery and the ack
// happen outside it. A nil publisher means the last listener was removed
// while this update was in flight; the update is dropped silently.
func (r *Registry) OnStateUpdate(update scene.StateUpdate) {
	r.mu.Lock()
	listeners := make([]transport.UpdateSink, 0, len(r.listeners))
	for l := range r.listeners {
		listeners = append(listeners, l)
	}
	publisher := r.publisher
	id := r.listenerID
	r.lastUpdate = update
	r.mu.Unlock()

	if publisher == nil {
		return
	}
	for _, l := range listeners {
		l.OnStateUpdate(update)
	}
	publisher.AckUpdateReceived(update.SequenceID, id)
}

// Reconnect re-registers with a replacement compositor instance after a
// service restart, if local listeners still exist. Repeated invocation for
// the same instance re-establishes the same registration and is harmless.
func (r *Registry) Reconnect(composer transport.Composer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.listeners) == 0 {
		return nil
	}
	info, err := composer.AddUpdateListener(r)
	if err != nil {
		r.logger.Error("reconnect registration failed", zap.Error(err))
		return fmt.Errorf("re-registering with compositor: %w", err)
	}
	r.publisher = info.Publisher
	r.listenerID = info.ListenerID
	r.logger.Info("re-registered with compositor", zap.Int64("listenerID", r.listenerID))
	return nil
}

// ListenerCount reports the current local listener count.
func (r *Registry) ListenerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}
