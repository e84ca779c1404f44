// Package transport defines the capability surfaces exchanged across the
// compositor boundary and the concrete channel variants that carry them: an
// in-process loopback and a websocket-framed connection.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/glasskit/composerlink/internal/scene"
)

var (
	// ErrChannelDown reports a transport-level failure: the channel is closed,
	// the remote end is unreachable, or a local enqueue failed.
	ErrChannelDown = errors.New("transport: channel down")

	// ErrListenerUnknown reports an operation against a listener the remote
	// end has no registration for.
	ErrListenerUnknown = errors.New("transport: unknown listener")
)

// ApplyError carries a remote batch-apply rejection back to the submitter.
type ApplyError struct {
	Code    uint32
	Message string
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("transport: apply rejected (code %d): %s", e.Code, e.Message)
}

// UpdateSink receives server-pushed state updates. The remote publisher
// serializes its pushes; OnStateUpdate for update N returns before N+1 is
// delivered.
type UpdateSink interface {
	OnStateUpdate(scene.StateUpdate)
}

// Publisher is the acknowledgement surface handed out at registration time.
// AckUpdateReceived is a best-effort one-way notification: it never blocks the
// caller and failures are logged, not reported.
type Publisher interface {
	AckUpdateReceived(sequenceID, listenerID int64)
}

// ListenerInfo is the result of registering an update listener.
type ListenerInfo struct {
	ListenerID int64
	Publisher  Publisher
}

// Composer is the client-side view of the compositor.
type Composer interface {
	// Apply submits a batch and blocks until the compositor has applied it or
	// rejected it.
	Apply(ctx context.Context, b *scene.TransactionBatch) error

	// ApplyOneWay enqueues a batch and returns without waiting for the
	// outcome. The only observable failure is a local encode or enqueue error.
	ApplyOneWay(b *scene.TransactionBatch) error

	AddUpdateListener(sink UpdateSink) (ListenerInfo, error)
	RemoveUpdateListener(sink UpdateSink) error
}

// Service is the server-side surface a transport binds a connection to.
// compositor.Core implements it.
type Service interface {
	ApplyBatch(ctx context.Context, b *scene.TransactionBatch) error
	AddUpdateListener(sink UpdateSink) (ListenerInfo, error)
	RemoveUpdateListener(sink UpdateSink) error
	AckUpdateReceived(sequenceID, listenerID int64)
}
